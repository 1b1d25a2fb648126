package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schedule-reconciler/internal/domain/schedule"
	"schedule-reconciler/internal/repository"
)

type fakeArchive struct {
	mu         sync.Mutex
	entries    []repository.LogEntry
	detections []repository.DetectionEvent
	saveErr    error

	cutoff    time.Time
	plate     *string
	limit     int
	found     []repository.DetectionEvent
	deleteErr error
}

func (f *fakeArchive) SaveLogEntry(_ context.Context, rec *repository.LogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.entries = append(f.entries, *rec)
	return nil
}

func (f *fakeArchive) SaveDetection(_ context.Context, rec *repository.DetectionEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detections = append(f.detections, *rec)
	return nil
}

func (f *fakeArchive) FindDetections(_ context.Context, plate *string, _, _ *time.Time, limit, _ int) ([]repository.DetectionEvent, error) {
	f.plate = plate
	f.limit = limit
	return f.found, nil
}

func (f *fakeArchive) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	if f.deleteErr != nil {
		return 0, f.deleteErr
	}
	return 3, nil
}

func (f *fakeArchive) snapshot() ([]repository.LogEntry, []repository.DetectionEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]repository.LogEntry(nil), f.entries...), append([]repository.DetectionEvent(nil), f.detections...)
}

func TestArchiveService_PersistsEntriesAndDetections(t *testing.T) {
	s := newTestService(t, Options{})
	repo := &fakeArchive{}
	archive := NewArchiveService(repo, 16, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		archive.Run(ctx)
		close(done)
	}()
	sub := archive.Attach(s)

	_, err := s.ImportSchedule([]schedule.RawRow{{Plate: "51A-12345"}})
	require.NoError(t, err)
	_, err = s.SubmitDetection(context.Background(), manualIn("51a 12345"))
	require.NoError(t, err)

	sub.Cancel()
	cancel()
	<-done

	entries, detections := repo.snapshot()
	require.Len(t, entries, 2)
	assert.Equal(t, schedule.EventScheduleImported, entries[0].EventType)
	assert.Nil(t, entries[0].Metadata)
	assert.Equal(t, schedule.EventEntrySuccess, entries[1].EventType)
	assert.Equal(t, "in", entries[1].Metadata["direction"])
	assert.Equal(t, "manual", entries[1].Metadata["source"])

	require.Len(t, detections, 1)
	assert.Equal(t, "51A12345", detections[0].NormalizedPlate)
	assert.Equal(t, schedule.EventEntrySuccess, detections[0].Outcome)
	require.NotNil(t, detections[0].SequenceNumber)
	assert.Equal(t, 1, *detections[0].SequenceNumber)
}

func TestArchiveService_SkipsDetectionWhenEntryFails(t *testing.T) {
	repo := &fakeArchive{saveErr: errors.New("db down")}
	archive := NewArchiveService(repo, 4, zerolog.Nop())

	entry := schedule.LogEntry{Seq: 1, EventType: schedule.EventUnknownVehicle}
	ev := schedule.DetectionEvent{ID: "d1", GateID: "g", Direction: schedule.DirectionIn, PlateCandidate: "A1"}
	archive.persist(context.Background(), Notification{Entry: &entry, Detection: &ev})

	entries, detections := repo.snapshot()
	assert.Empty(t, entries)
	assert.Empty(t, detections)
}

func TestArchiveService_DropsWhenFull(t *testing.T) {
	archive := NewArchiveService(&fakeArchive{}, 1, zerolog.Nop())
	for i := 0; i < 3; i++ {
		archive.enqueue(Notification{Entry: &schedule.LogEntry{Seq: uint64(i + 1)}})
	}
	// row notifications carry no entry and are not queued
	archive.enqueue(Notification{Row: &schedule.ScheduleRow{SequenceNumber: 1}})

	assert.Equal(t, uint64(2), archive.Dropped())
	assert.Len(t, archive.queue, 1)
}

func TestArchiveService_CleanupOldEntries(t *testing.T) {
	repo := &fakeArchive{}
	archive := NewArchiveService(repo, 1, zerolog.Nop())
	archive.now = func() time.Time { return fixedNow }

	deleted, err := archive.CleanupOldEntries(context.Background(), 30)
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)
	assert.Equal(t, fixedNow.Add(-30*24*time.Hour), repo.cutoff)

	_, err = archive.CleanupOldEntries(context.Background(), 0)
	assert.ErrorIs(t, err, ErrInvalidInput)

	repo.deleteErr = errors.New("db down")
	_, err = archive.CleanupOldEntries(context.Background(), 30)
	assert.Error(t, err)
}

func TestArchiveService_FindDetections(t *testing.T) {
	seq := 2
	repo := &fakeArchive{found: []repository.DetectionEvent{{ID: "d1", NormalizedPlate: "51A12345", SequenceNumber: &seq, Outcome: schedule.EventExitSuccess}}}
	archive := NewArchiveService(repo, 1, zerolog.Nop())

	plate := "51a-12345"
	got, err := archive.FindDetections(context.Background(), &plate, nil, nil, 500, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "d1", got[0].ID)
	require.NotNil(t, repo.plate)
	assert.Equal(t, "51A12345", *repo.plate)
	assert.Equal(t, 100, repo.limit)

	bad := "yesterday"
	_, err = archive.FindDetections(context.Background(), nil, &bad, nil, 10, 0)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

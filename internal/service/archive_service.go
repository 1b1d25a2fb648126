package service

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"schedule-reconciler/internal/repository"
	"schedule-reconciler/internal/utils"
)

// Archive is the persistence the archive service writes to.
type Archive interface {
	SaveLogEntry(ctx context.Context, rec *repository.LogEntry) error
	SaveDetection(ctx context.Context, rec *repository.DetectionEvent) error
	FindDetections(ctx context.Context, normalizedPlate *string, from, to *time.Time, limit, offset int) ([]repository.DetectionEvent, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// ArchiveService copies log entries and processed detections to the archive
// off the detection path. When the buffer is full new notifications are
// dropped and counted.
type ArchiveService struct {
	repo    Archive
	log     zerolog.Logger
	queue   chan Notification
	dropped atomic.Uint64
	now     func() time.Time
}

func NewArchiveService(repo Archive, buffer int, log zerolog.Logger) *ArchiveService {
	if buffer <= 0 {
		buffer = 256
	}
	return &ArchiveService{
		repo:  repo,
		log:   log.With().Str("component", "archive").Logger(),
		queue: make(chan Notification, buffer),
		now:   time.Now,
	}
}

// Attach subscribes the archive to svc. Cancel the returned subscription
// before stopping Run.
func (a *ArchiveService) Attach(svc *ReconciliationService) *Subscription {
	return svc.Subscribe(a.enqueue)
}

func (a *ArchiveService) enqueue(n Notification) {
	if n.Entry == nil {
		return
	}
	select {
	case a.queue <- n:
	default:
		if a.dropped.Add(1)%100 == 1 {
			a.log.Warn().Uint64("dropped", a.dropped.Load()).Msg("archive buffer full, dropping entries")
		}
	}
}

// Dropped reports how many notifications were discarded because the buffer was full.
func (a *ArchiveService) Dropped() uint64 {
	return a.dropped.Load()
}

// Run writes queued notifications until ctx ends, then flushes what is
// already buffered.
func (a *ArchiveService) Run(ctx context.Context) {
	for {
		select {
		case n := <-a.queue:
			a.persist(ctx, n)
		case <-ctx.Done():
			a.drain()
			return
		}
	}
}

func (a *ArchiveService) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case n := <-a.queue:
			a.persist(ctx, n)
		default:
			return
		}
	}
}

func (a *ArchiveService) persist(ctx context.Context, n Notification) {
	var metadata map[string]interface{}
	if n.Detection != nil {
		metadata = map[string]interface{}{
			"direction":   string(n.Detection.Direction),
			"source":      string(n.Detection.Source),
			"raw_plate":   n.Detection.PlateCandidate,
			"captured_at": n.Detection.CapturedAt,
		}
		if n.Detection.Generation != "" {
			metadata["generation"] = n.Detection.Generation
		}
		if n.Detection.Confidence != 0 {
			metadata["confidence"] = n.Detection.Confidence
		}
	}

	rec := repository.NewLogEntry(*n.Entry, metadata)
	if err := a.repo.SaveLogEntry(ctx, &rec); err != nil {
		a.log.Error().
			Err(err).
			Uint64("seq", n.Entry.Seq).
			Str("event_type", n.Entry.EventType).
			Msg("failed to archive log entry")
		return
	}

	if n.Detection == nil {
		return
	}
	det := repository.NewDetectionEvent(*n.Detection, *n.Entry)
	if err := a.repo.SaveDetection(ctx, &det); err != nil {
		a.log.Error().
			Err(err).
			Str("detection_id", det.ID).
			Str("gate_id", det.GateID).
			Msg("failed to archive detection")
		return
	}
	a.log.Debug().
		Str("detection_id", det.ID).
		Str("plate", det.NormalizedPlate).
		Str("outcome", det.Outcome).
		Msg("archived detection")
}

// CleanupOldEntries deletes archived entries and detections older than days.
func (a *ArchiveService) CleanupOldEntries(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		return 0, fmt.Errorf("%w: retention days must be positive", ErrInvalidInput)
	}
	cutoff := a.now().Add(-time.Duration(days) * 24 * time.Hour)
	deleted, err := a.repo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		a.log.Error().Err(err).Int("days", days).Msg("failed to cleanup old entries")
		return 0, err
	}
	if deleted > 0 {
		a.log.Info().Int64("deleted_count", deleted).Int("days", days).Msg("cleaned up old entries")
	}
	return deleted, nil
}

// FindDetections searches archived detections by plate and RFC3339 time range.
func (a *ArchiveService) FindDetections(ctx context.Context, plateQuery *string, from, to *string, limit, offset int) ([]DetectionInfo, error) {
	var normalizedPlate *string
	if plateQuery != nil {
		normalized := utils.NormalizePlate(*plateQuery)
		if normalized != "" {
			normalizedPlate = &normalized
		}
	}

	var fromTime, toTime *time.Time
	if from != nil && *from != "" {
		t, err := time.Parse(time.RFC3339, *from)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid from time format", ErrInvalidInput)
		}
		fromTime = &t
	}
	if to != nil && *to != "" {
		t, err := time.Parse(time.RFC3339, *to)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid to time format", ErrInvalidInput)
		}
		toTime = &t
	}

	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	events, err := a.repo.FindDetections(ctx, normalizedPlate, fromTime, toTime, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to find detections: %w", err)
	}

	result := make([]DetectionInfo, 0, len(events))
	for _, e := range events {
		result = append(result, DetectionInfo{
			ID:              e.ID,
			GateID:          e.GateID,
			Direction:       e.Direction,
			Source:          e.Source,
			RawPlate:        e.RawPlate,
			NormalizedPlate: e.NormalizedPlate,
			CameraID:        e.CameraID,
			Confidence:      e.Confidence,
			SequenceNumber:  e.SequenceNumber,
			Outcome:         e.Outcome,
			CapturedAt:      e.CapturedAt,
		})
	}
	return result, nil
}

type DetectionInfo struct {
	ID              string    `json:"id"`
	GateID          string    `json:"gate_id"`
	Direction       string    `json:"direction"`
	Source          string    `json:"source"`
	RawPlate        string    `json:"raw_plate"`
	NormalizedPlate string    `json:"normalized_plate"`
	CameraID        *string   `json:"camera_id,omitempty"`
	Confidence      *float64  `json:"confidence,omitempty"`
	SequenceNumber  *int      `json:"sequence_number,omitempty"`
	Outcome         string    `json:"outcome"`
	CapturedAt      time.Time `json:"captured_at"`
}

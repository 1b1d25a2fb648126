package eventlog

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schedule-reconciler/internal/domain/schedule"
)

func appendN(l *Log, n int) {
	for i := 0; i < n; i++ {
		l.Append(schedule.LogEntry{GateID: "g1", EventType: schedule.EventEntrySuccess})
	}
}

func seqs(entries []schedule.LogEntry) []uint64 {
	out := make([]uint64, len(entries))
	for i, e := range entries {
		out[i] = e.Seq
	}
	return out
}

func TestLog_AppendStampsEntry(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	l := New(0).WithClock(func() time.Time { return now })

	e := l.Append(schedule.LogEntry{EventType: schedule.EventInvalidLifecycle, Details: "x"})
	assert.Equal(t, uint64(1), e.Seq)
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, now, e.Timestamp)
	assert.Equal(t, schedule.SeverityError, e.Severity)

	given := now.Add(-time.Hour)
	e = l.Append(schedule.LogEntry{EventType: schedule.EventUnknownVehicle, Timestamp: given})
	assert.Equal(t, given, e.Timestamp)
	assert.Equal(t, uint64(2), e.Seq)
}

func TestLog_Unbounded(t *testing.T) {
	l := New(0)
	appendN(l, 5)
	assert.Equal(t, 5, l.Len())
	assert.Equal(t, []uint64{1, 2, 3, 4, 5}, seqs(l.Entries()))
}

func TestLog_RingEvictsOldest(t *testing.T) {
	l := New(3)
	appendN(l, 7)

	assert.Equal(t, 3, l.Len())
	assert.Equal(t, []uint64{5, 6, 7}, seqs(l.Entries()))
	assert.Equal(t, []uint64{7, 6}, seqs(l.Latest(2)))
	assert.Equal(t, []uint64{6, 7}, seqs(l.Since(5)))
	assert.Equal(t, []uint64{5, 6, 7}, seqs(l.Since(0)))
	assert.Empty(t, l.Since(7))
}

func TestLog_LatestAll(t *testing.T) {
	l := New(10)
	appendN(l, 3)
	assert.Equal(t, []uint64{3, 2, 1}, seqs(l.Latest(0)))
	assert.Equal(t, []uint64{3, 2, 1}, seqs(l.Latest(50)))
}

func TestLog_ConcurrentAppend(t *testing.T) {
	l := New(0)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			appendN(l, 100)
		}()
	}
	wg.Wait()

	entries := l.Entries()
	require.Len(t, entries, 800)
	for i, e := range entries {
		assert.Equal(t, uint64(i+1), e.Seq)
	}
}

func TestSeverityOf(t *testing.T) {
	tests := map[string]schedule.Severity{
		schedule.EventInvalidLifecycle:     schedule.SeverityError,
		schedule.EventScheduleImportFailed: schedule.SeverityError,
		schedule.EventAmbiguousMatch:       schedule.SeverityWarning,
		schedule.EventStaleGeneration:      schedule.SeverityWarning,
		schedule.EventEntrySuccess:         schedule.SeveritySuccess,
		schedule.EventAutoDetectStarted:    schedule.SeveritySuccess,
		schedule.EventUnknownVehicle:       schedule.SeverityInfo,
		schedule.EventAutoDetectStopped:    schedule.SeverityInfo,
	}
	for eventType, want := range tests {
		assert.Equal(t, want, schedule.SeverityOf(eventType), eventType)
	}
}

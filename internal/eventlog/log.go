package eventlog

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"schedule-reconciler/internal/domain/schedule"
)

// Log is an append-only record of reconciliation outcomes in arrival order.
// With a positive capacity it keeps only the newest entries.
type Log struct {
	mu       sync.RWMutex
	capacity int
	entries  []schedule.LogEntry
	head     int // index of the oldest entry once the ring is full
	nextSeq  uint64
	now      func() time.Time
}

// New returns a log bounded to capacity entries; 0 means unbounded.
func New(capacity int) *Log {
	if capacity < 0 {
		capacity = 0
	}
	return &Log{
		capacity: capacity,
		now:      time.Now,
	}
}

// WithClock replaces the timestamp source used for entries without one.
func (l *Log) WithClock(now func() time.Time) *Log {
	l.now = now
	return l
}

// Append stamps the entry with the next sequence number, an ID, its severity
// and, when missing, a timestamp, then stores it.
func (l *Log) Append(e schedule.LogEntry) schedule.LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextSeq++
	e.Seq = l.nextSeq
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = l.now()
	}
	e.Severity = schedule.SeverityOf(e.EventType)

	if l.capacity == 0 || len(l.entries) < l.capacity {
		l.entries = append(l.entries, e)
		return e
	}
	l.entries[l.head] = e
	l.head = (l.head + 1) % l.capacity
	return e
}

// Entries returns all retained entries, oldest first.
func (l *Log) Entries() []schedule.LogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.ordered()
}

// Since returns retained entries with Seq greater than seq, oldest first.
func (l *Log) Since(seq uint64) []schedule.LogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	all := l.ordered()
	for i, e := range all {
		if e.Seq > seq {
			return all[i:]
		}
	}
	return nil
}

// Latest returns up to n entries, newest first, the way the log panel shows them.
func (l *Log) Latest(n int) []schedule.LogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	all := l.ordered()
	if n <= 0 || n > len(all) {
		n = len(all)
	}
	out := make([]schedule.LogEntry, 0, n)
	for i := len(all) - 1; i >= len(all)-n; i-- {
		out = append(out, all[i])
	}
	return out
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

func (l *Log) ordered() []schedule.LogEntry {
	out := make([]schedule.LogEntry, 0, len(l.entries))
	out = append(out, l.entries[l.head:]...)
	out = append(out, l.entries[:l.head]...)
	return out
}

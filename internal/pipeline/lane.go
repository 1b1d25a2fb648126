package pipeline

import (
	"sync"

	"schedule-reconciler/internal/domain/schedule"
)

type job struct {
	event schedule.DetectionEvent
	done  chan Outcome // nil for fire-and-forget submissions
}

// lane is the FIFO queue of one gate. A single goroutine drains it, so
// detections at the same gate are processed one at a time in arrival order.
type lane struct {
	gate string

	mu     sync.Mutex
	jobs   []job
	closed bool
	signal chan struct{} // buffered, size 1; coalesces wakeups
}

func newLane(gate string) *lane {
	return &lane{
		gate:   gate,
		jobs:   make([]job, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// push appends j. It returns false once the lane is closed.
func (l *lane) push(j job) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	l.jobs = append(l.jobs, j)
	l.wake()
	return true
}

// next blocks until a job is available. After close it keeps returning
// queued jobs and reports false only when the lane is empty.
func (l *lane) next() (job, bool) {
	for {
		l.mu.Lock()
		if len(l.jobs) > 0 {
			j := l.jobs[0]
			l.jobs[0] = job{}
			l.jobs = l.jobs[1:]
			if len(l.jobs) == 0 {
				l.jobs = l.jobs[:0:0]
			}
			l.mu.Unlock()
			return j, true
		}
		if l.closed {
			l.mu.Unlock()
			return job{}, false
		}
		l.mu.Unlock()
		<-l.signal
	}
}

func (l *lane) close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	l.wake()
}

func (l *lane) depth() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.jobs)
}

// wake signals the consumer without blocking. Caller holds l.mu.
func (l *lane) wake() {
	select {
	case l.signal <- struct{}{}:
	default:
	}
}

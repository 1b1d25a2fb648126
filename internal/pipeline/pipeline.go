package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"schedule-reconciler/internal/domain/schedule"
	"schedule-reconciler/internal/matching"
	"schedule-reconciler/internal/store"
)

var (
	ErrClosed       = errors.New("detection pipeline closed")
	ErrInvalidEvent = errors.New("invalid detection event")
)

// Store is the part of the schedule store the pipeline drives.
type Store interface {
	Generation() store.Generation
	View() *store.View
	ApplyTransition(gen string, seq int, to schedule.MovementStatus, verification schedule.VerificationState) (schedule.ScheduleRow, schedule.Transition, error)
}

// Recorder receives the single log entry produced for each processed event,
// together with the event, and returns the entry as stored.
type Recorder interface {
	Record(entry schedule.LogEntry, ev *schedule.DetectionEvent) schedule.LogEntry
}

type Camera struct {
	ID   string
	Name string
}

// Outcome describes what happened to one submitted detection.
// Accepted is false only for automatic detections at a gate whose
// auto-detect mode is off.
type Outcome struct {
	Accepted bool                    `json:"accepted"`
	Event    schedule.DetectionEvent `json:"event"`
	Result   schedule.MatchResult    `json:"result"`
	Row      *schedule.ScheduleRow   `json:"row,omitempty"`
	Entry    *schedule.LogEntry      `json:"entry,omitempty"`
	Stale    bool                    `json:"stale,omitempty"`
}

type Pipeline struct {
	store    Store
	engine   *matching.Engine
	recorder Recorder
	log      zerolog.Logger
	cameras  map[string]Camera
	now      func() time.Time

	autoMu      sync.RWMutex
	autoDefault bool
	auto        map[string]bool

	mu     sync.Mutex
	lanes  map[string]*lane
	closed bool
	wg     sync.WaitGroup
}

type Option func(*Pipeline)

// WithCameras supplies camera identity per gate for events that arrive without it.
func WithCameras(cameras map[string]Camera) Option {
	return func(p *Pipeline) {
		for gate, cam := range cameras {
			p.cameras[gate] = cam
		}
	}
}

// WithAutoDetectDefault sets the auto-detect mode of gates never toggled explicitly.
func WithAutoDetectDefault(enabled bool) Option {
	return func(p *Pipeline) { p.autoDefault = enabled }
}

func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

func New(st Store, engine *matching.Engine, recorder Recorder, log zerolog.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:    st,
		engine:   engine,
		recorder: recorder,
		log:      log.With().Str("component", "pipeline").Logger(),
		cameras:  make(map[string]Camera),
		now:      time.Now,
		auto:     make(map[string]bool),
		lanes:    make(map[string]*lane),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SetAutoDetect switches automatic detections for gate on or off and reports
// whether the mode changed.
func (p *Pipeline) SetAutoDetect(gate string, enabled bool) bool {
	p.autoMu.Lock()
	defer p.autoMu.Unlock()
	prev, ok := p.auto[gate]
	if !ok {
		prev = p.autoDefault
	}
	p.auto[gate] = enabled
	return prev != enabled
}

func (p *Pipeline) AutoDetect(gate string) bool {
	p.autoMu.RLock()
	defer p.autoMu.RUnlock()
	if enabled, ok := p.auto[gate]; ok {
		return enabled
	}
	return p.autoDefault
}

// Submit queues ev on its gate lane and waits for the outcome.
// If ctx ends first the event is still processed; only the wait is abandoned.
func (p *Pipeline) Submit(ctx context.Context, ev schedule.DetectionEvent) (Outcome, error) {
	ev, err := p.prepare(ev)
	if err != nil {
		return Outcome{}, err
	}
	if p.rejectAuto(ev) {
		return Outcome{Accepted: false, Event: ev}, nil
	}

	done := make(chan Outcome, 1)
	if err := p.enqueue(job{event: ev, done: done}); err != nil {
		return Outcome{}, err
	}
	select {
	case out := <-done:
		return out, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// Enqueue queues ev without waiting, for camera feeds. It reports whether the
// event was accepted for processing.
func (p *Pipeline) Enqueue(ev schedule.DetectionEvent) bool {
	ev, err := p.prepare(ev)
	if err != nil {
		p.log.Warn().Err(err).Str("gate_id", ev.GateID).Msg("dropping invalid detection")
		return false
	}
	if p.rejectAuto(ev) {
		return false
	}
	if err := p.enqueue(job{event: ev}); err != nil {
		p.log.Warn().Err(err).Str("gate_id", ev.GateID).Msg("detection not queued")
		return false
	}
	return true
}

// QueueDepth returns the number of detections waiting at gate.
func (p *Pipeline) QueueDepth(gate string) int {
	p.mu.Lock()
	l, ok := p.lanes[gate]
	p.mu.Unlock()
	if !ok {
		return 0
	}
	return l.depth()
}

// Close stops accepting detections, lets every lane drain and waits for it.
func (p *Pipeline) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	for _, l := range p.lanes {
		l.close()
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Pipeline) prepare(ev schedule.DetectionEvent) (schedule.DetectionEvent, error) {
	ev.GateID = strings.TrimSpace(ev.GateID)
	if ev.GateID == "" {
		return ev, fmt.Errorf("%w: gate_id is required", ErrInvalidEvent)
	}
	if !ev.Direction.Valid() {
		return ev, fmt.Errorf("%w: direction must be in or out", ErrInvalidEvent)
	}
	if strings.TrimSpace(ev.PlateCandidate) == "" {
		return ev, fmt.Errorf("%w: plate_candidate is required", ErrInvalidEvent)
	}
	switch ev.Source {
	case schedule.SourceAuto, schedule.SourceManual:
	case "":
		ev.Source = schedule.SourceManual
	default:
		return ev, fmt.Errorf("%w: unknown source %q", ErrInvalidEvent, ev.Source)
	}

	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CapturedAt.IsZero() {
		ev.CapturedAt = p.now()
	}
	if ev.Generation == "" {
		ev.Generation = p.store.Generation().ID
	}
	if cam, ok := p.cameras[ev.GateID]; ok {
		if ev.CameraID == "" {
			ev.CameraID = cam.ID
		}
		if ev.CameraName == "" {
			ev.CameraName = cam.Name
		}
	}
	return ev, nil
}

func (p *Pipeline) rejectAuto(ev schedule.DetectionEvent) bool {
	if ev.Source != schedule.SourceAuto || p.AutoDetect(ev.GateID) {
		return false
	}
	p.log.Debug().
		Str("gate_id", ev.GateID).
		Str("plate", ev.PlateCandidate).
		Msg("auto-detect disabled, ignoring automatic detection")
	return true
}

func (p *Pipeline) enqueue(j job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	l, ok := p.lanes[j.event.GateID]
	if !ok {
		l = newLane(j.event.GateID)
		p.lanes[j.event.GateID] = l
		p.wg.Add(1)
		go p.run(l)
	}
	if !l.push(j) {
		return ErrClosed
	}
	return nil
}

func (p *Pipeline) run(l *lane) {
	defer p.wg.Done()
	for {
		j, ok := l.next()
		if !ok {
			return
		}
		out := p.process(j.event)
		if j.done != nil {
			j.done <- out
		}
	}
}

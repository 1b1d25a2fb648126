package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"schedule-reconciler/internal/domain/schedule"
	"schedule-reconciler/internal/eventlog"
	"schedule-reconciler/internal/matching"
	"schedule-reconciler/internal/pipeline"
	"schedule-reconciler/internal/store"
)

var (
	ErrInvalidInput     = store.ErrInvalidInput
	ErrNotFound         = store.ErrNotFound
	ErrMalformedImport  = store.ErrMalformedImport
	ErrInvalidLifecycle = store.ErrInvalidLifecycle
	ErrClosed           = pipeline.ErrClosed
)

type Options struct {
	FuzzyThreshold    int
	LogCapacity       int
	AutoDetectDefault bool
	OverdueGrace      time.Duration
	Cameras           map[string]pipeline.Camera
	Clock             func() time.Time
}

// Notification is pushed to subscribers on every state change. Entry is set
// when a log entry was appended, Row when a schedule row changed.
type Notification struct {
	Entry      *schedule.LogEntry       `json:"entry,omitempty"`
	Row        *schedule.ScheduleRow    `json:"row,omitempty"`
	Detection  *schedule.DetectionEvent `json:"detection,omitempty"`
	Change     store.ChangeKind         `json:"change,omitempty"`
	Generation string                   `json:"generation,omitempty"`
}

type State struct {
	Generation  store.Generation       `json:"generation"`
	Rows        []schedule.ScheduleRow `json:"rows"`
	Stats       store.Stats            `json:"stats"`
	OverdueRows []int                  `json:"overdue_rows"`
	AsOf        time.Time              `json:"as_of"`
}

// ReconciliationService is the single entry point for transports: it owns the
// schedule store, the detection pipeline and the event log.
type ReconciliationService struct {
	store    *store.ScheduleStore
	pipeline *pipeline.Pipeline
	events   *eventlog.Log
	log      zerolog.Logger
	grace    time.Duration
	now      func() time.Time

	subMu   sync.RWMutex
	subs    map[uint64]*Subscription
	nextSub uint64
}

func NewReconciliationService(opts Options, log zerolog.Logger) *ReconciliationService {
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	s := &ReconciliationService{
		events: eventlog.New(opts.LogCapacity).WithClock(now),
		log:    log.With().Str("component", "reconciliation").Logger(),
		grace:  opts.OverdueGrace,
		now:    now,
		subs:   make(map[uint64]*Subscription),
	}
	s.store = store.New(store.WithClock(now), store.WithChangeHook(s.onStoreChange))
	s.pipeline = pipeline.New(
		s.store,
		matching.NewEngine(opts.FuzzyThreshold),
		s,
		log,
		pipeline.WithCameras(opts.Cameras),
		pipeline.WithAutoDetectDefault(opts.AutoDetectDefault),
		pipeline.WithClock(now),
	)
	return s
}

// ImportSchedule replaces the active schedule with rows. A rejected import
// leaves the previous schedule in place.
func (s *ReconciliationService) ImportSchedule(rows []schedule.RawRow) (store.Generation, error) {
	previous := s.store.Generation()
	gen, err := s.store.Import(rows)
	if err != nil {
		s.log.Warn().Err(err).Int("rows", len(rows)).Msg("schedule import rejected")
		s.Record(schedule.LogEntry{
			EventType: schedule.EventScheduleImportFailed,
			Details:   err.Error(),
		}, nil)
		return store.Generation{}, err
	}

	details := fmt.Sprintf("imported %d rows as schedule %s", gen.RowCount, gen.ID)
	if previous.ID != "" {
		details += fmt.Sprintf(", replacing %s (%d rows)", previous.ID, previous.RowCount)
	}
	s.Record(schedule.LogEntry{EventType: schedule.EventScheduleImported, Details: details}, nil)
	s.log.Info().
		Str("generation", gen.ID).
		Str("previous_generation", previous.ID).
		Int("rows", gen.RowCount).
		Msg("schedule imported")
	return gen, nil
}

// GetState returns a consistent snapshot of all rows with their statistics.
func (s *ReconciliationService) GetState() State {
	gen, rows := s.store.Rows()
	now := s.now()
	st := State{
		Generation:  gen,
		Rows:        rows,
		Stats:       store.ComputeStats(rows, now, s.grace),
		OverdueRows: []int{},
		AsOf:        now,
	}
	for _, r := range rows {
		if store.IsOverdue(r, now, s.grace) {
			st.OverdueRows = append(st.OverdueRows, r.SequenceNumber)
		}
	}
	return st
}

func (s *ReconciliationService) GetRow(seq int) (schedule.ScheduleRow, error) {
	row, ok := s.store.Row(seq)
	if !ok {
		return schedule.ScheduleRow{}, fmt.Errorf("%w: sequence %d", ErrNotFound, seq)
	}
	return row, nil
}

// SubmitDetection processes ev on its gate lane and returns the outcome.
func (s *ReconciliationService) SubmitDetection(ctx context.Context, ev schedule.DetectionEvent) (pipeline.Outcome, error) {
	out, err := s.pipeline.Submit(ctx, ev)
	if errors.Is(err, pipeline.ErrInvalidEvent) {
		return out, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return out, err
}

// FeedDetection queues ev without waiting; used by camera push feeds.
func (s *ReconciliationService) FeedDetection(ev schedule.DetectionEvent) bool {
	return s.pipeline.Enqueue(ev)
}

// SetAutoDetect toggles automatic detections at gate. Changes are recorded in
// the log.
func (s *ReconciliationService) SetAutoDetect(gate string, enabled bool) error {
	gate = strings.TrimSpace(gate)
	if gate == "" {
		return fmt.Errorf("%w: gate is required", ErrInvalidInput)
	}
	if !s.pipeline.SetAutoDetect(gate, enabled) {
		return nil
	}

	entry := schedule.LogEntry{GateID: gate, EventType: schedule.EventAutoDetectStopped, Details: "automatic detection stopped"}
	if enabled {
		entry.EventType = schedule.EventAutoDetectStarted
		entry.Details = "automatic detection started"
	}
	s.Record(entry, nil)
	s.log.Info().Str("gate_id", gate).Bool("enabled", enabled).Msg("auto-detect toggled")
	return nil
}

func (s *ReconciliationService) AutoDetect(gate string) bool {
	return s.pipeline.AutoDetect(gate)
}

// EditRow applies an operator correction to one row.
func (s *ReconciliationService) EditRow(seq int, patch schedule.RowPatch) (schedule.ScheduleRow, error) {
	if patch.Empty() {
		return schedule.ScheduleRow{}, fmt.Errorf("%w: nothing to change", ErrInvalidInput)
	}
	row, err := s.store.Edit(seq, patch)
	if err != nil {
		return schedule.ScheduleRow{}, err
	}
	s.Record(schedule.LogEntry{
		EventType:      schedule.EventRowEdited,
		SequenceNumber: seq,
		Plate:          row.Plate,
		Details:        fmt.Sprintf("row %d edited: %s", seq, strings.Join(patchedFields(patch), ", ")),
	}, nil)
	return row, nil
}

// OverrideMovement forces a row's movement status, bypassing lifecycle order.
// The override is always recorded as an anomaly for review.
func (s *ReconciliationService) OverrideMovement(seq int, to schedule.MovementStatus, verification schedule.VerificationState, note string) (schedule.ScheduleRow, error) {
	row, tr, err := s.store.Override(seq, to, verification)
	if err != nil {
		return schedule.ScheduleRow{}, err
	}
	details := fmt.Sprintf("row %d moved %s -> %s by manual override", seq, tr.From, tr.To)
	if note = strings.TrimSpace(note); note != "" {
		details += ": " + note
	}
	s.Record(schedule.LogEntry{
		EventType:      schedule.EventManualOverride,
		SequenceNumber: seq,
		Plate:          row.Plate,
		Details:        details,
	}, nil)
	s.log.Warn().
		Int("seq", seq).
		Str("from", tr.From.String()).
		Str("to", tr.To.String()).
		Msg("manual movement override")
	return row, nil
}

// LogEntries returns retained entries after seq in insertion order.
func (s *ReconciliationService) LogEntries(since uint64) []schedule.LogEntry {
	return s.events.Since(since)
}

// LatestLog returns up to n entries, newest first.
func (s *ReconciliationService) LatestLog(n int) []schedule.LogEntry {
	return s.events.Latest(n)
}

// Record appends entry to the log and notifies subscribers.
func (s *ReconciliationService) Record(entry schedule.LogEntry, ev *schedule.DetectionEvent) schedule.LogEntry {
	stored := s.events.Append(entry)
	n := Notification{Entry: &stored}
	if ev != nil {
		d := *ev
		n.Detection = &d
	}
	s.publish(n)
	return stored
}

// Close drains pending detections and stops the pipeline.
func (s *ReconciliationService) Close() {
	s.pipeline.Close()
}

func (s *ReconciliationService) onStoreChange(c store.Change) {
	s.publish(Notification{Row: c.Row, Change: c.Kind, Generation: c.Generation})
}

func patchedFields(p schedule.RowPatch) []string {
	var fields []string
	if p.Plate != nil {
		fields = append(fields, "plate")
	}
	if p.ExpectedTimeIn != nil {
		fields = append(fields, "expected_time_in")
	}
	if p.VehicleType != nil {
		fields = append(fields, "vehicle_type")
	}
	if p.Dimensions != nil {
		fields = append(fields, "dimensions")
	}
	if p.Volume != nil {
		fields = append(fields, "volume")
	}
	if p.ValidityStatus != nil {
		fields = append(fields, "validity_status")
	}
	if p.VerificationState != nil {
		fields = append(fields, "verification_state")
	}
	if p.Notes != nil {
		fields = append(fields, "notes")
	}
	sort.Strings(fields)
	return fields
}

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	id        uint64
	fn        func(Notification)
	cancelled atomic.Bool
	svc       *ReconciliationService
}

// Cancel stops further callbacks. It is safe to call more than once.
func (sub *Subscription) Cancel() {
	if sub.cancelled.Swap(true) {
		return
	}
	sub.svc.subMu.Lock()
	delete(sub.svc.subs, sub.id)
	sub.svc.subMu.Unlock()
}

// Subscribe registers fn for every notification. Callbacks run on the
// goroutine that made the change, so notifications from different gates may
// arrive concurrently; fn must not block for long.
func (s *ReconciliationService) Subscribe(fn func(Notification)) *Subscription {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.nextSub++
	sub := &Subscription{id: s.nextSub, fn: fn, svc: s}
	s.subs[sub.id] = sub
	return sub
}

func (s *ReconciliationService) publish(n Notification) {
	s.subMu.RLock()
	subs := make([]*Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.subMu.RUnlock()

	sort.Slice(subs, func(i, j int) bool { return subs[i].id < subs[j].id })
	for _, sub := range subs {
		if sub.cancelled.Load() {
			continue
		}
		sub.fn(n)
	}
}

package store

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"schedule-reconciler/internal/domain/schedule"
	"schedule-reconciler/internal/utils"
)

var (
	ErrMalformedImport  = errors.New("malformed schedule import")
	ErrInvalidLifecycle = errors.New("invalid lifecycle transition")
	ErrNotFound         = errors.New("schedule row not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrStaleGeneration  = errors.New("stale schedule generation")
)

// ImportError describes the first row that made an import malformed.
// Row is the 1-based input position, 0 when the input as a whole is bad.
type ImportError struct {
	Row    int
	Reason string
}

func (e *ImportError) Error() string {
	if e.Row == 0 {
		return fmt.Sprintf("%s: %s", ErrMalformedImport, e.Reason)
	}
	return fmt.Sprintf("%s: row %d: %s", ErrMalformedImport, e.Row, e.Reason)
}

func (e *ImportError) Unwrap() error {
	return ErrMalformedImport
}

type Generation struct {
	ID         string    `json:"id"`
	ImportedAt time.Time `json:"imported_at"`
	RowCount   int       `json:"row_count"`
}

type ChangeKind string

const (
	ChangeImport     ChangeKind = "import"
	ChangeTransition ChangeKind = "transition"
	ChangeOverride   ChangeKind = "override"
	ChangeEdit       ChangeKind = "edit"
)

// Change is delivered to the change hook after every successful mutation.
// Row is nil for imports.
type Change struct {
	Kind       ChangeKind
	Generation string
	Row        *schedule.ScheduleRow
}

// ScheduleStore owns the rows of the active schedule generation.
// A single RWMutex guards the generation; it is held for one mutation or
// one snapshot copy at a time.
type ScheduleStore struct {
	mu      sync.RWMutex
	gen     Generation
	rows    map[int]*schedule.ScheduleRow
	order   []int
	byPlate map[string][]int

	now      func() time.Time
	onChange func(Change)
}

type Option func(*ScheduleStore)

// WithClock overrides time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *ScheduleStore) { s.now = now }
}

// WithChangeHook registers the function called after each successful mutation.
func WithChangeHook(fn func(Change)) Option {
	return func(s *ScheduleStore) { s.onChange = fn }
}

func New(opts ...Option) *ScheduleStore {
	s := &ScheduleStore{
		rows:    make(map[int]*schedule.ScheduleRow),
		byPlate: make(map[string][]int),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Import validates raw rows and replaces the active generation wholesale.
// On any error the previous generation stays untouched.
func (s *ScheduleStore) Import(raw []schedule.RawRow) (Generation, error) {
	if len(raw) == 0 {
		return Generation{}, &ImportError{Reason: "no rows"}
	}

	now := s.now()
	rows := make(map[int]*schedule.ScheduleRow, len(raw))
	order := make([]int, 0, len(raw))
	byPlate := make(map[string][]int)

	for i, r := range raw {
		pos := i + 1
		seq := pos
		if txt := strings.TrimSpace(r.SequenceNumber); txt != "" {
			n, err := strconv.Atoi(txt)
			if err != nil || n <= 0 {
				return Generation{}, &ImportError{Row: pos, Reason: fmt.Sprintf("unparseable sequence number %q", r.SequenceNumber)}
			}
			seq = n
		}
		if _, dup := rows[seq]; dup {
			return Generation{}, &ImportError{Row: pos, Reason: fmt.Sprintf("duplicate sequence number %d", seq)}
		}

		plate := utils.NormalizePlate(r.Plate)
		if plate == "" {
			return Generation{}, &ImportError{Row: pos, Reason: "plate is required"}
		}

		expected := strings.TrimSpace(r.ExpectedTimeIn)
		rows[seq] = &schedule.ScheduleRow{
			SequenceNumber:    seq,
			ExpectedTimeIn:    expected,
			ExpectedAt:        ParseExpectedTime(expected, now),
			Plate:             plate,
			RawPlate:          strings.TrimSpace(r.Plate),
			VehicleType:       strings.TrimSpace(r.VehicleType),
			Dimensions:        strings.TrimSpace(r.Dimensions),
			Volume:            strings.TrimSpace(r.Volume),
			ValidityStatus:    schedule.ParseValidity(r.ValidityStatus),
			MovementStatus:    schedule.NotArrived,
			VerificationState: schedule.VerificationUnverified,
			Notes:             strings.TrimSpace(r.Notes),
			UpdatedAt:         now,
		}
		order = append(order, seq)
		byPlate[plate] = append(byPlate[plate], seq)
	}

	sort.Ints(order)
	for _, seqs := range byPlate {
		sort.Ints(seqs)
	}

	gen := Generation{
		ID:         uuid.NewString(),
		ImportedAt: now,
		RowCount:   len(rows),
	}

	s.mu.Lock()
	s.gen = gen
	s.rows = rows
	s.order = order
	s.byPlate = byPlate
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeImport, Generation: gen.ID})
	return gen, nil
}

func (s *ScheduleStore) Generation() Generation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen
}

func (s *ScheduleStore) Row(seq int) (schedule.ScheduleRow, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rows[seq]
	if !ok {
		return schedule.ScheduleRow{}, false
	}
	return r.Clone(), true
}

// Rows returns copies of all rows ordered by sequence number, together with
// the generation they belong to.
func (s *ScheduleStore) Rows() (Generation, []schedule.ScheduleRow) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]schedule.ScheduleRow, 0, len(s.order))
	for _, seq := range s.order {
		out = append(out, s.rows[seq].Clone())
	}
	return s.gen, out
}

// FindByPlate returns rows with exactly this normalized plate that can accept
// a detection in direction d, earliest sequence number first.
func (s *ScheduleStore) FindByPlate(plate string, d schedule.Direction) []schedule.ScheduleRow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findByPlate(s.rows, s.byPlate, plate, d)
}

// Eligible returns every row that can accept a detection in direction d.
func (s *ScheduleStore) Eligible(d schedule.Direction) []schedule.ScheduleRow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return eligible(s.rows, s.order, d)
}

// View copies the active generation into an immutable snapshot.
func (s *ScheduleStore) View() *View {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v := &View{
		generation: s.gen.ID,
		rows:       make(map[int]*schedule.ScheduleRow, len(s.rows)),
		order:      append([]int(nil), s.order...),
		byPlate:    make(map[string][]int, len(s.byPlate)),
	}
	for seq, r := range s.rows {
		c := r.Clone()
		v.rows[seq] = &c
	}
	for plate, seqs := range s.byPlate {
		v.byPlate[plate] = append([]int(nil), seqs...)
	}
	return v
}

// ApplyTransition moves a row one step forward in its lifecycle on behalf of
// a matched detection. gen must be the active generation.
func (s *ScheduleStore) ApplyTransition(gen string, seq int, to schedule.MovementStatus, verification schedule.VerificationState) (schedule.ScheduleRow, schedule.Transition, error) {
	s.mu.Lock()
	if gen != s.gen.ID {
		s.mu.Unlock()
		return schedule.ScheduleRow{}, schedule.Transition{}, fmt.Errorf("%w: %s is not active", ErrStaleGeneration, gen)
	}
	r, ok := s.rows[seq]
	if !ok {
		s.mu.Unlock()
		return schedule.ScheduleRow{}, schedule.Transition{}, fmt.Errorf("%w: sequence %d", ErrNotFound, seq)
	}
	if !isNextStep(r.MovementStatus, to) {
		from := r.MovementStatus
		s.mu.Unlock()
		return schedule.ScheduleRow{}, schedule.Transition{}, fmt.Errorf("%w: row %d %s -> %s", ErrInvalidLifecycle, seq, from, to)
	}

	tr := schedule.Transition{From: r.MovementStatus, To: to}
	now := s.now()
	setMovement(r, to, now)
	r.Verified = true
	if verification != "" {
		r.VerificationState = verification
	}
	r.UpdatedAt = now
	updated := r.Clone()
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeTransition, Generation: gen, Row: &updated})
	return updated, tr, nil
}

// Override sets a row's movement status without lifecycle checks.
// It is the manual path for corrections such as NotArrived -> Exited.
func (s *ScheduleStore) Override(seq int, to schedule.MovementStatus, verification schedule.VerificationState) (schedule.ScheduleRow, schedule.Transition, error) {
	if !to.Valid() {
		return schedule.ScheduleRow{}, schedule.Transition{}, fmt.Errorf("%w: movement status %d", ErrInvalidInput, to)
	}
	if verification != "" && !verification.Valid() {
		return schedule.ScheduleRow{}, schedule.Transition{}, fmt.Errorf("%w: verification state %q", ErrInvalidInput, verification)
	}

	s.mu.Lock()
	r, ok := s.rows[seq]
	if !ok {
		s.mu.Unlock()
		return schedule.ScheduleRow{}, schedule.Transition{}, fmt.Errorf("%w: sequence %d", ErrNotFound, seq)
	}
	tr := schedule.Transition{From: r.MovementStatus, To: to}
	now := s.now()
	setMovement(r, to, now)
	if to == schedule.NotArrived {
		// a reset row has not been seen by any gate
		r.Verified = false
		r.VerificationState = schedule.VerificationUnverified
	}
	if verification != "" {
		r.VerificationState = verification
	}
	r.UpdatedAt = now
	updated := r.Clone()
	gen := s.gen.ID
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeOverride, Generation: gen, Row: &updated})
	return updated, tr, nil
}

// Edit applies an operator correction. It is allowed in every lifecycle state.
func (s *ScheduleStore) Edit(seq int, patch schedule.RowPatch) (schedule.ScheduleRow, error) {
	var plate string
	if patch.Plate != nil {
		plate = utils.NormalizePlate(*patch.Plate)
		if plate == "" {
			return schedule.ScheduleRow{}, fmt.Errorf("%w: plate cannot be empty after normalization", ErrInvalidInput)
		}
	}
	if patch.VerificationState != nil && !patch.VerificationState.Valid() {
		return schedule.ScheduleRow{}, fmt.Errorf("%w: verification state %q", ErrInvalidInput, *patch.VerificationState)
	}
	if patch.ValidityStatus != nil && !patch.ValidityStatus.Valid() {
		return schedule.ScheduleRow{}, fmt.Errorf("%w: validity status %q", ErrInvalidInput, *patch.ValidityStatus)
	}

	s.mu.Lock()
	r, ok := s.rows[seq]
	if !ok {
		s.mu.Unlock()
		return schedule.ScheduleRow{}, fmt.Errorf("%w: sequence %d", ErrNotFound, seq)
	}
	now := s.now()

	if patch.Plate != nil {
		if plate != r.Plate {
			s.reindex(seq, r.Plate, plate)
			r.Plate = plate
		}
		r.RawPlate = strings.TrimSpace(*patch.Plate)
	}
	if patch.ExpectedTimeIn != nil {
		r.ExpectedTimeIn = strings.TrimSpace(*patch.ExpectedTimeIn)
		r.ExpectedAt = ParseExpectedTime(r.ExpectedTimeIn, s.gen.ImportedAt)
	}
	if patch.VehicleType != nil {
		r.VehicleType = strings.TrimSpace(*patch.VehicleType)
	}
	if patch.Dimensions != nil {
		r.Dimensions = strings.TrimSpace(*patch.Dimensions)
	}
	if patch.Volume != nil {
		r.Volume = strings.TrimSpace(*patch.Volume)
	}
	if patch.ValidityStatus != nil {
		r.ValidityStatus = *patch.ValidityStatus
	}
	if patch.VerificationState != nil {
		r.VerificationState = *patch.VerificationState
	}
	if patch.Notes != nil {
		r.Notes = *patch.Notes
	}
	r.UpdatedAt = now
	updated := r.Clone()
	gen := s.gen.ID
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeEdit, Generation: gen, Row: &updated})
	return updated, nil
}

// reindex moves seq from one plate bucket to another. Caller holds s.mu.
func (s *ScheduleStore) reindex(seq int, from, to string) {
	old := s.byPlate[from]
	for i, v := range old {
		if v == seq {
			old = append(old[:i], old[i+1:]...)
			break
		}
	}
	if len(old) == 0 {
		delete(s.byPlate, from)
	} else {
		s.byPlate[from] = old
	}
	seqs := append(s.byPlate[to], seq)
	sort.Ints(seqs)
	s.byPlate[to] = seqs
}

func (s *ScheduleStore) notify(c Change) {
	if s.onChange != nil {
		s.onChange(c)
	}
}

func isNextStep(from, to schedule.MovementStatus) bool {
	return to.Valid() && to == from+1
}

func setMovement(r *schedule.ScheduleRow, to schedule.MovementStatus, now time.Time) {
	switch to {
	case schedule.NotArrived:
		r.EnteredAt = nil
		r.ExitedAt = nil
	case schedule.Entered:
		if r.EnteredAt == nil {
			t := now
			r.EnteredAt = &t
		}
		r.ExitedAt = nil
	case schedule.Exited:
		t := now
		r.ExitedAt = &t
	}
	r.MovementStatus = to
}

func findByPlate(rows map[int]*schedule.ScheduleRow, byPlate map[string][]int, plate string, d schedule.Direction) []schedule.ScheduleRow {
	want := schedule.EligibleStatus(d)
	var out []schedule.ScheduleRow
	for _, seq := range byPlate[plate] {
		if r := rows[seq]; r.MovementStatus == want {
			out = append(out, r.Clone())
		}
	}
	return out
}

func eligible(rows map[int]*schedule.ScheduleRow, order []int, d schedule.Direction) []schedule.ScheduleRow {
	want := schedule.EligibleStatus(d)
	var out []schedule.ScheduleRow
	for _, seq := range order {
		if r := rows[seq]; r.MovementStatus == want {
			out = append(out, r.Clone())
		}
	}
	return out
}

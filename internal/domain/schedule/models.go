package schedule

import (
	"strings"
	"time"
)

type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

func (d Direction) Valid() bool {
	return d == DirectionIn || d == DirectionOut
}

// ParseDirection accepts the spellings cameras and operators send
// (in/out, entry/exit, IN/OUT).
func ParseDirection(s string) (Direction, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "in", "entry", "enter":
		return DirectionIn, true
	case "out", "exit", "leave":
		return DirectionOut, true
	}
	return "", false
}

type Source string

const (
	SourceAuto   Source = "auto"
	SourceManual Source = "manual"
)

type ValidityStatus string

const (
	ValidityValid   ValidityStatus = "Valid"
	ValidityWarning ValidityStatus = "Warning"
	ValidityUnknown ValidityStatus = "Unknown"
)

// ParseValidity maps spreadsheet text to a validity status; anything
// unrecognized is Unknown.
func ParseValidity(s string) ValidityStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "valid", "ok", "hợp lệ":
		return ValidityValid
	case "warning", "warn", "cảnh báo":
		return ValidityWarning
	}
	return ValidityUnknown
}

func (v ValidityStatus) Valid() bool {
	switch v {
	case ValidityValid, ValidityWarning, ValidityUnknown:
		return true
	}
	return false
}

// MovementStatus is ordered: NotArrived < Entered < Exited.
type MovementStatus int

const (
	NotArrived MovementStatus = iota
	Entered
	Exited
)

var movementNames = [...]string{"NotArrived", "Entered", "Exited"}

func (m MovementStatus) String() string {
	if m < NotArrived || m > Exited {
		return "Invalid"
	}
	return movementNames[m]
}

func (m MovementStatus) Valid() bool {
	return m >= NotArrived && m <= Exited
}

func ParseMovementStatus(s string) (MovementStatus, bool) {
	for i, name := range movementNames {
		if strings.EqualFold(name, strings.TrimSpace(s)) {
			return MovementStatus(i), true
		}
	}
	return 0, false
}

func (m MovementStatus) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *MovementStatus) UnmarshalText(b []byte) error {
	parsed, ok := ParseMovementStatus(string(b))
	if !ok {
		return &UnknownValueError{Kind: "movement status", Value: string(b)}
	}
	*m = parsed
	return nil
}

// TargetStatus is the movement status a detection in direction d produces.
func TargetStatus(d Direction) MovementStatus {
	if d == DirectionOut {
		return Exited
	}
	return Entered
}

// EligibleStatus is the movement status a row must be in to accept a
// detection in direction d.
func EligibleStatus(d Direction) MovementStatus {
	if d == DirectionOut {
		return Entered
	}
	return NotArrived
}

type VerificationState string

const (
	VerificationVerified       VerificationState = "Verified"
	VerificationUnverified     VerificationState = "Unverified"
	VerificationNeedsCheck     VerificationState = "NeedsCheck"
	VerificationUnknownVehicle VerificationState = "UnknownVehicle"
	VerificationNotRegistered  VerificationState = "NotRegistered"
	VerificationRejected       VerificationState = "Rejected"
)

func (v VerificationState) Valid() bool {
	switch v {
	case VerificationVerified, VerificationUnverified, VerificationNeedsCheck,
		VerificationUnknownVehicle, VerificationNotRegistered, VerificationRejected:
		return true
	}
	return false
}

type UnknownValueError struct {
	Kind  string
	Value string
}

func (e *UnknownValueError) Error() string {
	return "unknown " + e.Kind + ": " + e.Value
}

// RawRow is one schedule record as handed over by the spreadsheet importer.
// SequenceNumber may be empty, in which case the row's 1-based input
// position is used.
type RawRow struct {
	SequenceNumber string `json:"sequence_number"`
	ExpectedTimeIn string `json:"expected_time_in"`
	Plate          string `json:"plate"`
	VehicleType    string `json:"vehicle_type"`
	Dimensions     string `json:"dimensions"`
	Volume         string `json:"volume"`
	ValidityStatus string `json:"validity_status"`
	Notes          string `json:"notes"`
}

type ScheduleRow struct {
	SequenceNumber    int               `json:"sequence_number"`
	ExpectedTimeIn    string            `json:"expected_time_in"`
	ExpectedAt        *time.Time        `json:"expected_at,omitempty"`
	Plate             string            `json:"plate"`
	RawPlate          string            `json:"raw_plate"`
	VehicleType       string            `json:"vehicle_type"`
	Dimensions        string            `json:"dimensions"`
	Volume            string            `json:"volume"`
	ValidityStatus    ValidityStatus    `json:"validity_status"`
	MovementStatus    MovementStatus    `json:"movement_status"`
	Verified          bool              `json:"verified"`
	VerificationState VerificationState `json:"verification_state"`
	Notes             string            `json:"notes"`
	EnteredAt         *time.Time        `json:"entered_at,omitempty"`
	ExitedAt          *time.Time        `json:"exited_at,omitempty"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// Clone returns a deep copy so callers never share time pointers with the store.
func (r ScheduleRow) Clone() ScheduleRow {
	c := r
	c.ExpectedAt = cloneTime(r.ExpectedAt)
	c.EnteredAt = cloneTime(r.EnteredAt)
	c.ExitedAt = cloneTime(r.ExitedAt)
	return c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// RowPatch is a manual operator correction. Nil fields are left untouched.
type RowPatch struct {
	ExpectedTimeIn    *string            `json:"expected_time_in,omitempty"`
	Plate             *string            `json:"plate,omitempty"`
	VehicleType       *string            `json:"vehicle_type,omitempty"`
	Dimensions        *string            `json:"dimensions,omitempty"`
	Volume            *string            `json:"volume,omitempty"`
	ValidityStatus    *ValidityStatus    `json:"validity_status,omitempty"`
	VerificationState *VerificationState `json:"verification_state,omitempty"`
	Notes             *string            `json:"notes,omitempty"`
}

func (p RowPatch) Empty() bool {
	return p.ExpectedTimeIn == nil && p.Plate == nil && p.VehicleType == nil &&
		p.Dimensions == nil && p.Volume == nil && p.ValidityStatus == nil &&
		p.VerificationState == nil && p.Notes == nil
}

// DetectionEvent is an immutable fact: a plate seen at a gate.
type DetectionEvent struct {
	ID             string    `json:"id"`
	GateID         string    `json:"gate_id"`
	Direction      Direction `json:"direction"`
	PlateCandidate string    `json:"plate_candidate"`
	CapturedAt     time.Time `json:"captured_at"`
	Source         Source    `json:"source"`
	CameraID       string    `json:"camera_id,omitempty"`
	CameraName     string    `json:"camera_name,omitempty"`
	Confidence     float64   `json:"confidence,omitempty"`
	// Generation is the schedule generation active when the event was
	// submitted. Events whose generation is no longer active are stale.
	Generation string `json:"generation,omitempty"`
}

type Confidence string

const (
	ConfidenceExact Confidence = "exact"
	ConfidenceFuzzy Confidence = "fuzzy"
	ConfidenceNone  Confidence = "none"
)

type Transition struct {
	From MovementStatus `json:"from"`
	To   MovementStatus `json:"to"`
}

type MatchResult struct {
	MatchedRow        *ScheduleRow      `json:"matched_row,omitempty"`
	Confidence        Confidence        `json:"confidence"`
	Ambiguous         bool              `json:"ambiguous,omitempty"`
	Duplicate         bool              `json:"duplicate,omitempty"`
	Candidates        []int             `json:"candidates,omitempty"`
	Distance          int               `json:"distance,omitempty"`
	NormalizedPlate   string            `json:"normalized_plate"`
	AppliedTransition *Transition       `json:"applied_transition,omitempty"`
	VerificationState VerificationState `json:"verification_state,omitempty"`
}

const (
	EventEntrySuccess         = "EntrySuccess"
	EventExitSuccess          = "ExitSuccess"
	EventAmbiguousMatch       = "AmbiguousMatchWarning"
	EventFuzzyMatch           = "FuzzyMatchWarning"
	EventDuplicateDetection   = "DuplicateDetectionWarning"
	EventUnknownVehicle       = "UnknownVehicle"
	EventStaleGeneration      = "StaleGenerationWarning"
	EventInvalidLifecycle     = "InvalidLifecycleError"
	EventManualOverride       = "ManualOverride"
	EventScheduleImported     = "ScheduleImportSuccess"
	EventScheduleImportFailed = "ScheduleImportFailure"
	EventRowEdited            = "RowEdited"
	EventAutoDetectStarted    = "AutoDetectStarted"
	EventAutoDetectStopped    = "AutoDetectStopped"
)

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeveritySuccess Severity = "success"
	SeverityInfo    Severity = "info"
)

// SeverityOf classifies an event type for coloring in the log panel.
func SeverityOf(eventType string) Severity {
	switch {
	case strings.Contains(eventType, "Error"), strings.Contains(eventType, "Failure"):
		return SeverityError
	case strings.Contains(eventType, "Warning"):
		return SeverityWarning
	case strings.Contains(eventType, "Success"), strings.Contains(eventType, "Started"):
		return SeveritySuccess
	}
	return SeverityInfo
}

type LogEntry struct {
	ID             string    `json:"id"`
	Seq            uint64    `json:"seq"`
	Timestamp      time.Time `json:"timestamp"`
	GateID         string    `json:"gate_id,omitempty"`
	EventType      string    `json:"event_type"`
	Severity       Severity  `json:"severity"`
	Details        string    `json:"details"`
	CameraID       string    `json:"camera_id,omitempty"`
	CameraName     string    `json:"camera_name,omitempty"`
	SequenceNumber int       `json:"sequence_number,omitempty"`
	Plate          string    `json:"plate,omitempty"`
	DetectionID    string    `json:"detection_id,omitempty"`
}

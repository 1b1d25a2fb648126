package anpr

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"schedule-reconciler/internal/domain/schedule"
)

var ErrInvalidPayload = errors.New("invalid detection payload")

// EventPayload is a plate reading as posted by a gate camera or by an
// operator pressing the manual trigger.
type EventPayload struct {
	CameraID   string    `json:"camera_id"`
	CameraName string    `json:"camera_name,omitempty"`
	GateID     string    `json:"gate_id"`
	Plate      string    `json:"plate"`
	Confidence float64   `json:"confidence"`
	Direction  string    `json:"direction"`
	EventTime  time.Time `json:"event_time"`
	// Generation optionally pins the reading to the schedule the sender saw.
	Generation string `json:"generation,omitempty"`
}

// Detection converts the payload into a detection event. Cameras that do not
// know their gate are identified by camera id.
func (p EventPayload) Detection(source schedule.Source) (schedule.DetectionEvent, error) {
	gate := strings.TrimSpace(p.GateID)
	if gate == "" {
		gate = strings.TrimSpace(p.CameraID)
	}
	if gate == "" {
		return schedule.DetectionEvent{}, fmt.Errorf("%w: gate_id or camera_id is required", ErrInvalidPayload)
	}
	if strings.TrimSpace(p.Plate) == "" {
		return schedule.DetectionEvent{}, fmt.Errorf("%w: plate is required", ErrInvalidPayload)
	}
	dir, ok := schedule.ParseDirection(p.Direction)
	if !ok {
		return schedule.DetectionEvent{}, fmt.Errorf("%w: direction %q is not in/out", ErrInvalidPayload, p.Direction)
	}
	if p.Confidence < 0 || p.Confidence > 100 {
		return schedule.DetectionEvent{}, fmt.Errorf("%w: confidence must be within 0..100", ErrInvalidPayload)
	}
	generation := strings.TrimSpace(p.Generation)
	if generation != "" {
		if _, err := uuid.Parse(generation); err != nil {
			return schedule.DetectionEvent{}, fmt.Errorf("%w: generation %q is not a uuid", ErrInvalidPayload, p.Generation)
		}
	}

	return schedule.DetectionEvent{
		GateID:         gate,
		Direction:      dir,
		PlateCandidate: p.Plate,
		CapturedAt:     p.EventTime,
		Source:         source,
		CameraID:       strings.TrimSpace(p.CameraID),
		CameraName:     strings.TrimSpace(p.CameraName),
		Confidence:     p.Confidence,
		Generation:     generation,
	}, nil
}

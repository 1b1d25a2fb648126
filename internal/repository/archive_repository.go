package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"schedule-reconciler/internal/domain/schedule"
	"schedule-reconciler/internal/utils"
)

type ArchiveRepository struct {
	db *gorm.DB
}

func NewArchiveRepository(db *gorm.DB) *ArchiveRepository {
	return &ArchiveRepository{db: db}
}

type LogEntry struct {
	ID             string            `gorm:"primaryKey;type:uuid"`
	Seq            uint64            `gorm:"not null"`
	LoggedAt       time.Time         `gorm:"not null"`
	GateID         *string
	EventType      string            `gorm:"not null"`
	Severity       string            `gorm:"not null"`
	Details        string            `gorm:"not null"`
	CameraID       *string
	CameraName     *string
	SequenceNumber *int
	Plate          *string
	DetectionID    *string           `gorm:"type:uuid"`
	Metadata       datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt      time.Time
}

func (LogEntry) TableName() string { return "log_entries" }

type DetectionEvent struct {
	ID              string    `gorm:"primaryKey;type:uuid"`
	GateID          string    `gorm:"not null"`
	Direction       string    `gorm:"not null"`
	Source          string    `gorm:"not null"`
	RawPlate        string    `gorm:"not null"`
	NormalizedPlate string    `gorm:"not null"`
	CameraID        *string
	CameraName      *string
	Confidence      *float64
	Generation      *string   `gorm:"type:uuid"`
	SequenceNumber  *int
	Outcome         string    `gorm:"not null"`
	CapturedAt      time.Time `gorm:"not null"`
	CreatedAt       time.Time
}

func (DetectionEvent) TableName() string { return "detection_events" }

// NewLogEntry converts a stored log entry into its archive row.
func NewLogEntry(e schedule.LogEntry, metadata map[string]interface{}) LogEntry {
	rec := LogEntry{
		ID:          e.ID,
		Seq:         e.Seq,
		LoggedAt:    e.Timestamp,
		GateID:      optional(e.GateID),
		EventType:   e.EventType,
		Severity:    string(e.Severity),
		Details:     e.Details,
		CameraID:    optional(e.CameraID),
		CameraName:  optional(e.CameraName),
		Plate:       optional(e.Plate),
		DetectionID: optional(e.DetectionID),
		CreatedAt:   time.Now(),
	}
	if e.SequenceNumber != 0 {
		seq := e.SequenceNumber
		rec.SequenceNumber = &seq
	}
	if len(metadata) > 0 {
		rec.Metadata = datatypes.JSONMap(metadata)
	}
	return rec
}

// NewDetectionEvent converts a processed detection and the log entry it
// produced into its archive row.
func NewDetectionEvent(ev schedule.DetectionEvent, entry schedule.LogEntry) DetectionEvent {
	rec := DetectionEvent{
		ID:              ev.ID,
		GateID:          ev.GateID,
		Direction:       string(ev.Direction),
		Source:          string(ev.Source),
		RawPlate:        ev.PlateCandidate,
		NormalizedPlate: utils.NormalizePlate(ev.PlateCandidate),
		CameraID:        optional(ev.CameraID),
		CameraName:      optional(ev.CameraName),
		Generation:      generationID(ev.Generation),
		Outcome:         entry.EventType,
		CapturedAt:      ev.CapturedAt,
		CreatedAt:       time.Now(),
	}
	if ev.Confidence != 0 {
		c := ev.Confidence
		rec.Confidence = &c
	}
	if entry.SequenceNumber != 0 {
		seq := entry.SequenceNumber
		rec.SequenceNumber = &seq
	}
	return rec
}

// SaveLogEntry inserts rec; entries already archived are left as they are.
func (r *ArchiveRepository) SaveLogEntry(ctx context.Context, rec *LogEntry) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(rec).Error
}

func (r *ArchiveRepository) SaveDetection(ctx context.Context, rec *DetectionEvent) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(rec).Error
}

func (r *ArchiveRepository) FindDetections(ctx context.Context, normalizedPlate *string, from, to *time.Time, limit, offset int) ([]DetectionEvent, error) {
	query := r.db.WithContext(ctx).Model(&DetectionEvent{})

	if normalizedPlate != nil {
		query = query.Where("normalized_plate = ?", *normalizedPlate)
	}
	if from != nil {
		query = query.Where("captured_at >= ?", *from)
	}
	if to != nil {
		query = query.Where("captured_at <= ?", *to)
	}

	query = query.Order("captured_at DESC")

	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	var events []DetectionEvent
	err := query.Find(&events).Error
	return events, err
}

// DeleteOlderThan removes archived entries and detections recorded before cutoff.
func (r *ArchiveRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("logged_at < ?", cutoff).Delete(&LogEntry{})
		if res.Error != nil {
			return res.Error
		}
		deleted += res.RowsAffected

		res = tx.Where("captured_at < ?", cutoff).Delete(&DetectionEvent{})
		if res.Error != nil {
			return res.Error
		}
		deleted += res.RowsAffected
		return nil
	})
	return deleted, err
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// generationID keeps only values the uuid column accepts.
func generationID(gen string) *string {
	if _, err := uuid.Parse(gen); err != nil {
		return nil
	}
	return &gen
}

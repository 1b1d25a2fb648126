package store

import (
	"time"
)

var expectedLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04",
	"02/01/2006 15:04",
	"02/01/2006 15:04:05",
}

var slotLayouts = []string{
	"15:04",
	"15:04:05",
	"15h04",
}

// ParseExpectedTime interprets a schedule slot. Full timestamps are parsed as
// they are; bare clock times are placed on the day of ref in ref's location.
// Free text that is neither returns nil.
func ParseExpectedTime(text string, ref time.Time) *time.Time {
	if text == "" {
		return nil
	}
	loc := ref.Location()
	for _, layout := range expectedLayouts {
		if t, err := time.ParseInLocation(layout, text, loc); err == nil {
			return &t
		}
	}
	for _, layout := range slotLayouts {
		if t, err := time.ParseInLocation(layout, text, loc); err == nil {
			y, m, d := ref.Date()
			at := time.Date(y, m, d, t.Hour(), t.Minute(), t.Second(), 0, loc)
			return &at
		}
	}
	return nil
}

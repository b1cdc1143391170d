package timetable

import (
	"time"

	"cloud.google.com/go/civil"
)

// Snapshot is the persisted form of a baseline: the lesson projection of
// one date for one resource. Only the latest one per resource is kept.
type Snapshot struct {
	ResourceID int          `json:"resource_id"`
	Date       civil.Date   `json:"date"`
	Lessons    []LessonInfo `json:"lessons"`
	SavedAt    time.Time    `json:"saved_at"`
}

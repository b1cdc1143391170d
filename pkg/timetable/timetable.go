// Package timetable contains the core domain types for the WebUntis change notifier:
// the day/entry/row model decoded from the timetable API and the flat LessonInfo
// projection that the diff engine compares.
package timetable

import (
	"fmt"

	"cloud.google.com/go/civil"
)

// Status is the state the backend reports for a day, an entry, or a row.
type Status int

// Known statuses. NoData, NotAllowed and Regular are "normal".
const (
	StatusNoData Status = iota
	StatusNotAllowed
	StatusRegular
	StatusAdded
	StatusChanged
	StatusRemoved
	StatusCancelled
)

var statusNames = map[Status]string{
	StatusNoData:     "NO_DATA",
	StatusNotAllowed: "NOT_ALLOWED",
	StatusRegular:    "REGULAR",
	StatusAdded:      "ADDED",
	StatusChanged:    "CHANGED",
	StatusRemoved:    "REMOVED",
	StatusCancelled:  "CANCELLED",
}

var statusLabels = map[Status]string{
	StatusNoData:     "No Data",
	StatusNotAllowed: "Not Allowed",
	StatusRegular:    "Regular",
	StatusAdded:      "Added",
	StatusChanged:    "Changed",
	StatusRemoved:    "Removed",
	StatusCancelled:  "Cancelled",
}

// IsNormal reports whether the status carries no notification-worthy state.
func (s Status) IsNormal() bool {
	return s == StatusNoData || s == StatusNotAllowed || s == StatusRegular
}

// String returns the human readable label ("Not Allowed").
func (s Status) String() string {
	if l, ok := statusLabels[s]; ok {
		return l
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// MarshalText encodes the status using the wire name ("NOT_ALLOWED").
func (s Status) MarshalText() ([]byte, error) {
	n, ok := statusNames[s]
	if !ok {
		return nil, fmt.Errorf("unknown status %d", int(s))
	}
	return []byte(n), nil
}

// UnmarshalText decodes a wire name. Unknown names are rejected.
func (s *Status) UnmarshalText(b []byte) error {
	for k, v := range statusNames {
		if v == string(b) {
			*s = k
			return nil
		}
	}
	return fmt.Errorf("unknown status %q", b)
}

// EntryType classifies a grid entry. It is informational only.
type EntryType int

const (
	EntryNormalTeachingPeriod EntryType = iota
	EntryExam
	EntryEvent
)

var entryTypeNames = map[EntryType]string{
	EntryNormalTeachingPeriod: "NORMAL_TEACHING_PERIOD",
	EntryExam:                 "EXAM",
	EntryEvent:                "EVENT",
}

func (t EntryType) String() string {
	if n, ok := entryTypeNames[t]; ok {
		return n
	}
	return fmt.Sprintf("EntryType(%d)", int(t))
}

// UnmarshalText decodes a wire name.
func (t *EntryType) UnmarshalText(b []byte) error {
	for k, v := range entryTypeNames {
		if v == string(b) {
			*t = k
			return nil
		}
	}
	return fmt.Errorf("unknown entry type %q", b)
}

// RowType tags the semantic role of a Row.
type RowType int

const (
	RowSubject RowType = iota
	RowTeacher
	RowRoom
	RowInfo
)

var rowTypeNames = map[RowType]string{
	RowSubject: "SUBJECT",
	RowTeacher: "TEACHER",
	RowRoom:    "ROOM",
	RowInfo:    "INFO",
}

func (t RowType) String() string {
	if n, ok := rowTypeNames[t]; ok {
		return n
	}
	return fmt.Sprintf("RowType(%d)", int(t))
}

// UnmarshalText decodes a wire name.
func (t *RowType) UnmarshalText(b []byte) error {
	for k, v := range rowTypeNames {
		if v == string(b) {
			*t = k
			return nil
		}
	}
	return fmt.Errorf("unknown row type %q", b)
}

// TextType tags an entry text.
type TextType int

const (
	TextLessonInfo TextType = iota
	TextSubstitution
)

// UnmarshalText decodes a wire name.
func (t *TextType) UnmarshalText(b []byte) error {
	switch string(b) {
	case "LESSON_INFO":
		*t = TextLessonInfo
	case "SUBSTITUTION_TEXT":
		*t = TextSubstitution
	default:
		return fmt.Errorf("unknown text type %q", b)
	}
	return nil
}

// Duration is the naive start/end of an entry. No time zone is attached.
type Duration struct {
	Start civil.DateTime
	End   civil.DateTime
}

// Row is one value of a position slot.
type Row struct {
	Type        RowType
	Status      Status
	ShortName   string
	LongName    string
	DisplayName string
}

// EntryText is a free-text annotation attached to an entry.
type EntryText struct {
	Type TextType
	Text string
}

// GridEntry is one timetable cell: a lesson, an exam or an event.
type GridEntry struct {
	Duration         Duration
	Type             EntryType
	Status           Status
	NotesAll         string
	Position1        []RowSlot // subject or info
	Position2        []RowSlot // teacher
	Position3        []RowSlot // room
	Texts            []EntryText
	LessonText       string
	LessonInfo       string
	SubstitutionText string
}

// Day is the full grid of one calendar date. Date is the day the entries
// belong to, regardless of their start times.
type Day struct {
	Date        civil.Date
	Status      Status
	GridEntries []GridEntry
}

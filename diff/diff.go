// Package diff compares two projections of the same lesson and classifies
// what changed between them.
package diff

import (
	"fmt"
	"slices"

	"webuntis-notifier/pkg/timetable"
)

// Kind names one category of semantic lesson change.
type Kind int

const (
	LessonCancellation Kind = iota
	LessonChange
	SubjectChanged
	TeacherChanged
	RoomChanged
	NotesChanged
)

var kindTitles = map[Kind]string{
	LessonCancellation: "Lesson Cancellation",
	LessonChange:       "Lesson Change",
	SubjectChanged:     "Subject Changed",
	TeacherChanged:     "Teacher Changed",
	RoomChanged:        "Room Changed",
	NotesChanged:       "Notes Changed",
}

// String returns the notification title for the kind.
func (k Kind) String() string {
	if t, ok := kindTitles[k]; ok {
		return t
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// FieldChange is one old/new pair behind a classification.
type FieldChange struct {
	Field     string
	Old       string
	New       string
	OldStatus timetable.Status
	NewStatus timetable.Status
}

// Classification is one detected change. Lesson is the new state.
type Classification struct {
	Kind    Kind
	Lesson  timetable.LessonInfo
	Old     timetable.LessonInfo
	Changes []FieldChange
}

// Summary is a one-line description of the delta. Notes changes have none.
func (c Classification) Summary() string {
	switch c.Kind {
	case LessonCancellation, LessonChange:
		return fmt.Sprintf("Lesson Status changed from %s to %s.", c.Old.Status, c.Lesson.Status)
	case SubjectChanged:
		return fmt.Sprintf("Subject changed from %s (%s) to %s (%s).",
			c.Old.Subject, c.Old.SubjectStatus, c.Lesson.Subject, c.Lesson.SubjectStatus)
	case TeacherChanged:
		return fmt.Sprintf("Teacher changed from %s (%s) to %s (%s).",
			c.Old.Teacher, c.Old.TeacherStatus, c.Lesson.Teacher, c.Lesson.TeacherStatus)
	case RoomChanged:
		return fmt.Sprintf("Room changed from %s to %s (%s).", c.Old.Room, c.Lesson.Room, c.Lesson.RoomStatus)
	default:
		return ""
	}
}

// Result is the outcome of comparing two lessons. Changed can be true with
// no classifications when only untracked fields differ.
type Result struct {
	Changed         bool
	Classifications []Classification
}

// Diff compares old and new. The checks are independent and always reported
// in the same order: status, subject, teacher, room, notes.
func Diff(old, new timetable.LessonInfo) Result {
	if old.Equal(new) {
		return Result{}
	}

	var out []Classification
	add := func(k Kind, changes ...FieldChange) {
		out = append(out, Classification{Kind: k, Lesson: new, Old: old, Changes: changes})
	}

	if old.Status != new.Status {
		status := FieldChange{Field: "status", OldStatus: old.Status, NewStatus: new.Status}
		switch new.Status {
		case timetable.StatusCancelled, timetable.StatusRemoved:
			add(LessonCancellation, status)
		case timetable.StatusChanged:
			add(LessonChange, status)
		default:
			// Regular -> Added and the like are not worth a notification.
		}
	}

	if old.SubjectStatus != new.SubjectStatus || old.Subject != new.Subject {
		add(SubjectChanged, FieldChange{
			Field: "subject", Old: old.Subject, New: new.Subject,
			OldStatus: old.SubjectStatus, NewStatus: new.SubjectStatus,
		})
	}

	if old.TeacherStatus != new.TeacherStatus || old.Teacher != new.Teacher {
		add(TeacherChanged, FieldChange{
			Field: "teacher", Old: old.Teacher, New: new.Teacher,
			OldStatus: old.TeacherStatus, NewStatus: new.TeacherStatus,
		})
	}

	if old.RoomStatus != new.RoomStatus || old.Room != new.Room {
		add(RoomChanged, FieldChange{
			Field: "room", Old: old.Room, New: new.Room,
			OldStatus: old.RoomStatus, NewStatus: new.RoomStatus,
		})
	}

	if changes := annotationChanges(old, new); len(changes) > 0 {
		add(NotesChanged, changes...)
	}

	return Result{Changed: true, Classifications: out}
}

func annotationChanges(old, new timetable.LessonInfo) []FieldChange {
	var changes []FieldChange
	pairs := []struct {
		field    string
		old, new string
	}{
		{"lesson_info", old.LessonInfo, new.LessonInfo},
		{"lesson_text", old.LessonText, new.LessonText},
		{"substitution_text", old.SubstitutionText, new.SubstitutionText},
		{"notes", old.Notes, new.Notes},
	}
	for _, p := range pairs {
		if p.old != p.new {
			changes = append(changes, FieldChange{Field: p.field, Old: p.old, New: p.new})
		}
	}
	if !slices.Equal(old.Texts, new.Texts) {
		changes = append(changes, FieldChange{Field: "texts", Old: fmt.Sprint(old.Texts), New: fmt.Sprint(new.Texts)})
	}
	return changes
}

// Day diffs two lesson lists of the same date positionally. The lists must
// have the same length; a mismatch is a shape error and nothing is compared.
func Day(old, new []timetable.LessonInfo) (Result, error) {
	if len(old) != len(new) {
		return Result{}, &timetable.ShapeError{What: "lesson count", Want: len(old), Got: len(new)}
	}
	var total Result
	for i := range old {
		r := Diff(old[i], new[i])
		total.Changed = total.Changed || r.Changed
		total.Classifications = append(total.Classifications, r.Classifications...)
	}
	return total, nil
}

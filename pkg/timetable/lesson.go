package timetable

import (
	"fmt"
	"slices"
	"strings"

	"cloud.google.com/go/civil"
)

// LessonInfo is the flat, comparable view of one lesson.
// The four free-text fields are empty when the source was empty or blank.
type LessonInfo struct {
	Status           Status         `json:"status"`
	Datetime         civil.DateTime `json:"datetime"`
	Subject          string         `json:"subject"`
	SubjectStatus    Status         `json:"subject_status"`
	Teacher          string         `json:"teacher"`
	TeacherStatus    Status         `json:"teacher_status"`
	Room             string         `json:"room"`
	RoomStatus       Status         `json:"room_status"`
	LessonInfo       string         `json:"lesson_info,omitempty"`
	LessonText       string         `json:"lesson_text,omitempty"`
	SubstitutionText string         `json:"substitution_text,omitempty"`
	Notes            string         `json:"notes,omitempty"`
	Texts            []string       `json:"texts"`
}

// Equal reports whether both records describe the same lesson state.
func (l LessonInfo) Equal(o LessonInfo) bool {
	return l.Status == o.Status &&
		l.Datetime == o.Datetime &&
		l.Subject == o.Subject &&
		l.SubjectStatus == o.SubjectStatus &&
		l.Teacher == o.Teacher &&
		l.TeacherStatus == o.TeacherStatus &&
		l.Room == o.Room &&
		l.RoomStatus == o.RoomStatus &&
		l.LessonInfo == o.LessonInfo &&
		l.LessonText == o.LessonText &&
		l.SubstitutionText == o.SubstitutionText &&
		l.Notes == o.Notes &&
		slices.Equal(l.Texts, o.Texts)
}

// Project turns a grid entry into a LessonInfo. ok is false for purely
// informational entries (position1 holds an Info row), which are not lessons.
func Project(e *GridEntry) (info LessonInfo, ok bool, err error) {
	if _, _, err := e.InfoRow(); err == nil {
		return LessonInfo{}, false, nil
	}

	subject, err := e.Subject()
	if err != nil {
		return LessonInfo{}, false, fmt.Errorf("subject: %w", err)
	}
	// A removed teacher still has a name worth showing.
	teacher, _, err := e.TeacherRow()
	if err != nil {
		return LessonInfo{}, false, fmt.Errorf("teacher: %w", err)
	}
	room, err := e.Room()
	if err != nil {
		return LessonInfo{}, false, fmt.Errorf("room: %w", err)
	}

	texts := make([]string, 0, len(e.Texts))
	for _, t := range e.Texts {
		texts = append(texts, t.Text)
	}

	return LessonInfo{
		Status:           e.Status,
		Datetime:         e.Duration.Start,
		Subject:          subject.LongName,
		SubjectStatus:    subject.Status,
		Teacher:          teacher.LongName,
		TeacherStatus:    teacher.Status,
		Room:             room.LongName,
		RoomStatus:       room.Status,
		LessonInfo:       strings.TrimSpace(e.LessonInfo),
		LessonText:       strings.TrimSpace(e.LessonText),
		SubstitutionText: strings.TrimSpace(e.SubstitutionText),
		Notes:            strings.TrimSpace(e.NotesAll),
		Texts:            texts,
	}, true, nil
}

// ProjectDay projects every entry of the day in order, skipping informational
// entries. Any entry that fails to resolve fails the whole day.
func ProjectDay(d *Day) ([]LessonInfo, error) {
	lessons := make([]LessonInfo, 0, len(d.GridEntries))
	for i := range d.GridEntries {
		e := &d.GridEntries[i]
		info, ok, err := Project(e)
		if err != nil {
			return nil, fmt.Errorf("entry %d at %s: %w", i, e.Duration.Start, err)
		}
		if ok {
			lessons = append(lessons, info)
		}
	}
	return lessons, nil
}

// Package notify renders lesson changes and errors into messages and delivers
// them through any number of providers.
package notify

import (
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"

	"webuntis-notifier/diff"
)

// Color is a 24-bit RGB value.
type Color uint32

// RGB packs r, g and b into a Color.
func RGB(r, g, b uint8) Color {
	return Color(uint32(r)<<16 | uint32(g)<<8 | uint32(b))
}

// Hex returns the CSS form, e.g. "#9217ed".
func (c Color) Hex() string {
	return fmt.Sprintf("#%06x", uint32(c))
}

var (
	ColorError  = RGB(228, 24, 17)
	ColorLesson = RGB(146, 23, 237)
)

// Field is a short labelled value shown next to the message body.
type Field struct {
	Name  string
	Value string
}

// Message is a provider-neutral notification. Body uses **bold** markers
// and newlines; providers render it as they see fit.
type Message struct {
	Title     string
	Body      string
	Color     Color
	Fields    []Field
	Timestamp time.Time
}

// LessonMessage renders one classified lesson change.
func LessonMessage(c diff.Classification, now time.Time) Message {
	l := c.Lesson

	var b strings.Builder
	fmt.Fprintf(&b, "(%s)\n**%s**\n", formatDateTime(l.Datetime), c.Summary())
	line := func(label, value string) {
		if value != "" {
			fmt.Fprintf(&b, "**%s:** %s\n", label, value)
		}
	}
	line("Lesson Info", l.LessonInfo)
	line("Lesson Text", l.LessonText)
	line("Substitution Text", l.SubstitutionText)
	line("Notes", l.Notes)
	for i, text := range l.Texts {
		fmt.Fprintf(&b, "**Text #%d:** %s\n", i+1, text)
	}

	return Message{
		Title: c.Kind.String(),
		Body:  b.String(),
		Color: ColorLesson,
		Fields: []Field{
			{Name: "Subject", Value: l.Subject},
			{Name: "Teacher", Value: l.Teacher},
			{Name: "Room", Value: l.Room},
			{Name: "Time", Value: fmt.Sprintf("%02d:%02d", l.Datetime.Time.Hour, l.Datetime.Time.Minute)},
		},
		Timestamp: now,
	}
}

// ErrorMessage renders a failure.
func ErrorMessage(title string, err error, now time.Time) Message {
	return Message{
		Title:     title,
		Body:      err.Error(),
		Color:     ColorError,
		Timestamp: now,
	}
}

func formatDateTime(dt civil.DateTime) string {
	return fmt.Sprintf("%s %02d:%02d", dt.Date, dt.Time.Hour, dt.Time.Minute)
}

package timetable

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
)

// FormatVersion is the timetable entries format this build was written against.
const FormatVersion = 19

const wireDateTimeLayout = "2006-01-02T15:04"

// Entries is a decoded timetable/entries response.
type Entries struct {
	Days []Day
	// Errors holds the raw backend-reported errors, if any.
	Errors []json.RawMessage
}

type wireHeader struct {
	Format *int `json:"format"`
}

type wireEntries struct {
	Days   []wireDay         `json:"days"`
	Errors []json.RawMessage `json:"errors"`
}

type wireDay struct {
	Date        civil.Date  `json:"date"`
	Status      Status      `json:"status"`
	GridEntries []wireEntry `json:"gridEntries"`
}

type wireDuration struct {
	Start wireDateTime `json:"start"`
	End   wireDateTime `json:"end"`
}

type wireEntry struct {
	Duration         wireDuration    `json:"duration"`
	Type             EntryType       `json:"type"`
	Status           Status          `json:"status"`
	NotesAll         *string         `json:"notesAll"`
	Position1        []wireSlot      `json:"position1"`
	Position2        []wireSlot      `json:"position2"`
	Position3        []wireSlot      `json:"position3"`
	Texts            []wireEntryText `json:"texts"`
	LessonText       *string         `json:"lessonText"`
	LessonInfo       *string         `json:"lessonInfo"`
	SubstitutionText *string         `json:"substitutionText"`
}

type wireSlot struct {
	Current *wireRow `json:"current"`
	Removed *wireRow `json:"removed"`
}

type wireRow struct {
	Type        RowType `json:"type"`
	Status      Status  `json:"status"`
	ShortName   *string `json:"shortName"`
	LongName    *string `json:"longName"`
	DisplayName *string `json:"displayName"`
}

type wireEntryText struct {
	Type TextType `json:"type"`
	Text string   `json:"text"`
}

// wireDateTime parses the minute-precision "YYYY-MM-DDThh:mm" timestamps.
type wireDateTime civil.DateTime

func (d *wireDateTime) UnmarshalText(b []byte) error {
	t, err := time.Parse(wireDateTimeLayout, string(b))
	if err != nil {
		return fmt.Errorf("parse datetime %q: %w", b, err)
	}
	*d = wireDateTime(civil.DateTimeOf(t))
	return nil
}

// CheckFormat rejects a payload whose "format" tag is missing or differs
// from FormatVersion. It runs before anything else is decoded.
func CheckFormat(data []byte) error {
	var h wireHeader
	if err := json.Unmarshal(data, &h); err != nil {
		return fmt.Errorf("decode header: %w: %w", ErrMalformed, describeJSONError(err, data))
	}
	if h.Format == nil {
		return &FormatVersionError{Expected: FormatVersion, Missing: true}
	}
	if *h.Format != FormatVersion {
		return &FormatVersionError{Expected: FormatVersion, Got: *h.Format}
	}
	return nil
}

// DecodeEntries parses a timetable/entries payload into Days.
// Missing strings become "" and missing slot lists become empty, so
// nothing downstream branches on optionality.
func DecodeEntries(data []byte) (*Entries, error) {
	if err := CheckFormat(data); err != nil {
		return nil, err
	}

	var w wireEntries
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode entries: %w: %w", ErrMalformed, describeJSONError(err, data))
	}

	days := make([]Day, 0, len(w.Days))
	for _, wd := range w.Days {
		days = append(days, wd.toDay())
	}
	return &Entries{Days: days, Errors: w.Errors}, nil
}

func (wd *wireDay) toDay() Day {
	entries := make([]GridEntry, 0, len(wd.GridEntries))
	for i := range wd.GridEntries {
		entries = append(entries, wd.GridEntries[i].toEntry())
	}
	return Day{Date: wd.Date, Status: wd.Status, GridEntries: entries}
}

func (we *wireEntry) toEntry() GridEntry {
	texts := make([]EntryText, 0, len(we.Texts))
	for _, t := range we.Texts {
		texts = append(texts, EntryText{Type: t.Type, Text: t.Text})
	}
	return GridEntry{
		Duration: Duration{
			Start: civil.DateTime(we.Duration.Start),
			End:   civil.DateTime(we.Duration.End),
		},
		Type:             we.Type,
		Status:           we.Status,
		NotesAll:         str(we.NotesAll),
		Position1:        slots(we.Position1),
		Position2:        slots(we.Position2),
		Position3:        slots(we.Position3),
		Texts:            texts,
		LessonText:       str(we.LessonText),
		LessonInfo:       str(we.LessonInfo),
		SubstitutionText: str(we.SubstitutionText),
	}
}

func slots(ws []wireSlot) []RowSlot {
	out := make([]RowSlot, 0, len(ws))
	for _, s := range ws {
		out = append(out, NewSlot(s.Current.toRow(), s.Removed.toRow()))
	}
	return out
}

func (wr *wireRow) toRow() *Row {
	if wr == nil {
		return nil
	}
	return &Row{
		Type:        wr.Type,
		Status:      wr.Status,
		ShortName:   str(wr.ShortName),
		LongName:    str(wr.LongName),
		DisplayName: str(wr.DisplayName),
	}
}

func str(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// describeJSONError adds a snippet of the payload around the failing offset.
func describeJSONError(err error, data []byte) error {
	var offset int64
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.As(err, &syntaxErr):
		offset = syntaxErr.Offset
	case errors.As(err, &typeErr):
		offset = typeErr.Offset
	default:
		return err
	}
	return fmt.Errorf("%w | %s", err, Snippet(data, int(offset), 50))
}

// Snippet returns up to radius bytes on each side of offset, with ellipses
// marking truncation.
func Snippet(data []byte, offset, radius int) string {
	offset = max(0, min(offset, len(data)))
	start := max(0, offset-radius)
	end := min(len(data), offset+radius)

	s := string(data[start:end])
	if start > 0 {
		s = "..." + s
	}
	if end < len(data) {
		s += "..."
	}
	return s
}

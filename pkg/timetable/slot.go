package timetable

// SlotState tells which variant a RowSlot holds.
type SlotState int

const (
	SlotAbsent SlotState = iota
	SlotCurrent
	SlotRemoved
)

// RowSlot holds at most one Row, either as the current value or as a value
// that was removed. The zero value is an absent slot.
type RowSlot struct {
	state SlotState
	row   Row
}

// CurrentSlot returns a slot holding r as the current value.
func CurrentSlot(r Row) RowSlot {
	return RowSlot{state: SlotCurrent, row: r}
}

// RemovedSlot returns a slot holding r as a removed value.
func RemovedSlot(r Row) RowSlot {
	return RowSlot{state: SlotRemoved, row: r}
}

// NewSlot collapses the wire pair of optional current/removed rows.
// Current wins when both are present.
func NewSlot(current, removed *Row) RowSlot {
	switch {
	case current != nil:
		return CurrentSlot(*current)
	case removed != nil:
		return RemovedSlot(*removed)
	default:
		return RowSlot{}
	}
}

// State returns the variant held by the slot.
func (s RowSlot) State() SlotState {
	return s.state
}

// Row returns the held row and whether it came from the removed variant.
func (s RowSlot) Row() (row Row, removed bool, err error) {
	switch s.state {
	case SlotCurrent:
		return s.row, false, nil
	case SlotRemoved:
		return s.row, true, nil
	default:
		return Row{}, false, ErrNoRowValue
	}
}

// Resolve extracts the single authoritative row of a position.
// It fails unless the position holds exactly one slot with a value of the
// expected type. removed reports whether the value is a removed one.
func Resolve(slots []RowSlot, position int, expected RowType) (row Row, removed bool, err error) {
	switch len(slots) {
	case 0:
		return Row{}, false, &ResolveError{Position: position, Expected: expected, Kind: ErrEmptyRow}
	case 1:
	default:
		return Row{}, false, &ResolveError{Position: position, Expected: expected, Count: len(slots), Kind: ErrAmbiguousRow}
	}

	row, removed, err = slots[0].Row()
	if err != nil {
		return Row{}, false, &ResolveError{Position: position, Expected: expected, Kind: err}
	}

	if row.Type != expected {
		return Row{}, false, &ResolveError{Position: position, Expected: expected, Actual: row.Type, Kind: ErrUnexpectedRowType}
	}

	return row, removed, nil
}

// ResolvePresent is Resolve for callers that need a value that is still
// there: a removed row fails with ErrRowRemoved.
func ResolvePresent(slots []RowSlot, position int, expected RowType) (Row, error) {
	row, removed, err := Resolve(slots, position, expected)
	if err != nil {
		return Row{}, err
	}
	if removed {
		return Row{}, &ResolveError{Position: position, Expected: expected, Kind: ErrRowRemoved}
	}
	return row, nil
}

// InfoRow resolves position1 as an Info row, removed or not.
func (e *GridEntry) InfoRow() (Row, bool, error) {
	return Resolve(e.Position1, 1, RowInfo)
}

// Subject resolves position1 as a present Subject row.
func (e *GridEntry) Subject() (Row, error) {
	return ResolvePresent(e.Position1, 1, RowSubject)
}

// SubjectRow resolves position1 as a Subject row, removed or not.
func (e *GridEntry) SubjectRow() (Row, bool, error) {
	return Resolve(e.Position1, 1, RowSubject)
}

// Teacher resolves position2 as a present Teacher row.
func (e *GridEntry) Teacher() (Row, error) {
	return ResolvePresent(e.Position2, 2, RowTeacher)
}

// TeacherRow resolves position2 as a Teacher row, removed or not.
func (e *GridEntry) TeacherRow() (Row, bool, error) {
	return Resolve(e.Position2, 2, RowTeacher)
}

// Room resolves position3 as a present Room row.
func (e *GridEntry) Room() (Row, error) {
	return ResolvePresent(e.Position3, 3, RowRoom)
}

// RoomRow resolves position3 as a Room row, removed or not.
func (e *GridEntry) RoomRow() (Row, bool, error) {
	return Resolve(e.Position3, 3, RowRoom)
}

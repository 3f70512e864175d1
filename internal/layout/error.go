package layout

var (
	ErrNoSpace       = &PlacementError{Msg: "no space left for block"}
	ErrInvalidPin    = &PlacementError{Msg: "pinned address must be a full address"}
	ErrReservedRange = &PlacementError{Msg: "reserved range is not free"}
)

type PlacementError struct {
	Msg string
}

func (e *PlacementError) Error() string {
	return e.Msg
}

func (e *PlacementError) Is(target error) bool {
	t, ok := target.(*PlacementError)
	if !ok {
		return false
	}
	return e.Msg == t.Msg
}

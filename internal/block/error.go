package block

var (
	ErrDuplicateID    = &LayoutError{Msg: "duplicate block id"}
	ErrSegmentOverlap = &LayoutError{Msg: "segment overlaps the bytes before it"}
	ErrSizeExceeded   = &LayoutError{Msg: "payload is larger than its reserved size"}
	ErrNotPlaced      = &LayoutError{Msg: "block has no resolved address"}
)

// LayoutError reports a layout that cannot be written as decided. These errors are fatal for the
// write pass.
type LayoutError struct {
	Msg string
}

func (e *LayoutError) Error() string {
	return e.Msg
}

func (e *LayoutError) Is(target error) bool {
	t, ok := target.(*LayoutError)
	if !ok {
		return false
	}
	return e.Msg == t.Msg
}

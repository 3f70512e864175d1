package bankaddr

var (
	ErrInvalidBank    = &AddressError{"invalid bank"}
	ErrInvalidOffset  = &AddressError{"invalid offset in bank"}
	ErrInvalidAddress = &AddressError{"invalid linear address"}
)

// AddressError is returned when a value can never be a valid address. These are structural errors
// and are never used to report that a placement does not fit.
type AddressError struct {
	Msg string
}

func (e *AddressError) Error() string {
	return e.Msg
}

func (e *AddressError) Is(target error) bool {
	if targetErr, ok := target.(*AddressError); ok {
		return e.Msg == targetErr.Msg
	}
	return false
}

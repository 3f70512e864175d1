package writer

var (
	ErrOverwrite   = &WriteError{Msg: "write over already written bytes"}
	ErrOutOfImage  = &WriteError{Msg: "write outside of the image"}
	ErrNoOpenBlock = &WriteError{Msg: "no block is open"}
)

type WriteError struct {
	Msg string
}

func (e *WriteError) Error() string {
	return e.Msg
}

func (e *WriteError) Is(target error) bool {
	t, ok := target.(*WriteError)
	if !ok {
		return false
	}
	return e.Msg == t.Msg
}

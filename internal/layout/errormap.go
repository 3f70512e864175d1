package layout

import (
	"maps"
	"slices"
	"strings"
)

// ErrorMap collects one error per block id.
type ErrorMap struct {
	Title  string
	Errors map[string]error
}

func (e *ErrorMap) Error() string {
	if len(e.Errors) == 0 {
		return ""
	}

	builder := strings.Builder{}
	if e.Title != "" {
		builder.WriteString(e.Title + ":\n")
	} else {
		builder.WriteString("Errors:\n")
	}
	for _, id := range slices.Sorted(maps.Keys(e.Errors)) {
		builder.WriteString(id)
		builder.WriteString(": ")
		builder.WriteString(e.Errors[id].Error())
		builder.WriteString("\n")
	}
	return builder.String()
}

// Unwrap exposes the collected errors to errors.Is and errors.As.
func (e *ErrorMap) Unwrap() []error {
	errs := make([]error, 0, len(e.Errors))
	for _, id := range slices.Sorted(maps.Keys(e.Errors)) {
		errs = append(errs, e.Errors[id])
	}
	return errs
}

func (e *ErrorMap) AddError(id string, err error) {
	if e.Errors == nil {
		e.Errors = make(map[string]error)
	}
	e.Errors[id] = err
}

func (e *ErrorMap) HasErrors() bool {
	return len(e.Errors) > 0
}

package x86

import (
	"errors"
	"fmt"
)

// ErrDefect is wrapped by every Defect.
var ErrDefect = errors.New("compiler defect")

// Defect is an internal inconsistency of the code generator, such as an
// instruction that does not fit its reserved slot. It is raised with Bugf
// and aborts the compilation in progress; it is never retried.
type Defect struct {
	Msg string
}

// Error implements error.
func (d *Defect) Error() string {
	return "x86: compiler defect: " + d.Msg
}

// Unwrap makes errors.Is(err, ErrDefect) hold for every Defect.
func (d *Defect) Unwrap() error {
	return ErrDefect
}

// Bugf panics with a *Defect built from the format and arguments.
func Bugf(format string, args ...any) {
	panic(&Defect{Msg: fmt.Sprintf(format, args...)})
}

// Recover converts a *Defect panic into an error stored in *errp.
// Any other panic value is re-raised. It must be called directly by a
// deferred function:
//
//	defer x86.Recover(&err)
func Recover(errp *error) {
	r := recover()
	if r == nil {
		return
	}
	if d, ok := r.(*Defect); ok {
		*errp = d
		return
	}
	panic(r)
}

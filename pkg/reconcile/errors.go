package reconcile

import (
	"errors"
	"fmt"
)

// ErrInvalidSnapshot matches any *InvalidSnapshotError via errors.Is.
var ErrInvalidSnapshot = errors.New("invalid snapshot")

// InvalidSnapshotError reports a payload that is not shaped like a
// comprehensive snapshot. Path locates the offending value ("data",
// "data.a3581f", ...).
type InvalidSnapshotError struct {
	Path   string
	Reason string
	Err    error
}

func (e *InvalidSnapshotError) Error() string {
	msg := "invalid snapshot"
	if e.Path != "" {
		msg += " at " + e.Path
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *InvalidSnapshotError) Is(target error) bool {
	return target == ErrInvalidSnapshot
}

func (e *InvalidSnapshotError) Unwrap() error {
	return e.Err
}

package executor

import "github.com/lattice-run/lattice/pkg/types"

// Error is the tagged error returned to clients by Submit/Wait/Cancel,
// carrying one of spec §7's error kinds plus a human-readable message.
// Kind and message are never mixed into a single opaque string so a
// caller can switch on Kind without parsing text.
type Error struct {
	Kind    types.ErrorKind
	Message string
}

func (e *Error) Error() string {
	if e.Kind == "" {
		return e.Message
	}
	return string(e.Kind) + ": " + e.Message
}

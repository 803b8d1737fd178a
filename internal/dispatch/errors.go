package dispatch

import (
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrUnknownBackend is returned by GetHandle for names that were not
// registered at startup.
var ErrUnknownBackend = errors.New("unknown backend")

// isTransportFailure reports whether a call error indicates a broken
// connection rather than a backend-side or deadline error. Only these
// trigger slot replacement; a timed-out call may simply be slow and its
// connection is still usable.
func isTransportFailure(err error) bool {
	return status.Code(err) == codes.Unavailable
}

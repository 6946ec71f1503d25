package linear

import (
	"errors"
	"fmt"
)

// ErrMissingCredential is returned before any network I/O when no token is
// configured. Retrying cannot fix it.
var ErrMissingCredential = errors.New("linear token not configured")

// ErrNoTeam is returned when no team is configured and the account has none.
var ErrNoTeam = errors.New("no team available: configure a team id or make sure the account can access a team")

// RemoteError is a transport, HTTP or GraphQL failure. It is transient from
// the sync pipeline's point of view and is retried with backoff.
type RemoteError struct {
	StatusCode int // 0 when no response was received
	Message    string
	Err        error
}

func (e *RemoteError) Error() string {
	if e.StatusCode != 0 && e.StatusCode != 200 {
		return fmt.Sprintf("linear API error: HTTP %d: %s", e.StatusCode, e.Message)
	}
	return "linear API error: " + e.Message
}

func (e *RemoteError) Unwrap() error { return e.Err }

// ValidationError reports a token or team id that was malformed or rejected.
// It is returned to the caller and never queued.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid %s: %s: %v", e.Field, e.Message, e.Err)
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return e.Err }

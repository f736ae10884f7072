// Package session provides the uniform device-session contract and its
// two concrete variants: a REST session for pfSense firewalls and a
// line-oriented CLI session for IOS-style routers and switches.
package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/HerbHall/uproot/pkg/models"
)

// ErrSessionDropped marks a transport failure that occurred while a
// change was being applied. Some faults sever the path the session
// rides on, so callers treat this as expected during fault commits and
// restarts.
var ErrSessionDropped = errors.New("session transport dropped")

// Result is the normalized response of a Query. REST sessions populate
// Records from the API's data array; CLI sessions populate Raw with the
// command output. Consumers must tolerate either shape.
type Result struct {
	Records []map[string]any
	Raw     string
}

// Request is a single REST call inside a ChangeSet.
type Request struct {
	Method string
	Path   string // relative to the detected API prefix
	Body   any
}

// ChangeSet is the protocol-neutral unit passed to Apply. Exactly one
// of Commands or Requests is populated, matching the session variant.
type ChangeSet struct {
	Commands []string
	Requests []Request
}

// Session is a live connection bound to exactly one device.
// Close is idempotent and safe on every exit path.
type Session interface {
	Device() models.Device
	Query(ctx context.Context, target string) (*Result, error)
	Apply(ctx context.Context, change ChangeSet) error
	Close() error
}

// ConnectionError is a fatal per-device failure to open or
// authenticate a session.
type ConnectionError struct {
	Label  string
	Reason string
	Err    error
}

func (e *ConnectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Label, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Label, e.Reason)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// QueryError wraps a failed state query.
type QueryError struct {
	Label  string
	Target string
	Err    error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("%s: query %q: %v", e.Label, e.Target, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// ApplyError wraps a partially or totally rejected change set.
type ApplyError struct {
	Label string
	Err   error
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("%s: apply: %v", e.Label, e.Err)
}

func (e *ApplyError) Unwrap() error { return e.Err }

package dispatch

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyStarted is returned by Start on an engine that has run before.
	// A stopped or failed engine cannot be restarted; create a new one.
	ErrAlreadyStarted = errors.New("engine already started")

	ErrNoRegistrations = errors.New("nothing to watch: no commands registered")

	ErrNoEventSource = errors.New("engine has no event source")

	// ErrSubscriptionClosed means the event source stopped without being asked to.
	ErrSubscriptionClosed = errors.New("event subscription closed unexpectedly")
)

// MatchError is logged when a transform fails for a real event. Only the
// invocation of that one watch is skipped.
type MatchError struct {
	Command []string
	Source  string
	Path    string
	Err     error
}

func (e *MatchError) Error() string {
	return fmt.Sprintf("resolving targets of %q for %s: %v", e.Source, e.Path, e.Err)
}

func (e *MatchError) Unwrap() error {
	return e.Err
}

// SubscriptionFatalError is returned by Start when the event source fails in
// a way watching cannot recover from.
type SubscriptionFatalError struct {
	Err error
}

func (e *SubscriptionFatalError) Error() string {
	return fmt.Sprintf("file watching failed: %v", e.Err)
}

func (e *SubscriptionFatalError) Unwrap() error {
	return e.Err
}

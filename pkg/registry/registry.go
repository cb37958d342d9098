package registry

import (
	"errors"
	"sync"

	"github.com/convoyinc/conservator/pkg/watch"
)

// ErrFrozen is returned by Register once watching has started.
var ErrFrozen = errors.New("registry is frozen: watching has already started")

// Registration is a command and the watches that trigger it.
type Registration struct {
	Command []string
	Watches []watch.NormalizedWatch
}

// Registry holds registrations in the order they were made. It is appended
// to before watching starts and read-only afterwards.
type Registry struct {
	mu            sync.Mutex
	frozen        bool
	registrations []Registration
}

func New() *Registry {
	return &Registry{}
}

// Register normalizes watches and appends a registration for command.
// Registering the same glob for several commands is allowed; each fires on
// its own.
func (r *Registry) Register(command []string, watches ...any) error {
	if len(command) == 0 || command[0] == "" {
		return &watch.InvalidSpecError{Value: command, Reason: "command must name a program"}
	}

	normalized, err := watch.Normalize(watches...)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return ErrFrozen
	}

	r.registrations = append(r.registrations, Registration{
		Command: append([]string(nil), command...),
		Watches: normalized,
	})
	return nil
}

// Freeze stops further registrations. It is called when watching starts;
// after it returns, the slice returned by Registrations never changes and
// can be shared between goroutines.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Frozen reports whether Freeze has been called.
func (r *Registry) Frozen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frozen
}

func (r *Registry) Registrations() []Registration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registrations
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.registrations)
}

// AllSourceGlobs returns every source glob across all registrations, without
// duplicates, in the order each was first registered.
func (r *Registry) AllSourceGlobs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]struct{})
	var globs []string
	for _, reg := range r.registrations {
		for _, w := range reg.Watches {
			if _, ok := seen[w.Source]; ok {
				continue
			}
			seen[w.Source] = struct{}{}
			globs = append(globs, w.Source)
		}
	}
	return globs
}

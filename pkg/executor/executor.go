package executor

// Invocation is a command resolved from a filesystem event: the registered
// command with its targets appended.
type Invocation struct {
	Command []string `json:"command"`
	Trigger string   `json:"trigger"`
	Op      string   `json:"op"`
	Source  string   `json:"source"`
	Targets []string `json:"targets"`
}

type Executor interface {
	// OnWatchEvent must not wait for the invocation to finish.
	OnWatchEvent(inv Invocation) error
	Start() error
	Stop() error
}

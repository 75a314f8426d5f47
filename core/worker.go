package core

import "context"

// WorkerProcess is a handle to one live external worker owned by exactly one
// session. The session manager is the only caller; implementations do not
// need to support concurrent Send calls on a single process.
type WorkerProcess interface {
	// Send delivers one message to the worker and blocks until the worker
	// produces a reply or fails.
	Send(ctx context.Context, text string) (string, error)

	// Alive reports whether the backing process is still usable. A dead
	// process is detected lazily by the session manager on the next Send.
	Alive() bool

	// Token returns the external session token issued by the backend, or ""
	// if the backend has no such concept.
	Token() string

	// Stop terminates the worker and releases its resources.
	Stop() error
}

// WorkerLauncher starts external worker processes. Implementations live in
// the worker/ subpackages; tests supply fakes.
type WorkerLauncher interface {
	Launch(ctx context.Context, project string) (WorkerProcess, error)
}

// ProjectBinder is an optional interface for worker processes that are
// launched unbound (for example pre-warmed pool members) and attached to a
// project before their first exchange.
type ProjectBinder interface {
	BindProject(project string)
}

// Package logging provides a tiny abstraction over slog so the rest of
// TaskMesh can depend on a minimal interface (Logger) while allowing users
// to plug any structured logger. It also offers a richer MeshLogger with
// contextual helpers (component, session) and domain specific helpers for
// worker calls and task runs.
package logging

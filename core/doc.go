// Package core defines the shared entities (Session, Task, Schedule), the
// capability interfaces wired between managers (TaskExecutor, ScheduleRunner)
// and the external collaborator contracts (WorkerLauncher, Notifier,
// SnapshotStore) used across TaskMesh.
//
// Entities are exclusively owned by their manager: the session manager owns
// Sessions, the queue manager owns Tasks and the cron scheduler owns
// Schedules. Cross-component references are by id only, never by pointer,
// to avoid lifetime coupling. Accessors on entities return defensive copies
// so snapshots handed to callers can never mutate manager state.
package core

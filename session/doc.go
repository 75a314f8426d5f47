// Package session owns worker sessions: it creates them on demand behind a
// rate-limit gate, launches and supervises their backing external worker
// processes, serves exact-match cached responses, and recreates a dead
// process exactly once before surfacing the failure to the caller.
package session

// Package session owns message streams over framed byte sources.
//
// Ownership boundary:
// - the per-stream frame cache and header matching
// - handler registration and the background dispatch worker
// - retry/backoff for failing worker cycles
//
// Every stream shares one caller-supplied lock. Stream methods take it
// themselves, so callers must not hold it when calling in. Handlers run after
// the lock is released and may call back into streams.
package session

// Package sessions provides durable, append-only per-session event logs.
//
// A session is an ordered sequence of events plus a small metadata record.
// Stores never mutate or delete events; forks, checkpoints, and undo/redo
// are expressed as copies or appended control events.
package sessions

import (
	"errors"

	"github.com/haasonsaas/agentkit/pkg/events"
)

// Common store errors.
var (
	// ErrSessionExists indicates a create would overwrite an existing session.
	ErrSessionExists = errors.New("session already exists")

	// ErrSessionNotFound indicates the session id is unknown to the store.
	ErrSessionNotFound = errors.New("session not found")
)

// Store is an append-only event log keyed by session id.
//
// Implementations stamp seq (monotonic per session, starting at 1) and ts
// (wall-clock seconds) on append. Append failures are fatal to the caller;
// they are never swallowed.
type Store interface {
	// CreateSession allocates a fresh opaque session id and persists its
	// metadata record. It refuses to reuse an existing id.
	CreateSession(metadata map[string]any) (string, error)

	// AppendEvent stamps the next seq and current ts onto the event and
	// persists it.
	AppendEvent(sessionID string, event events.Event) error

	// ReadEvents returns all events of a session in written order.
	ReadEvents(sessionID string) ([]events.Event, error)

	// ReadMetadata returns the metadata recorded at session creation, or an
	// empty map when absent.
	ReadMetadata(sessionID string) (map[string]any, error)

	// ForkSession copies all parent events with seq <= headSeq into a new
	// session, skipping system.init, result, and session.* control events.
	// headSeq <= 0 means the parent's current head.
	ForkSession(parentSessionID string, headSeq int64, metadata map[string]any) (string, error)

	// Checkpoint appends a session.checkpoint control event labelling the
	// current head.
	Checkpoint(sessionID, label string) error

	// SetHead appends a session.set_head control event.
	SetHead(sessionID string, headSeq int64, reason string) error

	// Undo appends a session.undo control event.
	Undo(sessionID string) error

	// Redo appends a session.redo control event.
	Redo(sessionID string) error

	// WriteTodos persists the todo list snapshot alongside the session
	// (atomic overwrite; not part of the event log).
	WriteTodos(sessionID string, todos any) error
}

// copyForFork deep-copies an event through its wire encoding and clears the
// envelope so the destination store re-stamps seq and ts.
func copyForFork(e events.Event) (events.Event, error) {
	data, err := events.Marshal(e)
	if err != nil {
		return nil, err
	}
	dup, err := events.Unmarshal(data)
	if err != nil {
		return nil, err
	}
	env := events.Envelope(dup)
	env.Seq = 0
	env.TS = 0
	return dup, nil
}

// forkSkips reports whether an event is excluded from forks: init and
// result events belong to the runs that produced them, and control events
// materialize at a specific head.
func forkSkips(e events.Event) bool {
	k := e.Kind()
	return k == events.TypeSystemInit || k == events.TypeResult || events.IsSessionControl(k)
}

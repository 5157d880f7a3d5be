package sessions

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/agentkit/pkg/events"
)

// MemoryStore is an in-memory Store for tests and embedded use. Events are
// kept as encoded records so reads decode fresh copies, matching the
// ownership rule that components read copies, never shared structs.
type MemoryStore struct {
	mu       sync.Mutex
	logs     map[string][][]byte
	meta     map[string]map[string]any
	seq      map[string]int64
	todos    map[string]any
	failNext error
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		logs:  make(map[string][][]byte),
		meta:  make(map[string]map[string]any),
		seq:   make(map[string]int64),
		todos: make(map[string]any),
	}
}

// FailNextAppend arms a one-shot append failure, used to test fatal store
// error propagation.
func (s *MemoryStore) FailNextAppend(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = err
}

// CreateSession implements Store.
func (s *MemoryStore) CreateSession(metadata map[string]any) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sessionID := strings.ReplaceAll(uuid.NewString(), "-", "")
	if _, ok := s.meta[sessionID]; ok {
		return "", fmt.Errorf("%w: %s", ErrSessionExists, sessionID)
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	s.meta[sessionID] = metadata
	s.logs[sessionID] = nil
	return sessionID, nil
}

// AppendEvent implements Store.
func (s *MemoryStore) AppendEvent(sessionID string, event events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return err
	}
	seq := s.seq[sessionID] + 1
	env := events.Envelope(event)
	env.Seq = seq
	env.TS = float64(time.Now().UnixNano()) / 1e9
	data, err := events.Marshal(event)
	if err != nil {
		return err
	}
	s.logs[sessionID] = append(s.logs[sessionID], data)
	s.seq[sessionID] = seq
	return nil
}

// ReadEvents implements Store.
func (s *MemoryStore) ReadEvents(sessionID string) ([]events.Event, error) {
	s.mu.Lock()
	records := make([][]byte, len(s.logs[sessionID]))
	copy(records, s.logs[sessionID])
	s.mu.Unlock()

	out := make([]events.Event, 0, len(records))
	for _, rec := range records {
		e, err := events.Unmarshal(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// ReadMetadata implements Store.
func (s *MemoryStore) ReadMetadata(sessionID string) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	md, ok := s.meta[sessionID]
	if !ok {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(md))
	for k, v := range md {
		out[k] = v
	}
	return out, nil
}

// ForkSession implements Store.
func (s *MemoryStore) ForkSession(parentSessionID string, headSeq int64, metadata map[string]any) (string, error) {
	parentEvents, err := s.ReadEvents(parentSessionID)
	if err != nil {
		return "", err
	}
	if headSeq <= 0 {
		s.mu.Lock()
		headSeq = s.seq[parentSessionID]
		s.mu.Unlock()
		if headSeq <= 0 {
			return "", fmt.Errorf("fork %s: parent log is empty", parentSessionID)
		}
	}
	md := map[string]any{
		"parent_session_id": parentSessionID,
		"parent_head_seq":   headSeq,
	}
	for k, v := range metadata {
		md[k] = v
	}
	newID, err := s.CreateSession(md)
	if err != nil {
		return "", err
	}
	for _, e := range parentEvents {
		if forkSkips(e) {
			continue
		}
		if events.Envelope(e).Seq > headSeq {
			continue
		}
		dup, err := copyForFork(e)
		if err != nil {
			return "", err
		}
		if err := s.AppendEvent(newID, dup); err != nil {
			return "", err
		}
	}
	return newID, nil
}

// Checkpoint implements Store.
func (s *MemoryStore) Checkpoint(sessionID, label string) error {
	s.mu.Lock()
	head := s.seq[sessionID]
	s.mu.Unlock()
	return s.AppendEvent(sessionID, &events.SessionCheckpoint{Label: label, HeadSeq: head})
}

// SetHead implements Store.
func (s *MemoryStore) SetHead(sessionID string, headSeq int64, reason string) error {
	if headSeq <= 0 {
		return fmt.Errorf("set_head: head_seq must be positive, got %d", headSeq)
	}
	return s.AppendEvent(sessionID, &events.SessionSetHead{HeadSeq: headSeq, Reason: reason})
}

// Undo implements Store.
func (s *MemoryStore) Undo(sessionID string) error {
	return s.AppendEvent(sessionID, &events.SessionUndo{})
}

// Redo implements Store.
func (s *MemoryStore) Redo(sessionID string) error {
	return s.AppendEvent(sessionID, &events.SessionRedo{})
}

// WriteTodos implements Store.
func (s *MemoryStore) WriteTodos(sessionID string, todos any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.todos[sessionID] = todos
	return nil
}

// Todos returns the last todo snapshot written for a session.
func (s *MemoryStore) Todos(sessionID string) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.todos[sessionID]
}

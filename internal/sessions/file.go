package sessions

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/agentkit/pkg/events"
)

// FileStore keeps one directory per session under <root>/sessions/<id>:
//
//	meta.json    {session_id, created_at, metadata}
//	events.jsonl one JSON object per line
//	todos.json   optional, written by TodoWrite
//
// The runtime is the only writer for a given session; the store still
// serializes appends per session so concurrent sessions never interleave
// within one file.
type FileStore struct {
	root string

	mu   sync.Mutex
	seq  map[string]int64
	lock map[string]*sync.Mutex
}

// NewFileStore creates a store rooted at dir. The directory is created on
// first use.
func NewFileStore(dir string) *FileStore {
	return &FileStore{
		root: dir,
		seq:  make(map[string]int64),
		lock: make(map[string]*sync.Mutex),
	}
}

// SessionDir returns the directory holding a session's files.
func (s *FileStore) SessionDir(sessionID string) string {
	return filepath.Join(s.root, "sessions", sessionID)
}

func (s *FileStore) eventsPath(sessionID string) string {
	return filepath.Join(s.SessionDir(sessionID), "events.jsonl")
}

func (s *FileStore) metaPath(sessionID string) string {
	return filepath.Join(s.SessionDir(sessionID), "meta.json")
}

func (s *FileStore) sessionLock(sessionID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lock[sessionID]
	if !ok {
		l = &sync.Mutex{}
		s.lock[sessionID] = l
	}
	return l
}

// CreateSession implements Store.
func (s *FileStore) CreateSession(metadata map[string]any) (string, error) {
	sessionID := strings.ReplaceAll(uuid.NewString(), "-", "")
	dir := s.SessionDir(sessionID)
	if _, err := os.Stat(dir); err == nil {
		return "", fmt.Errorf("%w: %s", ErrSessionExists, sessionID)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create session dir: %w", err)
	}

	if metadata == nil {
		metadata = map[string]any{}
	}
	meta := map[string]any{
		"session_id": sessionID,
		"created_at": float64(time.Now().UnixNano()) / 1e9,
		"metadata":   metadata,
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(s.metaPath(sessionID), append(data, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("write meta.json: %w", err)
	}
	return sessionID, nil
}

// AppendEvent implements Store. The next seq is inferred from the log tail
// on first append and cached afterwards.
func (s *FileStore) AppendEvent(sessionID string, event events.Event) error {
	l := s.sessionLock(sessionID)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	seq, cached := s.seq[sessionID]
	s.mu.Unlock()
	if !cached {
		var err error
		seq, err = s.inferLastSeq(sessionID)
		if err != nil {
			return err
		}
	}
	seq++

	env := events.Envelope(event)
	env.Seq = seq
	env.TS = float64(time.Now().UnixNano()) / 1e9

	data, err := events.Marshal(event)
	if err != nil {
		return err
	}

	path := s.eventsPath(sessionID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open events.jsonl: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append event: %w", err)
	}

	s.mu.Lock()
	s.seq[sessionID] = seq
	s.mu.Unlock()
	return nil
}

// ReadEvents implements Store. Malformed lines and unknown event kinds
// surface as typed decode errors.
func (s *FileStore) ReadEvents(sessionID string) ([]events.Event, error) {
	f, err := os.Open(s.eventsPath(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var out []events.Event
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		e, err := events.Unmarshal([]byte(line))
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ReadMetadata implements Store.
func (s *FileStore) ReadMetadata(sessionID string) (map[string]any, error) {
	data, err := os.ReadFile(s.metaPath(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, err
	}
	var obj struct {
		Metadata map[string]any `json:"metadata"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return map[string]any{}, nil
	}
	if obj.Metadata == nil {
		return map[string]any{}, nil
	}
	return obj.Metadata, nil
}

// ForkSession implements Store.
func (s *FileStore) ForkSession(parentSessionID string, headSeq int64, metadata map[string]any) (string, error) {
	parentEvents, err := s.ReadEvents(parentSessionID)
	if err != nil {
		return "", err
	}
	if headSeq <= 0 {
		headSeq, err = s.inferLastSeq(parentSessionID)
		if err != nil {
			return "", err
		}
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
		if seq := events.Envelope(e).Seq; seq > headSeq {
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

// Checkpoint implements Store. The label captures the current head seq.
func (s *FileStore) Checkpoint(sessionID, label string) error {
	head, err := s.inferLastSeq(sessionID)
	if err != nil {
		return err
	}
	return s.AppendEvent(sessionID, &events.SessionCheckpoint{Label: label, HeadSeq: head})
}

// SetHead implements Store.
func (s *FileStore) SetHead(sessionID string, headSeq int64, reason string) error {
	if headSeq <= 0 {
		return fmt.Errorf("set_head: head_seq must be positive, got %d", headSeq)
	}
	return s.AppendEvent(sessionID, &events.SessionSetHead{HeadSeq: headSeq, Reason: reason})
}

// Undo implements Store.
func (s *FileStore) Undo(sessionID string) error {
	return s.AppendEvent(sessionID, &events.SessionUndo{})
}

// Redo implements Store.
func (s *FileStore) Redo(sessionID string) error {
	return s.AppendEvent(sessionID, &events.SessionRedo{})
}

// WriteTodos implements Store with an atomic rename.
func (s *FileStore) WriteTodos(sessionID string, todos any) error {
	data, err := json.MarshalIndent(map[string]any{"todos": todos}, "", "  ")
	if err != nil {
		return err
	}
	dir := s.SessionDir(sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "todos-*.json")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return err
	}
	return os.Rename(name, filepath.Join(dir, "todos.json"))
}

// inferLastSeq scans the log tail for the last stamped seq. Logs written by
// older versions without seq fields fall back to the line count.
func (s *FileStore) inferLastSeq(sessionID string) (int64, error) {
	data, err := os.ReadFile(s.eventsPath(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	lines := strings.Split(string(data), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		var obj struct {
			Seq *int64 `json:"seq"`
		}
		if err := json.Unmarshal([]byte(line), &obj); err != nil {
			break
		}
		if obj.Seq != nil {
			return *obj.Seq, nil
		}
		break
	}
	var n int64
	for _, line := range lines {
		if strings.TrimSpace(line) != "" {
			n++
		}
	}
	return n, nil
}

package agentloop

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loomkernel/loom/internal/providers"
)

// Store is the filesystem layout under the memory directory (spec.md §6
// "Persisted state layout"): chat_history.json, tool_log.jsonl,
// learnings.md, digest_state.json.
type Store struct {
	dir string
	mu  sync.Mutex
}

// NewStore creates a Store rooted at dir, creating it if necessary.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create memory dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(name string) string { return filepath.Join(s.dir, name) }

// --- Conversation history (chat_history.json) ---

// HistoryMessage is the persisted shape of one history entry.
type HistoryMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// LoadHistory returns the persisted history, or an empty slice if absent.
func (s *Store) LoadHistory() ([]HistoryMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadHistoryLocked()
}

func (s *Store) loadHistoryLocked() ([]HistoryMessage, error) {
	data, err := os.ReadFile(s.path("chat_history.json"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var msgs []HistoryMessage
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, fmt.Errorf("parse chat_history.json: %w", err)
	}
	return msgs, nil
}

// SaveHistory rewrites chat_history.json in full (spec.md §5 "History file
// writes are whole-file rewrites at end of chat turn").
func (s *Store) SaveHistory(msgs []HistoryMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := json.MarshalIndent(msgs, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path("chat_history.json"), data, 0o644)
}

// ResetHistory truncates the persisted history (spec.md §3 "may be truncated
// by an explicit reset flag on a user turn").
func (s *Store) ResetHistory() error {
	return s.SaveHistory(nil)
}

// --- Tool log (tool_log.jsonl) ---

// LogEntry is one line of the append-only tool log.
type LogEntry struct {
	ID   string         `json:"id"`
	Ts   int64          `json:"ts"`
	Type string         `json:"type"` // "thinking" | "tool" | "digest"
	Data map[string]any `json:"data,omitempty"`
}

// AppendLog appends entry as one JSON line, flushing immediately so crashes
// do not lose already-written entries (spec.md §5 ordering guarantee ii).
// Each entry is tagged with a fresh correlation id so a tool call and its
// eventual digest replay can be cross-referenced.
func (s *Store) AppendLog(entry LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Ts == 0 {
		entry.Ts = time.Now().Unix()
	}
	f, err := os.OpenFile(s.path("tool_log.jsonl"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return err
	}
	return f.Sync()
}

// LoadLog reads every entry in the tool log, in order.
func (s *Store) LoadLog() ([]LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLogLocked()
}

func (s *Store) loadLogLocked() ([]LogEntry, error) {
	f, err := os.Open(s.path("tool_log.jsonl"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []LogEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e LogEntry
		if err := json.Unmarshal(line, &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, scanner.Err()
}

// --- Learnings (learnings.md) ---

// LoadLearnings returns the current learnings document, or "" if none exists.
func (s *Store) LoadLearnings() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path("learnings.md"))
	if os.IsNotExist(err) {
		return "", nil
	}
	return string(data), err
}

// SaveLearnings overwrites the learnings document (spec.md §3 "overwritten,
// not appended, each pass").
func (s *Store) SaveLearnings(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return os.WriteFile(s.path("learnings.md"), []byte(text), 0o644)
}

// --- Digest cursors (digest_state.json) ---

// Cursors records how much of the history and tool log have already been
// consolidated by the digester (spec.md §3 "Digest Cursors").
type Cursors struct {
	HistoryCursor int `json:"history_cursor"`
	ToolCursor    int `json:"tool_cursor"`
}

// LoadCursors returns the persisted cursors, clamped to the current log
// lengths (spec.md §3 "clamped to the current log lengths on load").
func (s *Store) LoadCursors(historyLen, toolLen int) (Cursors, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path("digest_state.json"))
	var c Cursors
	if err == nil {
		_ = json.Unmarshal(data, &c)
	} else if !os.IsNotExist(err) {
		return Cursors{}, err
	}
	if c.HistoryCursor > historyLen {
		c.HistoryCursor = historyLen
	}
	if c.ToolCursor > toolLen {
		c.ToolCursor = toolLen
	}
	if c.HistoryCursor < 0 {
		c.HistoryCursor = 0
	}
	if c.ToolCursor < 0 {
		c.ToolCursor = 0
	}
	return c, nil
}

// SaveCursors persists the cursors.
func (s *Store) SaveCursors(c Cursors) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(s.path("digest_state.json"), data, 0o644)
}

func toProviderMessages(msgs []HistoryMessage) []providers.Message {
	out := make([]providers.Message, 0, len(msgs))
	for _, m := range msgs {
		role := providers.RoleUser
		if m.Role == string(providers.RoleAssistant) {
			role = providers.RoleAssistant
		}
		out = append(out, providers.Message{Role: role, Text: m.Content})
	}
	return out
}

// Package transcript persists an audit log of each shellai session as JSONL.
package transcript

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shellai/shellai/internal/conversation"
	"github.com/shellai/shellai/internal/llm/openai"
	"github.com/shellai/shellai/internal/shell"
)

// Record types stored in a transcript.
const (
	TypeStart     = "start"
	TypeTurn      = "turn"
	TypeExecution = "execution"
	TypeUsage     = "usage"
)

// Event is one JSONL line.
type Event struct {
	Type string    `json:"type"`
	Time time.Time `json:"time"`

	// Start
	Model string `json:"model,omitempty"`
	Dir   string `json:"dir,omitempty"`

	// Turn
	Role      string                   `json:"role,omitempty"`
	Text      string                   `json:"text,omitempty"`
	ToolCalls []openai.ToolCallRequest `json:"tool_calls,omitempty"`
	CallID    string                   `json:"call_id,omitempty"`

	// Execution
	ExecutionID string `json:"execution_id,omitempty"`
	Command     string `json:"command,omitempty"`
	Status      string `json:"status,omitempty"`
	Output      string `json:"output,omitempty"`
	DurationMS  int64  `json:"duration_ms,omitempty"`

	// Usage
	Usage *openai.Usage `json:"usage,omitempty"`
}

// Store manages transcript files under a base directory.
type Store struct {
	// BaseDir holds one <id>.jsonl file per session plus per-project pointers.
	BaseDir string

	mu sync.Mutex
}

// NewStore constructs a Store. An empty dir means ~/.shellai/transcripts.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home dir: %w", err)
		}
		dir = filepath.Join(home, ".shellai", "transcripts")
	}
	return &Store{BaseDir: dir}, nil
}

// NewID returns a fresh transcript id.
func NewID() string {
	return uuid.NewString()
}

// ProjectHash returns a stable hash for a workspace path.
func ProjectHash(path string) string {
	clean := filepath.Clean(path)
	sum := sha256.Sum256([]byte(clean))
	return hex.EncodeToString(sum[:8])
}

// Path returns the JSONL path for a transcript.
func (s *Store) Path(id string) string {
	return filepath.Join(s.BaseDir, id+".jsonl")
}

// Append writes one event to the transcript.
func (s *Store) Append(id string, event Event) error {
	if id == "" {
		return errors.New("transcript id required")
	}
	if event.Time.IsZero() {
		event.Time = time.Now().UTC()
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal transcript event: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.Path(id)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create transcript dir: %w", err)
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open transcript file: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write transcript event: %w", err)
	}
	return nil
}

// Load reads every event of a transcript. Malformed lines are skipped so a
// partial write does not hide the rest of the log.
func (s *Store) Load(id string) ([]Event, error) {
	file, err := os.Open(s.Path(id))
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var events []Event
	scanner := bufio.NewScanner(file)
	const maxEventSize = 10 * 1024 * 1024
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventSize)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var event Event
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			continue
		}
		events = append(events, event)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read transcript file: %w", err)
	}
	return events, nil
}

// SaveLast stores the most recent transcript id for a project hash.
func (s *Store) SaveLast(projectHash string, id string) error {
	path := filepath.Join(s.BaseDir, "projects", projectHash, "last")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create project dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(id), 0o600); err != nil {
		return fmt.Errorf("write last transcript: %w", err)
	}
	return nil
}

// LoadLast returns the most recent transcript id for a project hash.
func (s *Store) LoadLast(projectHash string) (string, error) {
	raw, err := os.ReadFile(filepath.Join(s.BaseDir, "projects", projectHash, "last"))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(raw)), nil
}

// List returns transcript ids sorted by modification time, newest first.
func (s *Store) List(limit int) ([]string, error) {
	entries, err := os.ReadDir(s.BaseDir)
	if err != nil {
		return nil, err
	}

	type entry struct {
		Name string
		Time time.Time
	}

	var list []entry
	for _, item := range entries {
		if item.IsDir() || filepath.Ext(item.Name()) != ".jsonl" {
			continue
		}
		info, err := item.Info()
		if err != nil {
			continue
		}
		list = append(list, entry{Name: strings.TrimSuffix(item.Name(), ".jsonl"), Time: info.ModTime()})
	}

	sort.Slice(list, func(i, j int) bool {
		return list[i].Time.After(list[j].Time)
	})
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}

	result := make([]string, 0, len(list))
	for _, item := range list {
		result = append(result, item.Name)
	}
	return result, nil
}

// Recorder appends the events of one session. Write failures are handed to
// OnError and never interrupt the session.
type Recorder struct {
	Store   *Store
	ID      string
	OnError func(error)
}

// NewRecorder starts a transcript with a start event.
func NewRecorder(store *Store, model string, dir string) *Recorder {
	rec := &Recorder{Store: store, ID: NewID()}
	rec.append(Event{Type: TypeStart, Model: model, Dir: dir})
	return rec
}

// Turn records a conversation turn.
func (r *Recorder) Turn(turn conversation.Turn) {
	r.append(Event{
		Type:      TypeTurn,
		Role:      turn.Kind.String(),
		Text:      turn.Text,
		ToolCalls: turn.ToolCalls,
		CallID:    turn.CallID,
	})
}

// Execution records a resolved shell execution. Unresolved snapshots are
// ignored.
func (r *Recorder) Execution(snap shell.Snapshot) {
	if !snap.Status.Terminal() {
		return
	}
	event := Event{
		Type:        TypeExecution,
		ExecutionID: snap.ID,
		Command:     snap.Command,
		Status:      snap.Status.String(),
		Output:      snap.Output,
	}
	if !snap.StartedAt.IsZero() && !snap.FinishedAt.IsZero() {
		event.DurationMS = snap.FinishedAt.Sub(snap.StartedAt).Milliseconds()
	}
	r.append(event)
}

// Usage records token usage for one request.
func (r *Recorder) Usage(usage openai.Usage) {
	r.append(Event{Type: TypeUsage, Usage: &usage})
}

func (r *Recorder) append(event Event) {
	if r == nil || r.Store == nil {
		return
	}
	if err := r.Store.Append(r.ID, event); err != nil && r.OnError != nil {
		r.OnError(err)
	}
}

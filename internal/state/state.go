// Package state persists the per-task snapshot stack. Snapshots are
// push-only; a small set of fields on the latest snapshot may be patched
// in place (agent_active, completed, token_usage, internal_monologue) so
// the newest entry always reflects the live run.
package state

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/artifex-labs/artifex/internal/events"
)

// Step names the loop state a snapshot was taken in.
const (
	StepPlanning      = "PLANNING"
	StepMonologue     = "MONOLOGUE"
	StepResearching   = "RESEARCHING"
	StepAwaitingInput = "AWAITING_USER_INPUT"
	StepCoding        = "CODING"
	StepRunning       = "RUNNING"
	StepRepairing     = "REPAIRING"
	StepCompleted     = "COMPLETED"
	StepFailed        = "FAILED"
)

// BrowserSession captures what the research browser was doing when the
// snapshot was taken.
type BrowserSession struct {
	URL        string `json:"url,omitempty"`
	Screenshot string `json:"screenshot,omitempty"`
}

// TerminalSession captures the command whose output the snapshot reflects.
type TerminalSession struct {
	Command string `json:"command,omitempty"`
	Output  string `json:"output,omitempty"`
	Title   string `json:"title,omitempty"`
}

// Snapshot is one entry in a task's state stack.
type Snapshot struct {
	ID                string          `json:"id"`
	Task              string          `json:"task"`
	Step              string          `json:"step"`
	InternalMonologue string          `json:"internal_monologue,omitempty"`
	Browser           BrowserSession  `json:"browser_session"`
	Terminal          TerminalSession `json:"terminal_session"`
	TokenUsage        int             `json:"token_usage"`
	Completed         bool            `json:"completed"`
	AgentActive       bool            `json:"agent_active"`
	CreatedAt         time.Time       `json:"created_at"`
}

// Store is a SQLite-backed snapshot stack. Safe for concurrent use.
type Store struct {
	db  *sql.DB
	bus *events.Bus
}

// NewStore creates a state store on an open database handle. The schema
// is created automatically.
func NewStore(db *sql.DB, bus *events.Bus) (*Store, error) {
	s := &Store{db: db, bus: bus}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS snapshots (
		seq                INTEGER PRIMARY KEY AUTOINCREMENT,
		id                 TEXT NOT NULL,
		task               TEXT NOT NULL,
		step               TEXT NOT NULL,
		monologue          TEXT NOT NULL DEFAULT '',
		browser_url        TEXT NOT NULL DEFAULT '',
		browser_screenshot TEXT NOT NULL DEFAULT '',
		term_command       TEXT NOT NULL DEFAULT '',
		term_output        TEXT NOT NULL DEFAULT '',
		term_title         TEXT NOT NULL DEFAULT '',
		token_usage        INTEGER NOT NULL DEFAULT 0,
		completed          INTEGER NOT NULL DEFAULT 0,
		agent_active       INTEGER NOT NULL DEFAULT 0,
		created_at         TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_snapshots_task ON snapshots(task, seq);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Push appends a snapshot to a task's stack and publishes an agent-state
// event. ID and CreatedAt are assigned here.
func (s *Store) Push(task string, snap Snapshot) (*Snapshot, error) {
	id, _ := uuid.NewV7()
	snap.ID = id.String()
	snap.Task = task
	snap.CreatedAt = time.Now().UTC()

	// The token count carries forward: a new snapshot never resets the
	// run's running total.
	if prev, err := s.Latest(task); err == nil && prev != nil && prev.TokenUsage > snap.TokenUsage {
		snap.TokenUsage = prev.TokenUsage
	}

	_, err := s.db.Exec(
		`INSERT INTO snapshots (id, task, step, monologue,
		   browser_url, browser_screenshot,
		   term_command, term_output, term_title,
		   token_usage, completed, agent_active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.ID, snap.Task, snap.Step, snap.InternalMonologue,
		snap.Browser.URL, snap.Browser.Screenshot,
		snap.Terminal.Command, snap.Terminal.Output, snap.Terminal.Title,
		snap.TokenUsage, snap.Completed, snap.AgentActive,
		snap.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("push snapshot: %w", err)
	}

	s.publishLatest(task)
	return &snap, nil
}

// Latest returns the newest snapshot on a task's stack, or nil if the
// stack is empty.
func (s *Store) Latest(task string) (*Snapshot, error) {
	row := s.db.QueryRow(
		selectCols+` WHERE task = ? ORDER BY seq DESC LIMIT 1`, task,
	)
	snap, err := scanSnapshot(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest snapshot: %w", err)
	}
	return snap, nil
}

// Stack returns a task's snapshots oldest first. Empty slice for an
// unknown task.
func (s *Store) Stack(task string) ([]Snapshot, error) {
	rows, err := s.db.Query(
		selectCols+` WHERE task = ? ORDER BY seq ASC`, task,
	)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	stack := []Snapshot{}
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		stack = append(stack, *snap)
	}
	return stack, rows.Err()
}

// SetActive patches agent_active on the latest snapshot. No-op if the
// stack is empty.
func (s *Store) SetActive(task string, active bool) error {
	return s.patchLatest(task, `agent_active = ?`, active)
}

// SetCompleted patches completed on the latest snapshot. No-op if the
// stack is empty.
func (s *Store) SetCompleted(task string, completed bool) error {
	return s.patchLatest(task, `completed = ?`, completed)
}

// SetMonologue patches internal_monologue on the latest snapshot.
func (s *Store) SetMonologue(task, monologue string) error {
	return s.patchLatest(task, `monologue = ?`, monologue)
}

// AddTokenUsage adds delta to the latest snapshot's token count.
// Negative deltas are ignored so usage never decreases within a run.
func (s *Store) AddTokenUsage(task string, delta int) error {
	if delta <= 0 {
		return nil
	}
	return s.patchLatest(task, `token_usage = token_usage + ?`, delta)
}

// Delete removes a task's entire snapshot stack.
func (s *Store) Delete(task string) error {
	_, err := s.db.Exec(`DELETE FROM snapshots WHERE task = ?`, task)
	if err != nil {
		return fmt.Errorf("delete snapshots: %w", err)
	}
	return nil
}

func (s *Store) patchLatest(task, setClause string, value any) error {
	_, err := s.db.Exec(
		`UPDATE snapshots SET `+setClause+
			` WHERE seq = (SELECT seq FROM snapshots WHERE task = ? ORDER BY seq DESC LIMIT 1)`,
		value, task,
	)
	if err != nil {
		return fmt.Errorf("patch snapshot: %w", err)
	}
	s.publishLatest(task)
	return nil
}

func (s *Store) publishLatest(task string) {
	if s.bus == nil {
		return
	}
	snap, err := s.Latest(task)
	if err != nil || snap == nil {
		return
	}
	s.bus.Publish(events.Event{
		Channel: events.ChannelAgentState,
		Task:    task,
		Payload: snap,
	})
}

const selectCols = `SELECT id, task, step, monologue,
	browser_url, browser_screenshot,
	term_command, term_output, term_title,
	token_usage, completed, agent_active, created_at
	FROM snapshots`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row rowScanner) (*Snapshot, error) {
	var snap Snapshot
	var createdAt string
	err := row.Scan(&snap.ID, &snap.Task, &snap.Step, &snap.InternalMonologue,
		&snap.Browser.URL, &snap.Browser.Screenshot,
		&snap.Terminal.Command, &snap.Terminal.Output, &snap.Terminal.Title,
		&snap.TokenUsage, &snap.Completed, &snap.AgentActive, &createdAt)
	if err != nil {
		return nil, err
	}
	snap.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &snap, nil
}

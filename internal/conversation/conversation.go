// Package conversation provides the append-only per-task message store.
// Message order is insertion order and doubles as the LLM context order,
// so the store never updates or reorders rows.
package conversation

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/artifex-labs/artifex/internal/events"
)

// Message origins. A conversation alternates freely between the two;
// the loop only cares whether the latest message is from the user.
const (
	OriginUser  = "user"
	OriginAgent = "agent"
)

// Message is a single conversation entry.
type Message struct {
	ID        string    `json:"id"`
	Task      string    `json:"task"`
	Origin    string    `json:"origin"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is a SQLite-backed conversation store. Safe for concurrent use
// (SQLite serializes writes).
type Store struct {
	db  *sql.DB
	bus *events.Bus
}

// NewStore creates a conversation store on an open database handle.
// The schema is created automatically.
func NewStore(db *sql.DB, bus *events.Bus) (*Store, error) {
	s := &Store{db: db, bus: bus}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		seq        INTEGER PRIMARY KEY AUTOINCREMENT,
		id         TEXT NOT NULL,
		task       TEXT NOT NULL,
		origin     TEXT NOT NULL,
		content    TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_task ON messages(task, seq);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Append adds a message to a task's conversation and publishes a
// server-message event. Origin must be "user" or "agent".
func (s *Store) Append(task, origin, text string) (*Message, error) {
	if origin != OriginUser && origin != OriginAgent {
		return nil, fmt.Errorf("invalid message origin %q", origin)
	}

	id, _ := uuid.NewV7()
	msg := &Message{
		ID:        id.String(),
		Task:      task,
		Origin:    origin,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}

	_, err := s.db.Exec(
		`INSERT INTO messages (id, task, origin, content, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		msg.ID, msg.Task, msg.Origin, msg.Text, msg.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}

	s.bus.Publish(events.Event{
		Channel: events.ChannelServerMessage,
		Task:    task,
		Payload: msg,
	})
	return msg, nil
}

// All returns a task's messages in insertion order. Returns an empty
// slice for an unknown task.
func (s *Store) All(task string) ([]Message, error) {
	rows, err := s.db.Query(
		`SELECT id, origin, content, created_at FROM messages
		 WHERE task = ? ORDER BY seq ASC`,
		task,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		var m Message
		var createdAt string
		if err := rows.Scan(&m.ID, &m.Origin, &m.Text, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Task = task
		m.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// LatestIsUser reports whether the most recent message in a task's
// conversation came from the user. False for an empty conversation.
func (s *Store) LatestIsUser(task string) (bool, error) {
	var origin string
	err := s.db.QueryRow(
		`SELECT origin FROM messages WHERE task = ? ORDER BY seq DESC LIMIT 1`,
		task,
	).Scan(&origin)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("latest message: %w", err)
	}
	return origin == OriginUser, nil
}

// Tasks returns the slugs of every task with at least one message,
// ordered by most recent activity first.
func (s *Store) Tasks() ([]string, error) {
	rows, err := s.db.Query(
		`SELECT task FROM messages GROUP BY task ORDER BY MAX(seq) DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	tasks := []string{}
	for rows.Next() {
		var task string
		if err := rows.Scan(&task); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// Delete removes all of a task's messages. No error if the task has none.
func (s *Store) Delete(task string) error {
	_, err := s.db.Exec(`DELETE FROM messages WHERE task = ?`, task)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return nil
}

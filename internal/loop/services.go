package loop

import (
	"context"
	"log/slog"
	"strings"

	"github.com/artifex-labs/artifex/internal/conversation"
	"github.com/artifex-labs/artifex/internal/events"
	"github.com/artifex-labs/artifex/internal/project"
	"github.com/artifex-labs/artifex/internal/search"
	"github.com/artifex-labs/artifex/internal/shell"
	"github.com/artifex-labs/artifex/internal/state"
)

// The loop talks to its collaborators through narrow interfaces so
// tests can substitute fakes for the stores, search, browser, and
// shell without standing up SQLite or Chrome.

// ConversationStore is the append-only per-task message log.
type ConversationStore interface {
	Append(task, origin, text string) (*conversation.Message, error)
	All(task string) ([]conversation.Message, error)
	LatestIsUser(task string) (bool, error)
}

// StateStore is the per-task snapshot stack.
type StateStore interface {
	Push(task string, snap state.Snapshot) (*state.Snapshot, error)
	Latest(task string) (*state.Snapshot, error)
	SetActive(task string, active bool) error
	SetCompleted(task string, completed bool) error
	SetMonologue(task, monologue string) error
	AddTokenUsage(task string, delta int) error
}

// ProjectStore persists and reads back a task's files.
type ProjectStore interface {
	WriteAll(task string, files []project.File) (string, error)
	ReadAll(task string) ([]project.File, error)
	TaskPath(task string) string
}

// Searcher runs one web search query.
type Searcher interface {
	Search(ctx context.Context, query string, opts search.Options) ([]search.Result, error)
}

// Browser drives the research page session.
type Browser interface {
	Navigate(ctx context.Context, url string) error
	Screenshot(ctx context.Context, task string) (string, error)
	ExtractText(ctx context.Context) (title, text string, err error)
	CurrentURL() string
}

// ShellRunner executes a project command.
type ShellRunner interface {
	Run(ctx context.Context, command, dir string) (*shell.Result, error)
}

// Services bundles every collaborator the loop needs. All fields are
// required except Bus (nil-safe) and Logger (defaulted).
type Services struct {
	Conversation ConversationStore
	State        StateStore
	Projects     ProjectStore
	Search       Searcher
	Browser      Browser
	Shell        ShellRunner
	Bus          *events.Bus
	Logger       *slog.Logger
}

// renderConversation flattens messages into the transcript form the
// prompt templates consume.
func renderConversation(messages []conversation.Message) string {
	var b strings.Builder
	for _, m := range messages {
		b.WriteString(m.Origin)
		b.WriteString(": ")
		b.WriteString(m.Text)
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}

// renderFiles flattens project files into prompt input.
func renderFiles(files []project.File) string {
	var b strings.Builder
	for _, f := range files {
		b.WriteString("File: ")
		b.WriteString(f.Path)
		b.WriteString("\n```\n")
		b.WriteString(f.Content)
		if !strings.HasSuffix(f.Content, "\n") {
			b.WriteString("\n")
		}
		b.WriteString("```\n\n")
	}
	return strings.TrimSpace(b.String())
}

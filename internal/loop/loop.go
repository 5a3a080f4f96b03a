// Package loop implements the execution and self-correction loop: the
// state machine that drives a task from user prompt to completed (or
// failed) project, including the run, detect-error, research, patch,
// re-run repair cycle.
package loop

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"time"

	"github.com/artifex-labs/artifex/internal/conversation"
	"github.com/artifex-labs/artifex/internal/events"
	"github.com/artifex-labs/artifex/internal/keywords"
	"github.com/artifex-labs/artifex/internal/prompts"
	"github.com/artifex-labs/artifex/internal/roles"
	"github.com/artifex-labs/artifex/internal/search"
	"github.com/artifex-labs/artifex/internal/state"
)

// defaultPollInterval is how often the awaiting-user-input wait checks
// the conversation for a new user message.
const defaultPollInterval = 5 * time.Second

// Loop orchestrates role agents and collaborators for one task at a
// time. It holds no per-task state; the embedding server enforces the
// one-run-per-task rule.
type Loop struct {
	services Services
	roles    *roles.Set
	logger   *slog.Logger

	pollInterval time.Duration
	osName       string
}

// New creates a loop over the given services and role set.
func New(services Services, set *roles.Set) *Loop {
	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		services:     services,
		roles:        set,
		logger:       logger,
		pollInterval: defaultPollInterval,
		osName:       runtime.GOOS,
	}
}

// Execute runs the initial execution state machine for a task:
// planning, monologue, research, optional user clarification, web
// research, coding. The user prompt must already be appended to the
// conversation. Whatever happens, the latest snapshot ends with
// agent_active=false and completed=true.
func (l *Loop) Execute(ctx context.Context, task, userPrompt string) error {
	l.push(task, state.Snapshot{Step: state.StepPlanning, AgentActive: true})
	defer l.finish(task)

	// PLANNING
	plan, err := l.roles.Planner.Plan(ctx, task, l.transcript(task), userPrompt)
	if err != nil {
		return l.fail(task, "planning", err)
	}
	l.say(task, plan.Reply)
	l.say(task, plan.Text())

	// MONOLOGUE
	kws := keywords.Extract(plan.Focus)
	monologue, err := l.roles.Monologue.Think(ctx, task, plan.Text())
	if err != nil {
		return l.fail(task, "monologue", err)
	}
	l.push(task, state.Snapshot{
		Step:              state.StepMonologue,
		InternalMonologue: monologue,
		AgentActive:       true,
	})

	// RESEARCHING
	research, err := l.roles.Research.Research(ctx, task, plan.Text(), keywords.Join(kws))
	if err != nil {
		return l.fail(task, "researching", err)
	}
	if len(research.Queries) > 0 {
		l.say(task, "I'm going to look a few things up first: "+strings.Join(research.Queries, ", "))
	} else {
		l.say(task, prompts.NoResearchNeeded)
	}

	// AWAITING_USER_INPUT
	clarification := ""
	if research.HasQuestion() {
		l.say(task, research.AskUser)
		l.push(task, state.Snapshot{Step: state.StepAwaitingInput})
		answer, err := l.waitForUser(ctx, task)
		if err != nil {
			return l.fail(task, "awaiting user input", err)
		}
		clarification = answer
		l.say(task, prompts.UserInputAck)
		l.setActive(task, true)
	}

	// Search sub-step
	summaries := l.webResearch(ctx, task, research.Queries)

	// CODING
	l.push(task, state.Snapshot{Step: state.StepCoding, AgentActive: true})
	files, err := l.roles.Coder.Code(ctx, task, plan.Text(), clarification, summaries)
	if err != nil {
		return l.fail(task, "coding", err)
	}
	if _, err := l.services.Projects.WriteAll(task, files); err != nil {
		return l.fail(task, "writing project", err)
	}

	// COMPLETED
	l.push(task, state.Snapshot{Step: state.StepCompleted, Completed: true})
	l.say(task, prompts.RunCompleted)
	return nil
}

// waitForUser blocks until the latest conversation message is
// user-authored and returns its text. The poll is cancellable: ctx
// cancellation (task deletion, shutdown) exits the wait.
func (l *Loop) waitForUser(ctx context.Context, task string) (string, error) {
	l.setActive(task, false)
	for {
		isUser, err := l.services.Conversation.LatestIsUser(task)
		if err != nil {
			l.logger.Warn("poll conversation", "task", task, "error", err)
		} else if isUser {
			msgs, err := l.services.Conversation.All(task)
			if err != nil {
				return "", err
			}
			if len(msgs) == 0 {
				return "", fmt.Errorf("conversation empty after user message")
			}
			return msgs[len(msgs)-1].Text, nil
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(l.pollInterval):
		}
	}
}

// webResearch runs the search sub-step: for each query, search, follow
// the first link, screenshot, extract the text, and summarize it. A
// single query's failure is logged and skipped; the rest of the batch
// continues.
func (l *Loop) webResearch(ctx context.Context, task string, queries []string) map[string]string {
	summaries := make(map[string]string, len(queries))
	for _, query := range queries {
		summary, err := l.researchQuery(ctx, task, query)
		if err != nil {
			l.logger.Warn("research query skipped", "task", task, "query", query, "error", err)
			l.services.Bus.Publish(events.Info(task, events.SeverityWarning,
				fmt.Sprintf("skipping research query %q: %v", query, err)))
			continue
		}
		summaries[query] = summary
	}
	return summaries
}

func (l *Loop) researchQuery(ctx context.Context, task, query string) (string, error) {
	results, err := l.services.Search.Search(ctx, query, search.Options{})
	if err != nil {
		return "", fmt.Errorf("search: %w", err)
	}
	link := search.FirstLink(results)
	if link == "" {
		return "", fmt.Errorf("no results")
	}

	if err := l.services.Browser.Navigate(ctx, link); err != nil {
		return "", fmt.Errorf("navigate: %w", err)
	}

	// A screenshot failure degrades the snapshot, not the research.
	shot, err := l.services.Browser.Screenshot(ctx, task)
	if err != nil {
		l.logger.Debug("screenshot failed", "task", task, "url", link, "error", err)
	}
	l.push(task, state.Snapshot{
		Step:        state.StepResearching,
		Browser:     state.BrowserSession{URL: l.services.Browser.CurrentURL(), Screenshot: shot},
		AgentActive: true,
	})

	_, text, err := l.services.Browser.ExtractText(ctx)
	if err != nil {
		return "", fmt.Errorf("extract text: %w", err)
	}

	summary, err := l.roles.Formatter.Summarize(ctx, task, query, text)
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}
	return summary, nil
}

// transcript renders the task's conversation for prompt input. Errors
// degrade to an empty transcript rather than aborting the step.
func (l *Loop) transcript(task string) string {
	msgs, err := l.services.Conversation.All(task)
	if err != nil {
		l.logger.Warn("read conversation", "task", task, "error", err)
		return ""
	}
	return renderConversation(msgs)
}

// projectCode renders the task's current files for prompt input.
func (l *Loop) projectCode(task string) string {
	files, err := l.services.Projects.ReadAll(task)
	if err != nil {
		l.logger.Warn("read project", "task", task, "error", err)
		return ""
	}
	return renderFiles(files)
}

// say appends an agent message, skipping empties. Append failures are
// logged, not fatal: a broken conversation store must not leave the
// task stuck active.
func (l *Loop) say(task, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	if _, err := l.services.Conversation.Append(task, conversation.OriginAgent, text); err != nil {
		l.logger.Error("append agent message", "task", task, "error", err)
	}
}

func (l *Loop) push(task string, snap state.Snapshot) {
	if _, err := l.services.State.Push(task, snap); err != nil {
		l.logger.Error("push snapshot", "task", task, "error", err)
	}
}

func (l *Loop) setActive(task string, active bool) {
	if err := l.services.State.SetActive(task, active); err != nil {
		l.logger.Error("set active", "task", task, "error", err)
	}
}

// fail records an unrecoverable run failure: log, error event, and a
// human-readable conversation message. The machine-readable flags are
// handled by the finish defer.
func (l *Loop) fail(task, step string, err error) error {
	l.logger.Error("run failed", "task", task, "step", step, "error", err)
	l.services.Bus.Publish(events.Info(task, events.SeverityError,
		fmt.Sprintf("%s failed: %v", step, err)))
	l.push(task, state.Snapshot{Step: state.StepFailed})
	l.say(task, prompts.RunFailed)
	return fmt.Errorf("%s: %w", step, err)
}

// finish enforces the active-flag invariant on every exit path: after a
// run returns, the latest snapshot reads agent_active=false,
// completed=true.
func (l *Loop) finish(task string) {
	if err := l.services.State.SetActive(task, false); err != nil {
		l.logger.Error("clear active flag", "task", task, "error", err)
	}
	if err := l.services.State.SetCompleted(task, true); err != nil {
		l.logger.Error("set completed flag", "task", task, "error", err)
	}
}

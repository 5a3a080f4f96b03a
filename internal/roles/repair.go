package roles

import (
	"context"
	"fmt"
	"strings"

	"github.com/artifex-labs/artifex/internal/project"
	"github.com/artifex-labs/artifex/internal/prompts"
	"github.com/artifex-labs/artifex/internal/retry"
)

// Runner decides which shell commands set up and run the project.
type Runner struct{ base }

func (r *Runner) Commands(ctx context.Context, task, os, code string) ([]string, error) {
	obj, err := r.ask(ctx, task, prompts.RunnerPrompt(os, code), "commands")
	if err != nil {
		return nil, err
	}
	return obj.StringSlice("commands"), nil
}

// ErrorDiagnosis is the error analyzer's validated result. NeedWeb is a
// real boolean: the model must answer exactly "True" or "False", and
// anything else fails validation instead of being coerced.
type ErrorDiagnosis struct {
	NeedWeb     bool
	SearchQuery string
}

// ErrorAnalyzer classifies a command failure.
type ErrorAnalyzer struct{ base }

func (r *ErrorAnalyzer) Analyze(ctx context.Context, task, command, output string) (*ErrorDiagnosis, error) {
	return retry.Do(ctx, r.policy, r.bus, task, r.name, func(ctx context.Context) (*ErrorDiagnosis, error) {
		obj, err := r.askOnce(ctx, task, prompts.ErrorAnalyzerPrompt(command, output),
			"need_web", "search_query")
		if err != nil {
			return nil, err
		}
		needWeb, ok := obj.Bool("need_web")
		if !ok {
			return nil, fmt.Errorf("%w: need_web is not a boolean", retry.ErrInvalid)
		}
		return &ErrorDiagnosis{
			NeedWeb:     needWeb,
			SearchQuery: obj.String("search_query"),
		}, nil
	})
}

// RepairStrategy tags the decider's chosen repair path.
type RepairStrategy string

const (
	RepairCommand RepairStrategy = "command"
	RepairPatch   RepairStrategy = "patch"
)

// RerunDecision is the decider's validated result.
type RerunDecision struct {
	Strategy RepairStrategy
	Response string
	Command  string
}

// Decider chooses between an alternate command and a code patch when a
// project command fails.
type Decider struct{ base }

func (r *Decider) Decide(ctx context.Context, task, conversation, code, commands, failing, errorContext string) (*RerunDecision, error) {
	return retry.Do(ctx, r.policy, r.bus, task, r.name, func(ctx context.Context) (*RerunDecision, error) {
		obj, err := r.askOnce(ctx, task, prompts.DecisionPrompt(conversation, code, commands, failing, errorContext),
			"action", "response")
		if err != nil {
			return nil, err
		}
		strategy := RepairStrategy(strings.ToLower(strings.TrimSpace(obj.String("action"))))
		switch strategy {
		case RepairCommand:
			if strings.TrimSpace(obj.String("command")) == "" {
				return nil, fmt.Errorf("%w: command strategy without a command", retry.ErrInvalid)
			}
		case RepairPatch:
		default:
			return nil, fmt.Errorf("%w: unknown repair action %q", retry.ErrInvalid, obj.String("action"))
		}
		return &RerunDecision{
			Strategy: strategy,
			Response: obj.String("response"),
			Command:  obj.String("command"),
		}, nil
	})
}

// Patcher regenerates broken files during repair, and also serves the
// "bug" follow-up action.
type Patcher struct{ base }

func (r *Patcher) Patch(ctx context.Context, task, code, failing, errorContext string) ([]project.File, error) {
	return r.askFiles(ctx, task, prompts.PatcherPrompt(code, failing, errorContext))
}

// Formatter condenses fetched page text into research notes. Its output
// is free text, so validation is only non-emptiness.
type Formatter struct{ base }

func (r *Formatter) Summarize(ctx context.Context, task, query, pageText string) (string, error) {
	return retry.Do(ctx, r.policy, r.bus, task, r.name, func(ctx context.Context) (string, error) {
		raw, err := r.complete(ctx, task, prompts.FormatterPrompt(query, pageText))
		if err != nil {
			return "", err
		}
		summary := strings.TrimSpace(raw)
		if summary == "" {
			return "", fmt.Errorf("%w: empty summary", retry.ErrInvalid)
		}
		return summary, nil
	})
}

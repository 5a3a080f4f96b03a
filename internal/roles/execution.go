package roles

import (
	"context"
	"fmt"
	"strings"

	"github.com/artifex-labs/artifex/internal/project"
	"github.com/artifex-labs/artifex/internal/prompts"
	"github.com/artifex-labs/artifex/internal/retry"
	"github.com/artifex-labs/artifex/internal/schema"
)

// Plan is the planner's validated result.
type Plan struct {
	Reply   string
	Focus   string
	Plans   map[string]string
	Summary string
}

// Text renders the plan steps in numeric key order for prompts and
// conversation messages.
func (p *Plan) Text() string {
	if len(p.Plans) == 0 {
		return p.Summary
	}
	var b strings.Builder
	for i := 1; i <= len(p.Plans); i++ {
		key := fmt.Sprintf("%d", i)
		step, ok := p.Plans[key]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "%s. %s\n", key, step)
	}
	if b.Len() == 0 {
		// Keys were not numeric; fall back to unordered rendering.
		for key, step := range p.Plans {
			fmt.Fprintf(&b, "%s: %s\n", key, step)
		}
	}
	return strings.TrimSpace(b.String())
}

// Planner produces the initial project plan.
type Planner struct{ base }

func (r *Planner) Plan(ctx context.Context, task, conversation, userPrompt string) (*Plan, error) {
	obj, err := r.ask(ctx, task, prompts.PlannerPrompt(task, conversation, userPrompt),
		"reply", "focus", "plans", "summary")
	if err != nil {
		return nil, err
	}
	return &Plan{
		Reply:   obj.String("reply"),
		Focus:   obj.String("focus"),
		Plans:   obj.StringMap("plans"),
		Summary: obj.String("summary"),
	}, nil
}

// Monologue produces the one-line status the UI shows while the agent
// works.
type Monologue struct{ base }

func (r *Monologue) Think(ctx context.Context, task, work string) (string, error) {
	obj, err := r.ask(ctx, task, prompts.MonologuePrompt(work), "internal_monologue")
	if err != nil {
		return "", err
	}
	return obj.String("internal_monologue"), nil
}

// Research is the researcher's validated result.
type Research struct {
	Queries []string
	AskUser string
}

// noQuestionSentinels are model spellings of "nothing to ask".
var noQuestionSentinels = map[string]bool{
	"":            true,
	"none":        true,
	"nothing":     true,
	"no":          true,
	"no question": true,
	"n/a":         true,
}

// HasQuestion reports whether the researcher actually wants user input.
func (r *Research) HasQuestion() bool {
	return !noQuestionSentinels[strings.ToLower(strings.TrimSpace(r.AskUser))]
}

// Researcher decides what to search for, and whether to ask the user a
// clarifying question first.
type Researcher struct{ base }

func (r *Researcher) Research(ctx context.Context, task, plan, keywordList string) (*Research, error) {
	obj, err := r.ask(ctx, task, prompts.ResearcherPrompt(plan, keywordList), "queries", "ask_user")
	if err != nil {
		return nil, err
	}
	return &Research{
		Queries: obj.StringSlice("queries"),
		AskUser: obj.String("ask_user"),
	}, nil
}

// Coder writes the initial project files.
type Coder struct{ base }

func (r *Coder) Code(ctx context.Context, task, plan, clarification string, research map[string]string) ([]project.File, error) {
	prompt := prompts.CoderPrompt(plan, clarification, research)
	return r.askFiles(ctx, task, prompt)
}

// askFiles is shared by the file-emitting roles (coder, patcher,
// feature writer): same retry cycle, delimited-file parser instead of
// the JSON one.
func (b base) askFiles(ctx context.Context, task, prompt string) ([]project.File, error) {
	return retry.Do(ctx, b.policy, b.bus, task, b.name, func(ctx context.Context) ([]project.File, error) {
		raw, err := b.complete(ctx, task, prompt)
		if err != nil {
			return nil, err
		}
		files, ok := schema.ParseFiles(raw)
		if !ok {
			return nil, fmt.Errorf("%w: malformed file listing", retry.ErrInvalid)
		}
		return files, nil
	})
}

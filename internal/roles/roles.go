// Package roles implements the role agents: stateless functions pairing
// a prompt template with a response schema, invoked through the retry
// driver. Each role returns a typed result or an error; partially valid
// model output never escapes a role.
package roles

import (
	"context"
	"fmt"

	"github.com/artifex-labs/artifex/internal/events"
	"github.com/artifex-labs/artifex/internal/llm"
	"github.com/artifex-labs/artifex/internal/retry"
	"github.com/artifex-labs/artifex/internal/schema"
)

// Gateway is the inference dependency: given messages and a model,
// produce text. Errors count as failed attempts against the retry
// policy.
type Gateway interface {
	Chat(ctx context.Context, model string, messages []llm.Message) (*llm.ChatResponse, error)
}

// Config carries the shared dependencies every role is built from.
type Config struct {
	Gateway Gateway
	Model   string
	Bus     *events.Bus
	Policy  retry.Policy

	// OnTokens, if set, receives the task name and total token count
	// of every gateway call so the loop can account usage.
	OnTokens func(task string, tokens int)
}

// base is embedded by every role agent.
type base struct {
	name    string
	gateway Gateway
	model   string
	bus     *events.Bus
	policy  retry.Policy
	tokens  func(string, int)
}

func newBase(name string, cfg Config, overrides map[string]string) base {
	model := cfg.Model
	if m, ok := overrides[name]; ok && m != "" {
		model = m
	}
	return base{
		name:    name,
		gateway: cfg.Gateway,
		model:   model,
		bus:     cfg.Bus,
		policy:  cfg.Policy,
		tokens:  cfg.OnTokens,
	}
}

// complete sends a single-prompt chat to the gateway and returns the
// raw response text. Token usage is reported against the task.
func (b base) complete(ctx context.Context, task, prompt string) (string, error) {
	resp, err := b.gateway.Chat(ctx, b.model, []llm.Message{
		{Role: "user", Content: prompt},
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", b.name, err)
	}
	if b.tokens != nil {
		b.tokens(task, resp.TotalTokens())
	}
	return resp.Content, nil
}

// askOnce performs one infer→parse attempt without retrying. Roles
// with validation beyond required-key presence call it inside their own
// retry.Do closure.
func (b base) askOnce(ctx context.Context, task, prompt string, required ...string) (schema.Object, error) {
	raw, err := b.complete(ctx, task, prompt)
	if err != nil {
		return nil, err
	}
	obj, ok := schema.Parse(raw, required...)
	if !ok {
		return nil, fmt.Errorf("%w: missing keys %v", retry.ErrInvalid, required)
	}
	return obj, nil
}

// ask runs the infer→parse cycle under the retry policy and returns an
// object containing every required key.
func (b base) ask(ctx context.Context, task, prompt string, required ...string) (schema.Object, error) {
	return retry.Do(ctx, b.policy, b.bus, task, b.name, func(ctx context.Context) (schema.Object, error) {
		return b.askOnce(ctx, task, prompt, required...)
	})
}

// Set bundles every constructed role agent. The loop checks individual
// fields for nil so a degraded deployment (no gateway for a role) turns
// follow-up actions into "unavailable" messages instead of crashes.
type Set struct {
	Planner   *Planner
	Monologue *Monologue
	Research  *Researcher
	Coder     *Coder

	Classifier *Classifier
	Answer     *Answerer
	Feature    *FeatureWriter
	Reporter   *Reporter
	Inspector  *Inspector

	Runner    *Runner
	Analyzer  *ErrorAnalyzer
	Decision  *Decider
	Patcher   *Patcher
	Formatter *Formatter
}

// NewSet builds all role agents from shared configuration. overrides
// maps role names to per-role model overrides and may be nil.
func NewSet(cfg Config, overrides map[string]string) *Set {
	return &Set{
		Planner:    &Planner{newBase("planner", cfg, overrides)},
		Monologue:  &Monologue{newBase("monologue", cfg, overrides)},
		Research:   &Researcher{newBase("researcher", cfg, overrides)},
		Coder:      &Coder{newBase("coder", cfg, overrides)},
		Classifier: &Classifier{newBase("classifier", cfg, overrides)},
		Answer:     &Answerer{newBase("answer", cfg, overrides)},
		Feature:    &FeatureWriter{newBase("feature", cfg, overrides)},
		Reporter:   &Reporter{newBase("reporter", cfg, overrides)},
		Inspector:  &Inspector{newBase("inspector", cfg, overrides)},
		Runner:     &Runner{newBase("runner", cfg, overrides)},
		Analyzer:   &ErrorAnalyzer{newBase("error-analyzer", cfg, overrides)},
		Decision:   &Decider{newBase("decision", cfg, overrides)},
		Patcher:    &Patcher{newBase("patcher", cfg, overrides)},
		Formatter:  &Formatter{newBase("formatter", cfg, overrides)},
	}
}

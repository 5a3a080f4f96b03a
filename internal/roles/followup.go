package roles

import (
	"context"
	"fmt"
	"strings"

	"github.com/artifex-labs/artifex/internal/project"
	"github.com/artifex-labs/artifex/internal/prompts"
)

// Action is the classifier's dispatch tag, decoded from model output
// into a closed set. Anything outside the set becomes ActionUnknown —
// never a silently ignored free-form string.
type Action string

const (
	ActionAnswer       Action = "answer"
	ActionRun          Action = "run"
	ActionDeploy       Action = "deploy"
	ActionFeature      Action = "feature"
	ActionBug          Action = "bug"
	ActionReport       Action = "report"
	ActionReview       Action = "review"
	ActionTest         Action = "test"
	ActionOptimize     Action = "optimize"
	ActionSecurity     Action = "security"
	ActionDocument     Action = "document"
	ActionDependencies Action = "dependencies"
	ActionUnknown      Action = "unknown"
)

var knownActions = map[Action]bool{
	ActionAnswer: true, ActionRun: true, ActionDeploy: true,
	ActionFeature: true, ActionBug: true, ActionReport: true,
	ActionReview: true, ActionTest: true, ActionOptimize: true,
	ActionSecurity: true, ActionDocument: true, ActionDependencies: true,
}

// ParseAction decodes a model-emitted action string.
func ParseAction(s string) Action {
	a := Action(strings.ToLower(strings.TrimSpace(s)))
	if knownActions[a] {
		return a
	}
	return ActionUnknown
}

// Classification is the classifier's validated result.
type Classification struct {
	Response string
	Action   Action
}

// Classifier routes a follow-up message on a completed task.
type Classifier struct{ base }

func (r *Classifier) Classify(ctx context.Context, task, conversation, userPrompt string) (*Classification, error) {
	obj, err := r.ask(ctx, task, prompts.ClassifierPrompt(conversation, userPrompt),
		"response", "action")
	if err != nil {
		return nil, err
	}
	return &Classification{
		Response: obj.String("response"),
		Action:   ParseAction(obj.String("action")),
	}, nil
}

// Answerer answers questions about the existing project.
type Answerer struct{ base }

func (r *Answerer) Answer(ctx context.Context, task, conversation, code, question string) (string, error) {
	obj, err := r.ask(ctx, task, prompts.AnswerPrompt(conversation, code, question), "response")
	if err != nil {
		return "", err
	}
	return obj.String("response"), nil
}

// FeatureWriter extends the project with new functionality.
type FeatureWriter struct{ base }

func (r *FeatureWriter) Extend(ctx context.Context, task, conversation, code, request string) ([]project.File, error) {
	return r.askFiles(ctx, task, prompts.FeaturePrompt(conversation, code, request))
}

// Reporter writes a Markdown project report.
type Reporter struct{ base }

func (r *Reporter) Report(ctx context.Context, task, code string) (string, error) {
	obj, err := r.ask(ctx, task, prompts.ReporterPrompt(task, code), "report")
	if err != nil {
		return "", err
	}
	return obj.String("report"), nil
}

// Inspection is the result of one analysis action.
type Inspection struct {
	Focus           string
	Observations    []string
	Recommendations []string
}

// Render formats an inspection as a conversation message.
func (i *Inspection) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Here is my %s analysis.\n\nFindings:\n", i.Focus)
	for _, o := range i.Observations {
		fmt.Fprintf(&b, "- %s\n", o)
	}
	b.WriteString("\nRecommendations:\n")
	for _, rec := range i.Recommendations {
		fmt.Fprintf(&b, "- %s\n", rec)
	}
	return strings.TrimSpace(b.String())
}

// Inspector performs the analysis actions (review, test, optimize,
// security, document, dependencies) with one shared schema.
type Inspector struct{ base }

func (r *Inspector) Inspect(ctx context.Context, task, focus, code string) (*Inspection, error) {
	obj, err := r.ask(ctx, task, prompts.AnalysisPrompt(focus, code),
		"observations", "recommendations")
	if err != nil {
		return nil, err
	}
	return &Inspection{
		Focus:           focus,
		Observations:    obj.StringSlice("observations"),
		Recommendations: obj.StringSlice("recommendations"),
	}, nil
}

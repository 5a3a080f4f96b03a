package loop

import (
	"context"
	"fmt"
	"strings"

	"github.com/artifex-labs/artifex/internal/project"
	"github.com/artifex-labs/artifex/internal/prompts"
	"github.com/artifex-labs/artifex/internal/roles"
	"github.com/artifex-labs/artifex/internal/state"
)

// analysisFocus maps inspection actions to the focus phrase their
// shared prompt uses.
var analysisFocus = map[roles.Action]string{
	roles.ActionReview:       "code review",
	roles.ActionTest:         "testing",
	roles.ActionOptimize:     "performance",
	roles.ActionSecurity:     "security",
	roles.ActionDocument:     "documentation",
	roles.ActionDependencies: "dependency",
}

// FollowUp handles a new user message on a completed task: classify the
// request, dispatch to exactly one handler, and restore the completed
// flags no matter what. The user message must already be appended to
// the conversation.
func (l *Loop) FollowUp(ctx context.Context, task, userPrompt string) error {
	l.push(task, state.Snapshot{Step: state.StepPlanning, AgentActive: true})
	defer l.finish(task)

	cls, err := l.roles.Classifier.Classify(ctx, task, l.transcript(task), userPrompt)
	if err != nil {
		return l.fail(task, "classifying request", err)
	}
	l.say(task, cls.Response)

	// Each action is isolated: its failure becomes an error message to
	// the user, never a crashed task.
	if err := l.dispatch(ctx, task, cls.Action, userPrompt); err != nil {
		l.logger.Error("follow-up action failed", "task", task, "action", cls.Action, "error", err)
		l.say(task, fmt.Sprintf("I hit a problem handling that: %v", err))
		return fmt.Errorf("action %s: %w", cls.Action, err)
	}
	return nil
}

func (l *Loop) dispatch(ctx context.Context, task string, action roles.Action, userPrompt string) error {
	code := l.projectCode(task)

	switch action {
	case roles.ActionAnswer:
		if l.roles.Answer == nil {
			l.say(task, prompts.ActionUnavailable)
			return nil
		}
		reply, err := l.roles.Answer.Answer(ctx, task, l.transcript(task), code, userPrompt)
		if err != nil {
			return err
		}
		l.say(task, reply)

	case roles.ActionRun:
		if l.roles.Runner == nil {
			l.say(task, prompts.ActionUnavailable)
			return nil
		}
		commands, err := l.roles.Runner.Commands(ctx, task, l.osName, code)
		if err != nil {
			return err
		}
		return l.runAndRepair(ctx, task, commands)

	case roles.ActionFeature:
		if l.roles.Feature == nil {
			l.say(task, prompts.ActionUnavailable)
			return nil
		}
		files, err := l.roles.Feature.Extend(ctx, task, l.transcript(task), code, userPrompt)
		if err != nil {
			return err
		}
		return l.persistChanges(task, files)

	case roles.ActionBug:
		if l.roles.Patcher == nil {
			l.say(task, prompts.ActionUnavailable)
			return nil
		}
		files, err := l.roles.Patcher.Patch(ctx, task, code, "", userPrompt)
		if err != nil {
			return err
		}
		return l.persistChanges(task, files)

	case roles.ActionReport:
		if l.roles.Reporter == nil {
			l.say(task, prompts.ActionUnavailable)
			return nil
		}
		report, err := l.roles.Reporter.Report(ctx, task, code)
		if err != nil {
			return err
		}
		l.say(task, report)

	case roles.ActionReview, roles.ActionTest, roles.ActionOptimize,
		roles.ActionSecurity, roles.ActionDocument, roles.ActionDependencies:
		if l.roles.Inspector == nil {
			l.say(task, prompts.ActionUnavailable)
			return nil
		}
		inspection, err := l.roles.Inspector.Inspect(ctx, task, analysisFocus[action], code)
		if err != nil {
			return err
		}
		l.say(task, inspection.Render())

	case roles.ActionDeploy:
		// No deployment backend is wired; degrade, don't crash.
		l.say(task, prompts.ActionUnavailable)

	default:
		l.say(task, prompts.ActionUnknown)
	}
	return nil
}

// persistChanges writes a writer role's files and tells the user.
// An empty file list is a valid "nothing to change" outcome.
func (l *Loop) persistChanges(task string, files []project.File) error {
	if len(files) == 0 {
		l.say(task, "I didn't find anything that needed changing for that.")
		return nil
	}
	if _, err := l.services.Projects.WriteAll(task, files); err != nil {
		return fmt.Errorf("write project files: %w", err)
	}
	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.Path
	}
	l.say(task, "I've updated "+strings.Join(names, ", ")+".")
	return nil
}

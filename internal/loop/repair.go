package loop

import (
	"context"
	"fmt"
	"strings"

	"github.com/artifex-labs/artifex/internal/prompts"
	"github.com/artifex-labs/artifex/internal/roles"
	"github.com/artifex-labs/artifex/internal/search"
	"github.com/artifex-labs/artifex/internal/shell"
	"github.com/artifex-labs/artifex/internal/state"
)

// repairAttempts bounds the fix cycle per failing command. When both
// attempts fail the whole run stops; later commands almost certainly
// depend on the broken one.
const repairAttempts = 2

// runAndRepair executes the commands in order inside the task's
// project directory. Each run is snapshotted; a non-zero exit enters
// the repair cycle for that command before anything else runs.
func (l *Loop) runAndRepair(ctx context.Context, task string, commands []string) error {
	if len(commands) == 0 {
		l.say(task, "There's nothing I need to run for this project.")
		return nil
	}
	dir := l.services.Projects.TaskPath(task)

	for _, command := range commands {
		res, err := l.execCommand(ctx, task, command, dir)
		if err != nil {
			return l.fail(task, "running command", err)
		}
		if res.Success() {
			continue
		}
		if err := l.repair(ctx, task, dir, commands, command, res); err != nil {
			l.logger.Error("repair exhausted", "task", task, "command", command, "error", err)
			l.say(task, prompts.RepairExhausted)
			return fmt.Errorf("repair %q: %w", command, err)
		}
	}
	l.say(task, prompts.RunCompleted)
	return nil
}

// execCommand runs one command and pushes a snapshot carrying its
// output, success or not.
func (l *Loop) execCommand(ctx context.Context, task, command, dir string) (*shell.Result, error) {
	l.logger.Info("executing command", "task", task, "command", command)
	res, err := l.services.Shell.Run(ctx, command, dir)
	if err != nil {
		return nil, fmt.Errorf("run %q: %w", command, err)
	}
	l.push(task, state.Snapshot{
		Step: state.StepRunning,
		Terminal: state.TerminalSession{
			Command: command,
			Output:  res.Combined(),
			Title:   command,
		},
		AgentActive: true,
	})
	return res, nil
}

// repair drives the fix cycle for one failing command: diagnose the
// error, optionally research it on the web, then either patch the code
// or substitute a corrected command, and re-run. At most repairAttempts
// rounds before giving up.
func (l *Loop) repair(ctx context.Context, task, dir string, commands []string, failing string, res *shell.Result) error {
	current := failing

	for attempt := 1; attempt <= repairAttempts; attempt++ {
		l.push(task, state.Snapshot{
			Step: state.StepRepairing,
			Terminal: state.TerminalSession{
				Command: current,
				Output:  res.Combined(),
				Title:   current,
			},
			AgentActive: true,
		})

		errorContext := res.Combined()
		diag, err := l.roles.Analyzer.Analyze(ctx, task, current, errorContext)
		if err != nil {
			l.logger.Warn("error analysis failed, using raw output", "task", task, "error", err)
		} else if diag.NeedWeb && diag.SearchQuery != "" {
			if summary, rerr := l.errorResearch(ctx, task, diag.SearchQuery); rerr != nil {
				l.logger.Warn("error research failed, using raw output", "task", task, "query", diag.SearchQuery, "error", rerr)
			} else {
				errorContext = summary
			}
		}

		dec, err := l.roles.Decision.Decide(ctx, task,
			l.transcript(task), l.projectCode(task),
			strings.Join(commands, "\n"), current, errorContext)
		if err != nil {
			return fmt.Errorf("decide repair: %w", err)
		}
		l.say(task, dec.Response)

		switch dec.Strategy {
		case roles.RepairCommand:
			current = dec.Command
		case roles.RepairPatch:
			files, err := l.roles.Patcher.Patch(ctx, task, l.projectCode(task), current, errorContext)
			if err != nil {
				return fmt.Errorf("patch code: %w", err)
			}
			if len(files) > 0 {
				if _, err := l.services.Projects.WriteAll(task, files); err != nil {
					return fmt.Errorf("write patched files: %w", err)
				}
			}
		}

		rerun, err := l.execCommand(ctx, task, current, dir)
		if err != nil {
			return err
		}
		if rerun.Success() {
			return nil
		}
		res = rerun
	}
	return fmt.Errorf("command still failing after %d attempts", repairAttempts)
}

// errorResearch resolves a diagnosis search query into a summarized
// page. Unlike planning research it pushes no snapshot; the task stays
// visibly in the repair cycle.
func (l *Loop) errorResearch(ctx context.Context, task, query string) (string, error) {
	results, err := l.services.Search.Search(ctx, query, search.Options{})
	if err != nil {
		return "", fmt.Errorf("search: %w", err)
	}
	link := search.FirstLink(results)
	if link == "" {
		return "", fmt.Errorf("no results for %q", query)
	}
	if err := l.services.Browser.Navigate(ctx, link); err != nil {
		return "", fmt.Errorf("navigate %s: %w", link, err)
	}
	_, text, err := l.services.Browser.ExtractText(ctx)
	if err != nil {
		return "", fmt.Errorf("extract text: %w", err)
	}
	return l.roles.Formatter.Summarize(ctx, task, query, text)
}

package prompts

import "fmt"

// runnerTemplate decides which shell commands run the project. Verbs:
// project code, operating system name.
const runnerTemplate = `You are preparing to run a software project on %s.

Project code:
%s

Produce a JSON object with exactly this key:
- "commands": an array of shell command strings that set up and run the
  project, in order

Keep the list minimal. Respond with only the JSON object.`

// RunnerPrompt renders the command-generation prompt.
func RunnerPrompt(os, code string) string {
	return fmt.Sprintf(runnerTemplate, os, code)
}

// errorAnalyzerTemplate classifies a command failure. Verbs: command,
// combined output.
const errorAnalyzerTemplate = `A project command failed.

Command:
%s

Output:
%s

Decide whether fixing this error requires looking something up on the
web (an unfamiliar error message, a third-party library issue) or can
be diagnosed from the output alone.

Produce a JSON object with exactly these keys:
- "need_web": the string "True" or the string "False", nothing else
- "search_query": a single search query if need_web is "True", else ""

Respond with only the JSON object.`

// ErrorAnalyzerPrompt renders the error-classification prompt.
func ErrorAnalyzerPrompt(command, output string) string {
	return fmt.Sprintf(errorAnalyzerTemplate, command, output)
}

// decisionTemplate chooses the repair strategy. Verbs: conversation,
// project code, command list, failing command, error context.
const decisionTemplate = `You are repairing a failing project run.

Conversation so far:
%s

Project code:
%s

Planned commands:
%s

Failing command:
%s

Error context:
%s

Choose ONE repair strategy. Produce a JSON object with exactly these
keys:
- "action": "command" to try a different shell command, or "patch" to
  fix the code
- "response": one sentence telling the user what you are doing
- "command": the alternate shell command when action is "command",
  else ""

Respond with only the JSON object.`

// DecisionPrompt renders the re-run decision prompt.
func DecisionPrompt(conversation, code, commands, failing, errorContext string) string {
	return fmt.Sprintf(decisionTemplate, conversation, code, commands, failing, errorContext)
}

// patcherTemplate regenerates broken files. Verbs: project code,
// failing command, error context.
const patcherTemplate = `You are fixing a bug in a software project.

Current project code:
%s

Failing command:
%s

Error context:
%s

Emit every file you change, complete, using exactly this format wrapped
in a single outer code fence:

~~~
File: ` + "`path/to/file.ext`" + `
` + "```" + `
<file content>
` + "```" + `
~~~

Use relative paths only. Change as little as possible.`

// PatcherPrompt renders the patch prompt.
func PatcherPrompt(code, failing, errorContext string) string {
	return fmt.Sprintf(patcherTemplate, code, failing, errorContext)
}

// formatterTemplate condenses fetched page text into usable notes.
// Verbs: search query, page text.
const formatterTemplate = `Summarize the following web page content as concise technical notes
relevant to the query "%s". Keep code snippets intact. Plain text only,
no preamble.

%s`

// FormatterPrompt renders the page-summarization prompt. The formatter
// role consumes raw model text, so this template declares no schema.
func FormatterPrompt(query, pageText string) string {
	return fmt.Sprintf(formatterTemplate, query, pageText)
}

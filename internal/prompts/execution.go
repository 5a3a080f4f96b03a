package prompts

import (
	"fmt"
	"strings"
)

// plannerTemplate drives the first step of a run. Verbs: task name,
// conversation transcript, user prompt.
const plannerTemplate = `You are a senior software engineer planning a project called "%s".

Conversation so far:
%s

The user asked:
%s

Produce a JSON object with exactly these keys:
- "reply": a short conversational acknowledgment for the user
- "focus": a short phrase naming the technical focus of the project
- "plans": an object mapping step numbers ("1", "2", ...) to step descriptions
- "summary": a one-paragraph summary of the plan

Respond with only the JSON object.`

// PlannerPrompt renders the planning prompt.
func PlannerPrompt(task, conversation, userPrompt string) string {
	return fmt.Sprintf(plannerTemplate, task, conversation, userPrompt)
}

// monologueTemplate produces the status line shown to the user while
// the agent works. Verb: current plan or activity description.
const monologueTemplate = `You are an autonomous software engineer. Given what you are currently
working on, write one first-person sentence describing your current
train of thought, as if thinking aloud.

Current work:
%s

Produce a JSON object with exactly this key:
- "internal_monologue": the sentence

Respond with only the JSON object.`

// MonologuePrompt renders the internal-monologue prompt.
func MonologuePrompt(work string) string {
	return fmt.Sprintf(monologueTemplate, work)
}

// researcherTemplate decides what to look up on the web before coding.
// Verbs: plan text, comma-joined contextual keywords.
const researcherTemplate = `You are a research assistant for a software project. Read the plan and
decide what, if anything, needs to be looked up on the web before
implementation starts.

Plan:
%s

Context keywords: %s

Produce a JSON object with exactly these keys:
- "queries": an array of at most 3 search query strings; use an empty
  array if the plan needs no research
- "ask_user": a clarifying question for the user, or "" if nothing
  needs clarification

Only ask the user when the plan is genuinely ambiguous.
Respond with only the JSON object.`

// ResearcherPrompt renders the research prompt. keywordList is the
// comma-joined keyword string; it is capitalized the way the template
// expects.
func ResearcherPrompt(plan, keywordList string) string {
	return fmt.Sprintf(researcherTemplate, plan, strings.ToUpper(keywordList))
}

// coderTemplate produces the project's files. Verbs: plan, user
// clarification, research summaries.
const coderTemplate = `You are an expert programmer. Implement the project described by the
plan below, using any research notes provided.

Plan:
%s

User clarification:
%s

Research notes:
%s

Your response must use exactly this format, wrapped in a single outer
code fence:

~~~
File: ` + "`path/to/file.ext`" + `
` + "```" + `
<file content>
` + "```" + `

File: ` + "`another/file.ext`" + `
` + "```" + `
<file content>
` + "```" + `
~~~

Use relative paths only. Emit complete files, never fragments.`

// CoderPrompt renders the coding prompt.
func CoderPrompt(plan, clarification string, research map[string]string) string {
	return fmt.Sprintf(coderTemplate, plan, orDefault(clarification, "none"), renderResearch(research))
}

// renderResearch flattens query->summary pairs into template input.
func renderResearch(research map[string]string) string {
	if len(research) == 0 {
		return "none"
	}
	var b strings.Builder
	for query, summary := range research {
		fmt.Fprintf(&b, "## %s\n%s\n\n", query, summary)
	}
	return strings.TrimSpace(b.String())
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

package prompts

import "fmt"

// classifierTemplate routes a follow-up message on a completed task.
// Verbs: conversation transcript, latest user message.
const classifierTemplate = `You are triaging a follow-up request on a completed software project.

Conversation so far:
%s

Latest user message:
%s

Classify the request. Produce a JSON object with exactly these keys:
- "response": a short conversational reply for the user
- "action": one of "answer", "run", "deploy", "feature", "bug",
  "report", "review", "test", "optimize", "security", "document",
  "dependencies"

Pick "answer" for questions, "run" to execute the project, "feature"
for new functionality, "bug" for fixes. Respond with only the JSON
object.`

// ClassifierPrompt renders the action-classification prompt.
func ClassifierPrompt(conversation, userPrompt string) string {
	return fmt.Sprintf(classifierTemplate, conversation, userPrompt)
}

// answerTemplate answers a question about the existing project.
// Verbs: conversation, project code, question.
const answerTemplate = `You are answering a question about an existing software project.

Conversation so far:
%s

Project code:
%s

Question:
%s

Produce a JSON object with exactly this key:
- "response": your answer, in plain prose

Respond with only the JSON object.`

// AnswerPrompt renders the question-answering prompt.
func AnswerPrompt(conversation, code, question string) string {
	return fmt.Sprintf(answerTemplate, conversation, code, question)
}

// featureTemplate extends an existing project with new functionality.
// Verbs: conversation, project code, request.
const featureTemplate = `You are adding a feature to an existing software project.

Conversation so far:
%s

Current project code:
%s

Feature request:
%s

Emit every file you change or add, complete, using exactly this format
wrapped in a single outer code fence:

~~~
File: ` + "`path/to/file.ext`" + `
` + "```" + `
<file content>
` + "```" + `
~~~

Use relative paths only.`

// FeaturePrompt renders the feature-writer prompt.
func FeaturePrompt(conversation, code, request string) string {
	return fmt.Sprintf(featureTemplate, conversation, code, request)
}

// reporterTemplate summarizes the project for the user. Verbs:
// task name, project code.
const reporterTemplate = `Write a concise project report for "%s".

Project code:
%s

Produce a JSON object with exactly this key:
- "report": a Markdown report covering what the project does, its file
  layout, and how to run it

Respond with only the JSON object.`

// ReporterPrompt renders the report prompt.
func ReporterPrompt(task, code string) string {
	return fmt.Sprintf(reporterTemplate, task, code)
}

// analysisTemplate is shared by the inspection actions (review, test,
// optimize, security, document, dependencies). Verbs: analysis focus,
// project code.
const analysisTemplate = `You are performing a %s analysis of a software project.

Project code:
%s

Produce a JSON object with exactly these keys:
- "observations": an array of strings, each one finding
- "recommendations": an array of strings, each one concrete suggestion

Respond with only the JSON object.`

// AnalysisPrompt renders an inspection prompt for the given focus
// (e.g., "code review", "security").
func AnalysisPrompt(focus, code string) string {
	return fmt.Sprintf(analysisTemplate, focus, code)
}

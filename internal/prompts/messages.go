package prompts

// Canned agent messages appended to the conversation at fixed points in
// the loop. Kept here so wording lives next to the templates.
const (
	// NoResearchNeeded is appended when the researcher returns no
	// queries and the run proceeds straight to coding.
	NoResearchNeeded = "I think I can proceed without searching the web."

	// UserInputAck is appended after the user answers a clarifying
	// question and the run resumes.
	UserInputAck = "Thanks, that helps. Picking the work back up now."

	// RunCompleted is appended when the initial execution finishes and
	// the project files have been written.
	RunCompleted = "I have completed the task. The project files are written and ready to review."

	// RunFailed is appended when a run dies on an unrecoverable error.
	RunFailed = "I ran into a problem I could not recover from and had to stop. The details are in the log."

	// ActionUnavailable is appended when a follow-up action's role
	// could not be constructed.
	ActionUnavailable = "I can't perform that action right now; the capability isn't available in this environment."

	// ActionUnknown is appended when the classifier produces an action
	// outside the known set.
	ActionUnknown = "I didn't recognize that as something I can do, so I haven't taken any action."

	// RepairExhausted is appended when the run-and-repair sub-loop
	// gives up on a command.
	RepairExhausted = "I couldn't get that command working after repairing twice. It needs a human look."
)

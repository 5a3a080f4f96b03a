// Package prompts holds the role prompt templates and their
// interpolation helpers. Templates are plain consts with fmt verbs;
// each exported function returns a fully rendered prompt.
//
// Schema instructions inside each template must stay in sync with the
// required keys the corresponding role validates against.
package prompts

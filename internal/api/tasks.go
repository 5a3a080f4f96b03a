package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"strings"

	"github.com/yuin/goldmark"

	"github.com/artifex-labs/artifex/internal/conversation"
	"github.com/artifex-labs/artifex/internal/project"
	"github.com/artifex-labs/artifex/internal/state"
)

// taskSummary is one row of the task listing.
type taskSummary struct {
	Name      string `json:"name"`
	Step      string `json:"step,omitempty"`
	Active    bool   `json:"agent_active"`
	Completed bool   `json:"completed"`
	Running   bool   `json:"running"`
}

func (s *Server) handleTaskList(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.conversation.Tasks()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), s.logger)
		return
	}

	out := make([]taskSummary, 0, len(tasks))
	for _, task := range tasks {
		summary := taskSummary{Name: task, Running: s.runs.Active(task)}
		if latest, err := s.state.Latest(task); err == nil && latest != nil {
			summary.Step = latest.Step
			summary.Active = latest.AgentActive
			summary.Completed = latest.Completed
		}
		out = append(out, summary)
	}
	writeJSON(w, map[string]any{"tasks": out}, s.logger)
}

type taskCreateRequest struct {
	Name   string `json:"name"`
	Prompt string `json:"prompt"`
}

func (s *Server) handleTaskCreate(w http.ResponseWriter, r *http.Request) {
	var req taskCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", s.logger)
		return
	}
	slug := project.Slug(req.Name)
	if slug == "" || strings.TrimSpace(req.Prompt) == "" {
		writeError(w, http.StatusBadRequest, "name and prompt are required", s.logger)
		return
	}

	if latest, err := s.state.Latest(slug); err == nil && latest != nil {
		writeError(w, http.StatusConflict, fmt.Sprintf("task %q already exists", slug), s.logger)
		return
	}

	if _, err := s.conversation.Append(slug, conversation.OriginUser, req.Prompt); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), s.logger)
		return
	}
	prompt := req.Prompt
	if !s.runs.Start(slug, func(ctx context.Context) {
		if err := s.runner.Execute(ctx, slug, prompt); err != nil {
			s.logger.Error("task run failed", "task", slug, "error", err)
		}
	}) {
		writeError(w, http.StatusConflict, "task already running", s.logger)
		return
	}

	w.WriteHeader(http.StatusAccepted)
	writeJSON(w, map[string]string{"task": slug, "status": "started"}, s.logger)
}

func (s *Server) handleTaskDelete(w http.ResponseWriter, r *http.Request) {
	slug, ok := taskSlug(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid task name", s.logger)
		return
	}

	// Stop any in-flight run before tearing down its stores.
	s.runs.Cancel(slug)

	if err := s.conversation.Delete(slug); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), s.logger)
		return
	}
	if err := s.state.Delete(slug); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), s.logger)
		return
	}
	if err := s.projects.Delete(slug); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), s.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	slug, ok := taskSlug(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid task name", s.logger)
		return
	}
	messages, err := s.conversation.All(slug)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), s.logger)
		return
	}

	if r.URL.Query().Get("format") == "html" {
		s.writeTranscriptHTML(w, slug, messages)
		return
	}
	writeJSON(w, map[string]any{"messages": messages}, s.logger)
}

// writeTranscriptHTML renders the conversation as a standalone HTML
// page, message bodies rendered from markdown.
func (s *Server) writeTranscriptHTML(w http.ResponseWriter, task string, messages []conversation.Message) {
	var b strings.Builder
	fmt.Fprintf(&b, `<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>%s</title></head>
<body style="font-family: sans-serif; max-width: 48rem; margin: 0 auto;">
`, html.EscapeString(task))

	for _, m := range messages {
		var body bytes.Buffer
		if err := goldmark.Convert([]byte(m.Text), &body); err != nil {
			// Fall back to escaped plain text for pathological markdown.
			body.Reset()
			body.WriteString("<p>" + html.EscapeString(m.Text) + "</p>")
		}
		fmt.Fprintf(&b, "<section class=%q>\n<h4>%s</h4>\n%s</section>\n",
			m.Origin, html.EscapeString(m.Origin), body.String())
	}
	b.WriteString("</body></html>\n")

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := w.Write([]byte(b.String())); err != nil {
		s.logger.Debug("failed to write transcript", "error", err)
	}
}

type messagePostRequest struct {
	Text string `json:"text"`
}

// handleMessagePost appends a user message and resumes the task: a
// waiting run picks the message up as its clarification answer, an idle
// task gets a fresh run (initial execution if it has no snapshots yet,
// follow-up otherwise).
func (s *Server) handleMessagePost(w http.ResponseWriter, r *http.Request) {
	slug, ok := taskSlug(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid task name", s.logger)
		return
	}
	var req messagePostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", s.logger)
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required", s.logger)
		return
	}

	if _, err := s.conversation.Append(slug, conversation.OriginUser, req.Text); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), s.logger)
		return
	}

	if s.runs.Active(slug) {
		// The running loop polls for this message itself.
		w.WriteHeader(http.StatusAccepted)
		writeJSON(w, map[string]string{"task": slug, "status": "delivered"}, s.logger)
		return
	}

	latest, err := s.state.Latest(slug)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), s.logger)
		return
	}
	text := req.Text
	started := s.runs.Start(slug, func(ctx context.Context) {
		var runErr error
		if latest == nil {
			runErr = s.runner.Execute(ctx, slug, text)
		} else {
			runErr = s.runner.FollowUp(ctx, slug, text)
		}
		if runErr != nil {
			s.logger.Error("task run failed", "task", slug, "error", runErr)
		}
	})

	status := "started"
	if !started {
		status = "delivered"
	}
	w.WriteHeader(http.StatusAccepted)
	writeJSON(w, map[string]string{"task": slug, "status": status}, s.logger)
}

func (s *Server) handleStateStack(w http.ResponseWriter, r *http.Request) {
	slug, ok := taskSlug(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid task name", s.logger)
		return
	}
	stack, err := s.state.Stack(slug)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), s.logger)
		return
	}
	if stack == nil {
		stack = []state.Snapshot{}
	}
	writeJSON(w, map[string]any{"snapshots": stack}, s.logger)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	slug, ok := taskSlug(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid task name", s.logger)
		return
	}
	latest, err := s.state.Latest(slug)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), s.logger)
		return
	}
	if latest == nil {
		writeError(w, http.StatusNotFound, "no snapshots for task", s.logger)
		return
	}
	writeJSON(w, map[string]any{
		"task":     slug,
		"running":  s.runs.Active(slug),
		"snapshot": latest,
	}, s.logger)
}

func (s *Server) handleProjectZip(w http.ResponseWriter, r *http.Request) {
	slug, ok := taskSlug(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid task name", s.logger)
		return
	}
	data, err := s.projects.Zip(slug)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error(), s.logger)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", slug+".zip"))
	if _, err := w.Write(data); err != nil {
		s.logger.Debug("failed to write archive", "error", err)
	}
}

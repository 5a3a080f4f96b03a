// Package project manages per-task project directories: slug naming,
// atomic multi-file writes from writer roles, zip export, and deletion.
package project

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// File is a single project file emitted by a writer role.
type File struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// Slug normalizes a human-chosen task name to a filesystem-safe slug:
// lowercase, spaces collapsed to hyphens, anything outside [a-z0-9._-]
// dropped.
func Slug(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	var b strings.Builder
	lastHyphen := false
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '_':
			b.WriteRune(r)
			lastHyphen = false
		case r == ' ' || r == '-' || r == '/':
			if !lastHyphen && b.Len() > 0 {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.Trim(b.String(), "-.")
}

// Writer persists code files under a root directory, one subdirectory
// per task.
type Writer struct {
	root   string
	logger *slog.Logger
}

// NewWriter creates a project writer rooted at dir.
func NewWriter(dir string, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{root: dir, logger: logger.With("component", "project")}
}

// TaskPath returns the project directory for a task.
func (w *Writer) TaskPath(task string) string {
	return filepath.Join(w.root, Slug(task))
}

// resolve converts a file's relative path to an absolute path inside the
// task directory. Absolute paths and traversal outside the task tree are
// rejected.
func (w *Writer) resolve(task, path string) (string, error) {
	if filepath.IsAbs(path) {
		return "", fmt.Errorf("absolute path not allowed: %s", path)
	}
	base, err := filepath.Abs(w.TaskPath(task))
	if err != nil {
		return "", fmt.Errorf("resolve task dir: %w", err)
	}
	abs := filepath.Clean(filepath.Join(base, path))
	if abs != base && !strings.HasPrefix(abs, base+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes project: %s", path)
	}
	return abs, nil
}

// WriteAll persists a full set of files for a task, all-or-nothing.
// Every file is staged to a temporary directory first; only after all
// stage writes succeed are files moved into the task tree. A failure
// during staging leaves the existing tree untouched. Returns the task's
// project directory.
func (w *Writer) WriteAll(task string, files []File) (string, error) {
	if len(files) == 0 {
		return "", fmt.Errorf("no files to write")
	}

	taskDir := w.TaskPath(task)
	if err := os.MkdirAll(w.root, 0o755); err != nil {
		return "", fmt.Errorf("create projects root: %w", err)
	}

	// Validate all destinations before writing anything.
	dests := make([]string, len(files))
	for i, f := range files {
		abs, err := w.resolve(task, f.Path)
		if err != nil {
			return "", err
		}
		dests[i] = abs
	}

	stage, err := os.MkdirTemp(w.root, ".stage-")
	if err != nil {
		return "", fmt.Errorf("create staging dir: %w", err)
	}
	defer os.RemoveAll(stage)

	staged := make([]string, len(files))
	for i, f := range files {
		sp := filepath.Join(stage, fmt.Sprintf("f%d", i))
		if err := os.WriteFile(sp, []byte(f.Content), 0o644); err != nil {
			return "", fmt.Errorf("stage %s: %w", f.Path, err)
		}
		staged[i] = sp
	}

	for i := range files {
		if err := os.MkdirAll(filepath.Dir(dests[i]), 0o755); err != nil {
			return "", fmt.Errorf("create dir for %s: %w", files[i].Path, err)
		}
		if err := os.Rename(staged[i], dests[i]); err != nil {
			return "", fmt.Errorf("install %s: %w", files[i].Path, err)
		}
	}

	w.logger.Info("project files written", "task", Slug(task), "files", len(files))
	return taskDir, nil
}

// ReadAll returns every regular file in the task tree, paths relative to
// the task directory, in sorted order. A missing task directory yields
// an empty slice.
func (w *Writer) ReadAll(task string) ([]File, error) {
	taskDir := w.TaskPath(task)
	var files []File
	err := filepath.WalkDir(taskDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(taskDir, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		files = append(files, File{Path: rel, Content: string(data)})
		return nil
	})
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read project %s: %w", Slug(task), err)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// Zip returns the task tree as a zip archive.
func (w *Writer) Zip(task string) ([]byte, error) {
	files, err := w.ReadAll(task)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("project %s is empty", Slug(task))
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range files {
		entry, err := zw.Create(f.Path)
		if err != nil {
			return nil, fmt.Errorf("zip entry %s: %w", f.Path, err)
		}
		if _, err := io.WriteString(entry, f.Content); err != nil {
			return nil, fmt.Errorf("zip write %s: %w", f.Path, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close zip: %w", err)
	}
	return buf.Bytes(), nil
}

// Delete removes the task's project tree. Deleting a project that does
// not exist is a no-op.
func (w *Writer) Delete(task string) error {
	slug := Slug(task)
	if slug == "" {
		return fmt.Errorf("empty task name")
	}
	if err := os.RemoveAll(filepath.Join(w.root, slug)); err != nil {
		return fmt.Errorf("delete project %s: %w", slug, err)
	}
	w.logger.Info("project deleted", "task", slug)
	return nil
}

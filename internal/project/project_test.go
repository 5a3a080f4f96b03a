package project

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func testWriter(t *testing.T) *Writer {
	t.Helper()
	return NewWriter(t.TempDir(), slog.New(slog.DiscardHandler))
}

func TestSlug(t *testing.T) {
	for _, tc := range []struct {
		in, want string
	}{
		{"Build a CLI", "build-a-cli"},
		{"  Weather App!  ", "weather-app"},
		{"camelCase_name", "camelcase_name"},
		{"a//b  c", "a-b-c"},
		{"...", ""},
		{"CLI-demo", "cli-demo"},
	} {
		if got := Slug(tc.in); got != tc.want {
			t.Errorf("Slug(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestWriteAllAndReadAll(t *testing.T) {
	w := testWriter(t)

	files := []File{
		{Path: "main.py", Content: "print('hi')\n"},
		{Path: "lib/util.py", Content: "def f(): pass\n"},
	}
	dir, err := w.WriteAll("Demo Task", files)
	if err != nil {
		t.Fatalf("WriteAll() error: %v", err)
	}
	if filepath.Base(dir) != "demo-task" {
		t.Errorf("project dir = %q, want slug demo-task", dir)
	}

	got, err := w.ReadAll("Demo Task")
	if err != nil {
		t.Fatalf("ReadAll() error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ReadAll() returned %d files, want 2", len(got))
	}
	// Sorted order: lib/util.py before main.py.
	if got[0].Path != "lib/util.py" || got[1].Path != "main.py" {
		t.Errorf("ReadAll() paths = %q, %q", got[0].Path, got[1].Path)
	}
	if got[1].Content != "print('hi')\n" {
		t.Errorf("main.py content = %q", got[1].Content)
	}
}

func TestWriteAllRejectsEscape(t *testing.T) {
	w := testWriter(t)

	_, err := w.WriteAll("demo", []File{{Path: "../outside.txt", Content: "x"}})
	if err == nil {
		t.Fatal("WriteAll() should reject paths escaping the project")
	}

	_, err = w.WriteAll("demo", []File{{Path: "/etc/passwd", Content: "x"}})
	if err == nil {
		t.Fatal("WriteAll() should reject absolute paths")
	}
}

func TestWriteAllLeavesTreeUntouchedOnInvalidBatch(t *testing.T) {
	w := testWriter(t)

	if _, err := w.WriteAll("demo", []File{{Path: "keep.txt", Content: "original"}}); err != nil {
		t.Fatalf("initial WriteAll() error: %v", err)
	}

	// Batch with one invalid path must not modify the existing file.
	_, err := w.WriteAll("demo", []File{
		{Path: "keep.txt", Content: "clobbered"},
		{Path: "../evil.txt", Content: "x"},
	})
	if err == nil {
		t.Fatal("WriteAll() should fail for a batch with an invalid path")
	}

	data, err := os.ReadFile(filepath.Join(w.TaskPath("demo"), "keep.txt"))
	if err != nil {
		t.Fatalf("read keep.txt: %v", err)
	}
	if string(data) != "original" {
		t.Errorf("keep.txt = %q, want untouched %q", data, "original")
	}
}

func TestWriteAllEmpty(t *testing.T) {
	w := testWriter(t)
	if _, err := w.WriteAll("demo", nil); err == nil {
		t.Error("WriteAll() with no files should fail")
	}
}

func TestReadAllMissingProject(t *testing.T) {
	w := testWriter(t)
	files, err := w.ReadAll("never-written")
	if err != nil {
		t.Fatalf("ReadAll() error: %v", err)
	}
	if len(files) != 0 {
		t.Errorf("ReadAll() = %d files, want 0", len(files))
	}
}

func TestZip(t *testing.T) {
	w := testWriter(t)
	if _, err := w.WriteAll("demo", []File{{Path: "a.txt", Content: "hello"}}); err != nil {
		t.Fatalf("WriteAll() error: %v", err)
	}

	data, err := w.Zip("demo")
	if err != nil {
		t.Fatalf("Zip() error: %v", err)
	}
	if len(data) == 0 {
		t.Error("Zip() returned empty archive")
	}
}

func TestDelete(t *testing.T) {
	w := testWriter(t)
	if _, err := w.WriteAll("demo", []File{{Path: "a.txt", Content: "x"}}); err != nil {
		t.Fatalf("WriteAll() error: %v", err)
	}

	if err := w.Delete("demo"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if _, err := os.Stat(w.TaskPath("demo")); !os.IsNotExist(err) {
		t.Error("project directory should be gone after Delete")
	}

	// Deleting again is a no-op.
	if err := w.Delete("demo"); err != nil {
		t.Errorf("Delete(missing) error: %v", err)
	}
}

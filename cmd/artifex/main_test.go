package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRunVersionText(t *testing.T) {
	var out bytes.Buffer
	if err := run(context.Background(), &out, &out, []string{"version"}); err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out.String(), "Artifex") {
		t.Errorf("version output missing banner: %s", out.String())
	}
}

func TestRunVersionJSON(t *testing.T) {
	var out bytes.Buffer
	if err := run(context.Background(), &out, &out, []string{"-o", "json", "version"}); err != nil {
		t.Fatalf("version: %v", err)
	}
	var info map[string]string
	if err := json.Unmarshal(out.Bytes(), &info); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out.String())
	}
	if info["version"] == "" {
		t.Errorf("version field missing: %v", info)
	}
}

func TestRunUnknownCommand(t *testing.T) {
	var out bytes.Buffer
	err := run(context.Background(), &out, &out, []string{"frobnicate"})
	if err == nil || !strings.Contains(err.Error(), "unknown command") {
		t.Errorf("err = %v, want unknown command", err)
	}
}

func TestRunUnknownFlag(t *testing.T) {
	var out bytes.Buffer
	err := run(context.Background(), &out, &out, []string{"-bogus"})
	if err == nil || !strings.Contains(err.Error(), "unknown flag") {
		t.Errorf("err = %v, want unknown flag", err)
	}
}

func TestRunBadOutputFormat(t *testing.T) {
	var out bytes.Buffer
	err := run(context.Background(), &out, &out, []string{"-o", "yaml", "version"})
	if err == nil || !strings.Contains(err.Error(), "output format") {
		t.Errorf("err = %v, want output format error", err)
	}
}

func TestRunNoArgsPrintsUsage(t *testing.T) {
	var out bytes.Buffer
	if err := run(context.Background(), &out, &out, nil); err != nil {
		t.Fatalf("usage: %v", err)
	}
	if !strings.Contains(out.String(), "Usage: artifex") {
		t.Errorf("usage missing: %s", out.String())
	}
}

func TestRunInit(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer
	if err := runInit(&out, dir); err != nil {
		t.Fatalf("init: %v", err)
	}

	for _, sub := range []string{"data", "projects"} {
		if fi, err := os.Stat(filepath.Join(dir, sub)); err != nil || !fi.IsDir() {
			t.Errorf("missing directory %s: %v", sub, err)
		}
	}

	cfgPath := filepath.Join(dir, "artifex.yaml")
	content, err := os.ReadFile(cfgPath)
	if err != nil {
		t.Fatalf("config not written: %v", err)
	}
	if !strings.Contains(string(content), "ollama_url") {
		t.Errorf("config content unexpected: %s", content)
	}

	// A second init must not clobber user edits.
	if err := os.WriteFile(cfgPath, []byte("edited: true\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := runInit(&out, dir); err != nil {
		t.Fatalf("repeat init: %v", err)
	}
	content, _ = os.ReadFile(cfgPath)
	if string(content) != "edited: true\n" {
		t.Errorf("init overwrote user config: %s", content)
	}
}

package schema

import (
	"strings"

	"github.com/artifex-labs/artifex/internal/project"
)

// ParseFiles interprets the delimited plain-text convention used by
// file-emitting roles: an outer fenced region containing repeated
// "File: <path>" headers, each followed by a fenced code block. Code
// lines accumulate for the current file until the block closes or the
// next header begins.
//
// Returns (nil, false) for malformed output: a missing outer fence, a
// header with no code block, an unterminated code block, or no files at
// all. Partial extraction is never returned.
func ParseFiles(raw string) ([]project.File, bool) {
	lines, ok := outerRegion(raw)
	if !ok {
		return nil, false
	}

	var files []project.File
	var content []string
	path := ""
	inCode := false
	sawCode := false

	flush := func() bool {
		if path == "" {
			return true
		}
		if !sawCode || inCode {
			return false
		}
		files = append(files, project.File{
			Path:    path,
			Content: strings.Join(content, "\n") + "\n",
		})
		return true
	}

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case !inCode && strings.HasPrefix(trimmed, "File:"):
			if !flush() {
				return nil, false
			}
			path = cleanFilePath(strings.TrimPrefix(trimmed, "File:"))
			if path == "" {
				return nil, false
			}
			content = nil
			sawCode = false
		case isFenceLine(trimmed):
			if path == "" {
				// Stray fence before any header.
				return nil, false
			}
			if inCode {
				inCode = false
			} else {
				if sawCode {
					// A second code block for the same header keeps
					// accumulating into the same file.
					content = append(content, "")
				}
				inCode = true
				sawCode = true
			}
		case inCode:
			content = append(content, line)
		}
	}

	if inCode || !flush() {
		return nil, false
	}
	if len(files) == 0 {
		return nil, false
	}
	return files, true
}

// outerRegion strips the mandatory outer fence and returns the interior
// lines. The response must begin and end with a fence line.
func outerRegion(raw string) ([]string, bool) {
	lines := strings.Split(strings.TrimSpace(raw), "\n")
	if len(lines) < 3 {
		return nil, false
	}
	first := strings.TrimSpace(lines[0])
	last := strings.TrimSpace(lines[len(lines)-1])
	if !isFenceLine(first) || !isFenceLine(last) {
		return nil, false
	}
	return lines[1 : len(lines)-1], true
}

// isFenceLine reports whether a trimmed line opens or closes a code
// fence, with or without an info string.
func isFenceLine(line string) bool {
	return strings.HasPrefix(line, "```") || strings.HasPrefix(line, "~~~")
}

// cleanFilePath normalizes a header path: surrounding whitespace,
// backticks, quotes and a trailing colon are dropped.
func cleanFilePath(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, ":")
	s = strings.Trim(s, "`'\" ")
	return s
}

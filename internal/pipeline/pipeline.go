// Package pipeline is the boundary to the external export tool that turns
// a msgstore/wa database pair into chat, call log and contact exports. The
// monitor only needs to know whether an invocation succeeded; the export
// itself is someone else's program, reached either as a subprocess or over
// HTTP.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
)

// ErrFailed is the sentinel every export failure wraps.
// Use errors.Is(err, pipeline.ErrFailed) to check.
var ErrFailed = errors.New("pipeline: export failed")

// Style selects the export output format.
type Style string

// Output styles understood by the export tool.
const (
	StyleRawText       Style = "raw_txt"
	StyleFormattedText Style = "formatted_txt"
	StyleJSON          Style = "json"
)

// ParseStyle validates an output style name.
func ParseStyle(s string) (Style, error) {
	switch st := Style(strings.TrimSpace(s)); st {
	case StyleRawText, StyleFormattedText, StyleJSON:
		return st, nil
	default:
		return "", fmt.Errorf("pipeline: unknown output style %q (valid: raw_txt, formatted_txt, json)", s)
	}
}

// ConversationType is one of the record families the export tool writes.
type ConversationType string

// Conversation types understood by the export tool.
const (
	CallLogs ConversationType = "call_logs"
	Chats    ConversationType = "chats"
	Contacts ConversationType = "contacts"
)

// AllConversationTypes is the default selection.
var AllConversationTypes = []ConversationType{CallLogs, Chats, Contacts}

// ParseConversationTypes validates a list of names and removes duplicates,
// preserving order.
func ParseConversationTypes(names []string) ([]ConversationType, error) {
	var (
		out  []ConversationType
		seen = make(map[ConversationType]bool)
	)

	for _, n := range names {
		ct := ConversationType(strings.TrimSpace(n))

		switch ct {
		case CallLogs, Chats, Contacts:
		default:
			return nil, fmt.Errorf("pipeline: unknown conversation type %q (valid: call_logs, chats, contacts)", n)
		}

		if !seen[ct] {
			seen[ct] = true
			out = append(out, ct)
		}
	}

	return out, nil
}

// Request describes one export: the two databases of a dataset and where
// the results go.
type Request struct {
	MsgStore          string
	Contacts          string
	OutputDir         string
	Style             Style
	ConversationTypes []ConversationType
}

func (r Request) validate() error {
	switch {
	case r.MsgStore == "":
		return errors.New("pipeline: msgstore path required")
	case r.Contacts == "":
		return errors.New("pipeline: contacts path required")
	case strings.TrimSpace(r.OutputDir) == "":
		return errors.New("pipeline: output directory required")
	}

	return nil
}

// Result is what a successful export reports back.
type Result struct {
	Artifacts []string // files under the output directory after the run
	Output    string   // tool output, for the log
}

// Pipeline runs the export for one dataset. A returned error wrapping
// ErrFailed means the tool ran and rejected the input; any error is
// terminal for the dataset.
type Pipeline interface {
	Export(ctx context.Context, req Request) (Result, error)
}

// Failure carries the diagnostic of a failed export.
type Failure struct {
	Message    string
	ExitCode   int // subprocess exit status, 0 when not applicable
	StatusCode int // HTTP status, 0 when not applicable
	Err        error
}

func (f *Failure) Error() string {
	switch {
	case f.StatusCode != 0:
		return fmt.Sprintf("pipeline: HTTP %d: %s", f.StatusCode, f.Message)
	case f.ExitCode != 0:
		return fmt.Sprintf("pipeline: exit status %d: %s", f.ExitCode, f.Message)
	default:
		return "pipeline: " + f.Message
	}
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// listArtifacts returns every regular file below dir, sorted. A missing
// directory yields no artifacts.
func listArtifacts(dir string) ([]string, error) {
	var files []string

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == dir {
				return filepath.SkipDir
			}

			return err
		}

		if d.Type().IsRegular() {
			files = append(files, path)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline: listing artifacts in %s: %w", dir, err)
	}

	sort.Strings(files)

	return files, nil
}

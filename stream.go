// Copyright (c) 2024 the authors
// Use of this source code is governed by a MIT license found in the LICENSE file.

package concierge

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
)

// StreamHandler receives the events of one streamed run in the order the
// provider emits them. Implementations decide the presentation;
// ConsoleHandler is the ready-made terminal one.
type StreamHandler interface {
	// OnTextCreated fires once per response message, before its first delta.
	OnTextCreated()
	// OnTextDelta fires for each text fragment.
	OnTextDelta(delta string)
	// OnTextDone fires with the complete raw text of the message.
	OnTextDone(text string)
	// OnToolCallCreated fires when the run starts a tool call.
	OnToolCallCreated(call ToolCall)
	// OnToolCallDelta fires for each tool call fragment.
	OnToolCallDelta(delta ToolCallDelta)
	// OnMessageDone fires after the message completes, with citations
	// resolved and the text rewritten to reference them.
	OnMessageDone(message Completed)
}

// ToolOutputProvider supplies outputs for tool calls that no registered
// function tool can serve. A StreamHandler may implement it to take over
// unresolved calls; otherwise such calls are answered with an error output
// so the run can finish.
type ToolOutputProvider interface {
	ProvideToolOutputs(ctx context.Context, calls []ToolCall) ([]ToolOutput, error)
}

// ToolCall describes one tool invocation requested by a run.
type ToolCall struct {
	ID        string
	Type      string
	Name      string
	Arguments string
}

// ToolCallDelta is an incremental fragment of a tool call.
type ToolCallDelta struct {
	Index     int
	Type      string
	Arguments string
}

// ToolOutput answers one tool call.
type ToolOutput struct {
	ToolCallID string
	Output     string
}

// Citation is one file reference found in a completed message.
type Citation struct {
	Index    int
	FileID   string
	Filename string
}

// Completed is the final form of one response message. Text has each
// citation marker rewritten to its bracketed index.
type Completed struct {
	ID        string
	Role      Role
	Text      string
	Citations []Citation
}

// rewriteAnnotations replaces each citation marker in text with a bracketed
// index and returns the citations in order of first appearance. Repeated
// markers reuse the index of their first appearance. The filenames are left
// for the caller to resolve.
func rewriteAnnotations(text string, annotations []annotationData) (string, []Citation) {
	var citations []Citation
	indexes := make(map[string]int)
	for _, annotation := range annotations {
		if annotation.Type != "file_citation" || annotation.Text == "" {
			continue
		}
		index, seen := indexes[annotation.Text]
		if !seen {
			index = len(citations)
			indexes[annotation.Text] = index
			citations = append(citations, Citation{Index: index, FileID: annotation.FileCitation.FileID})
		}
		text = strings.ReplaceAll(text, annotation.Text, fmt.Sprintf("[%d]", index))
	}

	return text, citations
}

// ConsoleHandler writes a streamed run to a terminal: a "Name > " prefix,
// the raw text deltas as they arrive, a note per tool call, and a final
// sources line when the message cites files.
type ConsoleHandler struct {
	// Name prefixes the response. Empty means no prefix.
	Name string
	// Out receives the output. Nil means os.Stdout.
	Out io.Writer
}

func (c ConsoleHandler) out() io.Writer {
	if c.Out != nil {
		return c.Out
	}

	return os.Stdout
}

func (c ConsoleHandler) OnTextCreated() {
	if c.Name != "" {
		fmt.Fprintf(c.out(), "%s > ", c.Name)
	}
}

func (c ConsoleHandler) OnTextDelta(delta string) {
	fmt.Fprint(c.out(), delta)
}

func (c ConsoleHandler) OnTextDone(string) {
	fmt.Fprintln(c.out())
}

func (c ConsoleHandler) OnToolCallCreated(call ToolCall) {
	name := call.Type
	if call.Name != "" {
		name = call.Name
	}
	fmt.Fprintf(c.out(), "Using the %s tool.\n", strings.ReplaceAll(name, "_", " "))
}

func (c ConsoleHandler) OnToolCallDelta(ToolCallDelta) {}

func (c ConsoleHandler) OnMessageDone(message Completed) {
	if len(message.Citations) == 0 {
		return
	}

	var sources strings.Builder
	sources.WriteString("Sources: ")
	for i, citation := range message.Citations {
		if i > 0 {
			sources.WriteString(", ")
		}
		name := citation.Filename
		if name == "" {
			name = citation.FileID
		}
		fmt.Fprintf(&sources, "[%d] %s", citation.Index, name)
	}
	fmt.Fprintln(c.out(), sources.String())
}

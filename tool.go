// Copyright (c) 2024 the authors
// Use of this source code is governed by a MIT license found in the LICENSE file.

package concierge

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"

	"github.com/conciergekit/concierge/internal/embedded"
)

// Tool is a capability the assistant may use during a run.
type Tool interface {
	embedded.Tool

	payload() (toolPayload, error)
}

// FileSearch augments the assistant with knowledge from files attached to
// its vector store. It is always part of the tool set.
type FileSearch struct {
	embedded.BuiltInTool
}

func (FileSearch) payload() (toolPayload, error) {
	return toolPayload{Type: "file_search"}, nil
}

// CodeInterpreter allows the assistant to write and run code in the
// provider's sandboxed execution environment.
type CodeInterpreter struct {
	embedded.BuiltInTool
}

func (CodeInterpreter) payload() (toolPayload, error) {
	return toolPayload{Type: "code_interpreter"}, nil
}

// Function describes a [function tool] to the hosted API and carries the Go
// function executed when the assistant requests it. A must be a struct; its
// JSON schema is generated by reflection, honoring json and jsonschema tags.
//
// [function tool]: https://platform.openai.com/docs/assistants/tools/function-calling
type Function[A, R any] struct {
	embedded.Tool

	// The name of the function. Must be a-z, A-Z, 0-9, or contain
	// underscores and dashes, with a maximum length of 64.
	Name string
	// A description of what the function does, used by the model to choose
	// when and how to call it.
	Description string
	// The function executed when the assistant requests this tool.
	Fn func(ctx context.Context, argument A) (R, error)
}

func (f Function[A, R]) payload() (toolPayload, error) {
	reflector := jsonschema.Reflector{Anonymous: true, DoNotReference: true}
	var argument A
	schema := reflector.Reflect(&argument)

	return toolPayload{
		Type: "function",
		Function: &functionPayload{
			Name:        f.Name,
			Description: f.Description,
			Parameters:  schema,
		},
	}, nil
}

func (f Function[A, R]) id() string {
	return f.Name
}

// call unmarshals the provider-supplied argument JSON, executes the
// function, and marshals the result as the tool output.
func (f Function[A, R]) call(ctx context.Context, argument string) (string, error) {
	var a A
	if err := json.Unmarshal([]byte(argument), &a); err != nil {
		return "", fmt.Errorf("unmarshal function call arguments: %w", err)
	}

	result, err := f.Fn(ctx, a)
	if err != nil {
		return "", fmt.Errorf("call function %s: %w", f.Name, err)
	}

	if text, ok := any(result).(string); ok {
		return text, nil
	}
	output, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("marshal function call result: %w", err)
	}

	return string(output), nil
}

// callable is the run-time view of a function tool.
type callable interface {
	id() string
	call(ctx context.Context, argument string) (string, error)
}

type (
	toolPayload struct {
		Type     string           `json:"type"`
		Function *functionPayload `json:"function,omitempty"`
	}
	functionPayload struct {
		Name        string             `json:"name"`
		Description string             `json:"description,omitempty"`
		Parameters  *jsonschema.Schema `json:"parameters,omitempty"`
	}
)

// toolPayloads converts the tool set to its wire form, ensuring a
// file_search tool is always present.
func toolPayloads(tools []Tool) ([]toolPayload, error) {
	payloads := make([]toolPayload, 0, len(tools)+1)
	hasFileSearch := false
	for _, t := range tools {
		payload, err := t.payload()
		if err != nil {
			return nil, err
		}
		if payload.Type == "file_search" {
			hasFileSearch = true
		}
		payloads = append(payloads, payload)
	}
	if !hasFileSearch {
		payloads = append(payloads, toolPayload{Type: "file_search"})
	}

	return payloads, nil
}

// callables indexes the function tools of the tool set by name.
func callables(tools []Tool) map[string]callable {
	functions := make(map[string]callable)
	for _, t := range tools {
		if call, ok := t.(callable); ok {
			functions[call.id()] = call
		}
	}

	return functions
}

// Copyright (c) 2024 the authors
// Use of this source code is governed by a MIT license found in the LICENSE file.

package concierge

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/conciergekit/concierge/client"
)

type (
	runRequest struct {
		AssistantID         string  `json:"assistant_id"`
		Stream              bool    `json:"stream"`
		Temperature         float32 `json:"temperature"`
		TopP                float32 `json:"top_p"`
		MaxPromptTokens     int     `json:"max_prompt_tokens"`
		MaxCompletionTokens int     `json:"max_completion_tokens"`
	}
	runObject struct {
		ID        string `json:"id"`
		ThreadID  string `json:"thread_id"`
		Status    string `json:"status"`
		LastError *struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"last_error"`
		RequiredAction struct {
			SubmitToolOutputs struct {
				ToolCalls []toolCallData `json:"tool_calls"`
			} `json:"submit_tool_outputs"`
		} `json:"required_action"`
	}
	toolCallData struct {
		ID       string `json:"id"`
		Type     string `json:"type"`
		Function struct {
			Name      string `json:"name"`
			Arguments string `json:"arguments"`
		} `json:"function"`
	}
	toolOutputsRequest struct {
		ToolOutputs []toolOutputData `json:"tool_outputs"`
		Stream      bool             `json:"stream"`
	}
	toolOutputData struct {
		ToolCallID string `json:"tool_call_id"`
		Output     string `json:"output"`
	}
)

// newRunRequest assembles a run body from the assistant defaults.
func (a *Assistant) newRunRequest(stream bool) runRequest {
	return runRequest{
		AssistantID:         a.id,
		Stream:              stream,
		Temperature:         a.temperature,
		TopP:                a.topP,
		MaxPromptTokens:     a.maxPrompt,
		MaxCompletionTokens: a.maxCompletion,
	}
}

// StreamResponse runs the assistant against the thread registered under
// alias and streams the run events into handler. Tool calls matching a
// registered function tool are executed and their outputs re-submitted
// within the same call, so handler observes the entire exchange up to the
// final message.
func (a *Assistant) StreamResponse(ctx context.Context, alias string, handler StreamHandler) error {
	const op = "run.stream"

	if a.id == "" {
		return validationError(op, "assistant is deleted")
	}
	threadID, exists := a.threads[alias]
	if !exists {
		return validationError(op, "unknown thread %q", alias)
	}

	dispatcher := &dispatcher{
		client:    a.client,
		handler:   handler,
		functions: callables(a.tools),
		stream:    make(chan func() error, 1),
	}
	request := a.newRunRequest(true)
	dispatcher.stream <- func() error {
		return a.client.Stream(ctx, "/threads/"+threadID+"/runs", request, dispatcher.handle)
	}

	if err := dispatcher.run(); err != nil {
		return remoteError(op, err)
	}

	return nil
}

// dispatcher routes wire events to the StreamHandler callbacks. Streams
// opened by tool output submissions are queued and drained in order, so one
// logical run is a sequence of physical streams.
type dispatcher struct {
	client    client.Client
	handler   StreamHandler
	functions map[string]callable
	stream    chan func() error
}

func (d *dispatcher) run() error {
	for {
		select {
		case next := <-d.stream:
			if err := next(); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

//nolint:cyclop
func (d *dispatcher) handle(ctx context.Context, event client.Event) error {
	switch event.Type {
	case "thread.message.created":
		d.handler.OnTextCreated()
	case "thread.message.delta":
		return d.handleMessageDelta(event.Data)
	case "thread.message.completed":
		return d.handleMessageCompleted(ctx, event.Data)
	case "thread.run.step.delta":
		return d.handleStepDelta(event.Data)
	case "thread.run.requires_action":
		return d.handleRequiresAction(ctx, event.Data)
	case "thread.run.failed", "thread.run.expired", "thread.run.cancelled":
		var run runObject
		if err := json.Unmarshal(event.Data, &run); err != nil {
			return fmt.Errorf("unmarshal run: %w", err)
		}
		if run.LastError != nil {
			return fmt.Errorf("run %s: [%s] %s", run.Status, run.LastError.Code, run.LastError.Message) //nolint:err113
		}

		return fmt.Errorf("run %s", run.Status) //nolint:err113
	}

	return nil
}

func (d *dispatcher) handleMessageDelta(data []byte) error {
	delta := struct {
		Delta struct {
			Content []struct {
				Type string `json:"type"`
				Text struct {
					Value string `json:"value"`
				} `json:"text"`
			} `json:"content"`
		} `json:"delta"`
	}{}
	if err := json.Unmarshal(data, &delta); err != nil {
		return fmt.Errorf("unmarshal message delta: %w", err)
	}
	for _, content := range delta.Delta.Content {
		if content.Type == "text" {
			d.handler.OnTextDelta(content.Text.Value)
		}
	}

	return nil
}

func (d *dispatcher) handleMessageCompleted(ctx context.Context, data []byte) error {
	var message messageObject
	if err := json.Unmarshal(data, &message); err != nil {
		return fmt.Errorf("unmarshal message: %w", err)
	}
	d.handler.OnTextDone(message.text())

	text, citations := rewriteAnnotations(message.text(), message.annotations())
	for i := range citations {
		citations[i].Filename = d.filename(ctx, citations[i].FileID)
	}
	d.handler.OnMessageDone(Completed{
		ID:        message.ID,
		Role:      message.Role,
		Text:      text,
		Citations: citations,
	})

	return nil
}

// filename resolves a file ID to its original name, falling back to the ID
// when the lookup fails.
func (d *dispatcher) filename(ctx context.Context, fileID string) string {
	var file struct {
		Filename string `json:"filename"`
	}
	if err := d.client.Get(ctx, "/files/"+fileID, &file); err != nil {
		return fileID
	}

	return file.Filename
}

func (d *dispatcher) handleStepDelta(data []byte) error {
	step := struct {
		Delta struct {
			StepDetails struct {
				Type      string `json:"type"`
				ToolCalls []struct {
					Index    int    `json:"index"`
					ID       string `json:"id"`
					Type     string `json:"type"`
					Function struct {
						Name      string `json:"name"`
						Arguments string `json:"arguments"`
					} `json:"function"`
				} `json:"tool_calls"`
			} `json:"step_details"`
		} `json:"delta"`
	}{}
	if err := json.Unmarshal(data, &step); err != nil {
		return fmt.Errorf("unmarshal step delta: %w", err)
	}
	for _, call := range step.Delta.StepDetails.ToolCalls {
		if call.ID != "" {
			d.handler.OnToolCallCreated(ToolCall{
				ID:        call.ID,
				Type:      call.Type,
				Name:      call.Function.Name,
				Arguments: call.Function.Arguments,
			})

			continue
		}
		d.handler.OnToolCallDelta(ToolCallDelta{
			Index:     call.Index,
			Type:      call.Type,
			Arguments: call.Function.Arguments,
		})
	}

	return nil
}

func (d *dispatcher) handleRequiresAction(ctx context.Context, data []byte) error {
	var run runObject
	if err := json.Unmarshal(data, &run); err != nil {
		return fmt.Errorf("unmarshal action: %w", err)
	}

	outputs, err := d.resolveToolOutputs(ctx, run.RequiredAction.SubmitToolOutputs.ToolCalls)
	if err != nil {
		return err
	}

	request := toolOutputsRequest{ToolOutputs: outputs, Stream: true}
	next := func() error {
		return d.client.Stream(ctx,
			"/threads/"+run.ThreadID+"/runs/"+run.ID+"/submit_tool_outputs",
			request, d.handle,
		)
	}
	// The queue holds at most the one follow-up stream a physical stream may
	// hand over. A second requires_action before the queued stream ran means
	// the server misbehaves; blocking on the send would deadlock run.
	select {
	case d.stream <- next:
	default:
		return fmt.Errorf("run %s requires action twice in one stream", run.ID) //nolint:err113
	}

	return nil
}

// resolveToolOutputs answers every requested tool call: registered function
// tools run directly, the rest go to the handler's ToolOutputProvider when
// it has one, and anything still unanswered gets an error output so the run
// can finish instead of expiring.
func (d *dispatcher) resolveToolOutputs(ctx context.Context, calls []toolCallData) ([]toolOutputData, error) {
	outputs := make([]toolOutputData, 0, len(calls))
	var unresolved []ToolCall
	for _, call := range calls {
		function := d.functions[call.Function.Name]
		if call.Type != "function" || function == nil {
			unresolved = append(unresolved, ToolCall{
				ID:        call.ID,
				Type:      call.Type,
				Name:      call.Function.Name,
				Arguments: call.Function.Arguments,
			})

			continue
		}

		output, err := function.call(ctx, call.Function.Arguments)
		if err != nil {
			output = fmt.Sprintf(`{"error": %q}`, err.Error())
		}
		outputs = append(outputs, toolOutputData{ToolCallID: call.ID, Output: output})
	}

	if len(unresolved) == 0 {
		return outputs, nil
	}

	if provider, ok := d.handler.(ToolOutputProvider); ok {
		provided, err := provider.ProvideToolOutputs(ctx, unresolved)
		if err != nil {
			return nil, fmt.Errorf("provide tool outputs: %w", err)
		}
		for _, output := range provided {
			outputs = append(outputs, toolOutputData{ToolCallID: output.ToolCallID, Output: output.Output})
		}

		return outputs, nil
	}

	for _, call := range unresolved {
		outputs = append(outputs, toolOutputData{
			ToolCallID: call.ID,
			Output:     fmt.Sprintf(`{"error": "no tool named %q"}`, call.Name),
		})
	}

	return outputs, nil
}

// Response runs the assistant against the thread registered under alias
// without streaming and returns the text of the response messages, newest
// first. Function tool calls are served the same way StreamResponse serves
// them, but no handler observes the intermediate events.
func (a *Assistant) Response(ctx context.Context, alias string) ([]string, error) {
	const op = "run.response"

	if a.id == "" {
		return nil, validationError(op, "assistant is deleted")
	}
	threadID, exists := a.threads[alias]
	if !exists {
		return nil, validationError(op, "unknown thread %q", alias)
	}

	var run runObject
	if err := a.client.Post(ctx, "/threads/"+threadID+"/runs", a.newRunRequest(false), &run); err != nil {
		return nil, remoteError(op, err)
	}

	functions := callables(a.tools)
	for {
		switch run.Status {
		case "completed":
			return a.responseTexts(ctx, threadID, op)
		case "requires_action":
			dispatcher := &dispatcher{client: a.client, functions: functions}
			outputs, err := dispatcher.resolveToolOutputs(ctx, run.RequiredAction.SubmitToolOutputs.ToolCalls)
			if err != nil {
				return nil, remoteError(op, err)
			}
			request := toolOutputsRequest{ToolOutputs: outputs}
			path := "/threads/" + threadID + "/runs/" + run.ID + "/submit_tool_outputs"
			if err := a.client.Post(ctx, path, request, &run); err != nil {
				return nil, remoteError(op, err)
			}
		case "failed", "expired", "cancelled":
			if run.LastError != nil {
				return nil, &Error{Kind: KindRemote, Op: op, Err: fmt.Errorf("run %s: [%s] %s", run.Status, run.LastError.Code, run.LastError.Message)} //nolint:err113
			}

			return nil, &Error{Kind: KindRemote, Op: op, Err: fmt.Errorf("run %s", run.Status)} //nolint:err113
		default:
			if err := sleep(ctx, a.poll); err != nil {
				return nil, remoteError(op, err)
			}
			if err := a.client.Get(ctx, "/threads/"+threadID+"/runs/"+run.ID, &run); err != nil {
				return nil, remoteError(op, err)
			}
		}
	}
}

// responseTexts lists the thread messages and returns the texts of the
// leading assistant messages, newest first.
func (a *Assistant) responseTexts(ctx context.Context, threadID, op string) ([]string, error) {
	var list struct {
		Data []messageObject `json:"data"`
	}
	if err := a.client.Get(ctx, "/threads/"+threadID+"/messages", &list); err != nil {
		return nil, remoteError(op, err)
	}

	var texts []string
	for _, message := range list.Data {
		if message.Role != RoleAssistant {
			break
		}
		texts = append(texts, message.text())
	}

	return texts, nil
}

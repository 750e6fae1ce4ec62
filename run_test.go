// Copyright (c) 2024 the authors
// Use of this source code is governed by a MIT license found in the LICENSE file.

package concierge_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/conciergekit/concierge"
	"github.com/conciergekit/concierge/internal/assert"
)

// recordingHandler records every callback in arrival order.
type recordingHandler struct {
	calls     []string
	completed concierge.Completed
}

func (r *recordingHandler) OnTextCreated() {
	r.calls = append(r.calls, "created")
}

func (r *recordingHandler) OnTextDelta(delta string) {
	r.calls = append(r.calls, "delta:"+delta)
}

func (r *recordingHandler) OnTextDone(text string) {
	r.calls = append(r.calls, "done:"+text)
}

func (r *recordingHandler) OnToolCallCreated(call concierge.ToolCall) {
	r.calls = append(r.calls, "tool:"+call.Type)
}

func (r *recordingHandler) OnToolCallDelta(delta concierge.ToolCallDelta) {
	r.calls = append(r.calls, "tooldelta:"+delta.Arguments)
}

func (r *recordingHandler) OnMessageDone(message concierge.Completed) {
	r.completed = message
	r.calls = append(r.calls, "message")
}

func TestAssistant_StreamResponse(t *testing.T) {
	events := "event: thread.run.created\ndata: {\"id\": \"run-1\"}\n\n" +
		"event: thread.run.step.delta\ndata: {\"delta\": {\"step_details\": {\"type\": \"tool_calls\", " +
		"\"tool_calls\": [{\"index\": 0, \"id\": \"call-1\", \"type\": \"file_search\"}]}}}\n\n" +
		"event: thread.message.created\ndata: {\"id\": \"msg-1\"}\n\n" +
		"event: thread.message.delta\ndata: {\"delta\": {\"content\": [{\"type\": \"text\", " +
		"\"text\": {\"value\": \"See \"}}]}}\n\n" +
		"event: thread.message.delta\ndata: {\"delta\": {\"content\": [{\"type\": \"text\", " +
		"\"text\": {\"value\": \"【4:0†source】\"}}]}}\n\n" +
		"event: thread.message.completed\ndata: {\"id\": \"msg-1\", \"role\": \"assistant\", " +
		"\"content\": [{\"type\": \"text\", \"text\": {\"value\": \"See 【4:0†source】\", " +
		"\"annotations\": [{\"type\": \"file_citation\", \"text\": \"【4:0†source】\", " +
		"\"file_citation\": {\"file_id\": \"file-1\"}}]}}]}\n\n" +
		"event: done\ndata: [DONE]\n\n"

	assistant := newAssistant(t, func(req *http.Request) (*http.Response, error) {
		switch {
		case req.Method == "POST" && req.URL.Path == "/v1/threads":
			return jsonResponse(http.StatusOK, `{"id": "thread-1"}`), nil
		case req.Method == "POST" && req.URL.Path == "/v1/threads/thread-1/runs":
			var run struct {
				AssistantID string `json:"assistant_id"`
				Stream      bool   `json:"stream"`
			}
			assert.NoError(t, json.NewDecoder(req.Body).Decode(&run))
			assert.Equal(t, "asst-1", run.AssistantID)
			assert.True(t, run.Stream)

			return sseResponse(events), nil
		case req.Method == "GET" && req.URL.Path == "/v1/files/file-1":
			return jsonResponse(http.StatusOK, `{"id": "file-1", "filename": "report.txt"}`), nil
		default:
			t.Errorf("unexpected request: %s %s", req.Method, req.URL.Path)

			return jsonResponse(http.StatusNotFound, ``), nil
		}
	})

	_, err := assistant.CreateThread(context.Background(), "chat")
	assert.NoError(t, err)

	handler := &recordingHandler{}
	assert.NoError(t, assistant.StreamResponse(context.Background(), "chat", handler))

	assert.Equal(t, []string{
		"tool:file_search",
		"created",
		"delta:See ",
		"delta:【4:0†source】",
		"done:See 【4:0†source】",
		"message",
	}, handler.calls)
	assert.Equal(t, concierge.Completed{
		ID:   "msg-1",
		Role: concierge.RoleAssistant,
		Text: "See [0]",
		Citations: []concierge.Citation{
			{Index: 0, FileID: "file-1", Filename: "report.txt"},
		},
	}, handler.completed)
}

func TestAssistant_StreamResponse_functionCall(t *testing.T) {
	type location struct {
		City string `json:"city"`
	}
	weather := concierge.Function[location, string]{
		Name: "get_weather",
		Fn: func(_ context.Context, l location) (string, error) {
			return "Sunny in " + l.City, nil
		},
	}

	action := "event: thread.run.requires_action\ndata: {\"id\": \"run-1\", \"thread_id\": \"thread-1\", " +
		"\"required_action\": {\"submit_tool_outputs\": {\"tool_calls\": [{\"id\": \"call-1\", " +
		"\"type\": \"function\", \"function\": {\"name\": \"get_weather\", " +
		"\"arguments\": \"{\\\"city\\\": \\\"Paris\\\"}\"}}]}}}\n\n"
	final := "event: thread.message.created\ndata: {\"id\": \"msg-1\"}\n\n" +
		"event: thread.message.delta\ndata: {\"delta\": {\"content\": [{\"type\": \"text\", " +
		"\"text\": {\"value\": \"Sunny.\"}}]}}\n\n" +
		"event: thread.message.completed\ndata: {\"id\": \"msg-1\", \"role\": \"assistant\", " +
		"\"content\": [{\"type\": \"text\", \"text\": {\"value\": \"Sunny.\", \"annotations\": []}}]}\n\n"

	var outputs struct {
		ToolOutputs []struct {
			ToolCallID string `json:"tool_call_id"`
			Output     string `json:"output"`
		} `json:"tool_outputs"`
		Stream bool `json:"stream"`
	}
	assistant := newAssistant(t, func(req *http.Request) (*http.Response, error) {
		switch {
		case req.Method == "POST" && req.URL.Path == "/v1/threads":
			return jsonResponse(http.StatusOK, `{"id": "thread-1"}`), nil
		case req.Method == "POST" && req.URL.Path == "/v1/threads/thread-1/runs":
			return sseResponse(action), nil
		case req.Method == "POST" && req.URL.Path == "/v1/threads/thread-1/runs/run-1/submit_tool_outputs":
			assert.NoError(t, json.NewDecoder(req.Body).Decode(&outputs))

			return sseResponse(final), nil
		default:
			t.Errorf("unexpected request: %s %s", req.Method, req.URL.Path)

			return jsonResponse(http.StatusNotFound, ``), nil
		}
	}, withTools(weather))

	_, err := assistant.CreateThread(context.Background(), "chat")
	assert.NoError(t, err)

	handler := &recordingHandler{}
	assert.NoError(t, assistant.StreamResponse(context.Background(), "chat", handler))

	assert.Equal(t, 1, len(outputs.ToolOutputs))
	assert.Equal(t, "call-1", outputs.ToolOutputs[0].ToolCallID)
	assert.Equal(t, "Sunny in Paris", outputs.ToolOutputs[0].Output)
	assert.True(t, outputs.Stream)

	assert.Equal(t, []string{"created", "delta:Sunny.", "done:Sunny.", "message"}, handler.calls)
}

// providingHandler serves unresolved tool calls itself.
type providingHandler struct {
	recordingHandler

	provided []concierge.ToolCall
}

func (p *providingHandler) ProvideToolOutputs(_ context.Context, calls []concierge.ToolCall) ([]concierge.ToolOutput, error) {
	p.provided = calls
	outputs := make([]concierge.ToolOutput, 0, len(calls))
	for _, call := range calls {
		outputs = append(outputs, concierge.ToolOutput{ToolCallID: call.ID, Output: "handled"})
	}

	return outputs, nil
}

func TestAssistant_StreamResponse_toolOutputProvider(t *testing.T) {
	action := "event: thread.run.requires_action\ndata: {\"id\": \"run-1\", \"thread_id\": \"thread-1\", " +
		"\"required_action\": {\"submit_tool_outputs\": {\"tool_calls\": [{\"id\": \"call-1\", " +
		"\"type\": \"function\", \"function\": {\"name\": \"unknown_tool\", \"arguments\": \"{}\"}}]}}}\n\n"
	final := "event: thread.message.completed\ndata: {\"id\": \"msg-1\", \"role\": \"assistant\", " +
		"\"content\": [{\"type\": \"text\", \"text\": {\"value\": \"Done.\", \"annotations\": []}}]}\n\n"

	var outputs struct {
		ToolOutputs []struct {
			ToolCallID string `json:"tool_call_id"`
			Output     string `json:"output"`
		} `json:"tool_outputs"`
	}
	assistant := newAssistant(t, func(req *http.Request) (*http.Response, error) {
		switch {
		case req.Method == "POST" && req.URL.Path == "/v1/threads":
			return jsonResponse(http.StatusOK, `{"id": "thread-1"}`), nil
		case req.Method == "POST" && req.URL.Path == "/v1/threads/thread-1/runs":
			return sseResponse(action), nil
		case req.Method == "POST" && req.URL.Path == "/v1/threads/thread-1/runs/run-1/submit_tool_outputs":
			assert.NoError(t, json.NewDecoder(req.Body).Decode(&outputs))

			return sseResponse(final), nil
		default:
			t.Errorf("unexpected request: %s %s", req.Method, req.URL.Path)

			return jsonResponse(http.StatusNotFound, ``), nil
		}
	})

	_, err := assistant.CreateThread(context.Background(), "chat")
	assert.NoError(t, err)

	handler := &providingHandler{}
	assert.NoError(t, assistant.StreamResponse(context.Background(), "chat", handler))

	assert.Equal(t, 1, len(handler.provided))
	assert.Equal(t, "unknown_tool", handler.provided[0].Name)
	assert.Equal(t, "handled", outputs.ToolOutputs[0].Output)
}

func TestAssistant_StreamResponse_repeatedRequiresAction(t *testing.T) {
	action := "event: thread.run.requires_action\ndata: {\"id\": \"run-1\", \"thread_id\": \"thread-1\", " +
		"\"required_action\": {\"submit_tool_outputs\": {\"tool_calls\": [{\"id\": \"call-1\", " +
		"\"type\": \"function\", \"function\": {\"name\": \"unknown_tool\", \"arguments\": \"{}\"}}]}}}\n\n"

	assistant := newAssistant(t, func(req *http.Request) (*http.Response, error) {
		switch {
		case req.Method == "POST" && req.URL.Path == "/v1/threads":
			return jsonResponse(http.StatusOK, `{"id": "thread-1"}`), nil
		case req.Method == "POST" && req.URL.Path == "/v1/threads/thread-1/runs":
			// A valid run hands over at most one follow-up stream; two
			// requires_action events in one stream must fail instead of
			// blocking forever.
			return sseResponse(action + action), nil
		default:
			t.Errorf("unexpected request: %s %s", req.Method, req.URL.Path)

			return jsonResponse(http.StatusNotFound, ``), nil
		}
	})

	_, err := assistant.CreateThread(context.Background(), "chat")
	assert.NoError(t, err)

	err = assistant.StreamResponse(context.Background(), "chat", &recordingHandler{})
	assert.Equal(t, concierge.KindRemote, concierge.KindOf(err))
	assert.EqualError(t, err,
		"run.stream: remote: handle stream event: run run-1 requires action twice in one stream",
	)
}

func TestAssistant_StreamResponse_runFailed(t *testing.T) {
	events := "event: thread.run.failed\ndata: {\"id\": \"run-1\", \"status\": \"failed\", " +
		"\"last_error\": {\"code\": \"rate_limit_exceeded\", \"message\": \"Too many requests\"}}\n\n"

	assistant := newAssistant(t, func(req *http.Request) (*http.Response, error) {
		switch {
		case req.Method == "POST" && req.URL.Path == "/v1/threads":
			return jsonResponse(http.StatusOK, `{"id": "thread-1"}`), nil
		case req.Method == "POST" && req.URL.Path == "/v1/threads/thread-1/runs":
			return sseResponse(events), nil
		default:
			t.Errorf("unexpected request: %s %s", req.Method, req.URL.Path)

			return jsonResponse(http.StatusNotFound, ``), nil
		}
	})

	_, err := assistant.CreateThread(context.Background(), "chat")
	assert.NoError(t, err)

	err = assistant.StreamResponse(context.Background(), "chat", &recordingHandler{})
	assert.Equal(t, concierge.KindRemote, concierge.KindOf(err))
}

func TestAssistant_Response(t *testing.T) {
	type location struct {
		City string `json:"city"`
	}
	weather := concierge.Function[location, string]{
		Name: "get_weather",
		Fn: func(_ context.Context, l location) (string, error) {
			return "Sunny in " + l.City, nil
		},
	}

	var statusPolls int
	assistant := newAssistant(t, func(req *http.Request) (*http.Response, error) {
		switch {
		case req.Method == "POST" && req.URL.Path == "/v1/threads":
			return jsonResponse(http.StatusOK, `{"id": "thread-1"}`), nil
		case req.Method == "POST" && req.URL.Path == "/v1/threads/thread-1/runs":
			return jsonResponse(http.StatusOK, `{"id": "run-1", "status": "queued"}`), nil
		case req.Method == "GET" && req.URL.Path == "/v1/threads/thread-1/runs/run-1":
			statusPolls++
			if statusPolls == 1 {
				return jsonResponse(http.StatusOK,
					`{"id": "run-1", "status": "requires_action", "required_action": `+
						`{"submit_tool_outputs": {"tool_calls": [{"id": "call-1", "type": "function", `+
						`"function": {"name": "get_weather", "arguments": "{\"city\": \"Paris\"}"}}]}}}`,
				), nil
			}

			return jsonResponse(http.StatusOK, `{"id": "run-1", "status": "completed"}`), nil
		case req.Method == "POST" && req.URL.Path == "/v1/threads/thread-1/runs/run-1/submit_tool_outputs":
			var outputs struct {
				ToolOutputs []struct {
					Output string `json:"output"`
				} `json:"tool_outputs"`
			}
			assert.NoError(t, json.NewDecoder(req.Body).Decode(&outputs))
			assert.Equal(t, "Sunny in Paris", outputs.ToolOutputs[0].Output)

			return jsonResponse(http.StatusOK, `{"id": "run-1", "status": "in_progress"}`), nil
		case req.Method == "GET" && req.URL.Path == "/v1/threads/thread-1/messages":
			return jsonResponse(http.StatusOK, fmt.Sprintf(`{"data": [%s, %s, %s]}`,
				`{"id": "msg-3", "role": "assistant", "content": [{"type": "text", "text": {"value": "Second"}}]}`,
				`{"id": "msg-2", "role": "assistant", "content": [{"type": "text", "text": {"value": "First"}}]}`,
				`{"id": "msg-1", "role": "user", "content": [{"type": "text", "text": {"value": "Question"}}]}`,
			)), nil
		default:
			t.Errorf("unexpected request: %s %s", req.Method, req.URL.Path)

			return jsonResponse(http.StatusNotFound, ``), nil
		}
	}, withTools(weather))

	_, err := assistant.CreateThread(context.Background(), "chat")
	assert.NoError(t, err)

	texts, err := assistant.Response(context.Background(), "chat")
	assert.NoError(t, err)
	assert.Equal(t, []string{"Second", "First"}, texts)
}

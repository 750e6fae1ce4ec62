// Copyright (c) 2024 the authors
// Use of this source code is governed by a MIT license found in the LICENSE file.

package concierge_test

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/conciergekit/concierge"
	"github.com/conciergekit/concierge/internal/assert"
)

type messageBody struct {
	Role        string `json:"role"`
	Content     string `json:"content"`
	Attachments []struct {
		FileID string `json:"file_id"`
		Tools  []struct {
			Type string `json:"type"`
		} `json:"tools"`
	} `json:"attachments"`
}

func TestAssistant_SendMessage(t *testing.T) {
	var sent messageBody
	assistant := newAssistant(t, func(req *http.Request) (*http.Response, error) {
		switch {
		case req.Method == "POST" && req.URL.Path == "/v1/threads":
			return jsonResponse(http.StatusOK, `{"id": "thread-1"}`), nil
		case req.Method == "POST" && req.URL.Path == "/v1/threads/thread-1/messages":
			assert.NoError(t, json.NewDecoder(req.Body).Decode(&sent))

			return jsonResponse(http.StatusOK, `{"id": "msg-1", "role": "user"}`), nil
		default:
			t.Errorf("unexpected request: %s %s", req.Method, req.URL.Path)

			return jsonResponse(http.StatusNotFound, ``), nil
		}
	})

	_, err := assistant.CreateThread(context.Background(), "chat")
	assert.NoError(t, err)

	message, err := assistant.SendMessage(context.Background(), "chat", "Hello!")
	assert.NoError(t, err)
	assert.Equal(t, concierge.Message{ID: "msg-1", Role: concierge.RoleUser, Text: "Hello!"}, message)
	assert.Equal(t, "user", sent.Role)
	assert.Equal(t, "Hello!", sent.Content)
	assert.Equal(t, 0, len(sent.Attachments))

	_, err = assistant.SendMessage(context.Background(), "other", "Hello!")
	assert.EqualError(t, err, `message.send: validation: unknown thread "other"`)
}

func TestAssistant_SendMessage_attachmentID(t *testing.T) {
	var sent messageBody
	assistant := newAssistant(t, func(req *http.Request) (*http.Response, error) {
		switch {
		case req.Method == "POST" && req.URL.Path == "/v1/threads":
			return jsonResponse(http.StatusOK, `{"id": "thread-1"}`), nil
		case req.Method == "POST" && req.URL.Path == "/v1/threads/thread-1/messages":
			assert.NoError(t, json.NewDecoder(req.Body).Decode(&sent))

			return jsonResponse(http.StatusOK, `{"id": "msg-1", "role": "user"}`), nil
		default:
			t.Errorf("unexpected request: %s %s", req.Method, req.URL.Path)

			return jsonResponse(http.StatusNotFound, ``), nil
		}
	})

	_, err := assistant.CreateThread(context.Background(), "chat")
	assert.NoError(t, err)

	message, err := assistant.SendMessage(context.Background(), "chat", "Summarize this.",
		concierge.WithAttachmentID("file-9"),
	)
	assert.NoError(t, err)
	assert.Equal(t, "file-9", message.FileID)

	assert.Equal(t, 1, len(sent.Attachments))
	assert.Equal(t, "file-9", sent.Attachments[0].FileID)
	assert.Equal(t, "file_search", sent.Attachments[0].Tools[0].Type)
}

func TestAssistant_SendMessage_attachmentPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	assert.NoError(t, os.WriteFile(path, []byte("hello"), 0o600))

	var sent messageBody
	assistant := newAssistant(t, func(req *http.Request) (*http.Response, error) {
		switch {
		case req.Method == "POST" && req.URL.Path == "/v1/threads":
			return jsonResponse(http.StatusOK, `{"id": "thread-1"}`), nil
		case req.Method == "POST" && req.URL.Path == "/v1/files":
			return jsonResponse(http.StatusOK, `{"id": "file-1"}`), nil
		case req.Method == "POST" && req.URL.Path == "/v1/vector_stores/vs-1/files":
			return jsonResponse(http.StatusOK, `{"id": "vsf-1", "status": "completed"}`), nil
		case req.Method == "POST" && req.URL.Path == "/v1/threads/thread-1/messages":
			assert.NoError(t, json.NewDecoder(req.Body).Decode(&sent))

			return jsonResponse(http.StatusOK, `{"id": "msg-1", "role": "user"}`), nil
		default:
			t.Errorf("unexpected request: %s %s", req.Method, req.URL.Path)

			return jsonResponse(http.StatusNotFound, ``), nil
		}
	})

	_, err := assistant.CreateThread(context.Background(), "chat")
	assert.NoError(t, err)

	message, err := assistant.SendMessage(context.Background(), "chat", "Summarize this.",
		concierge.WithAttachmentPath(path),
	)
	assert.NoError(t, err)
	assert.Equal(t, "file-1", message.FileID)
	assert.Equal(t, "file-1", sent.Attachments[0].FileID)
	// The uploaded file also lands in the vector store.
	assert.Equal(t, map[string]string{"notes.txt": "file-1"}, assistant.Store().Files())
}

func TestAssistant_SendMessage_bothAttachments(t *testing.T) {
	assistant := newAssistant(t, func(req *http.Request) (*http.Response, error) {
		if req.Method == "POST" && req.URL.Path == "/v1/threads" {
			return jsonResponse(http.StatusOK, `{"id": "thread-1"}`), nil
		}
		t.Errorf("unexpected request: %s %s", req.Method, req.URL.Path)

		return jsonResponse(http.StatusNotFound, ``), nil
	})

	_, err := assistant.CreateThread(context.Background(), "chat")
	assert.NoError(t, err)

	_, err = assistant.SendMessage(context.Background(), "chat", "Summarize this.",
		concierge.WithAttachmentID("file-9"),
		concierge.WithAttachmentPath("notes.txt"),
	)
	assert.EqualError(t, err, "message.send: validation: at most one attachment per message")
}

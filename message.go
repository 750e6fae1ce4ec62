// Copyright (c) 2024 the authors
// Use of this source code is governed by a MIT license found in the LICENSE file.

package concierge

import (
	"context"
	"path/filepath"
)

// Role identifies who authored a message.
type Role string

// The roles a message can carry.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one message on a thread.
type Message struct {
	ID     string
	Role   Role
	Text   string
	FileID string
}

// MessageOption customizes a message before it is sent.
type MessageOption func(*messageOptions)

type messageOptions struct {
	attachmentID   string
	attachmentPath string
}

// WithAttachmentID attaches an already-uploaded file to the message.
func WithAttachmentID(fileID string) MessageOption {
	return func(o *messageOptions) {
		o.attachmentID = fileID
	}
}

// WithAttachmentPath uploads the local file at path, adds it to the vector
// store under its base name, and attaches it to the message.
func WithAttachmentPath(path string) MessageOption {
	return func(o *messageOptions) {
		o.attachmentPath = path
	}
}

type (
	attachment struct {
		FileID string        `json:"file_id"`
		Tools  []toolPayload `json:"tools"`
	}
	messageRequest struct {
		Role        Role         `json:"role"`
		Content     string       `json:"content"`
		Attachments []attachment `json:"attachments,omitempty"`
	}
	messageObject struct {
		ID      string `json:"id"`
		Role    Role   `json:"role"`
		Content []struct {
			Type string `json:"type"`
			Text struct {
				Value       string           `json:"value"`
				Annotations []annotationData `json:"annotations"`
			} `json:"text"`
		} `json:"content"`
	}
	annotationData struct {
		Type         string `json:"type"`
		Text         string `json:"text"`
		FileCitation struct {
			FileID string `json:"file_id"`
		} `json:"file_citation"`
	}
)

// text concatenates the text parts of the message.
func (m messageObject) text() string {
	var text string
	for _, content := range m.Content {
		if content.Type == "text" {
			text += content.Text.Value
		}
	}

	return text
}

// annotations collects the annotations of every text part of the message.
func (m messageObject) annotations() []annotationData {
	var annotations []annotationData
	for _, content := range m.Content {
		if content.Type == "text" {
			annotations = append(annotations, content.Text.Annotations...)
		}
	}

	return annotations
}

// SendMessage appends a user message to the thread registered under alias.
// At most one attachment option may be given: WithAttachmentID references an
// already-uploaded file, WithAttachmentPath uploads a local file into the
// vector store first. The returned message carries the attached file ID, if
// any.
func (a *Assistant) SendMessage(ctx context.Context, alias, text string, opts ...MessageOption) (Message, error) {
	const op = "message.send"

	threadID, exists := a.threads[alias]
	if !exists {
		return Message{}, validationError(op, "unknown thread %q", alias)
	}

	var options messageOptions
	for _, opt := range opts {
		opt(&options)
	}
	if options.attachmentID != "" && options.attachmentPath != "" {
		return Message{}, validationError(op, "at most one attachment per message")
	}

	fileID := options.attachmentID
	if options.attachmentPath != "" {
		path := options.attachmentPath
		id, err := a.store.AttachFileByPath(ctx, filepath.Base(path), path)
		if err != nil {
			return Message{}, err
		}
		fileID = id
	}

	request := messageRequest{Role: RoleUser, Content: text}
	if fileID != "" {
		request.Attachments = []attachment{
			{FileID: fileID, Tools: []toolPayload{{Type: "file_search"}}},
		}
	}

	var object messageObject
	if err := a.client.Post(ctx, "/threads/"+threadID+"/messages", request, &object); err != nil {
		return Message{}, remoteError(op, err)
	}

	return Message{ID: object.ID, Role: object.Role, Text: text, FileID: fileID}, nil
}

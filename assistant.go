// Copyright (c) 2024 the authors
// Use of this source code is governed by a MIT license found in the LICENSE file.

// Package concierge is a thin convenience layer over the hosted assistants
// API. It keeps the identifiers of the remote objects it manages in local
// maps, substitutes sensible defaults for omitted parameters, and adapts the
// streaming wire events into a small callback interface.
//
// All local bookkeeping lives in process memory. Deleting an Assistant tears
// down the remote objects it owns; merely dropping the value leaks them on
// the provider side until their lifetime expires.
package concierge

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/conciergekit/concierge/client"
)

// Assistant owns one remote assistant, one vector store backing its file
// search tool, and a set of named conversation threads.
//
// An Assistant is not safe for concurrent use, with the exception of
// AttachFiles which parallelizes its own uploads internally.
type Assistant struct {
	client client.Client

	id            string
	name          string
	instructions  string
	model         string
	temperature   float32
	topP          float32
	maxPrompt     int
	maxCompletion int

	tools   []Tool
	store   *VectorStore
	threads map[string]string

	threadPolicy ThreadPolicy
	deleteFiles  bool
	poll         time.Duration

	adopted bool
}

type (
	toolResources struct {
		FileSearch struct {
			VectorStoreIDs []string `json:"vector_store_ids"`
		} `json:"file_search"`
	}
	assistantRequest struct {
		Model         string         `json:"model"`
		Name          string         `json:"name"`
		Instructions  string         `json:"instructions"`
		Tools         []toolPayload  `json:"tools"`
		ToolResources *toolResources `json:"tool_resources,omitempty"`
		Temperature   float32        `json:"temperature"`
		TopP          float32        `json:"top_p"`
	}
	assistantObject struct {
		ID           string  `json:"id"`
		Name         string  `json:"name"`
		Instructions string  `json:"instructions"`
		Model        string  `json:"model"`
		Temperature  float32 `json:"temperature"`
		TopP         float32 `json:"top_p"`
		CreatedAt    int64   `json:"created_at"`
	}
)

// New constructs an Assistant from cfg. With cfg.ID set it adopts the
// existing remote assistant and re-pushes the configured parameters to it;
// otherwise it creates a fresh one. Either way a vector store is created
// (or adopted via cfg.Store.ID) and linked through the file search tool,
// which is always part of the tool set.
func New(ctx context.Context, cl client.Client, cfg Config) (*Assistant, error) {
	const op = "assistant.new"

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	store, err := NewVectorStore(ctx, cl, cfg.Store)
	if err != nil {
		return nil, err
	}

	assistant := &Assistant{
		client:        cl,
		name:          cfg.Name,
		instructions:  cfg.Instructions,
		model:         cfg.Model,
		temperature:   *cfg.Temperature,
		topP:          *cfg.TopP,
		maxPrompt:     cfg.MaxPromptTokens,
		maxCompletion: cfg.MaxCompletionTokens,
		tools:         cfg.Tools,
		store:         store,
		threads:       make(map[string]string),
		threadPolicy:  cfg.ThreadPolicy,
		deleteFiles:   cfg.DeleteFiles,
		poll:          cfg.PollInterval,
	}
	if assistant.poll == 0 {
		assistant.poll = defaultPollInterval
	}

	request, err := assistant.request()
	if err != nil {
		return nil, validationError(op, "invalid tool set: %v", err)
	}

	if cfg.ID != "" {
		var object assistantObject
		switch err := cl.Get(ctx, "/assistants/"+cfg.ID, &object); {
		case err == nil:
			assistant.id = object.ID
			assistant.adopted = true
			// The configured parameters win over whatever the adopted
			// assistant had before.
			if err := cl.Post(ctx, "/assistants/"+assistant.id, request, &object); err != nil {
				return nil, remoteError(op, err)
			}

			return assistant, nil
		case KindOf(remoteError(op, err)) != KindNotFound:
			return nil, remoteError(op, err)
		}
	}

	var object assistantObject
	if err := cl.Post(ctx, "/assistants", request, &object); err != nil {
		return nil, remoteError(op, err)
	}
	assistant.id = object.ID

	return assistant, nil
}

// request assembles the full assistant body from the local state.
func (a *Assistant) request() (assistantRequest, error) {
	payloads, err := toolPayloads(a.tools)
	if err != nil {
		return assistantRequest{}, err
	}

	request := assistantRequest{
		Model:        a.model,
		Name:         a.name,
		Instructions: a.instructions,
		Tools:        payloads,
		Temperature:  a.temperature,
		TopP:         a.topP,
	}
	if a.store != nil && a.store.ID() != "" {
		resources := &toolResources{}
		resources.FileSearch.VectorStoreIDs = []string{a.store.ID()}
		request.ToolResources = resources
	}

	return request, nil
}

// ID returns the remote assistant ID, or empty after Delete.
func (a *Assistant) ID() string {
	return a.id
}

// Name returns the assistant display name.
func (a *Assistant) Name() string {
	return a.name
}

// Adopted reports whether the assistant was adopted by ID rather than
// created by this process.
func (a *Assistant) Adopted() bool {
	return a.adopted
}

// Store returns the vector store backing the file search tool.
func (a *Assistant) Store() *VectorStore {
	return a.store
}

// update pushes the full local state to the remote assistant.
func (a *Assistant) update(ctx context.Context, op string) error {
	if a.id == "" {
		return validationError(op, "assistant is deleted")
	}
	request, err := a.request()
	if err != nil {
		return validationError(op, "invalid tool set: %v", err)
	}

	var object assistantObject
	if err := a.client.Post(ctx, "/assistants/"+a.id, request, &object); err != nil {
		return remoteError(op, err)
	}

	return nil
}

// AssistantUpdate names the assistant fields Update can change. Zero
// values keep the current values.
type AssistantUpdate struct {
	Name         string
	Instructions string
	Model        string
}

// Update changes the given fields on the assistant. Zero values keep the
// current values; the provider always receives the full field set.
func (a *Assistant) Update(ctx context.Context, update AssistantUpdate) error {
	if update.Name != "" {
		a.name = update.Name
	}
	if update.Instructions != "" {
		a.instructions = update.Instructions
	}
	if update.Model != "" {
		a.model = update.Model
	}

	return a.update(ctx, "assistant.update")
}

// UpdateName renames the assistant.
func (a *Assistant) UpdateName(ctx context.Context, name string) error {
	return a.Update(ctx, AssistantUpdate{Name: name})
}

// UpdateInstructions replaces the assistant system instructions.
func (a *Assistant) UpdateInstructions(ctx context.Context, instructions string) error {
	return a.Update(ctx, AssistantUpdate{Instructions: instructions})
}

// UpdateModel switches the assistant to another model.
func (a *Assistant) UpdateModel(ctx context.Context, model string) error {
	return a.Update(ctx, AssistantUpdate{Model: model})
}

// UpdateToolSet replaces the assistant tool set. The file search tool is
// kept in the set regardless of whether tools contains it.
func (a *Assistant) UpdateToolSet(ctx context.Context, tools []Tool) error {
	previous := a.tools
	a.tools = tools
	if err := a.update(ctx, "assistant.update"); err != nil {
		a.tools = previous

		return err
	}

	return nil
}

// AttachResult reports the outcome of attaching one file.
type AttachResult struct {
	Path   string
	FileID string
	Err    error
}

// maxConcurrentUploads caps the parallel file uploads of AttachFiles.
const maxConcurrentUploads = 4

// AttachFiles uploads the local files at paths and attaches them to the
// vector store under their base names. Uploads run concurrently; results
// come back in input order, each position carrying either a file ID or the
// error for that path.
func (a *Assistant) AttachFiles(ctx context.Context, paths []string) []AttachResult {
	results := make([]AttachResult, len(paths))

	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(maxConcurrentUploads)
	for i, path := range paths {
		i, path := i, path
		results[i].Path = path
		group.Go(func() error {
			fileID, err := a.uploadFile(ctx, path)
			results[i].FileID, results[i].Err = fileID, err

			return nil //nolint:nilerr // Per-path failures are reported positionally.
		})
	}
	_ = group.Wait()

	// The store alias map is not safe for concurrent writes, so attach
	// sequentially after the uploads settle.
	for i := range results {
		if results[i].Err != nil {
			continue
		}
		name := filepath.Base(results[i].Path)
		if err := a.store.AttachFile(ctx, name, results[i].FileID); err != nil {
			results[i].Err = err
			results[i].FileID = ""
		}
	}

	return results
}

// uploadFile uploads a single local file and returns its remote ID.
func (a *Assistant) uploadFile(ctx context.Context, path string) (string, error) {
	const op = "assistant.attach"

	file, err := os.Open(path)
	if err != nil {
		return "", validationError(op, "file not found: %s", path)
	}
	defer func() {
		_ = file.Close()
	}()

	fileID, err := a.client.UploadFile(ctx, filepath.Base(path), filePurpose, file)
	if err != nil {
		return "", remoteError(op, err)
	}

	return fileID, nil
}

// Delete tears down the assistant and the remote objects it owns: the
// vector store (and, when configured, its uploaded files), the threads when
// the thread policy says so, and finally the assistant itself. It keeps
// going after individual failures and reports them together as a partial
// failure. A second Delete returns ErrAlreadyDeleted.
func (a *Assistant) Delete(ctx context.Context) error {
	const op = "assistant.delete"

	if a.id == "" {
		return ErrAlreadyDeleted
	}

	partial := &PartialError{Failed: make(map[string]error)}

	if a.store != nil && a.store.ID() != "" {
		storeID := a.store.ID()
		switch err := a.store.Delete(ctx, a.deleteFiles); {
		case err == nil:
			partial.Deleted = append(partial.Deleted, "vector store "+storeID)
		case KindOf(err) == KindPartial:
			var inner *PartialError
			if errors.As(err, &inner) {
				partial.Deleted = append(partial.Deleted, inner.Deleted...)
				for name, failure := range inner.Failed {
					partial.Failed[name] = failure
				}
			}
		default:
			partial.Failed["vector store "+storeID] = err
		}
	}

	if a.threadPolicy == DeleteThreads {
		for _, alias := range a.threadAliases() {
			var deleted deletedObject
			if err := a.client.Delete(ctx, "/threads/"+a.threads[alias], &deleted); err != nil {
				partial.Failed["thread "+alias] = err

				continue
			}
			partial.Deleted = append(partial.Deleted, "thread "+alias)
		}
	}
	a.threads = make(map[string]string)

	var deleted deletedObject
	if err := a.client.Delete(ctx, "/assistants/"+a.id, &deleted); err != nil {
		partial.Failed["assistant "+a.id] = err

		return partialError(op, partial)
	}
	partial.Deleted = append(partial.Deleted, "assistant "+a.id)
	a.id = ""

	if len(partial.Failed) > 0 {
		return partialError(op, partial)
	}

	return nil
}

// AssistantAttributes is a snapshot of the full local assistant state.
type AssistantAttributes struct {
	ID                  string
	Name                string
	Instructions        string
	Model               string
	Temperature         float32
	TopP                float32
	MaxPromptTokens     int
	MaxCompletionTokens int
	Tools               []Tool
	VectorStoreID       string
	Threads             map[string]string
}

// Attributes returns a snapshot of the local assistant state. The remote
// objects may have drifted if they were edited out-of-band; Update pushes
// the local state back.
func (a *Assistant) Attributes() AssistantAttributes {
	attributes := AssistantAttributes{
		ID:                  a.id,
		Name:                a.name,
		Instructions:        a.instructions,
		Model:               a.model,
		Temperature:         a.temperature,
		TopP:                a.topP,
		MaxPromptTokens:     a.maxPrompt,
		MaxCompletionTokens: a.maxCompletion,
		Tools:               append([]Tool(nil), a.tools...),
		Threads:             a.Threads(),
	}
	if a.store != nil {
		attributes.VectorStoreID = a.store.ID()
	}

	return attributes
}

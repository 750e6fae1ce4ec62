// Copyright (c) 2024 the authors
// Use of this source code is governed by a MIT license found in the LICENSE file.

package concierge

import (
	"context"
	"sort"

	"github.com/google/uuid"
)

// Thread names one remote conversation thread by its local alias.
type Thread struct {
	Alias string
	ID    string
}

// CreateThread creates a remote thread and registers it under alias. An
// empty alias gets a generated one. The alias must not already be in use.
func (a *Assistant) CreateThread(ctx context.Context, alias string) (Thread, error) {
	const op = "thread.create"

	if a.id == "" {
		return Thread{}, validationError(op, "assistant is deleted")
	}
	if alias == "" {
		alias = uuid.NewString()
	}
	if _, exists := a.threads[alias]; exists {
		return Thread{}, validationError(op, "thread %q already exists", alias)
	}

	var object struct {
		ID string `json:"id"`
	}
	if err := a.client.Post(ctx, "/threads", struct{}{}, &object); err != nil {
		return Thread{}, remoteError(op, err)
	}
	a.threads[alias] = object.ID

	return Thread{Alias: alias, ID: object.ID}, nil
}

// DeleteThread deletes the remote thread registered under alias and forgets
// the alias.
func (a *Assistant) DeleteThread(ctx context.Context, alias string) error {
	const op = "thread.delete"

	threadID, exists := a.threads[alias]
	if !exists {
		return validationError(op, "unknown thread %q", alias)
	}

	var deleted deletedObject
	if err := a.client.Delete(ctx, "/threads/"+threadID, &deleted); err != nil {
		return remoteError(op, err)
	}
	delete(a.threads, alias)

	return nil
}

// RenameThread moves the thread registered under alias to newAlias. Only
// the local alias changes; the remote thread is untouched.
func (a *Assistant) RenameThread(alias, newAlias string) error {
	const op = "thread.rename"

	threadID, exists := a.threads[alias]
	if !exists {
		return validationError(op, "unknown thread %q", alias)
	}
	if newAlias == "" {
		return validationError(op, "new thread name must not be empty")
	}
	if _, exists := a.threads[newAlias]; exists {
		return validationError(op, "thread %q already exists", newAlias)
	}

	delete(a.threads, alias)
	a.threads[newAlias] = threadID

	return nil
}

// ThreadID returns the remote ID of the thread registered under alias.
func (a *Assistant) ThreadID(alias string) (string, error) {
	threadID, exists := a.threads[alias]
	if !exists {
		return "", validationError("thread.id", "unknown thread %q", alias)
	}

	return threadID, nil
}

// Threads returns a copy of the alias to remote thread ID mapping.
func (a *Assistant) Threads() map[string]string {
	threads := make(map[string]string, len(a.threads))
	for alias, id := range a.threads {
		threads[alias] = id
	}

	return threads
}

// LinkVectorStore attaches the assistant vector store to the thread
// registered under alias, so file search on that thread also covers
// thread-scoped lookups.
func (a *Assistant) LinkVectorStore(ctx context.Context, alias string) error {
	const op = "thread.link"

	threadID, exists := a.threads[alias]
	if !exists {
		return validationError(op, "unknown thread %q", alias)
	}
	if a.store == nil || a.store.ID() == "" {
		return validationError(op, "no vector store to link")
	}

	resources := &toolResources{}
	resources.FileSearch.VectorStoreIDs = []string{a.store.ID()}
	request := struct {
		ToolResources *toolResources `json:"tool_resources"`
	}{ToolResources: resources}

	var object struct {
		ID string `json:"id"`
	}
	if err := a.client.Post(ctx, "/threads/"+threadID, request, &object); err != nil {
		return remoteError(op, err)
	}

	return nil
}

// threadAliases returns the thread aliases in deterministic order.
func (a *Assistant) threadAliases() []string {
	aliases := make([]string, 0, len(a.threads))
	for alias := range a.threads {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)

	return aliases
}

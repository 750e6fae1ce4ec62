// Copyright (c) 2024 the authors
// Use of this source code is governed by a MIT license found in the LICENSE file.

package concierge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/conciergekit/concierge/client"
)

// VectorStore wraps one server-side [file search index]. It tracks a local
// mapping of logical file names to remote file IDs; the mapping is the only
// local state and is lost when the process exits.
//
// A VectorStore is not safe for concurrent use.
//
// [file search index]: https://platform.openai.com/docs/api-reference/vector-stores
type VectorStore struct {
	client client.Client

	id    string
	name  string
	days  int
	files map[string]string
	poll  time.Duration
}

// expiration anchor required by the provider.
const expirationAnchor = "last_active_at"

type (
	expiresAfter struct {
		Anchor string `json:"anchor"`
		Days   int    `json:"days"`
	}
	storeRequest struct {
		Name         string       `json:"name"`
		ExpiresAfter expiresAfter `json:"expires_after"`
	}
	storeObject struct {
		ID           string `json:"id"`
		Name         string `json:"name"`
		Status       string `json:"status"`
		CreatedAt    int64  `json:"created_at"`
		UsageBytes   int64  `json:"usage_bytes"`
		ExpiresAfter struct {
			Days int `json:"days"`
		} `json:"expires_after"`
		FileCounts struct {
			Total int `json:"total"`
		} `json:"file_counts"`
	}
	deletedObject struct {
		ID      string `json:"id"`
		Deleted bool   `json:"deleted"`
	}
)

// NewVectorStore creates a new vector store, or adopts the existing one
// named by cfg.ID (adopting also refreshes the local name and lifetime from
// the remote object).
func NewVectorStore(ctx context.Context, cl client.Client, cfg StoreConfig) (*VectorStore, error) {
	if cfg.Name == "" {
		cfg.Name = "Vector Store"
	}
	if cfg.LifetimeDays == 0 {
		cfg.LifetimeDays = DefaultStoreLifetimeDays
	}

	if cfg.PollInterval == 0 {
		cfg.PollInterval = defaultPollInterval
	}

	store := &VectorStore{
		client: cl,
		name:   cfg.Name,
		days:   cfg.LifetimeDays,
		files:  make(map[string]string),
		poll:   cfg.PollInterval,
	}

	if cfg.ID != "" {
		var object storeObject
		if err := cl.Get(ctx, "/vector_stores/"+cfg.ID, &object); err != nil {
			return nil, remoteError("vectorstore.retrieve", err)
		}
		store.id = object.ID
		store.name = object.Name
		store.days = object.ExpiresAfter.Days

		return store, nil
	}

	var object storeObject
	request := storeRequest{
		Name:         store.name,
		ExpiresAfter: expiresAfter{Anchor: expirationAnchor, Days: store.days},
	}
	if err := cl.Post(ctx, "/vector_stores", request, &object); err != nil {
		return nil, remoteError("vectorstore.create", err)
	}
	store.id = object.ID

	return store, nil
}

// ID returns the remote vector store ID, or empty after Delete.
func (v *VectorStore) ID() string {
	return v.id
}

// Name returns the vector store display name.
func (v *VectorStore) Name() string {
	return v.name
}

// Files returns a copy of the logical name to remote file ID mapping.
func (v *VectorStore) Files() map[string]string {
	files := make(map[string]string, len(v.files))
	for name, id := range v.files {
		files[name] = id
	}

	return files
}

// Update renames the vector store and/or changes its lifetime. Zero values
// leave the previous values unchanged; the provider always receives the
// full field set.
func (v *VectorStore) Update(ctx context.Context, name string, lifetimeDays int) error {
	if v.id == "" {
		return validationError("vectorstore.update", "vector store is deleted")
	}
	if name != "" {
		v.name = name
	}
	if lifetimeDays > 0 {
		v.days = lifetimeDays
	}

	var object storeObject
	request := storeRequest{
		Name:         v.name,
		ExpiresAfter: expiresAfter{Anchor: expirationAnchor, Days: v.days},
	}
	if err := v.client.Post(ctx, "/vector_stores/"+v.id, request, &object); err != nil {
		return remoteError("vectorstore.update", err)
	}

	return nil
}

// AttachFile attaches an already-uploaded file under the given logical name
// and polls the attachment until the index finishes processing it.
func (v *VectorStore) AttachFile(ctx context.Context, name, fileID string) error {
	const op = "vectorstore.attach"

	if v.id == "" {
		return validationError(op, "vector store is deleted")
	}
	if _, exists := v.files[name]; exists {
		return validationError(op, "file name %q already exists", name)
	}

	var attached struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	request := struct {
		FileID string `json:"file_id"`
	}{FileID: fileID}
	if err := v.client.Post(ctx, "/vector_stores/"+v.id+"/files", request, &attached); err != nil {
		return remoteError(op, err)
	}

	for attached.Status == "in_progress" {
		if err := sleep(ctx, v.poll); err != nil {
			return remoteError(op, err)
		}
		if err := v.client.Get(ctx, "/vector_stores/"+v.id+"/files/"+attached.ID, &attached); err != nil {
			return remoteError(op, err)
		}
	}
	if attached.Status != "completed" {
		return &Error{Kind: KindRemote, Op: op, Err: fmt.Errorf("attachment ended with status %s", attached.Status)} //nolint:err113
	}

	v.files[name] = fileID

	return nil
}

// AttachFileByPath uploads the local file at path and attaches it under the
// given logical name. It returns the remote file ID.
func (v *VectorStore) AttachFileByPath(ctx context.Context, name, path string) (string, error) {
	const op = "vectorstore.attach"

	// Reject before uploading: a rejected attach after the upload would
	// orphan the remote file object without handing its ID to the caller.
	if v.id == "" {
		return "", validationError(op, "vector store is deleted")
	}
	if _, exists := v.files[name]; exists {
		return "", validationError(op, "file name %q already exists", name)
	}
	if _, err := os.Stat(path); err != nil {
		return "", validationError(op, "file not found: %s", path)
	}
	file, err := os.Open(path)
	if err != nil {
		return "", validationError(op, "open %s: %v", path, err)
	}
	defer func() {
		_ = file.Close()
	}()

	fileID, err := v.client.UploadFile(ctx, filepath.Base(path), filePurpose, file)
	if err != nil {
		return "", remoteError(op, err)
	}
	if err := v.AttachFile(ctx, name, fileID); err != nil {
		return "", err
	}

	return fileID, nil
}

// RemoveFile detaches the file with the given logical name from the vector
// store and forgets the local alias. The uploaded file object stays alive.
func (v *VectorStore) RemoveFile(ctx context.Context, name string) error {
	const op = "vectorstore.remove"

	fileID, exists := v.files[name]
	if !exists {
		return validationError(op, "unknown file name %q", name)
	}

	var deleted deletedObject
	if err := v.client.Delete(ctx, "/vector_stores/"+v.id+"/files/"+fileID, &deleted); err != nil {
		return remoteError(op, err)
	}
	if !deleted.Deleted {
		return &Error{Kind: KindRemote, Op: op, Err: fmt.Errorf("provider did not confirm detaching %q", name)} //nolint:err113
	}
	delete(v.files, name)

	return nil
}

// RemoveAllFiles detaches every tracked file. It keeps going after
// individual failures and reports them together as a partial failure.
func (v *VectorStore) RemoveAllFiles(ctx context.Context) error {
	partial := &PartialError{Failed: make(map[string]error)}
	for _, name := range v.fileNames() {
		if err := v.RemoveFile(ctx, name); err != nil {
			partial.Failed[name] = err

			continue
		}
		partial.Deleted = append(partial.Deleted, name)
	}
	if len(partial.Failed) > 0 {
		return partialError("vectorstore.remove", partial)
	}

	return nil
}

// Delete deletes the vector store. With deleteFiles set it first deletes
// every tracked uploaded file object; failures there do not stop the store
// deletion but are reported as a partial failure. A second Delete returns
// ErrAlreadyDeleted.
func (v *VectorStore) Delete(ctx context.Context, deleteFiles bool) error {
	const op = "vectorstore.delete"

	if v.id == "" {
		return ErrAlreadyDeleted
	}

	partial := &PartialError{Failed: make(map[string]error)}
	if deleteFiles {
		for _, name := range v.fileNames() {
			var deleted deletedObject
			if err := v.client.Delete(ctx, "/files/"+v.files[name], &deleted); err != nil {
				partial.Failed[name] = err

				continue
			}
			partial.Deleted = append(partial.Deleted, name)
			delete(v.files, name)
		}
	}

	var deleted deletedObject
	if err := v.client.Delete(ctx, "/vector_stores/"+v.id, &deleted); err != nil {
		if len(partial.Failed) > 0 {
			partial.Failed["vector store "+v.id] = err

			return partialError(op, partial)
		}

		return remoteError(op, err)
	}

	v.id = ""
	v.files = make(map[string]string)
	if len(partial.Failed) > 0 {
		return partialError(op, partial)
	}

	return nil
}

// StoreAttributes is a snapshot of the remote vector store state.
type StoreAttributes struct {
	ID         string
	Name       string
	Status     string
	CreatedAt  int64
	Days       int
	FileCount  int
	UsageBytes int64
}

// Attributes retrieves a fresh snapshot of the vector store from the
// provider.
func (v *VectorStore) Attributes(ctx context.Context) (StoreAttributes, error) {
	if v.id == "" {
		return StoreAttributes{}, validationError("vectorstore.attributes", "vector store is deleted")
	}

	var object storeObject
	if err := v.client.Get(ctx, "/vector_stores/"+v.id, &object); err != nil {
		return StoreAttributes{}, remoteError("vectorstore.attributes", err)
	}

	return StoreAttributes{
		ID:         object.ID,
		Name:       object.Name,
		Status:     object.Status,
		CreatedAt:  object.CreatedAt,
		Days:       object.ExpiresAfter.Days,
		FileCount:  object.FileCounts.Total,
		UsageBytes: object.UsageBytes,
	}, nil
}

// fileNames returns the logical names in deterministic order.
func (v *VectorStore) fileNames() []string {
	names := make([]string, 0, len(v.files))
	for name := range v.files {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// sleep waits for the given duration unless ctx ends first.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

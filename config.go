// Copyright (c) 2024 the authors
// Use of this source code is governed by a MIT license found in the LICENSE file.

package concierge

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// Defaults substituted for zero-valued Config fields.
const (
	DefaultName                = "Assistant"
	DefaultInstructions        = "You are a simple chat bot."
	DefaultModel               = "gpt-4o-mini"
	DefaultTemperature         = float32(1.0)
	DefaultTopP                = float32(1.0)
	DefaultMaxPromptTokens     = 10000
	DefaultMaxCompletionTokens = 10000
	DefaultStoreLifetimeDays   = 1

	defaultPollInterval = time.Second
	filePurpose         = "assistants"
)

// ThreadPolicy decides what Assistant.Delete does with the threads the
// assistant tracks locally.
type ThreadPolicy uint8

const (
	// ForgetThreads clears the local alias map but leaves the remote
	// threads alive. This is the default.
	ForgetThreads ThreadPolicy = iota
	// DeleteThreads also deletes the remote threads.
	DeleteThreads
)

// Config carries the full local parameter set of an assistant. It is read
// once at construction time; there are no mutable package-level defaults.
//
// Zero-valued fields fall back to the Default* constants above.
type Config struct {
	// ID adopts an existing remote assistant. The local parameter set is
	// pushed to the remote object right after a successful retrieve, so the
	// remote state always mirrors this Config.
	ID string

	Name         string `validate:"max=256"`
	Instructions string
	Model        string

	// Temperature and TopP are pointers so an explicit 0 stays
	// distinguishable from unset. Float32 builds one in place.
	Temperature *float32 `validate:"omitempty,gte=0,lte=2"`
	TopP        *float32 `validate:"omitempty,gte=0,lte=1"`

	MaxPromptTokens     int `validate:"omitempty,gte=256"`
	MaxCompletionTokens int `validate:"omitempty,gte=16"`

	// Tools the assistant may call. A file_search tool is always ensured.
	Tools []Tool

	// Store configures the vector store owned by the assistant.
	Store StoreConfig

	// ThreadPolicy decides whether Delete removes remote threads or merely
	// forgets the local aliases.
	ThreadPolicy ThreadPolicy
	// DeleteFiles cascades Delete to the files attached to the owned
	// vector store.
	DeleteFiles bool

	// PollInterval is the wait between run status polls in Response.
	PollInterval time.Duration `validate:"omitempty,gte=1ms"`
}

// StoreConfig carries the parameters of a vector store.
//
// With ID set the remote store is retrieved and adopted; otherwise a new
// store is created with Name and LifetimeDays.
type StoreConfig struct {
	ID           string
	Name         string `validate:"max=256"`
	LifetimeDays int    `validate:"omitempty,gte=1"`

	// PollInterval is the wait between attachment status polls.
	PollInterval time.Duration `validate:"omitempty,gte=1ms"`
}

// Float32 returns a pointer to v, for the Config sampling fields.
func Float32(v float32) *float32 {
	return &v
}

func (c Config) validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(c); err != nil {
		return &Error{Kind: KindValidation, Op: "concierge.New", Err: err}
	}

	return nil
}

// withDefaults returns a copy of c with zero-valued fields substituted.
func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = DefaultName
	}
	if c.Instructions == "" {
		c.Instructions = DefaultInstructions
	}
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.Temperature == nil {
		c.Temperature = Float32(DefaultTemperature)
	}
	if c.TopP == nil {
		c.TopP = Float32(DefaultTopP)
	}
	if c.MaxPromptTokens == 0 {
		c.MaxPromptTokens = DefaultMaxPromptTokens
	}
	if c.MaxCompletionTokens == 0 {
		c.MaxCompletionTokens = DefaultMaxCompletionTokens
	}
	if c.PollInterval == 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.Store.Name == "" {
		c.Store.Name = c.Name + " Vector Store"
	}
	if c.Store.LifetimeDays == 0 {
		c.Store.LifetimeDays = DefaultStoreLifetimeDays
	}
	if c.Store.PollInterval == 0 {
		c.Store.PollInterval = c.PollInterval
	}

	return c
}

// Copyright (c) 2024 the authors
// Use of this source code is governed by a MIT license found in the LICENSE file.

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"

	"github.com/conciergekit/concierge"
	"github.com/conciergekit/concierge/client"
)

// configureLogging takes a log level in string format and configures the
// sirupsen/logrus package. the provided log level string is case insensitive.
func configureLogging(level string) {
	switch strings.ToUpper(level) {
	case "DEBUG":
		log.SetLevel(log.DebugLevel)
	case "INFO":
		log.SetLevel(log.InfoLevel)
	case "WARN":
		log.SetLevel(log.WarnLevel)
	case "ERROR":
		log.SetLevel(log.ErrorLevel)
	default:
		log.SetLevel(log.InfoLevel)
	}
}

// ChatCommand runs an interactive chat session until the user types "exit".
func ChatCommand(ctx context.Context, cmd *cli.Command) error {
	configureLogging(cmd.String("log-level"))

	cfgPath := cmd.String("config-path")
	log.Debug(fmt.Sprintf("loading configuration from path %s", cfgPath))

	config, err := loadConfig(cfgPath)
	if err != nil {
		// Without a config file the API key can still come from the
		// environment, which the client picks up on its own.
		var notFound ConfigFileNotFoundError
		if !errors.As(err, &notFound) || os.Getenv("OPENAI_API_KEY") == "" {
			return cli.Exit("error loading config file", 1)
		}
		log.Debug("no config file, using OPENAI_API_KEY from environment")
	}

	var clientOptions []client.Option
	if config.APIKey != "" {
		clientOptions = append(clientOptions, client.WithAPIKey(config.APIKey))
	}
	cl := client.New(clientOptions...)

	assistantConfig := concierge.Config{
		ID:           firstOf(cmd.String("assistant-id"), config.AssistantID),
		Name:         firstOf(cmd.String("name"), config.Name),
		Instructions: firstOf(cmd.String("instructions"), config.Instructions),
		Model:        firstOf(cmd.String("model"), config.Model),
		DeleteFiles:  true,
	}

	indicator := spinner.New(spinner.CharSets[11], 100*time.Millisecond)
	indicator.Prefix = "Setting up assistant "
	indicator.Start()

	assistant, err := concierge.New(ctx, cl, assistantConfig)
	if err != nil {
		indicator.Stop()
		log.Debug(fmt.Sprintf("error setting up assistant: %+v", err))

		return cli.Exit("error setting up assistant", 1)
	}

	if files := cmd.StringSlice("file"); len(files) > 0 {
		indicator.Prefix = fmt.Sprintf("Attaching %d files ", len(files))
		failed := 0
		for _, result := range assistant.AttachFiles(ctx, files) {
			if result.Err != nil {
				log.Warn(fmt.Sprintf("attach %s: %+v", result.Path, result.Err))
				failed++
			}
		}
		if failed > 0 {
			indicator.Stop()

			return cli.Exit(fmt.Sprintf("failed to attach %d files", failed), 1)
		}
	}

	thread, err := assistant.CreateThread(ctx, "chat")
	indicator.Stop()
	if err != nil {
		log.Debug(fmt.Sprintf("error creating thread: %+v", err))

		return cli.Exit("error creating thread", 1)
	}
	log.Debug(fmt.Sprintf("created thread %s", thread.ID))

	chat(ctx, assistant, thread.Alias)

	if cmd.Bool("keep") || assistant.Adopted() {
		fmt.Printf("Keeping assistant %s.\n", assistant.ID())

		return nil
	}
	if err := assistant.Delete(ctx); err != nil {
		log.Warn(fmt.Sprintf("cleanup incomplete: %+v", err))
	}

	return nil
}

// chat reads user messages from stdin and streams the responses until the
// user types "exit" or stdin closes.
func chat(ctx context.Context, assistant *concierge.Assistant, alias string) {
	handler := &spinnerHandler{
		ConsoleHandler: concierge.ConsoleHandler{Name: assistant.Name()},
		spinner:        spinner.New(spinner.CharSets[11], 100*time.Millisecond),
	}

	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Print("You > ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.EqualFold(line, "exit") {
			return
		}

		if _, err := assistant.SendMessage(ctx, alias, line); err != nil {
			log.Error(fmt.Sprintf("send message: %+v", err))

			continue
		}

		handler.spinner.Prefix = "Thinking "
		handler.spinner.Start()
		if err := assistant.StreamResponse(ctx, alias, handler); err != nil {
			handler.spinner.Stop()
			log.Error(fmt.Sprintf("stream response: %+v", err))
		}
	}
}

// spinnerHandler shows a spinner until the run produces its first visible
// event, then hands over to the console handler.
type spinnerHandler struct {
	concierge.ConsoleHandler

	spinner *spinner.Spinner
}

func (s *spinnerHandler) OnTextCreated() {
	s.spinner.Stop()
	s.ConsoleHandler.OnTextCreated()
}

func (s *spinnerHandler) OnToolCallCreated(call concierge.ToolCall) {
	s.spinner.Stop()
	s.ConsoleHandler.OnToolCallCreated(call)
}

// firstOf returns the first non-empty value.
func firstOf(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}

	return ""
}

// Copyright (c) 2024 the authors
// Use of this source code is governed by a MIT license found in the LICENSE file.

// Command concierge is an interactive terminal chat against a hosted
// assistant. It creates (or adopts) the assistant on start, attaches the
// given files for file search, and tears everything down on exit unless
// told to keep it.
package main

import (
	"context"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"
)

func main() {
	cmd := cli.Command{
		Name:  "concierge",
		Usage: "Chat with a hosted assistant from the terminal",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "log-level",
				Value: "info",
				Usage: "log level for outputs",
			},
			&cli.StringFlag{
				Name:  "config-path",
				Value: getDefaultConfigPath(),
				Usage: "path to configuration file",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "chat",
				Usage: "Start an interactive chat session",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "assistant-id",
						Usage: "adopt an existing assistant instead of creating one",
					},
					&cli.StringFlag{
						Name:  "name",
						Usage: "assistant display name",
					},
					&cli.StringFlag{
						Name:  "instructions",
						Usage: "assistant system instructions",
					},
					&cli.StringFlag{
						Name:  "model",
						Usage: "model to run the assistant on",
					},
					&cli.StringSliceFlag{
						Name:  "file",
						Usage: "local file to attach for file search (repeatable)",
					},
					&cli.BoolFlag{
						Name:  "keep",
						Usage: "keep the assistant and its files after the session",
					},
				},
				Action: ChatCommand,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

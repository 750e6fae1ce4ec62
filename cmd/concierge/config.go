// Copyright (c) 2024 the authors
// Use of this source code is governed by a MIT license found in the LICENSE file.

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	log "github.com/sirupsen/logrus"
)

// Config is the on-disk configuration. Flags override its optional fields.
type Config struct {
	APIKey       string `json:"apiKey"       validate:"required"`
	Model        string `json:"model"`
	Name         string `json:"name"`
	Instructions string `json:"instructions"`
	AssistantID  string `json:"assistantId"`
}

type ConfigFileNotFoundError struct {
	Path string
}

func (e ConfigFileNotFoundError) Error() string {
	return fmt.Sprintf("cannot find config file at provided path %s", e.Path)
}

type InvalidConfigFileError struct {
	Path string
}

func (e InvalidConfigFileError) Error() string {
	return fmt.Sprintf("error loading config file at provided path %s", e.Path)
}

// loadConfig reads and validates the JSON configuration at path.
func loadConfig(path string) (Config, error) {
	var config Config

	stat, err := os.Stat(path)
	if err != nil {
		log.Debug(fmt.Sprintf("cannot find config file at path %s: %+v", path, err))

		return config, ConfigFileNotFoundError{Path: path}
	} else if stat.IsDir() {
		log.Debug(fmt.Sprintf("cannot load config %s: path is directory, expected file", path))

		return config, InvalidConfigFileError{Path: path}
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		log.Debug(fmt.Sprintf("error reading config file: %+v", err))

		return config, InvalidConfigFileError{Path: path}
	}

	if err := json.Unmarshal(contents, &config); err != nil {
		log.Debug(fmt.Sprintf("error decoding config file: %+v", err))

		return config, InvalidConfigFileError{Path: path}
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(config); err != nil {
		var errs validator.ValidationErrors
		if errors.As(err, &errs) {
			for _, err := range errs {
				log.Debug(fmt.Sprintf("config validation error: %+v", err))
			}
		}

		return config, InvalidConfigFileError{Path: path}
	}

	return config, nil
}

// getDefaultConfigPath returns ~/.concierge/config.json.
func getDefaultConfigPath() string {
	homeDir, _ := os.UserHomeDir()

	return filepath.Join(homeDir, ".concierge", "config.json")
}

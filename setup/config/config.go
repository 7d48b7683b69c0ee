// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

// Version is the current version of the config format.
// This will change whenever we make breaking changes to the config format.
const Version = 1

// Roomsync contains all the config used by a sync core instance.
type Roomsync struct {
	// The version of the configuration file.
	// If the version in a file doesn't match the current roomsync config
	// version then we can give a clear error message telling the user
	// to update their config file to the current version.
	Version int `yaml:"version"`

	SyncAPI SyncAPI `yaml:"sync_api"`

	Logging []LogrusHook `yaml:"logging"`
}

// LogrusHook represents a single logrus hook. At this point, only parsing and
// verification of the level is supported.
type LogrusHook struct {
	// The type of hook, currently only "std" is supported.
	Type string `yaml:"type"`

	// The level of the logs to produce. Will output only this level and above.
	Level string `yaml:"level"`
}

// ConfigErrors stores problems encountered when parsing a config file.
// It implements the error interface.
type ConfigErrors []string

// Load a yaml config file for a sync core instance.
// Relative paths are resolved relative to the current working directory.
func Load(configPath string) (*Roomsync, error) {
	configData, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}
	basePath, err := filepath.Abs(".")
	if err != nil {
		return nil, err
	}
	return loadConfig(basePath, configData)
}

func loadConfig(basePath string, configData []byte) (*Roomsync, error) {
	var c Roomsync
	c.Defaults()

	if err := yaml.Unmarshal(configData, &c); err != nil {
		return nil, fmt.Errorf("failed to parse config at %s: %w", basePath, err)
	}

	if err := c.check(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Defaults sets default config values.
func (c *Roomsync) Defaults() {
	c.Version = Version
	c.SyncAPI.Defaults()
	c.Logging = []LogrusHook{{Type: "std", Level: "info"}}
}

func (c *Roomsync) Verify(configErrs *ConfigErrors) {
	if c.Version != Version {
		configErrs.Add(fmt.Sprintf("unknown config version %d, expected %d", c.Version, Version))
	}
	c.SyncAPI.Verify(configErrs)
	for i, hook := range c.Logging {
		if _, err := logrus.ParseLevel(hook.Level); err != nil {
			configErrs.Add(fmt.Sprintf("invalid value for config key \"logging[%d].level\": %s", i, hook.Level))
		}
	}
}

func (c *Roomsync) check() error {
	var configErrs ConfigErrors
	c.Verify(&configErrs)
	if configErrs != nil {
		return configErrs
	}
	return nil
}

// Add appends an error to the list of errors in this configErrs.
// It is a wrapper to the builtin append and hides pointers from
// the client code.
// This method is safe to use with an uninitialized configErrs because
// if it is nil, it will be properly allocated.
func (errs *ConfigErrors) Add(str string) {
	*errs = append(*errs, str)
}

// Error returns a string detailing how many errors were contained within a
// configErrors type.
func (errs ConfigErrors) Error() string {
	if len(errs) == 1 {
		return errs[0]
	}
	return fmt.Sprintf(
		"%s (and %d other problems)", errs[0], len(errs)-1,
	)
}

// Errors returns all the problems as a single newline-separated string.
func (errs ConfigErrors) Errors() string {
	return strings.Join(errs, "\n")
}

// checkNotEmpty verifies the given value is not empty in the configuration.
// If it is, adds an error to the list.
func checkNotEmpty(configErrs *ConfigErrors, key, value string) {
	if value == "" {
		configErrs.Add(fmt.Sprintf("missing config key %q", key))
	}
}

// checkPositive verifies that `value` is greater than zero and adds an
// error if not.
func checkPositive(configErrs *ConfigErrors, key string, value int64) {
	if value <= 0 {
		configErrs.Add(fmt.Sprintf("invalid value for config key %q: %d", key, value))
	}
}

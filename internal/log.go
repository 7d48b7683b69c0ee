// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package internal

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/element-hq/roomsync/setup/config"
)

type utcFormatter struct {
	logrus.Formatter
}

func (f utcFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	entry.Time = entry.Time.UTC()
	return f.Formatter.Format(entry)
}

// callerPrettyfier trims the caller down to the package and file.
func callerPrettyfier(f *runtime.Frame) (string, string) {
	funcname := f.Function
	if i := strings.LastIndex(funcname, "/"); i >= 0 {
		funcname = funcname[i+1:]
	}
	filename := fmt.Sprintf("%s:%d", filepath.Base(f.File), f.Line)
	return funcname, filename
}

// SetupStdLogging configures the logging format to standard output.
func SetupStdLogging() {
	logrus.SetReportCaller(true)
	logrus.SetFormatter(&utcFormatter{
		&logrus.TextFormatter{
			TimestampFormat:  "2006-01-02T15:04:05.000000000Z07:00",
			FullTimestamp:    true,
			DisableColors:    false,
			DisableTimestamp: false,
			QuoteEmptyFields: true,
			CallerPrettyfier: callerPrettyfier,
		},
	})
}

// SetupHookLogging sets the log level to the most verbose of the
// configured hooks. Only "std" hooks are supported.
func SetupHookLogging(hooks []config.LogrusHook) error {
	level := logrus.PanicLevel
	for _, hook := range hooks {
		if hook.Type != "std" {
			return fmt.Errorf("unrecognised logging hook type %q", hook.Type)
		}
		hookLevel, err := logrus.ParseLevel(hook.Level)
		if err != nil {
			return fmt.Errorf("logrus.ParseLevel: %w", err)
		}
		if hookLevel > level {
			level = hookLevel
		}
	}
	if len(hooks) == 0 {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	return nil
}

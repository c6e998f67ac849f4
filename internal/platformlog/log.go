// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package platformlog builds structured loggers for the scheduler, worker,
// and runner from the LOG_LEVEL environment variable.
package platformlog

import (
	"log/slog"
	"os"
	"strings"
)

// Options configures logger construction.
type Options struct {
	Level  slog.Level
	Format string // "json" or "text"
}

// FromEnv reads LOG_LEVEL (DEBUG, INFO, WARNING, ERROR) from the
// environment. Unset or unrecognized values default to INFO.
func FromEnv() Options {
	level := slog.LevelInfo
	switch strings.ToUpper(os.Getenv("LOG_LEVEL")) {
	case "DEBUG":
		level = slog.LevelDebug
	case "INFO":
		level = slog.LevelInfo
	case "WARNING", "WARN":
		level = slog.LevelWarn
	case "ERROR":
		level = slog.LevelError
	}
	return Options{Level: level, Format: "json"}
}

// New creates a slog.Logger writing JSON (or text) records to stderr at the
// configured level.
func New(opts Options) *slog.Logger {
	handlerOpts := &slog.HandlerOptions{Level: opts.Level}

	var handler slog.Handler
	if opts.Format == "text" {
		handler = slog.NewTextHandler(os.Stderr, handlerOpts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	}

	return slog.New(handler)
}

// WithComponent returns a logger tagged with the given component name, so
// log lines from the scheduler, worker, and runner are easy to filter.
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	return logger.With(slog.String("component", component))
}

// Error formats an error for inclusion in a log record.
func Error(err error) slog.Attr {
	return slog.Any("error", err)
}

// MaskSecret returns the last 4 characters of a secret value prefixed with
// a redaction marker, per the masking rule: logging the existence of a
// secret should never reveal enough to reconstruct it.
func MaskSecret(secret string) string {
	if len(secret) <= 4 {
		return "****"
	}
	return "****" + secret[len(secret)-4:]
}

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

// Package cron computes the next occurrence of a five-field UTC cron
// expression. Workflows store cron expressions already converted to UTC by
// the API; this package never applies a timezone offset of its own.
package cron

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// parser accepts the classic five-field form (minute hour dom month dow),
// matching the wire format in the platform's external interface contract.
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// CronParseError wraps a malformed cron expression with the original input
// so callers can surface it without depending on the underlying library's
// error type.
type CronParseError struct {
	Expr  string
	Cause error
}

func (e *CronParseError) Error() string {
	return fmt.Sprintf("invalid cron expression %q: %v", e.Expr, e.Cause)
}

func (e *CronParseError) Unwrap() error { return e.Cause }

// Validate reports whether expr parses as a valid five-field cron
// expression.
func Validate(expr string) error {
	if _, err := parser.Parse(expr); err != nil {
		return &CronParseError{Expr: expr, Cause: err}
	}
	return nil
}

// NextRun returns the next UTC instant strictly after base at which expr
// fires. base is exclusive: a cron expression that matches base itself does
// not return base.
func NextRun(expr string, base time.Time) (time.Time, error) {
	schedule, err := parser.Parse(expr)
	if err != nil {
		return time.Time{}, &CronParseError{Expr: expr, Cause: err}
	}

	base = base.UTC()
	next := schedule.Next(base)
	if !next.After(base) {
		// robfig/cron already returns a strictly later occurrence, but this
		// guards the exclusive-base invariant against a minute-granularity
		// edge case where base falls exactly on a boundary.
		next = schedule.Next(next)
	}
	return next.UTC(), nil
}

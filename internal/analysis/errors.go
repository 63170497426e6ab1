// SPDX-License-Identifier: MIT
package analysis

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidConfig = errors.New("analysis: invalid configuration")
	ErrAllocation    = errors.New("analysis: allocation failed")
	ErrRunning       = errors.New("analysis: analyzer is running")
	ErrClosed        = errors.New("analysis: analyzer is closed")
	ErrSnapshotShape = errors.New("analysis: snapshot shape mismatch")
)

// ConfigError reports a rejected configuration field. It matches
// ErrInvalidConfig with errors.Is.
type ConfigError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("analysis: invalid %s %v: %s", e.Field, e.Value, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrInvalidConfig }

// guardAlloc runs fn and converts an allocation panic into ErrAllocation.
func guardAlloc(what string, fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s: %v", ErrAllocation, what, r)
		}
	}()
	fn()
	return nil
}

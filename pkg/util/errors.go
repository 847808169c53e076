// Package util provides utility functions and common error types.
package util

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/multierr"
)

// Sentinel errors, matched with errors.Is.
var (
	ErrPatternSyntax      = errors.New("malformed group pattern")
	ErrUnknownGroup       = errors.New("unknown group")
	ErrRemoteOperation    = errors.New("remote operation failed")
	ErrValidationMismatch = errors.New("installed state differs from plan")
	ErrValidationFailed   = errors.New("validation failed")
	ErrNotFound           = errors.New("resource not found")
)

// PatternSyntaxError reports a group pattern that cannot be expanded.
type PatternSyntaxError struct {
	Pattern string
	Reason  string
}

func (e *PatternSyntaxError) Error() string {
	return fmt.Sprintf("invalid group pattern %q: %s", e.Pattern, e.Reason)
}

func (e *PatternSyntaxError) Unwrap() error {
	return ErrPatternSyntax
}

// NewPatternSyntaxError creates a pattern syntax error
func NewPatternSyntaxError(pattern, reason string) *PatternSyntaxError {
	return &PatternSyntaxError{Pattern: pattern, Reason: reason}
}

// UnknownGroupError reports a group name that is not among the known groups.
// Pattern is the user-supplied text the name came from, when different.
type UnknownGroupError struct {
	Group   string
	Pattern string
}

func (e *UnknownGroupError) Error() string {
	if e.Pattern != "" && e.Pattern != e.Group {
		return fmt.Sprintf("unknown group %q (from pattern %q)", e.Group, e.Pattern)
	}
	return fmt.Sprintf("unknown group %q", e.Group)
}

func (e *UnknownGroupError) Unwrap() error {
	return ErrUnknownGroup
}

// NewUnknownGroupError creates an unknown group error
func NewUnknownGroupError(group, pattern string) *UnknownGroupError {
	return &UnknownGroupError{Group: group, Pattern: pattern}
}

// HostFailure is the error payload of one host in a batch operation.
type HostFailure struct {
	Host   string
	Output string
	Err    error
}

// RemoteOperationError collects every host that failed during one batch.
// It is returned after all hosts have been attempted.
type RemoteOperationError struct {
	Op       string
	Failures []HostFailure
}

func (e *RemoteOperationError) Error() string {
	hosts := e.Hosts()
	return fmt.Sprintf("%s failed on %d host(s): %s: %v",
		e.Op, len(hosts), strings.Join(hosts, ", "), e.Cause())
}

// Unwrap lets errors.Is match both ErrRemoteOperation and the per-host causes.
func (e *RemoteOperationError) Unwrap() []error {
	return append([]error{ErrRemoteOperation}, multierr.Errors(e.Cause())...)
}

// Hosts returns the sorted aliases of the failing hosts.
func (e *RemoteOperationError) Hosts() []string {
	hosts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		hosts = append(hosts, f.Host)
	}
	sort.Strings(hosts)
	return hosts
}

// Cause combines the per-host errors into one error value.
func (e *RemoteOperationError) Cause() error {
	var err error
	for _, f := range e.Failures {
		err = multierr.Append(err, fmt.Errorf("%s: %w", f.Host, f.Err))
	}
	return err
}

// NewRemoteOperationError returns nil when failures is empty.
func NewRemoteOperationError(op string, failures []HostFailure) error {
	if len(failures) == 0 {
		return nil
	}
	return &RemoteOperationError{Op: op, Failures: failures}
}

// Mismatch is one difference between the plan and what a host reports.
type Mismatch struct {
	Host     string `json:"host"`
	Device   string `json:"device"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
}

func (m Mismatch) String() string {
	return fmt.Sprintf("%s/%s: expected %s, found %s", m.Host, m.Device, m.Expected, m.Actual)
}

// ValidationMismatchError is returned by callers that treat a diverging
// installed state as fatal.
type ValidationMismatchError struct {
	Mismatches []Mismatch
}

func (e *ValidationMismatchError) Error() string {
	lines := make([]string, len(e.Mismatches))
	for i, m := range e.Mismatches {
		lines[i] = m.String()
	}
	return fmt.Sprintf("%d mismatch(es):\n  - %s", len(lines), strings.Join(lines, "\n  - "))
}

func (e *ValidationMismatchError) Unwrap() error {
	return ErrValidationMismatch
}

// ValidationError represents one or more validation failures
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return "validation failed: " + e.Errors[0]
	}
	return fmt.Sprintf("validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

func (e *ValidationError) Unwrap() error {
	return ErrValidationFailed
}

// NewValidationError creates a validation error from messages
func NewValidationError(messages ...string) *ValidationError {
	return &ValidationError{Errors: messages}
}

// ValidationBuilder helps accumulate validation errors
type ValidationBuilder struct {
	errors []string
}

// Add adds an error message if condition is false
func (v *ValidationBuilder) Add(condition bool, message string) *ValidationBuilder {
	if !condition {
		v.errors = append(v.errors, message)
	}
	return v
}

// AddErrorf adds a formatted error message
func (v *ValidationBuilder) AddErrorf(format string, args ...interface{}) *ValidationBuilder {
	v.errors = append(v.errors, fmt.Sprintf(format, args...))
	return v
}

// HasErrors returns true if there are validation errors
func (v *ValidationBuilder) HasErrors() bool {
	return len(v.errors) > 0
}

// Build returns the validation error or nil if no errors
func (v *ValidationBuilder) Build() error {
	if len(v.errors) == 0 {
		return nil
	}
	return &ValidationError{Errors: v.errors}
}

// WarningKind classifies a non-fatal condition.
type WarningKind string

const (
	// WarnResolutionEmpty: a constraint resolved to zero concrete rules.
	WarnResolutionEmpty WarningKind = "resolution-empty"
	// WarnFlatOverwrite: a flat plan replaced a device's impairment.
	WarnFlatOverwrite WarningKind = "flat-overwrite"
)

// Warning is a diagnosable condition that does not stop the operation.
type Warning struct {
	Kind    WarningKind
	Message string
}

func (w Warning) String() string {
	return fmt.Sprintf("%s: %s", w.Kind, w.Message)
}

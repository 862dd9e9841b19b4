// Copyright 2026 © The Deskpilot Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"os"

	"github.com/jllopis/deskpilot/pkg/errors"
)

// CLIError adds a hint for the operator to a deskpilot error.
type CLIError struct {
	Detail *errors.Error
	Hint   string
}

// NewCLIError creates a new CLI error.
func NewCLIError(de *errors.Error, hint string) *CLIError {
	return &CLIError{Detail: de, Hint: hint}
}

func (e *CLIError) Error() string {
	if e.Detail == nil {
		return "unknown error"
	}
	msg := e.Detail.Error()
	if e.Hint != "" {
		msg += "\n  Hint: " + e.Hint
	}
	return msg
}

func (e *CLIError) Unwrap() error { return e.Detail }

// Print writes the error to w as text or as a JSON object.
func (e *CLIError) Print(w io.Writer, asJSON bool) {
	if asJSON {
		payload := map[string]any{"error": map[string]any{
			"code":    e.Detail.Code,
			"message": e.Detail.Message,
			"hint":    e.Hint,
		}}
		_ = json.NewEncoder(w).Encode(payload)
		return
	}
	fmt.Fprintf(w, "Error [%s]: %s\n", FormatErrorCode(e.Detail.Code), e.Detail.Message)
	if e.Detail.Err != nil {
		fmt.Fprintf(w, "  Cause: %v\n", e.Detail.Err)
	}
	if e.Hint != "" {
		fmt.Fprintf(w, "  Hint: %s\n", e.Hint)
	}
}

// WrapConfigError wraps a configuration load failure.
func WrapConfigError(err error, configPath string) *CLIError {
	de := errors.New(errors.CodeInvalidInput, "configuration error", err).
		WithContext("config_path", configPath).
		WithRecoverable(false)
	hint := "check the DESKPILOT_* environment and --set overrides"
	if configPath != "" {
		hint = fmt.Sprintf("check %s for syntax errors and unknown providers", configPath)
	}
	return NewCLIError(de, hint)
}

// WrapBackendError wraps a failure to open a storage or model backend.
func WrapBackendError(err error, backend, addr string) *CLIError {
	de := errors.New(errors.CodeInternal, backend+" unavailable", err).
		WithContext("backend", backend).
		WithContext("address", addr).
		WithRecoverable(true)
	hint := fmt.Sprintf("check the %s settings", backend)
	if addr != "" {
		hint = fmt.Sprintf("check that %s is reachable at %s", backend, addr)
	}
	return NewCLIError(de, hint)
}

// NewInvalidArgumentError reports a bad command-line argument.
func NewInvalidArgumentError(arg, reason string) *CLIError {
	de := errors.New(errors.CodeInvalidInput, "invalid argument: "+reason, nil).
		WithContext("argument", arg).
		WithRecoverable(false)
	return NewCLIError(de, "run 'deskpilot help' for usage information")
}

// FormatErrorCode returns a readable name for an error code.
func FormatErrorCode(code errors.Code) string {
	switch code {
	case errors.CodeInternal:
		return "Internal Error"
	case errors.CodeInvalidInput:
		return "Invalid Input"
	case errors.CodeNotFound:
		return "Not Found"
	case errors.CodeTimeout:
		return "Timeout"
	case errors.CodeLLMError:
		return "LLM Error"
	case errors.CodeEmbeddingError:
		return "Embedding Error"
	case errors.CodeKnowledge:
		return "Knowledge Error"
	case errors.CodeCheckpoint:
		return "Checkpoint Error"
	case errors.CodeCalendar:
		return "Calendar Error"
	case errors.CodeState:
		return "State Error"
	default:
		return string(code)
	}
}

func exitWithError(err error, asJSON bool) {
	var cli *CLIError
	if !stderrors.As(err, &cli) {
		cli = NewCLIError(errors.As(err), "")
	}
	cli.Print(os.Stderr, asJSON)
	os.Exit(1)
}

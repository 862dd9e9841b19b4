// Copyright 2026 © The Deskpilot Authors
// SPDX-License-Identifier: Apache-2.0

// Package errors provides the typed error used across deskpilot.
//
// Call sites in the turn pipeline swallow recoverable errors (generation,
// embedding, calendar) and degrade to an empty value; only non-recoverable
// errors such as a malformed conversation state reach the caller.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
)

// Code classifies errors for logging, metrics and transport mapping.
type Code string

const (
	CodeInternal     Code = "INTERNAL_ERROR"
	CodeInvalidInput Code = "INVALID_INPUT"
	CodeNotFound     Code = "NOT_FOUND"
	CodeTimeout      Code = "TIMEOUT"
	CodeContextLost  Code = "CONTEXT_LOST"

	// CodeLLMError marks a failed or unparsable generation call.
	CodeLLMError Code = "LLM_ERROR"
	// CodeEmbeddingError marks a failed embedding call or an empty vector.
	CodeEmbeddingError Code = "EMBEDDING_ERROR"
	CodeKnowledge      Code = "KNOWLEDGE_ERROR"
	CodeCheckpoint     Code = "CHECKPOINT_ERROR"
	// CodeCalendar marks a failed calendar side effect.
	CodeCalendar Code = "CALENDAR_ERROR"
	// CodeState marks a conversation state that violates its invariants.
	CodeState Code = "STATE_ERROR"
)

// Error is a coded error carrying structured context.
type Error struct {
	Code        Code
	Message     string
	Err         error
	Context     map[string]any
	Recoverable bool
}

// New builds an Error. cause may be nil.
func New(code Code, msg string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: msg,
		Err:     cause,
		Context: make(map[string]any),
	}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// WithContext records a key/value pair and returns e for chaining.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithRecoverable marks whether a retry or later turn may succeed.
func (e *Error) WithRecoverable(recoverable bool) *Error {
	e.Recoverable = recoverable
	return e
}

// MarshalJSON renders the error for structured logs and HTTP bodies.
func (e *Error) MarshalJSON() ([]byte, error) {
	out := struct {
		Code        string         `json:"code"`
		Message     string         `json:"message"`
		Cause       string         `json:"cause,omitempty"`
		Context     map[string]any `json:"context,omitempty"`
		Recoverable bool           `json:"recoverable"`
	}{
		Code:        string(e.Code),
		Message:     e.Message,
		Context:     e.Context,
		Recoverable: e.Recoverable,
	}
	if e.Err != nil {
		out.Cause = e.Err.Error()
	}
	return json.Marshal(out)
}

// As returns err as *Error, wrapping foreign errors as CodeInternal.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var de *Error
	if stderrors.As(err, &de) {
		return de
	}
	return New(CodeInternal, "unexpected error", err)
}

// HasCode reports whether any *Error in err's chain carries code.
func HasCode(err error, code Code) bool {
	for err != nil {
		var de *Error
		if !stderrors.As(err, &de) {
			return false
		}
		if de.Code == code {
			return true
		}
		err = de.Err
	}
	return false
}

// IsRecoverable reports whether err is a recoverable *Error. Foreign errors
// are treated as recoverable so transient transport failures get retried.
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	var de *Error
	if stderrors.As(err, &de) {
		return de.Recoverable
	}
	return true
}

// StatusCode maps a code to the HTTP status used by the transport layer.
func StatusCode(code Code) int {
	switch code {
	case CodeInvalidInput:
		return 400
	case CodeNotFound:
		return 404
	case CodeTimeout:
		return 504
	default:
		return 500
	}
}

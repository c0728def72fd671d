package main

import (
	"errors"
	"fmt"
)

// ConfigError is fatal: it is only returned during startup (config or policy
// load) and is the one error class that should stop the process.
type ConfigError struct {
	Field string
	Msg   string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("config: %s", e.Msg)
	}
	return fmt.Sprintf("config: %s: %s", e.Field, e.Msg)
}

func configErrorf(field, format string, args ...any) *ConfigError {
	return &ConfigError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// RecordParseError marks a single malformed request log. The record is
// skipped; the rest of the batch continues.
type RecordParseError struct {
	Index int
	Err   error
}

func (e *RecordParseError) Error() string {
	return fmt.Sprintf("record %d: %v", e.Index, e.Err)
}

func (e *RecordParseError) Unwrap() error { return e.Err }

// Reasoning collaborator failures. All of them are recoverable: the pipeline
// synthesizes a conservative fallback verdict instead of aborting.
var (
	ErrReasoningTimeout     = errors.New("reasoning timeout")
	ErrReasoningUnavailable = errors.New("reasoning unavailable")
	ErrMalformedResponse    = errors.New("malformed reasoning response")
)

// ErrIndexCorrupt is returned by LoadIndex when the persisted snapshot cannot
// be decoded. The caller gets a fresh empty index alongside it and should warn;
// prior memory is lost but the process stays usable.
var ErrIndexCorrupt = errors.New("vector index snapshot corrupt")

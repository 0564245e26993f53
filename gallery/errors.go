package gallery

import "fmt"

// ConfigError indicates missing or invalid client configuration.
// It is fatal: callers must abort before performing any writes.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("gallery configuration: %s", e.Reason)
}

// TransportError indicates an HTTP or network level failure for a single
// API call. Callers count the affected case as failed and move on; there
// is no automatic retry.
type TransportError struct {
	Endpoint   string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("gallery request %s: %v", e.Endpoint, e.Err)
	}
	return fmt.Sprintf("gallery request %s: status %d", e.Endpoint, e.StatusCode)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// DecodeError indicates a malformed or unexpectedly shaped payload.
// It is handled exactly like a TransportError by the pipeline.
type DecodeError struct {
	Endpoint string
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("gallery decode %s: %v", e.Endpoint, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Package errs defines the error taxonomy shared across adapters and pipeline
// stages (§7): callers match against these with errors.As rather than string
// comparison.
package errs

import "fmt"

// ConfigError signals a missing or invalid configuration value (e.g. a vendor
// key for the selected back-end). Fail-fast, never retried.
type ConfigError struct {
	Field string
	Msg   string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Msg)
}

// ValidationError signals bad input from the client. 4xx semantics, never retried.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Msg)
}

// TransientError wraps a retryable failure (network, 5xx, job timeout) from a
// vendor. Callers apply RetryPolicy on this class only.
type TransientError struct {
	Vendor string
	Err    error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient(%s): %v", e.Vendor, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError wraps a non-retryable vendor failure (4xx other than
// validation, e.g. "insufficient credits", "HTTPS URL required").
type PermanentError struct {
	Vendor  string
	Reason  string
	Wrapped error
}

func (e *PermanentError) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("permanent(%s): %s: %v", e.Vendor, e.Reason, e.Wrapped)
	}
	return fmt.Sprintf("permanent(%s): %s", e.Vendor, e.Reason)
}

func (e *PermanentError) Unwrap() error { return e.Wrapped }

// ErrHTTPSRequired is the specific permanent error AudioShake-class separation
// raises when only an http:// source is available (§4.2, B4). It must never
// leak into PyAnnote/SpeechBrain error paths.
func ErrHTTPSRequired(vendor string) error {
	return &PermanentError{Vendor: vendor, Reason: "requires publicly accessible HTTPS URL"}
}

// ParseError signals that vendor/LLM output could not be parsed after all
// salvage attempts. Callers fall back per §7 (previous step, heuristic, script mode).
type ParseError struct {
	Stage string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse(%s): %v", e.Stage, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// CancelledError signals client disconnect or a run-level timeout.
type CancelledError struct {
	Reason string
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("cancelled: %s", e.Reason)
}

// StepError tags any of the above with the pipeline step that produced it,
// for the orchestrator's pipeline-error event (§4.10).
type StepError struct {
	Step int
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

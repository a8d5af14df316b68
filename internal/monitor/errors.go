package monitor

import (
	"errors"
	"fmt"
)

// ConfigError is fatal, it is returned before the poll loop starts.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

type FetchErrorKind int

const (
	FetchTimeout FetchErrorKind = iota
	FetchNetwork
	FetchNavigation
)

func (k FetchErrorKind) String() string {
	switch k {
	case FetchTimeout:
		return "timeout"
	case FetchNetwork:
		return "network"
	case FetchNavigation:
		return "navigation"
	}
	return "unknown"
}

// FetchError is returned by a page fetcher. Status is the HTTP status of the
// main document when one was received.
type FetchError struct {
	Kind   FetchErrorKind
	URL    string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: %s: status %d", e.URL, e.Kind, e.Status)
	}
	return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Transient reports whether retrying the same url may succeed.
func (e *FetchError) Transient() bool {
	if e.Kind != FetchNavigation {
		return true
	}
	return e.Status == 429 || e.Status >= 500
}

type ExtractErrorKind int

const (
	StructuralMismatch ExtractErrorKind = iota
)

// ExtractError means the page no longer has the expected layout.
type ExtractError struct {
	Kind   ExtractErrorKind
	Reason string
}

func (e *ExtractError) Error() string {
	return fmt.Sprintf("extract: structural mismatch: %s", e.Reason)
}

type NotifyErrorKind int

const (
	// ExhaustedRetries is returned after every allowed attempt hit a
	// transient failure (rate limit, 5xx, network).
	ExhaustedRetries NotifyErrorKind = iota
	// Rejected is returned when the endpoint refused the message outright.
	Rejected
)

func (k NotifyErrorKind) String() string {
	if k == Rejected {
		return "rejected"
	}
	return "exhausted retries"
}

type NotifyError struct {
	Kind     NotifyErrorKind
	EventID  string
	Attempts int
	Err      error
}

func (e *NotifyError) Error() string {
	return fmt.Sprintf("notify %s: %s after %d attempt(s): %v", e.EventID, e.Kind, e.Attempts, e.Err)
}

func (e *NotifyError) Unwrap() error {
	return e.Err
}

// StorageError is returned by the dedup store. A non-transient StorageError
// stops the monitor since losing dedup state floods the webhook on restart.
type StorageError struct {
	Op        string
	Transient bool
	Err       error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Recoverable reports whether the scheduler may continue with the next cycle
// after err.
func Recoverable(err error) bool {
	if err == nil {
		return true
	}
	var configErr *ConfigError
	if errors.As(err, &configErr) {
		return false
	}
	var storageErr *StorageError
	if errors.As(err, &storageErr) {
		return storageErr.Transient
	}
	return true
}

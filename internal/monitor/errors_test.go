package monitor

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecoverable(t *testing.T) {
	testCases := []struct {
		name     string
		err      error
		expected bool
	}{
		{name: "nil", err: nil, expected: true},
		{name: "fetch", err: &FetchError{Kind: FetchTimeout, URL: "https://x", Err: context.DeadlineExceeded}, expected: true},
		{name: "extract", err: &ExtractError{Kind: StructuralMismatch, Reason: "no table"}, expected: true},
		{name: "notify", err: &NotifyError{Kind: ExhaustedRetries, EventID: "a", Attempts: 5}, expected: true},
		{name: "config", err: &ConfigError{Field: "url", Reason: "missing"}, expected: false},
		{name: "wrapped config", err: fmt.Errorf("start: %w", &ConfigError{Field: "url", Reason: "missing"}), expected: false},
		{name: "transient storage", err: &StorageError{Op: "persist", Transient: true}, expected: true},
		{name: "persistent storage", err: fmt.Errorf("cycle: %w", &StorageError{Op: "persist"}), expected: false},
	}

	for _, test := range testCases {
		require.Equal(t, test.expected, Recoverable(test.err), test.name)
	}
}

func TestFetchErrorTransient(t *testing.T) {
	require.True(t, (&FetchError{Kind: FetchNetwork}).Transient())
	require.True(t, (&FetchError{Kind: FetchTimeout}).Transient())
	require.True(t, (&FetchError{Kind: FetchNavigation, Status: 503}).Transient())
	require.True(t, (&FetchError{Kind: FetchNavigation, Status: 429}).Transient())
	require.False(t, (&FetchError{Kind: FetchNavigation, Status: 404}).Transient())
	require.False(t, (&FetchError{Kind: FetchNavigation}).Transient())
}

func TestErrorMessages(t *testing.T) {
	err := &FetchError{Kind: FetchNavigation, URL: "https://solscan.io/account/x", Status: 404}
	require.Equal(t, "fetch https://solscan.io/account/x: navigation: status 404", err.Error())

	notifyErr := &NotifyError{Kind: Rejected, EventID: "sig", Attempts: 1, Err: fmt.Errorf("status 400")}
	require.Equal(t, "notify sig: rejected after 1 attempt(s): status 400", notifyErr.Error())
}

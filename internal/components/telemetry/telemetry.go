package telemetry

import (
	"fmt"
)

// API is an abstraction over logging/metrics so that components can be
// asserted on in tests (see Recorder).
//
// note: fault injection point
type API interface {
	// ReportBroken reports a component that has broken in a way that should be addressed.
	//
	// The `id` should name the **component** that broke, not the specific line that
	// failed. ex. a failed webhook POST inside the discord notifier's Notify method is
	// `discord.notify`, the HTTP detail goes into a param or a wrapped error.
	//
	// Formatting rules:
	// 1) all lowercase
	// 2) use underscores for large components
	// 3) use dashes for methods part of a larger component
	//
	// Use ScopedAPI to disambiguate between packages instead of putting the
	// package path into the id.
	ReportBroken(id string, params ...any)

	// ReportWarning reports a scenario that does not necessarily indicate brokenness,
	// like a skipped table row or a retried webhook call.
	ReportWarning(id string, params ...any)

	// ReportDebug reports some debug information that will be ignored in production
	ReportDebug(msg string, params ...any)

	// ReportCount reports the current count of a specific event at the current time, these counts should
	// not be summed but interpreted as points of data over time.
	ReportCount(id string, count int64)
}

// ScopedAPI attaches a namespace to every id reported through it, like a
// prefixed sub-logger.
type ScopedAPI struct {
	namespace string
	inner     API
}

// NewScopedAPI creates a ScopedAPI out of a given namespace and another api.
func NewScopedAPI(namespace string, inner API) ScopedAPI {
	return ScopedAPI{namespace: namespace, inner: inner}
}

func (s ScopedAPI) ReportBroken(id string, params ...any) {
	s.inner.ReportBroken(fmt.Sprintf("%s: %s", s.namespace, id), params...)
}

func (s ScopedAPI) ReportWarning(id string, params ...any) {
	s.inner.ReportWarning(fmt.Sprintf("%s: %s", s.namespace, id), params...)
}

func (s ScopedAPI) ReportDebug(msg string, params ...any) {
	s.inner.ReportDebug(fmt.Sprintf("%s: %s", s.namespace, msg), params...)
}

func (s ScopedAPI) ReportCount(id string, count int64) {
	s.inner.ReportCount(fmt.Sprintf("%s: %s", s.namespace, id), count)
}

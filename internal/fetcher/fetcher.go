// Package fetcher renders a target page and returns its content as a
// monitor.Snapshot.
package fetcher

import (
	"context"
	"errors"
	"net"
	"net/url"
	"os"
	"strings"
	"time"
	"solwatch/internal/monitor"

	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("solwatch.fetcher")

const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"

// Fetcher fetches one page per call. Implementations may keep a browser or a
// connection pool alive between calls, Close releases it.
type Fetcher interface {
	Fetch(ctx context.Context, target string) (monitor.Snapshot, error)
	Close() error
}

type Options struct {
	// Timeout bounds a single navigation attempt.
	Timeout time.Duration
	// ReadySelector is waited on before the content is read (browser only).
	ReadySelector string
	// Settle is how long client side scripts get to populate the page after
	// it is ready (browser only).
	Settle    time.Duration
	UserAgent string
	// RemoteURL connects to an already running browser over the devtools
	// protocol instead of launching one (browser only).
	RemoteURL string
	// RequestsPerSecond limits outgoing requests (http only).
	RequestsPerSecond float64
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = time.Second * 60
	}
	if o.ReadySelector == "" {
		o.ReadySelector = "body"
	}
	if o.Settle < 0 {
		o.Settle = 0
	}
	if o.UserAgent == "" {
		o.UserAgent = DefaultUserAgent
	}
	if o.RequestsPerSecond <= 0 {
		o.RequestsPerSecond = 1
	}
	return o
}

// ValidateURL rejects urls that can never be fetched, a bad url is a
// permanent navigation error rather than a transient one.
func ValidateURL(target string) error {
	parsed, err := url.Parse(target)
	if err != nil {
		return &monitor.FetchError{Kind: monitor.FetchNavigation, URL: target, Err: err}
	}
	if (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return &monitor.FetchError{
			Kind: monitor.FetchNavigation,
			URL:  target,
			Err:  errors.New("url must be absolute http(s)"),
		}
	}
	return nil
}

var networkMarkers = []string{
	"net::ERR_NAME_NOT_RESOLVED",
	"net::ERR_CONNECTION",
	"net::ERR_INTERNET_DISCONNECTED",
	"net::ERR_NETWORK_CHANGED",
	"net::ERR_ADDRESS_UNREACHABLE",
	"net::ERR_EMPTY_RESPONSE",
	"net::ERR_SSL",
	"net::ERR_CERT",
	"net::ERR_PROXY",
	"connection refused",
	"connection reset",
	"no such host",
}

var timeoutMarkers = []string{
	"net::ERR_TIMED_OUT",
	"net::ERR_CONNECTION_TIMED_OUT",
	"Client.Timeout exceeded",
}

// Classify maps an error produced while fetching target onto a FetchError,
// errors that already are FetchErrors are returned unchanged.
func Classify(target string, err error) error {
	if err == nil {
		return nil
	}
	var fetchErr *monitor.FetchError
	if errors.As(err, &fetchErr) {
		return err
	}

	kind := monitor.FetchNavigation
	msg := err.Error()

	var netErr net.Error
	var dnsErr *net.DNSError
	var opErr *net.OpError
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		kind = monitor.FetchTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		kind = monitor.FetchTimeout
	case containsAny(msg, timeoutMarkers):
		kind = monitor.FetchTimeout
	case errors.As(err, &dnsErr), errors.As(err, &opErr):
		kind = monitor.FetchNetwork
	case containsAny(msg, networkMarkers):
		kind = monitor.FetchNetwork
	}

	return &monitor.FetchError{Kind: kind, URL: target, Err: err}
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

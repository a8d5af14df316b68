package fetcher

import (
	"context"
	"fmt"
	"net/http/cookiejar"
	"solwatch/internal/components/assert"
	"solwatch/internal/components/chrono"
	"solwatch/internal/components/telemetry"
	"solwatch/internal/monitor"
	libtelemetry "solwatch/lib/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"
)

const (
	report_http_fetch = "http.fetch"
)

// HTTPFetcher fetches pages with a plain http client, it is meant for pages
// that render their content server side.
type HTTPFetcher struct {
	http  *resty.Client
	clock chrono.API
	tel   telemetry.API
}

func NewHTTPFetcher(opts Options, clock chrono.API, tel telemetry.API) (HTTPFetcher, error) {
	assert.NotNil(clock)
	assert.NotNil(tel)

	opts = opts.withDefaults()
	tel = telemetry.NewScopedAPI("fetcher", tel)

	httpClient := resty.New()
	jar, err := cookiejar.New(nil)
	if err != nil {
		return HTTPFetcher{}, err
	}
	httpClient.SetCookieJar(jar)
	httpClient.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(httpClient.GetClient().Transport)

	httpClient.SetHeader("user-agent", opts.UserAgent)
	httpClient.SetHeader("accept", "text/html,application/xhtml+xml")
	httpClient.SetTimeout(opts.Timeout)

	// max burst >= 1 just means that no requests will be dropped
	rateLimiter := rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	httpClient.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		return rateLimiter.Wait(req.Context())
	})

	telemetry.InstrumentResty(httpClient, tel)
	libtelemetry.TraceResty(httpClient, "solwatch.fetcher.http")

	return HTTPFetcher{
		http:  httpClient,
		clock: clock,
		tel:   tel,
	}, nil
}

func (f HTTPFetcher) Fetch(ctx context.Context, target string) (monitor.Snapshot, error) {
	ctx, span := tracer.Start(ctx, "http:fetch")
	defer span.End()

	err := ValidateURL(target)
	if err != nil {
		return monitor.Snapshot{}, err
	}

	f.tel.ReportDebug(report_http_fetch, target)

	res, err := f.http.R().
		SetContext(ctx).
		Get(target)
	if err != nil {
		err = Classify(target, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		f.tel.ReportWarning(report_http_fetch, fmt.Errorf("fetch: %w", err), target)
		return monitor.Snapshot{}, err
	}
	if res.IsError() {
		err := &monitor.FetchError{
			Kind:   monitor.FetchNavigation,
			URL:    target,
			Status: res.StatusCode(),
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "unexpected status")
		f.tel.ReportWarning(report_http_fetch, err, target)
		return monitor.Snapshot{}, err
	}

	return monitor.Snapshot{
		URL:        target,
		FetchedAt:  f.clock.Now(),
		RawContent: string(res.Body()),
	}, nil
}

func (f HTTPFetcher) Close() error {
	f.http.GetClient().CloseIdleConnections()
	return nil
}

package fetcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"solwatch/internal/components/assert"
	"solwatch/internal/components/chrono"
	"solwatch/internal/components/telemetry"
	"solwatch/internal/monitor"

	"github.com/chromedp/chromedp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	report_browser_start    = "browser.start"
	report_browser_navigate = "browser.navigate"
	report_browser_fetch    = "browser.fetch"
)

// BrowserFetcher renders pages in headless chrome. The browser process is
// started lazily on the first Fetch and reused until Close, every Fetch runs
// in its own tab which is closed before Fetch returns.
type BrowserFetcher struct {
	opts  Options
	clock chrono.API
	tel   telemetry.API

	mu            sync.Mutex
	browserCtx    context.Context
	cancelBrowser context.CancelFunc
	cancelAlloc   context.CancelFunc
}

func NewBrowserFetcher(opts Options, clock chrono.API, tel telemetry.API) *BrowserFetcher {
	assert.NotNil(clock)
	assert.NotNil(tel)

	return &BrowserFetcher{
		opts:  opts.withDefaults(),
		clock: clock,
		tel:   telemetry.NewScopedAPI("fetcher", tel),
	}
}

func (f *BrowserFetcher) allocatorOptions() []chromedp.ExecAllocatorOption {
	return append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.NoSandbox,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(f.opts.UserAgent),
		chromedp.WindowSize(1366, 900),
	)
}

// browser returns the shared browser context, starting the browser when it
// is not running.
func (f *BrowserFetcher) browser() (context.Context, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.browserCtx != nil && f.browserCtx.Err() == nil {
		return f.browserCtx, nil
	}
	f.closeLocked()

	var (
		allocCtx    context.Context
		cancelAlloc context.CancelFunc
	)
	if f.opts.RemoteURL != "" {
		allocCtx, cancelAlloc = chromedp.NewRemoteAllocator(context.Background(), f.opts.RemoteURL)
	} else {
		allocCtx, cancelAlloc = chromedp.NewExecAllocator(context.Background(), f.allocatorOptions()...)
	}
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)

	// an empty Run starts the browser (or connects to the remote one)
	err := chromedp.Run(browserCtx)
	if err != nil {
		cancelBrowser()
		cancelAlloc()
		f.tel.ReportBroken(report_browser_start, err)
		return nil, Classify("about:blank", fmt.Errorf("start browser: %w", err))
	}

	f.browserCtx = browserCtx
	f.cancelBrowser = cancelBrowser
	f.cancelAlloc = cancelAlloc
	f.tel.ReportDebug(report_browser_start, "remote", f.opts.RemoteURL != "")
	return browserCtx, nil
}

func (f *BrowserFetcher) Fetch(ctx context.Context, target string) (monitor.Snapshot, error) {
	ctx, span := tracer.Start(ctx, "browser:fetch")
	defer span.End()
	span.SetAttributes(attribute.String("solwatch.url", target))

	err := ValidateURL(target)
	if err != nil {
		return monitor.Snapshot{}, err
	}

	browserCtx, err := f.browser()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to start browser")
		return monitor.Snapshot{}, err
	}

	tabCtx, closeTab := chromedp.NewContext(browserCtx)
	defer closeTab()
	// the tab derives from the browser, not from ctx, so tie it to ctx here
	stop := context.AfterFunc(ctx, closeTab)
	defer stop()

	err = f.navigate(tabCtx, target)
	if err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		err = Classify(target, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "navigation failed")
		f.tel.ReportWarning(report_browser_fetch, err)
		return monitor.Snapshot{}, err
	}

	readyCtx, cancel := context.WithTimeout(tabCtx, f.opts.Timeout)
	defer cancel()
	var html string
	err = chromedp.Run(
		readyCtx,
		chromedp.WaitReady(f.opts.ReadySelector, chromedp.ByQuery),
		chromedp.Sleep(f.opts.Settle),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		err = Classify(target, fmt.Errorf("wait for %q: %w", f.opts.ReadySelector, err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "page never became ready")
		f.tel.ReportWarning(report_browser_fetch, err)
		return monitor.Snapshot{}, err
	}

	return monitor.Snapshot{
		URL:        target,
		FetchedAt:  f.clock.Now(),
		RawContent: html,
	}, nil
}

// navigate loads target in the tab. A timed out navigation is recovered by
// reloading the tab, and if that also fails, by navigating once more.
func (f *BrowserFetcher) navigate(tabCtx context.Context, target string) error {
	err := f.attempt(tabCtx, target, chromedp.Navigate(target))
	if err == nil {
		return nil
	}
	var fetchErr *monitor.FetchError
	if errors.As(err, &fetchErr) && fetchErr.Kind == monitor.FetchNavigation {
		return err
	}
	if tabCtx.Err() != nil {
		return err
	}
	f.tel.ReportWarning(report_browser_navigate, "navigation failed, reloading", err)

	err = f.attempt(tabCtx, target, chromedp.Reload())
	if err == nil {
		return nil
	}
	if tabCtx.Err() != nil {
		return err
	}
	f.tel.ReportWarning(report_browser_navigate, "reload failed, navigating again", err)

	return f.attempt(tabCtx, target, chromedp.Navigate(target))
}

func (f *BrowserFetcher) attempt(tabCtx context.Context, target string, action chromedp.Action) error {
	ctx, cancel := context.WithTimeout(tabCtx, f.opts.Timeout)
	defer cancel()

	res, err := chromedp.RunResponse(ctx, action)
	if err != nil {
		return Classify(target, err)
	}
	if res != nil && res.Status >= 400 {
		return &monitor.FetchError{
			Kind:   monitor.FetchNavigation,
			URL:    target,
			Status: int(res.Status),
		}
	}
	return nil
}

func (f *BrowserFetcher) closeLocked() {
	if f.cancelBrowser != nil {
		f.cancelBrowser()
	}
	if f.cancelAlloc != nil {
		f.cancelAlloc()
	}
	f.browserCtx = nil
	f.cancelBrowser = nil
	f.cancelAlloc = nil
}

// Close stops the browser process (or disconnects from the remote browser).
func (f *BrowserFetcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeLocked()
	return nil
}

package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"solwatch/internal/components/assert"
	"solwatch/internal/components/telemetry"
	"solwatch/internal/monitor"
	libtelemetry "solwatch/lib/telemetry"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"
)

const (
	report_discord_notify = "discord.notify"
	report_discord_retry  = "discord.retry"
)

type DiscordOptions struct {
	WebhookURL string
	// Username overrides the webhook's display name when set.
	Username string
	// Timeout bounds a single POST.
	Timeout     time.Duration
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	// RatePerSecond and Burst pace outgoing messages below discord's webhook
	// limit of 5 requests per 2 seconds.
	RatePerSecond float64
	Burst         int
}

func (o DiscordOptions) withDefaults() DiscordOptions {
	if o.Timeout <= 0 {
		o.Timeout = 8 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = time.Second
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 30 * time.Second
	}
	if o.MaxBackoff < o.BaseBackoff {
		o.MaxBackoff = o.BaseBackoff
	}
	if o.RatePerSecond <= 0 {
		o.RatePerSecond = 2.5
	}
	if o.Burst <= 0 {
		o.Burst = 5
	}
	return o
}

// Discord posts messages to a discord webhook.
type Discord struct {
	opts    DiscordOptions
	http    *resty.Client
	limiter *rate.Limiter
	tel     telemetry.API
}

func NewDiscord(opts DiscordOptions, tel telemetry.API) *Discord {
	assert.NotNil(tel)
	assert.NotEmptyStr(opts.WebhookURL)

	opts = opts.withDefaults()
	tel = telemetry.NewScopedAPI("notifier", tel)

	client := resty.New()
	client.SetTimeout(opts.Timeout)
	client.SetHeader("content-type", "application/json")
	telemetry.InstrumentRestySecret(client, tel)
	libtelemetry.TraceResty(client, "solwatch.notifier.discord")

	return &Discord{
		opts:    opts,
		http:    client,
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSecond), opts.Burst),
		tel:     tel,
	}
}

func (d *Discord) Name() string {
	return "discord"
}

func (d *Discord) Notify(ctx context.Context, event monitor.Event) (monitor.NotificationRecord, error) {
	ctx, span := tracer.Start(ctx, "discord:Notify")
	defer span.End()
	span.SetAttributes(
		attribute.String("event.id", event.ID),
		attribute.String("event.kind", string(event.Kind)),
	)

	record, err := d.send(ctx, event.ID, Format(event))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "delivery failed")
		d.tel.ReportWarning(report_discord_notify, err, event.ID)
	}
	return record, err
}

// Send posts raw content, it is used to check that a webhook works.
func (d *Discord) Send(ctx context.Context, content string) (monitor.NotificationRecord, error) {
	return d.send(ctx, "", content)
}

type webhookMessage struct {
	Content  string `json:"content"`
	Username string `json:"username,omitempty"`
}

func (d *Discord) send(ctx context.Context, eventID, content string) (monitor.NotificationRecord, error) {
	record := monitor.NotificationRecord{EventID: eventID, Channel: d.Name()}
	fail := func(kind monitor.NotifyErrorKind, err error) (monitor.NotificationRecord, error) {
		record.LastError = err.Error()
		return record, &monitor.NotifyError{
			Kind:     kind,
			EventID:  eventID,
			Attempts: record.Attempts,
			Err:      err,
		}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.opts.BaseBackoff
	b.MaxInterval = d.opts.MaxBackoff
	b.MaxElapsedTime = 0
	b.Reset()

	body := webhookMessage{Content: content, Username: d.opts.Username}

	var lastErr error
	for record.Attempts < d.opts.MaxAttempts {
		err := d.limiter.Wait(ctx)
		if err != nil {
			return fail(monitor.ExhaustedRetries, fmt.Errorf("rate limiter: %w", err))
		}

		record.Attempts++
		res, err := d.http.R().
			SetContext(ctx).
			SetBody(body).
			Post(d.opts.WebhookURL)

		var wait time.Duration
		switch {
		case err != nil:
			lastErr = d.scrub(err)
			wait = b.NextBackOff()
		case res.IsSuccess():
			record.Delivered = true
			return record, nil
		case res.StatusCode() == 429:
			lastErr = fmt.Errorf("rate limited: %s", res.Status())
			var ok bool
			wait, ok = retryAfter(res)
			if !ok {
				wait = b.NextBackOff()
			}
		case res.StatusCode() >= 500:
			lastErr = fmt.Errorf("server error: %s", res.Status())
			wait = b.NextBackOff()
		default:
			return fail(monitor.Rejected, fmt.Errorf("rejected: %s: %s", res.Status(), strings.TrimSpace(res.String())))
		}

		if record.Attempts >= d.opts.MaxAttempts {
			break
		}
		if wait > d.opts.MaxBackoff {
			wait = d.opts.MaxBackoff
		}
		d.tel.ReportWarning(report_discord_retry, lastErr, record.Attempts, wait)

		err = sleep(ctx, wait)
		if err != nil {
			lastErr = err
			break
		}
	}
	return fail(monitor.ExhaustedRetries, lastErr)
}

// scrub keeps the webhook token out of transport errors, they embed the
// request url.
func (d *Discord) scrub(err error) error {
	idx := strings.LastIndex(d.opts.WebhookURL, "/")
	token := d.opts.WebhookURL[idx+1:]
	if token == "" || !strings.Contains(err.Error(), token) {
		return err
	}
	return errors.New(strings.ReplaceAll(err.Error(), token, "<redacted>"))
}

// retryAfter reads the delay discord asks for from the Retry-After header or
// the retry_after field of the body, both in (fractional) seconds.
func retryAfter(res *resty.Response) (time.Duration, bool) {
	if header := res.Header().Get("Retry-After"); header != "" {
		if secs, err := strconv.ParseFloat(header, 64); err == nil && secs >= 0 {
			return time.Duration(secs * float64(time.Second)), true
		}
	}

	var body struct {
		RetryAfter *float64 `json:"retry_after"`
	}
	err := json.Unmarshal(res.Body(), &body)
	if err == nil && body.RetryAfter != nil && *body.RetryAfter >= 0 {
		return time.Duration(*body.RetryAfter * float64(time.Second)), true
	}
	return 0, false
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

package notifier

import (
	"context"
	"fmt"
	"net/smtp"
	"time"
	"solwatch/internal/components/telemetry"
	"solwatch/internal/monitor"

	"github.com/jordan-wright/email"
	"go.opentelemetry.io/otel/codes"
)

const report_email_notify = "email.notify"

type EmailOptions struct {
	Server   string
	Port     int
	Address  string
	Password string
	To       []string
	// Timeout bounds getting a ready connection, capped by the context
	// deadline.
	Timeout time.Duration
}

// Email sends each event as a plain text mail.
type Email struct {
	opts EmailOptions
	tel  telemetry.API
}

func NewEmail(opts EmailOptions, tel telemetry.API) Email {
	if opts.Timeout <= 0 {
		opts.Timeout = 8 * time.Second
	}
	return Email{
		opts: opts,
		tel:  telemetry.NewScopedAPI("notifier", tel),
	}
}

func (e Email) Name() string {
	return "email"
}

func subject(event monitor.Event) string {
	switch event.Kind {
	case monitor.KindVolume:
		return fmt.Sprintf("High volume: %s", field(event, "token", unknown))
	case monitor.KindKOL:
		return fmt.Sprintf("New high KOL token: %s", field(event, "name", unknown))
	}
	return fmt.Sprintf("New %s: %s", event.Kind, event.ID)
}

func (e Email) Notify(ctx context.Context, event monitor.Event) (monitor.NotificationRecord, error) {
	_, span := tracer.Start(ctx, "email:Notify")
	defer span.End()

	record := monitor.NotificationRecord{EventID: event.ID, Channel: e.Name(), Attempts: 1}

	mail := email.NewEmail()
	mail.From = fmt.Sprintf("solwatch <%s>", e.opts.Address)
	mail.To = e.opts.To
	mail.Subject = subject(event)
	mail.Text = []byte(Format(event))

	err := e.send(ctx, mail)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to send email")
		e.tel.ReportWarning(report_email_notify, err, event.ID)

		record.LastError = err.Error()
		return record, &monitor.NotifyError{
			Kind:     monitor.ExhaustedRetries,
			EventID:  event.ID,
			Attempts: 1,
			Err:      err,
		}
	}

	record.Delivered = true
	return record, nil
}

func (e Email) timeout(ctx context.Context) time.Duration {
	timeout := e.opts.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}
	return timeout
}

// send delivers mail over a single pooled connection. The pool only
// authenticates when the server offers AUTH.
func (e Email) send(ctx context.Context, mail *email.Email) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	timeout := e.timeout(ctx)
	if timeout <= 0 {
		return context.DeadlineExceeded
	}

	addr := fmt.Sprintf("%s:%d", e.opts.Server, e.opts.Port)
	var auth smtp.Auth
	if e.opts.Password != "" {
		auth = smtp.PlainAuth("", e.opts.Address, e.opts.Password, e.opts.Server)
	}
	pool, err := email.NewPool(addr, 1, auth)
	if err != nil {
		return fmt.Errorf("smtp %s: %w", addr, err)
	}
	err = pool.Send(mail, timeout)
	if err != nil {
		// Close waits for a connection that may still be dialing, a stalled
		// one is left to the server to drop
		return fmt.Errorf("smtp %s: %w", addr, err)
	}
	go pool.Close()
	return nil
}

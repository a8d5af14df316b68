// Package notifier delivers new events to the outside world.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"solwatch/internal/monitor"

	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("solwatch.notifier")

// Notifier delivers a single event. A nil error means the event was
// delivered and may be marked seen, any error is a *monitor.NotifyError (or
// joins several).
type Notifier interface {
	Name() string
	Notify(ctx context.Context, event monitor.Event) (monitor.NotificationRecord, error)
}

// Multi delivers to every channel and only succeeds when all of them did. A
// failed event is retried on every channel in the next cycle, channels that
// already got it may receive it twice.
type Multi []Notifier

func (m Multi) Name() string {
	names := make([]string, len(m))
	for i, n := range m {
		names[i] = n.Name()
	}
	return strings.Join(names, "+")
}

func (m Multi) Notify(ctx context.Context, event monitor.Event) (monitor.NotificationRecord, error) {
	record := monitor.NotificationRecord{
		EventID:   event.ID,
		Channel:   m.Name(),
		Delivered: true,
	}

	var errs []error
	for _, n := range m {
		rec, err := n.Notify(ctx, event)
		record.Attempts += rec.Attempts
		if err != nil {
			record.Delivered = false
			record.LastError = err.Error()
			errs = append(errs, fmt.Errorf("%s: %w", n.Name(), err))
		}
	}
	return record, errors.Join(errs...)
}

// Console writes the formatted event to w, it is used when no webhook is
// configured.
type Console struct {
	mu sync.Mutex
	w  io.Writer
}

func NewConsole(w io.Writer) *Console {
	return &Console{w: w}
}

func (c *Console) Name() string {
	return "console"
}

func (c *Console) Notify(_ context.Context, event monitor.Event) (monitor.NotificationRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	record := monitor.NotificationRecord{EventID: event.ID, Channel: c.Name(), Attempts: 1}
	_, err := fmt.Fprintln(c.w, Format(event))
	if err != nil {
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

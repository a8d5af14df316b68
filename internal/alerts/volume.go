// Package alerts derives aggregate events from the rows an extractor
// returns.
package alerts

import (
	"fmt"
	"sort"
	"strconv"
	"time"
	"solwatch/internal/components/telemetry"
	"solwatch/internal/extractor"
	"solwatch/internal/monitor"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const report_volume_alert = "volume.alert"

type VolumeOptions struct {
	// MinSOL is the total a window has to exceed.
	MinSOL float64
	// Window groups buys of one token that happened this close together.
	Window time.Duration
	// Lookback ignores buys older than this.
	Lookback time.Duration
	// Cooldown suppresses a second alert for the same token.
	Cooldown time.Duration
}

func (o VolumeOptions) withDefaults() VolumeOptions {
	if o.MinSOL <= 0 {
		o.MinSOL = 40
	}
	if o.Window <= 0 {
		o.Window = 3 * time.Minute
	}
	if o.Lookback <= 0 {
		o.Lookback = 240 * time.Minute
	}
	if o.Cooldown <= 0 {
		o.Cooldown = time.Hour
	}
	return o
}

// VolumeRule raises an event when buys of a single token within one window
// sum to more than MinSOL.
type VolumeRule struct {
	opts VolumeOptions
	tel  telemetry.API
	// token -> id of the last alert raised for it
	cooldown *expirable.LRU[string, string]
}

func NewVolumeRule(opts VolumeOptions, tel telemetry.API) *VolumeRule {
	opts = opts.withDefaults()
	return &VolumeRule{
		opts:     opts,
		tel:      telemetry.NewScopedAPI("alerts", tel),
		cooldown: expirable.NewLRU[string, string](1024, nil, opts.Cooldown),
	}
}

type buy struct {
	at     time.Time
	amount float64
}

type window struct {
	start time.Time
	end   time.Time
	total float64
	buys  int
}

// Derive returns at most one volume event per token, for the most recent
// window over the threshold. A token still in cooldown only passes the alert
// it was put in cooldown for, so that a failed delivery can be retried.
func (r *VolumeRule) Derive(events []monitor.Event) []monitor.Event {
	byToken := map[string][]buy{}
	var observedAt time.Time
	for _, e := range events {
		if e.Kind != monitor.KindTransaction || e.OccurredAt.IsZero() {
			continue
		}
		if side, _ := e.Get("side"); side != extractor.SideBuy {
			continue
		}
		token, ok := e.Get("token")
		if !ok {
			continue
		}
		amountText, ok := e.Get("amount_sol")
		if !ok {
			continue
		}
		amount, err := strconv.ParseFloat(amountText, 64)
		if err != nil {
			continue
		}
		if e.ObservedAt.Sub(e.OccurredAt) > r.opts.Lookback {
			continue
		}
		if e.ObservedAt.After(observedAt) {
			observedAt = e.ObservedAt
		}
		byToken[token] = append(byToken[token], buy{at: e.OccurredAt, amount: amount})
	}

	tokens := make([]string, 0, len(byToken))
	for token := range byToken {
		tokens = append(tokens, token)
	}
	sort.Strings(tokens)

	var out []monitor.Event
	for _, token := range tokens {
		w, ok := r.latestWindow(byToken[token])
		if !ok {
			continue
		}

		id := fmt.Sprintf(
			"volume:%s:%s",
			token,
			w.start.Truncate(r.opts.Cooldown).UTC().Format(time.RFC3339),
		)
		if last, cooling := r.cooldown.Get(token); cooling && last != id {
			r.tel.ReportDebug("cooldown", token, w.total)
			continue
		}
		r.cooldown.Add(token, id)

		r.tel.ReportDebug(report_volume_alert, token, w.total, w.buys)
		out = append(out, monitor.Event{
			ID:         id,
			Kind:       monitor.KindVolume,
			ObservedAt: observedAt,
			OccurredAt: w.end,
			Payload: map[string]string{
				"token":        token,
				"total_sol":    strconv.FormatFloat(w.total, 'f', 2, 64),
				"buys":         strconv.Itoa(w.buys),
				"window_start": w.start.UTC().Format(time.RFC3339),
				"min_sol":      extractor.FormatSOL(r.opts.MinSOL),
			},
		})
	}
	return out
}

// latestWindow walks buys oldest first, a window starts at its first buy and
// takes every buy within Window of it.
func (r *VolumeRule) latestWindow(buys []buy) (window, bool) {
	sort.SliceStable(buys, func(i, j int) bool {
		return buys[i].at.Before(buys[j].at)
	})

	var (
		found   window
		ok      bool
		current = window{start: buys[0].at}
	)
	flush := func() {
		if current.total > r.opts.MinSOL {
			found = current
			ok = true
		}
	}
	for _, b := range buys {
		if b.at.Sub(current.start) > r.opts.Window {
			flush()
			current = window{start: b.at}
		}
		current.end = b.at
		current.total += b.amount
		current.buys++
	}
	flush()
	return found, ok
}

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"
	"solwatch/internal/detector"
	"solwatch/internal/monitor"
)

// RunCycle runs Idle -> Fetching -> Extracting -> Detecting -> Notifying ->
// Idle once. An event counts as delivered only after its id was persisted,
// events whose delivery failed stay unseen and come back in the next cycle.
func (s *Scheduler) RunCycle(ctx context.Context) (result CycleResult) {
	start := s.clock.Now()
	result = CycleResult{ID: s.cycleID(), Outcome: OutcomeOK}
	defer s.transition(Idle)
	defer func() {
		s.finish(result, start)
	}()

	s.transition(Fetching)
	snapshot, err := s.fetcher.Fetch(ctx, s.cfg.URL)
	if err != nil {
		if ctx.Err() != nil {
			return s.fail(result, OutcomeCancelled, ctx.Err())
		}
		s.tel.ReportWarning(report_fetch, err, result.ID)
		return s.fail(result, OutcomeFetch, err)
	}

	s.transition(Extracting)
	events, err := s.extractor.Extract(ctx, snapshot)
	if err != nil {
		s.tel.ReportWarning(report_extract, err, result.ID)
		var extractErr *monitor.ExtractError
		if s.dump != nil && errors.As(err, &extractErr) {
			s.dump.Write(result.ID, snapshot.RawContent)
		}
		return s.fail(result, OutcomeExtract, err)
	}
	result.Extracted = len(events)
	s.metrics.EventsExtracted(len(events))

	order := s.extractor.Order()
	if s.volume != nil {
		derived := s.volume.Derive(events)
		if order == monitor.NewestFirst {
			events = append(derived, events...)
		} else {
			events = append(events, derived...)
		}
	}

	s.transition(Detecting)
	fresh := detector.Diff(events, order, s.store)
	result.New = len(fresh)
	s.metrics.NewEvents(len(fresh))
	if len(fresh) > 0 {
		s.tel.ReportDebug(report_new_events, result.ID, len(fresh))
	}

	s.transition(Notifying)
	var notifyErrs []error
	for _, event := range fresh {
		if ctx.Err() != nil {
			return s.fail(result, OutcomeCancelled, ctx.Err())
		}

		if !s.shouldNotify(event.Kind) {
			err = s.markSeen(ctx, event.ID)
			if err != nil {
				return s.fail(result, OutcomeStorage, err)
			}
			result.Silent++
			continue
		}

		record, err := s.notifier.Notify(ctx, event)
		result.Records = append(result.Records, record)
		if err != nil {
			result.Failed++
			s.metrics.Delivery(deliveryResult(err))
			s.tel.ReportWarning(report_notify, err, result.ID, event.ID)
			notifyErrs = append(notifyErrs, err)
			continue
		}

		err = s.markSeen(ctx, event.ID)
		if err != nil {
			return s.fail(result, OutcomeStorage, err)
		}
		result.Delivered++
		s.metrics.Delivery("delivered")
	}

	if len(notifyErrs) > 0 {
		return s.fail(result, OutcomeNotify, errors.Join(notifyErrs...))
	}
	return result
}

func (s *Scheduler) markSeen(ctx context.Context, id string) error {
	s.store.MarkSeen(id)
	err := s.store.Persist(ctx)
	if err != nil {
		return fmt.Errorf("persist %s: %w", id, err)
	}
	return nil
}

func (s *Scheduler) fail(result CycleResult, outcome Outcome, err error) CycleResult {
	result.Outcome = outcome
	result.Err = err
	result.Fatal = !monitor.Recoverable(err)
	if result.Fatal {
		s.tel.ReportBroken(report_storage, err, result.ID)
	}
	return result
}

func deliveryResult(err error) string {
	var notifyErr *monitor.NotifyError
	if errors.As(err, &notifyErr) && notifyErr.Kind == monitor.Rejected {
		return "rejected"
	}
	return "exhausted_retries"
}

func (s *Scheduler) finish(result CycleResult, start time.Time) {
	s.mu.Lock()
	s.cycles++
	cycles := s.cycles
	s.mu.Unlock()

	now := s.clock.Now()
	duration := now.Sub(start)
	s.metrics.CycleFinished(string(result.Outcome), duration, now)
	s.metrics.SeenSetSize(s.store.Len())

	attrs := []any{
		"cycle", result.ID,
		"outcome", string(result.Outcome),
		"extracted", result.Extracted,
		"new", result.New,
		"delivered", result.Delivered,
		"failed", result.Failed,
		"duration", duration,
	}
	if result.Err != nil {
		attrs = append(attrs, "err", result.Err.Error())
	}
	switch {
	case result.Fatal:
		s.log.Error("cycle", attrs...)
	case result.Err != nil && result.Outcome != OutcomeCancelled:
		s.log.Warn("cycle", attrs...)
	case result.New > 0:
		s.log.Info("cycle", attrs...)
	default:
		s.log.Debug("cycle", attrs...)
	}

	if cycles%heartbeatEvery == 0 {
		s.tel.ReportCount(report_heartbeat, int64(cycles))
	}
}

package scheduler

import (
	"context"
	"fmt"
	"solwatch/internal/components/chrono"
	"solwatch/internal/monitor"
)

// Run runs a cycle right away and then one every interval on cron until ctx
// is cancelled or a cycle fails fatally. Cycles never overlap, a tick that
// fires while a cycle is still running is skipped. Run stops cron and waits
// for the running cycle before it returns the fatal error, if any.
func (s *Scheduler) Run(ctx context.Context, cron chrono.CronAPI) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	fatal := make(chan error, 1)
	cycle := func() {
		if ctx.Err() != nil {
			return
		}
		result := s.RunCycle(ctx)
		if result.Fatal {
			select {
			case fatal <- result.Err:
			default:
			}
			cancel()
		}
	}

	cycle()
	err := cron.Cron(fmt.Sprintf("@every %s", s.cfg.Interval), cycle)
	if err != nil {
		<-cron.Stop().Done()
		return &monitor.ConfigError{Field: "interval", Reason: err.Error()}
	}

	<-ctx.Done()
	<-cron.Stop().Done()
	select {
	case err := <-fatal:
		return err
	default:
		return nil
	}
}

// RunOnce runs a single cycle, the error is nil only if the cycle finished
// without one.
func (s *Scheduler) RunOnce(ctx context.Context) (CycleResult, error) {
	result := s.RunCycle(ctx)
	return result, result.Err
}

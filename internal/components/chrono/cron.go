package chrono

import (
	"context"
	"fmt"
	"solwatch/internal/components/telemetry"

	"github.com/robfig/cron/v3"
)

// CronAPI is the interface that anything depending on things to happen on a cron job should use.
type CronAPI interface {
	Cron(spec string, callback func()) error
	// Stop halts the schedule, the returned context is done once running
	// callbacks have returned.
	Stop() context.Context
}

// StandardCron is the standard implementation of CronAPI using `github.com/robfig/cron/v3`,
// a callback that is still running when its next tick fires is skipped rather
// than run concurrently.
type StandardCron struct {
	cron *cron.Cron
}

// NewStandardCron is the constructor of StandardCron.
func NewStandardCron(tel telemetry.API, clock API) StandardCron {
	logger := cronLogger{tel: tel}
	cronner := cron.New(
		cron.WithLogger(logger),
		cron.WithLocation(clock.Location()),
		cron.WithChain(
			cron.Recover(logger),
			cron.SkipIfStillRunning(logger),
		),
	)
	cronner.Start()

	return StandardCron{
		cron: cronner,
	}
}

func (s StandardCron) Cron(spec string, callback func()) error {
	_, err := s.cron.AddFunc(spec, callback)
	return err
}

func (s StandardCron) Stop() context.Context {
	return s.cron.Stop()
}

type cronLogger struct {
	tel telemetry.API
}

func (l cronLogger) formatParams(keysAndValues []any) []any {
	params := []any{}
	for i := 0; i < len(keysAndValues)/2; i++ {
		idx := i * 2
		key := keysAndValues[idx]
		value := keysAndValues[idx+1]
		params = append(params, fmt.Sprintf("%v: %v", key, value))
	}
	return params
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.tel.ReportDebug(
		fmt.Sprintf("cron: %s", msg),
		l.formatParams(keysAndValues)...,
	)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.tel.ReportBroken(
		"cron",
		append(
			[]any{fmt.Errorf("%s: %w", msg, err)},
			l.formatParams(keysAndValues)...,
		)...,
	)
}

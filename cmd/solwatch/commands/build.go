package commands

import (
	"context"
	"errors"
	"os"
	"time"
	"solwatch/internal/alerts"
	"solwatch/internal/components/chrono"
	"solwatch/internal/components/telemetry"
	"solwatch/internal/config"
	"solwatch/internal/dedup"
	"solwatch/internal/extractor"
	"solwatch/internal/fetcher"
	"solwatch/internal/monitor"
	"solwatch/internal/notifier"
)

// pipeline is every component of the monitor, built once from the config.
type pipeline struct {
	clock     chrono.API
	fetcher   fetcher.Fetcher
	extractor extractor.Extractor
	store     dedup.Store
	notifier  notifier.Notifier
	volume    *alerts.VolumeRule
}

func newClock(cfg config.Config) (chrono.API, error) {
	clock, err := chrono.NewStandardImpl(cfg.Timezone)
	if err != nil {
		return nil, &monitor.ConfigError{Field: "timezone", Reason: err.Error()}
	}
	return clock, nil
}

func openStore(ctx context.Context, cfg config.Config, clock chrono.API, tel telemetry.API) (dedup.Store, error) {
	return dedup.Open(ctx, dedup.Options{
		Kind: cfg.Store.Kind,
		DSN:  cfg.Store.ConnectionString(),
		Path: cfg.Store.Path,
	}, clock, tel)
}

func newFetcher(cfg config.Config, clock chrono.API, tel telemetry.API) (fetcher.Fetcher, error) {
	opts := fetcher.Options{
		Timeout:       time.Duration(cfg.Fetcher.TimeoutSeconds) * time.Second,
		ReadySelector: cfg.Fetcher.ReadySelector,
		Settle:        time.Duration(cfg.Fetcher.SettleMillis) * time.Millisecond,
		UserAgent:     cfg.Fetcher.UserAgent,
		RemoteURL:     cfg.Fetcher.RemoteURL,
	}
	if cfg.Fetcher.Kind == config.FetcherHTTP {
		f, err := fetcher.NewHTTPFetcher(opts, clock, tel)
		if err != nil {
			return nil, err
		}
		return f, nil
	}
	return fetcher.NewBrowserFetcher(opts, clock, tel), nil
}

func newExtractor(cfg config.Config, tel telemetry.API) extractor.Extractor {
	if cfg.Extractor.Kind == config.ExtractorKOL {
		return extractor.NewKOLExtractor(extractor.KOLOptions{
			CardSelector: cfg.Extractor.CardSelector,
			MinKOLCount:  cfg.Extractor.MinKOLCount,
			MinSOL:       cfg.Alerts.MinSOL,
		}, tel)
	}
	return extractor.NewTransactionsExtractor(extractor.TransactionsOptions{
		TableSelector: cfg.Extractor.TableSelector,
		ContentIDs:    cfg.Extractor.ContentIDs,
		BuysOnly:      cfg.Extractor.BuysOnly,
	}, tel)
}

func newDiscord(cfg config.Config, tel telemetry.API) *notifier.Discord {
	return notifier.NewDiscord(notifier.DiscordOptions{
		WebhookURL:  cfg.Discord.WebhookURL,
		Username:    cfg.Discord.Username,
		Timeout:     time.Duration(cfg.Discord.TimeoutSeconds) * time.Second,
		MaxAttempts: cfg.Discord.MaxAttempts,
		BaseBackoff: time.Duration(cfg.Discord.BaseBackoffMillis) * time.Millisecond,
		MaxBackoff:  time.Duration(cfg.Discord.MaxBackoffSeconds) * time.Second,
	}, tel)
}

func newNotifier(cfg config.Config, tel telemetry.API) notifier.Notifier {
	if cfg.DryRun {
		return notifier.NewConsole(os.Stdout)
	}
	channels := notifier.Multi{newDiscord(cfg, tel)}
	if cfg.Email.Enabled() {
		channels = append(channels, notifier.NewEmail(notifier.EmailOptions{
			Server:   cfg.Email.Server,
			Port:     cfg.Email.Port,
			Address:  cfg.Email.Address,
			Password: cfg.Email.Password,
			To:       cfg.Email.To,
			Timeout:  time.Duration(cfg.Email.TimeoutSeconds) * time.Second,
		}, tel))
	}
	if len(channels) == 1 {
		return channels[0]
	}
	return channels
}

func newVolumeRule(cfg config.Config, tel telemetry.API) *alerts.VolumeRule {
	if cfg.Extractor.Kind != config.ExtractorTransactions || !*cfg.Alerts.Volume {
		return nil
	}
	return alerts.NewVolumeRule(alerts.VolumeOptions{
		MinSOL:   cfg.Alerts.MinSOL,
		Window:   time.Duration(cfg.Alerts.WindowMinutes) * time.Minute,
		Lookback: time.Duration(cfg.Alerts.LookbackMinutes) * time.Minute,
		Cooldown: time.Duration(cfg.Alerts.CooldownMinutes) * time.Minute,
	}, tel)
}

func buildPipeline(ctx context.Context, cfg config.Config, tel telemetry.API) (pipeline, error) {
	clock, err := newClock(cfg)
	if err != nil {
		return pipeline{}, err
	}

	store, err := openStore(ctx, cfg, clock, tel)
	if err != nil {
		return pipeline{}, err
	}
	f, err := newFetcher(cfg, clock, tel)
	if err != nil {
		store.Close()
		return pipeline{}, err
	}

	return pipeline{
		clock:     clock,
		fetcher:   f,
		extractor: newExtractor(cfg, tel),
		store:     store,
		notifier:  newNotifier(cfg, tel),
		volume:    newVolumeRule(cfg, tel),
	}, nil
}

func (p pipeline) Close() error {
	return errors.Join(p.fetcher.Close(), p.store.Close())
}

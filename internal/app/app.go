// Package app wires every component together and owns the process
// lifecycle: load config, build the pipeline, serve, react to config
// edits, shut down in reverse order.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"signalcast/internal/adapter"
	"signalcast/internal/adapter/slack"
	"signalcast/internal/adapter/telegram"
	"signalcast/internal/adapter/webhook"
	"signalcast/internal/analytics"
	"signalcast/internal/analyzer"
	"signalcast/internal/config"
	"signalcast/internal/dispatch"
	"signalcast/internal/engine"
	"signalcast/internal/eventbus"
	"signalcast/internal/httpapi"
	"signalcast/internal/lexicon"
	"signalcast/internal/resultcache"
	"signalcast/internal/scheduler"
	"signalcast/internal/scorer"
	"signalcast/pkg/logx"
)

type App struct {
	cfgm *config.Manager

	logs *logx.Service
	log  logx.Logger
	bus  eventbus.Bus

	lexicons *lexicon.Store
	profiles *scorer.ProfileStore
	sink     analytics.Sink

	engine *engine.Engine
	sched  *scheduler.Scheduler
	http   *httpapi.Server

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	bus := eventbus.New()

	lexStore := lexicon.NewStore(log.With(logx.String("comp", "lexicon")))
	if err := lexStore.Reload(cfg.Lexicons.Dir); err != nil {
		return nil, fmt.Errorf("load lexicons: %w", err)
	}
	profStore := scorer.NewProfileStore(log.With(logx.String("comp", "profiles")))
	if err := profStore.Reload(cfg.Profiles.Path); err != nil {
		return nil, fmt.Errorf("load profiles: %w", err)
	}

	cacheTTL, _ := config.ParseDurationOrDefault("cache.ttl", cfg.Cache.TTL, time.Hour)
	cache := resultcache.New(resultcache.Config{
		TTL:      cacheTTL,
		Capacity: cfg.Cache.Capacity,
	}, log.With(logx.String("comp", "cache")))

	registry, err := buildRegistry(cfg, log)
	if err != nil {
		return nil, err
	}

	dispCfg, err := mapDispatchConfig(cfg)
	if err != nil {
		return nil, err
	}
	dispatcher := dispatch.New(dispCfg, registry, bus, log.With(logx.String("comp", "dispatch")))

	eng := engine.New(
		engine.Config{
			DefaultLanguage: cfg.Analyzer.DefaultLanguage,
			CacheTTL:        cacheTTL,
		},
		lexStore,
		profStore,
		analyzer.New(lexStore, analyzer.Config{
			NegationWindow:   cfg.Analyzer.NegationWindow,
			MaxKeywords:      cfg.Analyzer.MaxKeywords,
			MinKeywordLength: cfg.Analyzer.MinKeywordLength,
		}),
		scorer.New(scorer.Weights{
			ToneAffinity:      cfg.Scorer.ToneAffinityWeight,
			SentimentFit:      cfg.Scorer.SentimentFitWeight,
			LengthFeasibility: cfg.Scorer.LengthFeasibilityWeight,
			KeywordRelevance:  cfg.Scorer.KeywordRelevanceWeight,
		}),
		cache,
		dispatcher,
		bus,
		log.With(logx.String("comp", "engine")),
	)

	var sink analytics.Sink
	var retention time.Duration
	if ac := cfg.Analytics; ac != nil {
		busyTimeout, _ := config.ParseDurationField("analytics.busy_timeout", ac.BusyTimeout)
		retention, _ = config.ParseDurationField("analytics.retention", ac.Retention)
		sink, err = analytics.Open(analytics.Config{
			Driver:      ac.Driver,
			Path:        ac.Path,
			BusyTimeout: busyTimeout,
		}, log.With(logx.String("comp", "analytics")))
		if err != nil {
			return nil, fmt.Errorf("open analytics: %w", err)
		}
		if sink != nil {
			eng.SetSink(sink)
			log.Info("analytics enabled", logx.String("driver", ac.Driver))
		}
	}

	sweepInterval, _ := config.ParseDurationOrDefault("cache.sweep_interval", cfg.Cache.SweepInterval, time.Minute)
	sched := scheduler.New(scheduler.Config{
		SweepInterval: sweepInterval,
		Retention:     retention,
	}, eng, cache, sink, log.With(logx.String("comp", "scheduler")))
	eng.SetDeferrer(sched)

	readTimeout, _ := config.ParseDurationField("http.read_timeout", cfg.HTTP.ReadTimeout)
	writeTimeout, _ := config.ParseDurationField("http.write_timeout", cfg.HTTP.WriteTimeout)
	httpSrv := httpapi.New(httpapi.Config{
		Addr:         cfg.HTTP.Addr,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}, eng, log.With(logx.String("comp", "http")))

	return &App{
		cfgm:     cfgm,
		logs:     logSvc,
		log:      log,
		bus:      bus,
		lexicons: lexStore,
		profiles: profStore,
		sink:     sink,
		engine:   eng,
		sched:    sched,
		http:     httpSrv,
	}, nil
}

// Engine exposes the wired engine, mostly for smoke tests.
func (a *App) Engine() *engine.Engine { return a.engine }

func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if err := a.sched.Start(runCtx); err != nil {
		cancel()
		return err
	}

	// Keep the file on disk authoritative: watch it, and re-apply the
	// hot-reloadable parts on every committed change.
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.cfgm.Watch(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("config watch stopped", logx.Err(err))
		}
	}()
	sub := a.cfgm.Subscribe(1)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-runCtx.Done():
				return
			case cfg, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(cfg)
			}
		}
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.http.Start(); err != nil {
			a.log.Error("http server failed", logx.Err(err))
			cancel()
		}
	}()

	a.log.Info("started")
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	if err := a.http.Shutdown(ctx); err != nil {
		a.log.Warn("http shutdown", logx.Err(err))
	}
	a.sched.Stop()
	a.wg.Wait()
	if a.sink != nil {
		_ = a.sink.Close()
	}
	a.log.Info("stopped")
	return a.logs.Close()
}

// applyConfig re-applies the hot-reloadable settings: logging output,
// lexicons and profiles. Adapter credentials, dispatch limits and the
// HTTP listener need a restart.
func (a *App) applyConfig(cfg *config.Config) {
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	if err := a.lexicons.Reload(cfg.Lexicons.Dir); err != nil {
		a.log.Error("lexicon reload failed, keeping previous snapshot", logx.Err(err))
	}
	if err := a.profiles.Reload(cfg.Profiles.Path); err != nil {
		a.log.Error("profile reload failed, keeping previous snapshot", logx.Err(err))
	}
	a.bus.Publish(eventbus.Event{Type: eventbus.TypeConfigReloaded, Time: time.Now()})
	a.log.Info("config applied")
}

func buildRegistry(cfg *config.Config, log logx.Logger) (*adapter.Registry, error) {
	reg := adapter.NewRegistry()
	alog := log.With(logx.String("comp", "adapter"))

	if tc := cfg.Adapters.Telegram; tc != nil {
		a, err := telegram.New(telegram.Config{
			ChannelID:  tc.ChannelID,
			Token:      tc.Token,
			ChatID:     tc.ChatID,
			RatePerSec: tc.RatePerSec,
		}, alog)
		if err != nil {
			return nil, fmt.Errorf("telegram adapter: %w", err)
		}
		reg.Register(a)
	}
	if sc := cfg.Adapters.Slack; sc != nil {
		a, err := slack.New(slack.Config{
			ChannelID:  sc.ChannelID,
			Token:      sc.Token,
			Channel:    sc.Channel,
			RatePerSec: sc.RatePerSec,
		}, alog)
		if err != nil {
			return nil, fmt.Errorf("slack adapter: %w", err)
		}
		reg.Register(a)
	}
	for i, wc := range cfg.Adapters.Webhooks {
		timeout, err := config.ParseDurationField(fmt.Sprintf("adapters.webhooks[%d].timeout", i), wc.Timeout)
		if err != nil {
			return nil, err
		}
		a, err := webhook.New(webhook.Config{
			ChannelID:  wc.ChannelID,
			URL:        wc.URL,
			Timeout:    timeout,
			RatePerSec: wc.RatePerSec,
		}, alog)
		if err != nil {
			return nil, fmt.Errorf("webhook adapter %q: %w", wc.ChannelID, err)
		}
		reg.Register(a)
	}
	log.Info("adapters registered", logx.Any("channels", reg.ChannelIDs()))
	return reg, nil
}

func mapDispatchConfig(cfg *config.Config) (dispatch.Config, error) {
	d := cfg.Dispatch
	channelTimeout, err := config.ParseDurationField("dispatch.channel_timeout", d.ChannelTimeout)
	if err != nil {
		return dispatch.Config{}, err
	}
	retryBase, err := config.ParseDurationField("dispatch.retry_base", d.RetryBase)
	if err != nil {
		return dispatch.Config{}, err
	}
	jobDeadline, err := config.ParseDurationField("dispatch.job_deadline", d.JobDeadline)
	if err != nil {
		return dispatch.Config{}, err
	}
	cooldown, err := config.ParseDurationField("dispatch.breaker_cooldown", d.BreakerCooldown)
	if err != nil {
		return dispatch.Config{}, err
	}
	return dispatch.Config{
		MaxParallel:         d.MaxParallel,
		ChannelTimeout:      channelTimeout,
		RetryMax:            d.RetryMax,
		RetryBase:           retryBase,
		RetryJitter:         d.RetryJitter,
		JobDeadline:         jobDeadline,
		BreakerTripFailures: d.BreakerTripFailures,
		BreakerCooldown:     cooldown,
	}, nil
}

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog"

	"mailgauge/internal/config"
	"mailgauge/internal/lookup"
	"mailgauge/internal/proxy"
	"mailgauge/internal/queue"
	"mailgauge/internal/store"
	"mailgauge/internal/throttle"
	"mailgauge/internal/validator"
	"mailgauge/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		stderr := zerolog.New(os.Stderr)
		stderr.Fatal().Err(err).Msg("config load failed")
	}

	lvl, lvlErr := zerolog.ParseLevel(cfg.LogLevel)
	if lvlErr != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(lvl)

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			AttachStacktrace: true,
		}); err != nil {
			logger.Fatal().Err(err).Msg("cannot initialize sentry")
		}
		defer sentry.Flush(5 * time.Second)
	}
	defer recovery(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q, err := queue.New(cfg.RedisAddr, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis init failed")
	}
	defer q.Close()
	logger.Info().Str("addr", cfg.RedisAddr).Msg("connected to redis")

	st, err := store.New(ctx, cfg.DBURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("database init failed")
	}
	defer st.Close()
	logger.Info().Msg("connected to postgres")

	engine, err := buildEngine(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("engine init failed")
	}

	limiter := throttle.New(cfg.DomainProbeGap)
	limiter.StartCleanup(ctx, 5*time.Minute)

	runner := worker.New(q, st, engine, limiter, logger)

	// Cancel the runner's context on SIGTERM/SIGINT; Run returns once
	// the blocking pop is released.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-quit
		logger.Info().Msg("shutdown signal received")
		cancel()
	}()

	runner.Run(ctx)
}

// recovery reports a crash before the process dies. The flush happens here
// because log.Fatal exits without running remaining defers.
func recovery(log zerolog.Logger) {
	rec := recover()
	if rec == nil {
		return
	}
	sentry.CurrentHub().Recover(rec)
	sentry.Flush(5 * time.Second)
	log.Fatal().Interface("panic", rec).Msg("unrecovered panic")
}

// buildEngine mirrors the API's wiring; workers probe through the same
// proxy pool when SMTP proxying is enabled.
func buildEngine(cfg *config.Config, logger zerolog.Logger) (*validator.Engine, error) {
	resolver := lookup.NewResolver(logger)

	var dial lookup.DialFunc
	if len(cfg.ProxyList) > 0 && cfg.SMTPProxyEnabled {
		mgr, err := proxy.NewManager(cfg.ProxyList, cfg.ProxyConcurrency, logger)
		if err != nil {
			return nil, err
		}
		dial = mgr.DialContext
		logger.Info().Int("proxies", len(cfg.ProxyList)).Msg("smtp probes routed through proxy pool")
	}

	prober := lookup.NewProber(lookup.ProberConfig{
		HeloHost:       cfg.Engine.HeloHost,
		MailFrom:       cfg.Engine.MailFrom,
		ConnectTimeout: cfg.Engine.ConnectTimeout,
		MaxAttempts:    cfg.Engine.MaxAttempts,
		Concurrency:    cfg.Engine.ProbeConcurrency,
		Dial:           dial,
	}, logger)

	fallback := lookup.NewFallbackValidator(cfg.Engine.ConnectTimeout, dial, logger)
	reputation := lookup.NewReputationChecker(resolver, logger)

	opts := validator.Options{
		TemporaryAsRisky:     cfg.Engine.TemporaryAsRisky,
		PolicyAsRisky:        cfg.Engine.PolicyAsRisky,
		DeliverableOnConnect: cfg.Engine.DeliverableOnConnect,
		DeliverableDomains:   cfg.Engine.DeliverableDomains,
	}

	return validator.NewEngine(resolver, prober, fallback, reputation, opts, logger), nil
}

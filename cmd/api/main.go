package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog"

	"mailgauge/internal/config"
	"mailgauge/internal/lookup"
	"mailgauge/internal/models"
	"mailgauge/internal/proxy"
	"mailgauge/internal/queue"
	"mailgauge/internal/store"
	"mailgauge/internal/validator"
)

// server carries the shared dependencies into the HTTP handlers.
type server struct {
	cfg    *config.Config
	log    zerolog.Logger
	engine *validator.Engine
	store  *store.Store
	queue  *queue.Queue
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		stderr := zerolog.New(os.Stderr)
		stderr.Fatal().Err(err).Msg("config load failed")
	}
	logger := newLogger(cfg.LogLevel)

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

	st, err := store.New(ctx, cfg.DBURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("database init failed")
	}
	defer st.Close()
	logger.Info().Msg("connected to postgres, migrations applied")

	q, err := queue.New(cfg.RedisAddr, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis init failed")
	}
	defer q.Close()
	logger.Info().Str("addr", cfg.RedisAddr).Msg("connected to redis")

	engine, err := buildEngine(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("engine init failed")
	}

	s := &server{cfg: cfg, log: logger, engine: engine, store: st, queue: q}

	mux := http.NewServeMux()
	mux.HandleFunc("/validate", enableCORS(s.requireAPIKey(s.handleValidate)))
	mux.HandleFunc("/probe", enableCORS(s.requireAPIKey(s.handleProbe)))
	mux.HandleFunc("/upload", enableCORS(s.requireAPIKey(s.handleUpload)))
	mux.HandleFunc("/status", enableCORS(s.requireAPIKey(s.handleStatus)))
	mux.HandleFunc("/results", enableCORS(s.requireAPIKey(s.handleResults)))
	mux.HandleFunc("/info", enableCORS(s.handleInfo))

	srv := &http.Server{
		Addr:        cfg.APIAddr,
		Handler:     s.recoverPanics(mux.ServeHTTP),
		ReadTimeout: 30 * time.Second,
		// Aggressive validations legitimately run for tens of seconds.
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		logger.Info().Str("addr", cfg.APIAddr).Msg("api listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	<-quit
	logger.Info().Msg("shutdown signal received, draining in-flight requests")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	logger.Info().Msg("server stopped")
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger().Level(lvl)
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

// buildEngine wires the four pipeline stages from config. When SMTP
// proxying is on, both the prober and the fallback's connect checks
// route through the proxy pool.
func buildEngine(cfg *config.Config, logger zerolog.Logger) (*validator.Engine, error) {
	resolver := lookup.NewResolver(logger)

	var dial lookup.DialFunc
	if len(cfg.ProxyList) > 0 {
		mgr, err := proxy.NewManager(cfg.ProxyList, cfg.ProxyConcurrency, logger)
		if err != nil {
			return nil, err
		}
		if cfg.SMTPProxyEnabled {
			dial = mgr.DialContext
			logger.Info().Int("proxies", len(cfg.ProxyList)).Msg("smtp probes routed through proxy pool")
		} else {
			logger.Info().Int("proxies", len(cfg.ProxyList)).Msg("proxies loaded, port 25 stays direct")
		}
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

// recoverPanics sits at the server boundary: a handler panic becomes a 500
// and a sentry event instead of a dropped connection.
func (s *server) recoverPanics(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				sentry.CurrentHub().Recover(rec)
				s.log.Error().Interface("panic", rec).Str("path", r.URL.Path).Msg("handler panicked")
				writeError(w, http.StatusInternalServerError, string(models.ErrCodeInternal), "internal server error", "")
			}
		}()
		next(w, r)
	}
}

// enableCORS is permissive on purpose; restrict the origin when a real
// frontend exists.
func enableCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

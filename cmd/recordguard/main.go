package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/recordguard/internal/config"
	"github.com/ehr/recordguard/internal/domain/auditevent"
	"github.com/ehr/recordguard/internal/domain/clinical"
	"github.com/ehr/recordguard/internal/domain/consent"
	"github.com/ehr/recordguard/internal/domain/identity"
	"github.com/ehr/recordguard/internal/platform/db"
	"github.com/ehr/recordguard/internal/platform/hipaa"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "recordguard",
		Short:        "Patient record authorization service",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(consentCmd())
	rootCmd.AddCommand(sessionCmd())
	rootCmd.AddCommand(identityCmd())
	rootCmd.AddCommand(auditCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runServer(cfg, newLogger(cfg.Env))
		},
	}
}

func runServer(cfg *config.Config, logger zerolog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sealer, err := auditevent.NewSealer([]byte(cfg.AuditHMACKey))
	if err != nil {
		return err
	}
	st := memoryStores(sealer)
	if cfg.UseMemoryStores() {
		logger.Warn().Msg("DATABASE_URL not set, using in-memory stores; data is lost on exit")
	} else {
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return err
		}
		defer pool.Close()
		sqlDB := db.OpenSQL(pool)
		defer sqlDB.Close()

		st = stores{
			identities: identity.NewRepoPG(sqlDB),
			consents:   consent.NewRepoPG(sqlDB),
			audit:      auditevent.NewRepoPG(sqlDB, sealer),
			sealer:     sealer,
			records:    clinical.NewRepoPG(sqlDB),
			checks:     []db.Check{db.PoolCheck(pool)},
		}
		logger.Info().Msg("connected to database")
	}

	alerts := hipaa.MultiAlertSink{hipaa.LogAlertSink{Logger: logger}}

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.SentryDSN,
			Environment: cfg.Env,
		}); err != nil {
			return err
		}
		defer sentry.Flush(2 * time.Second)
		alerts = append(alerts, hipaa.NewSentryAlertSink(nil))
	}

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return err
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		alerts = append(alerts, hipaa.NewRedisAlertSink(rdb, cfg.AuditAlertChannel, logger))
		st.checks = append(st.checks, db.Check{Name: "redis", Ping: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a, err := newApp(cfg, st, alerts, reg, time.Now, logger)
	if err != nil {
		return err
	}
	a.e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	go a.consents.RunSweeper(ctx, cfg.ConsentSweepInterval, logger)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Bool("tls", cfg.TLSEnabled).Msg("starting server")
		var err error
		if cfg.TLSEnabled {
			err = a.e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = a.e.Start(addr)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	cancel()
	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := a.e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	if err := a.close(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("audit queue not drained")
	}
	logger.Info().Msg("server stopped")
	return nil
}

package main

import (
	"context"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/ehr/recordguard/internal/config"
	"github.com/ehr/recordguard/internal/domain/auditevent"
	"github.com/ehr/recordguard/internal/domain/clinical"
	"github.com/ehr/recordguard/internal/domain/consent"
	"github.com/ehr/recordguard/internal/domain/identity"
	"github.com/ehr/recordguard/internal/platform/auth"
	"github.com/ehr/recordguard/internal/platform/db"
	"github.com/ehr/recordguard/internal/platform/hipaa"
	"github.com/ehr/recordguard/internal/platform/middleware"
	"github.com/ehr/recordguard/pkg/validate"
)

// stores are the persistence backends, memory or PostgreSQL.
type stores struct {
	identities identity.Repository
	consents   consent.Repository
	audit      auditevent.Repository
	sealer     *auditevent.Sealer
	records    clinical.Repository
	checks     []db.Check
}

func memoryStores(sealer *auditevent.Sealer) stores {
	return stores{
		identities: identity.NewMemoryRepo(),
		consents:   consent.NewMemoryRepo(),
		audit:      auditevent.NewMemoryRepo(sealer),
		sealer:     sealer,
		records:    clinical.NewMemoryRepo(),
	}
}

type app struct {
	e        *echo.Echo
	recorder *hipaa.AuditRecorder
	consents *consent.Service
	tokens   *auth.TokenService
}

// newApp wires gates, recorder, handlers and middleware onto a fresh echo
// instance. now is the clock shared by every time-dependent component.
func newApp(cfg *config.Config, st stores, alerts hipaa.AlertSink, reg prometheus.Registerer, now func() time.Time, log zerolog.Logger) (*app, error) {
	tokens, err := auth.NewTokenService(auth.TokenConfig{
		SigningKey: []byte(cfg.AuthSigningKey),
		Issuer:     cfg.AuthIssuer,
		AccessTTL:  cfg.AccessTokenTTL,
		RefreshTTL: cfg.RefreshTokenTTL,
		Now:        now,
	}, st.identities)
	if err != nil {
		return nil, err
	}
	policy := auth.NewAccountSecurityPolicy(auth.LockoutConfig{
		MaxAttempts:  cfg.LoginMaxAttempts,
		LockDuration: cfg.LoginLockDuration,
		Now:          now,
	}, st.identities)
	sessions := auth.NewSessionService(st.identities, tokens, policy)

	consentSvc := consent.NewService(st.consents, st.identities, now)
	consentGate := auth.NewConsentGate(auth.ConsentGateConfig{
		AdminBypass: cfg.ConsentAdminBypass,
		Now:         now,
	}, consentSvc, log)

	recorder := hipaa.NewAuditRecorder(hipaa.RecorderConfig{
		QueueSize:     cfg.AuditQueueSize,
		Workers:       cfg.AuditWorkers,
		RetryAttempts: cfg.AuditRetryAttempts,
		RetryBackoff:  cfg.AuditRetryBackoff,
		Now:           now,
	}, st.audit, alerts, hipaa.NewMetrics(reg), log)

	metrics := middleware.NewMetrics(reg)
	pipeline := middleware.NewPipeline(auth.NewAuthenticationGate(tokens), consentGate, recorder, metrics, log)
	guard := pipeline.Guard()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = validate.New()
	e.HTTPErrorHandler = middleware.ErrorHandler(log)

	e.Use(middleware.Recovery(log, sentry.CurrentHub()))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(log))
	e.Use(middleware.Instrument(metrics))
	e.Use(middleware.SecurityHeaders(cfg.TLSEnabled))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:  cfg.CORSOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowHeaders:  []string{echo.HeaderAuthorization, echo.HeaderContentType, middleware.RequestIDHeader},
		ExposeHeaders: []string{"Retry-After", middleware.RequestIDHeader},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	loginLimit := middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.LoginRateLimitRPS,
		BurstSize:         cfg.LoginRateLimitBurst,
		IdleTTL:           middleware.DefaultLoginRateLimitConfig().IdleTTL,
	})

	root := e.Group("")
	api := e.Group("/api/v1")

	auth.NewSessionHandler(sessions, tokens, middleware.NewSessionAuditor(recorder, metrics), log).
		RegisterRoutes(root, api, guard, loginLimit)
	consent.NewHandler(consentSvc).RegisterRoutes(api, guard)
	clinical.NewHandler(st.records).RegisterRoutes(api, guard)
	auditevent.NewHandler(auditevent.NewService(st.audit, st.sealer)).RegisterRoutes(api, guard)

	e.GET("/health", db.HealthHandler(5*time.Second, st.checks...))

	return &app{e: e, recorder: recorder, consents: consentSvc, tokens: tokens}, nil
}

// close drains the audit queue.
func (a *app) close(ctx context.Context) error {
	return a.recorder.Close(ctx)
}

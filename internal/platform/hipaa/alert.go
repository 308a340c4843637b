package hipaa

import (
	"context"
	"encoding/json"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Alert reports an audit entry that could not be persisted.
type Alert struct {
	EntryID   string    `json:"entry_id"`
	Action    string    `json:"action"`
	Outcome   string    `json:"outcome"`
	Reason    string    `json:"reason"`
	Attempts  int       `json:"attempts"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// AlertSink escalates audit write failures. Implementations must not block
// for long and must not return errors to the recorder.
type AlertSink interface {
	Alert(ctx context.Context, a Alert)
}

// LogAlertSink writes alerts to the log at error level.
type LogAlertSink struct {
	Logger zerolog.Logger
}

func (s LogAlertSink) Alert(_ context.Context, a Alert) {
	s.Logger.Error().
		Str("type", "hipaa_audit_alert").
		Str("entry_id", a.EntryID).
		Str("action", a.Action).
		Str("outcome", a.Outcome).
		Str("reason", a.Reason).
		Int("attempts", a.Attempts).
		Str("error", a.Error).
		Msg("audit entry lost")
}

// SentryAlertSink captures alerts as Sentry events.
type SentryAlertSink struct {
	Hub *sentry.Hub
}

func NewSentryAlertSink(hub *sentry.Hub) *SentryAlertSink {
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	return &SentryAlertSink{Hub: hub}
}

func (s *SentryAlertSink) Alert(_ context.Context, a Alert) {
	s.Hub.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentry.LevelError)
		scope.SetTag("audit.action", a.Action)
		scope.SetTag("audit.outcome", a.Outcome)
		scope.SetTag("audit.reason", a.Reason)
		scope.SetExtra("entry_id", a.EntryID)
		scope.SetExtra("attempts", a.Attempts)
		scope.SetExtra("error", a.Error)
		s.Hub.CaptureMessage("audit entry write failed")
	})
}

// Publisher is the subset of *redis.Client used for alert fan-out.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisAlertSink publishes alerts as JSON on a pub/sub channel.
type RedisAlertSink struct {
	client  Publisher
	channel string
	log     zerolog.Logger
}

func NewRedisAlertSink(client Publisher, channel string, log zerolog.Logger) *RedisAlertSink {
	return &RedisAlertSink{client: client, channel: channel, log: log}
}

func (s *RedisAlertSink) Alert(ctx context.Context, a Alert) {
	payload, err := json.Marshal(a)
	if err != nil {
		s.log.Error().Err(err).Msg("encode audit alert")
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
		s.log.Error().Err(err).Str("channel", s.channel).Msg("publish audit alert")
	}
}

// MultiAlertSink fans an alert out to every sink.
type MultiAlertSink []AlertSink

func (m MultiAlertSink) Alert(ctx context.Context, a Alert) {
	for _, s := range m {
		if s != nil {
			s.Alert(ctx, a)
		}
	}
}

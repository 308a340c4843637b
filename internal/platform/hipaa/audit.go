package hipaa

import (
	"context"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/recordguard/internal/domain/auditevent"
	"github.com/ehr/recordguard/internal/platform/auth"
	"github.com/ehr/recordguard/pkg/ids"
)

// RequestInfo is the request context copied into audit metadata.
type RequestInfo struct {
	Method    string
	Route     string
	Path      string
	RequestID string
	RemoteIP  string
	UserAgent string
	Status    int
	Query     url.Values
}

// Access describes one decided request or session event.
type Access struct {
	Actor        *auth.Principal
	Action       string
	ResourceType string
	ResourceID   string
	PatientID    *uuid.UUID
	GrantID      *uuid.UUID
	Outcome      auth.Outcome
	Reason       auth.Reason
	Tags         []string
	Request      RequestInfo
	// Metadata is merged into the request metadata before redaction.
	Metadata map[string]string
}

// Appender persists audit entries.
type Appender interface {
	Append(ctx context.Context, e *auditevent.Entry) error
}

type RecorderConfig struct {
	QueueSize     int
	Workers       int
	RetryAttempts int
	RetryBackoff  time.Duration
	// WriteTimeout bounds a single Append call.
	WriteTimeout time.Duration
	Now          func() time.Time
}

// AuditRecorder turns decisions into audit entries and persists them through
// a bounded queue. A full queue makes the caller attempt one synchronous
// write, so entries are never dropped; if that attempt fails the remaining
// retries run in the background. Persistence failures are escalated to the
// alert sink and never returned.
type AuditRecorder struct {
	store   Appender
	alerts  AlertSink
	metrics *Metrics
	log     zerolog.Logger
	cfg     RecorderConfig

	queue  chan *auditevent.Entry
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	// retries tracks background retries of failed synchronous writes.
	retries sync.WaitGroup
}

func NewAuditRecorder(cfg RecorderConfig, store Appender, alerts AlertSink, metrics *Metrics, log zerolog.Logger) *AuditRecorder {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 100 * time.Millisecond
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if alerts == nil {
		alerts = LogAlertSink{Logger: log}
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}

	r := &AuditRecorder{
		store:   store,
		alerts:  alerts,
		metrics: metrics,
		log:     log,
		cfg:     cfg,
		queue:   make(chan *auditevent.Entry, cfg.QueueSize),
	}
	for i := 0; i < cfg.Workers; i++ {
		r.wg.Add(1)
		go r.worker()
	}
	return r
}

// Build creates the entry for a without persisting it. The store assigns
// the chain position and digest on append.
func (r *AuditRecorder) Build(a Access) *auditevent.Entry {
	now := r.cfg.Now().UTC().Truncate(time.Microsecond)
	e := &auditevent.Entry{
		ID:           ids.New(now),
		Action:       a.Action,
		ResourceType: a.ResourceType,
		ResourceID:   a.ResourceID,
		PatientID:    a.PatientID,
		Outcome:      string(a.Outcome),
		Reason:       string(a.Reason),
		Timestamp:    now,
	}
	if a.Actor != nil {
		id := a.Actor.ID
		e.ActorID = &id
		e.ActorRole = string(a.Actor.Role)
	}
	if len(a.Tags) > 0 {
		e.Tags = append([]string(nil), a.Tags...)
	}
	e.Metadata = RedactMetadata(requestMetadata(a))
	return e
}

func requestMetadata(a Access) map[string]string {
	m := make(map[string]string, len(a.Metadata)+9)
	for k, v := range a.Metadata {
		m[k] = v
	}
	ri := a.Request
	set := func(k, v string) {
		if v != "" {
			m[k] = v
		}
	}
	set("method", ri.Method)
	set("route", ri.Route)
	set("path", ri.Path)
	set("request_id", ri.RequestID)
	set("remote_ip", ri.RemoteIP)
	set("user_agent", ri.UserAgent)
	if ri.Status != 0 {
		m["status"] = strconv.Itoa(ri.Status)
	}
	if q := RedactQuery(ri.Query); q != "" {
		m["query"] = q
	}
	if a.GrantID != nil {
		m["consent_grant_id"] = a.GrantID.String()
	}
	return m
}

// Record builds the entry, emits the hipaa_audit log line and hands the
// entry to a writer. It returns the entry as recorded.
func (r *AuditRecorder) Record(ctx context.Context, a Access) *auditevent.Entry {
	e := r.Build(a)
	r.logEntry(e)
	r.metrics.Recorded.WithLabelValues(e.Outcome).Inc()

	r.mu.RLock()
	closed := r.closed
	if !closed {
		select {
		case r.queue <- e:
			r.metrics.QueueDepth.Set(float64(len(r.queue)))
			r.mu.RUnlock()
			return e
		default:
			r.metrics.SyncFallbacks.Inc()
		}
	}
	r.mu.RUnlock()

	ctx = context.WithoutCancel(ctx)
	if closed {
		r.persist(ctx, e)
		return e
	}
	if err := r.write(ctx, e, 1, 1); err != nil {
		r.retryLater(ctx, e, err)
	}
	return e
}

// retryLater continues the backoff of a failed synchronous write off the
// caller's goroutine. Once the recorder is closed it retries inline.
func (r *AuditRecorder) retryLater(ctx context.Context, e *auditevent.Entry, err error) {
	if r.cfg.RetryAttempts <= 1 {
		r.fail(ctx, e, err)
		return
	}
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		r.finish(ctx, e, r.write(ctx, e, 2, r.cfg.RetryAttempts))
		return
	}
	r.retries.Add(1)
	r.mu.RUnlock()

	r.metrics.DeferredRetries.Inc()
	go func() {
		defer r.retries.Done()
		r.finish(ctx, e, r.write(ctx, e, 2, r.cfg.RetryAttempts))
	}()
}

func (r *AuditRecorder) logEntry(e *auditevent.Entry) {
	evt := r.log.Info()
	if e.Outcome != string(auth.OutcomeAllowed) {
		evt = r.log.Warn()
	}
	actor := ""
	if e.ActorID != nil {
		actor = e.ActorID.String()
	}
	patient := ""
	if e.PatientID != nil {
		patient = e.PatientID.String()
	}
	evt.
		Str("type", "hipaa_audit").
		Str("audit_id", e.ID).
		Str("request_id", e.Metadata["request_id"]).
		Str("user_id", actor).
		Str("user_role", e.ActorRole).
		Str("action", e.Action).
		Str("resource_type", e.ResourceType).
		Str("resource_id", e.ResourceID).
		Str("patient_id", patient).
		Str("outcome", e.Outcome).
		Str("reason", e.Reason).
		Strs("tags", e.Tags).
		Msg("phi_access")
}

func (r *AuditRecorder) worker() {
	defer r.wg.Done()
	for e := range r.queue {
		r.metrics.QueueDepth.Set(float64(len(r.queue)))
		r.persist(context.Background(), e)
	}
}

func (r *AuditRecorder) persist(ctx context.Context, e *auditevent.Entry) {
	r.finish(ctx, e, r.write(ctx, e, 1, r.cfg.RetryAttempts))
}

// write makes attempts first through last, sleeping with exponential
// backoff before every attempt after the first overall. It returns the last
// error.
func (r *AuditRecorder) write(ctx context.Context, e *auditevent.Entry, first, last int) error {
	var err error
	for attempt := first; attempt <= last; attempt++ {
		if attempt > 1 {
			time.Sleep(r.cfg.RetryBackoff << (attempt - 2))
		}
		wctx, cancel := context.WithTimeout(ctx, r.cfg.WriteTimeout)
		err = r.store.Append(wctx, e)
		cancel()
		if err == nil {
			return nil
		}
		r.log.Warn().Err(err).Str("audit_id", e.ID).Int("attempt", attempt).Msg("audit write failed")
	}
	return err
}

func (r *AuditRecorder) finish(ctx context.Context, e *auditevent.Entry, err error) {
	if err != nil {
		r.fail(ctx, e, err)
	}
}

// fail escalates an entry that exhausted its retries.
func (r *AuditRecorder) fail(ctx context.Context, e *auditevent.Entry, err error) {
	r.metrics.WriteFailures.Inc()
	r.log.Error().Err(err).
		Str("audit_id", e.ID).
		Str("action", e.Action).
		Str("outcome", e.Outcome).
		Msg("audit entry could not be persisted")
	r.alerts.Alert(ctx, Alert{
		EntryID:   e.ID,
		Action:    e.Action,
		Outcome:   e.Outcome,
		Reason:    e.Reason,
		Attempts:  r.cfg.RetryAttempts,
		Error:     err.Error(),
		Timestamp: r.cfg.Now().UTC(),
	})
}

// Close stops accepting queued work and waits for the workers to drain the
// queue and for background retries to finish. Later Record calls write
// synchronously with the full retry budget.
func (r *AuditRecorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		r.retries.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

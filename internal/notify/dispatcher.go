package notify

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"bops/internal/audit"
	"bops/internal/config"
	"bops/internal/metrics"
)

const (
	defaultPollInterval = 5 * time.Second
	defaultBatch        = 50
	defaultMaxAttempts  = 5
	baseBackoff         = 30 * time.Second
	maxBackoff          = time.Hour
)

// Dispatcher drains the outbox. Every attempt is bounded by Timeout and
// the send rate by Limiter; failures are retried with backoff until
// MaxAttempts, after which the job is marked failed.
type Dispatcher struct {
	DB          *sql.DB
	Outbox      Outbox
	Notifier    Notifier
	Audit       audit.Auditor
	Logger      *zap.Logger
	Limiter     *rate.Limiter
	Timeout     time.Duration
	MaxAttempts int
	Interval    time.Duration
	Batch       int
	Now         func() time.Time
}

func NewDispatcher(db *sql.DB, cfg *config.Config, n Notifier, auditor audit.Auditor, logger *zap.Logger) *Dispatcher {
	d := &Dispatcher{
		DB:       db,
		Notifier: n,
		Audit:    auditor,
		Logger:   logger,
		Timeout:  cfg.NotificationTimeout(),
	}
	d.MaxAttempts = cfg.Notifications.MaxAttempts
	if cfg.Notifications.PollIntervalSeconds > 0 {
		d.Interval = time.Duration(cfg.Notifications.PollIntervalSeconds) * time.Second
	}
	if cfg.Notifications.RatePerSecond > 0 {
		burst := int(cfg.Notifications.RatePerSecond)
		if burst < 1 {
			burst = 1
		}
		d.Limiter = rate.NewLimiter(rate.Limit(cfg.Notifications.RatePerSecond), burst)
	}
	return d
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d *Dispatcher) logger() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}

// Run dispatches on every tick until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	interval := d.Interval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := d.DispatchOnce(ctx); err != nil && ctx.Err() == nil {
			d.logger().Warn("notify: dispatch failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// DispatchOnce sends every due job once and returns how many were delivered.
func (d *Dispatcher) DispatchOnce(ctx context.Context) (int, error) {
	batch := d.Batch
	if batch <= 0 {
		batch = defaultBatch
	}
	jobs, err := d.Outbox.Due(ctx, d.DB, d.now(), batch)
	if err != nil {
		return 0, err
	}
	delivered := 0
	for _, job := range jobs {
		if d.Limiter != nil {
			if err := d.Limiter.Wait(ctx); err != nil {
				return delivered, err
			}
		}
		ok, err := d.attempt(ctx, job)
		if err != nil {
			return delivered, err
		}
		if ok {
			delivered++
		}
	}
	return delivered, nil
}

func (d *Dispatcher) attempt(ctx context.Context, job Job) (bool, error) {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	sendCtx, cancel := context.WithTimeout(ctx, timeout)
	started := time.Now()
	deliveryID, sendErr := d.Notifier.Send(sendCtx, job.Message)
	cancel()
	channel := string(job.Message.Channel)
	metrics.NotificationLatency.WithLabelValues(channel).Observe(time.Since(started).Seconds())

	now := d.now().UTC()
	job.Attempts++
	job.UpdatedAt = now.Format(time.RFC3339)
	entry := audit.Entry{
		CaseID:  job.CaseID,
		ActorID: job.ActorID,
		Payload: audit.Payload{
			"job_id":    job.ID,
			"channel":   channel,
			"template":  job.Message.Template,
			"recipient": job.Message.Recipient,
			"attempts":  job.Attempts,
		},
	}
	var result string
	switch {
	case sendErr == nil:
		job.Status = JobDelivered
		job.DeliveryID = deliveryID
		job.LastError = ""
		entry.ActivityType = "notification_sent"
		entry.Payload["delivery_id"] = deliveryID
		result = "delivered"
	case job.Attempts >= d.maxAttempts():
		job.Status = JobFailed
		job.LastError = sendErr.Error()
		entry.ActivityType = "notification_failed"
		entry.Comment = sendErr.Error()
		result = "failed"
	default:
		job.LastError = sendErr.Error()
		job.NextAttemptAt = now.Add(Backoff(job.Attempts)).Format(time.RFC3339)
		result = "retry"
	}
	metrics.Notifications.WithLabelValues(channel, result).Inc()

	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()
	if err := d.Outbox.markTx(ctx, tx, job); err != nil {
		return false, err
	}
	if entry.ActivityType != "" && d.Audit != nil {
		if err := d.Audit.Record(ctx, tx, entry); err != nil {
			return false, err
		}
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	if sendErr != nil {
		d.logger().Warn("notify: delivery failed",
			zap.String("job_id", job.ID),
			zap.Int("attempts", job.Attempts),
			zap.String("status", string(job.Status)),
			zap.Error(sendErr))
	}
	return sendErr == nil, nil
}

func (d *Dispatcher) maxAttempts() int {
	if d.MaxAttempts <= 0 {
		return defaultMaxAttempts
	}
	return d.MaxAttempts
}

// Backoff is the wait before retry number attempts+1.
func Backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	wait := baseBackoff
	for i := 1; i < attempts; i++ {
		wait *= 2
		if wait >= maxBackoff {
			return maxBackoff
		}
	}
	return wait
}

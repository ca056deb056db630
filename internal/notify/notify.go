// Package notify delivers email and SMS messages to applicants. Workflow
// code only enqueues jobs inside its transaction; the Dispatcher sends them
// afterwards, so a slow or failing gateway never touches case state.
package notify

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"bops/internal/config"
	"bops/internal/domain"
)

type Channel string

const (
	Email Channel = "email"
	SMS   Channel = "sms"
)

// Templates known to the gateway.
const (
	TemplateRequestSent      = "validation_request_sent"
	TemplateRequestCancelled = "validation_request_cancelled"
	TemplateCaseValidated    = "case_validated"
	TemplateCaseInvalidated  = "case_invalidated"
	TemplateCaseDetermined   = "case_determined"
	TemplateCaseWithdrawn    = "case_withdrawn"
	TemplateCaseReturned     = "case_returned"
)

var ErrMissingContact = errors.New("case has no applicant or agent contact")

// Message is one outbound notification.
type Message struct {
	Channel         Channel           `json:"channel"`
	Recipient       string            `json:"recipient"`
	Template        string            `json:"template"`
	Personalisation map[string]string `json:"personalisation,omitempty"`
	Reference       string            `json:"reference"`
}

// Notifier hands a message to a delivery gateway and returns the gateway's
// delivery id.
type Notifier interface {
	Send(ctx context.Context, msg Message) (string, error)
}

type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobDelivered JobStatus = "delivered"
	JobFailed    JobStatus = "failed"
)

// Job is a queued message. ActorID is the user whose action caused it; the
// dispatcher attributes the delivery audit to that actor.
type Job struct {
	ID            string
	CaseID        string
	ActorID       string
	Message       Message
	Status        JobStatus
	Attempts      int
	LastError     string
	DeliveryID    string
	NextAttemptAt string
	CreatedAt     string
	UpdatedAt     string
}

// RecipientFor picks the channel and address for a case: agent email, then
// applicant email, then applicant phone by SMS.
func RecipientFor(c domain.Case) (Channel, string, error) {
	switch {
	case c.AgentEmail != "":
		return Email, c.AgentEmail, nil
	case c.ApplicantEmail != "":
		return Email, c.ApplicantEmail, nil
	case c.ApplicantPhone != "":
		return SMS, c.ApplicantPhone, nil
	}
	return "", "", ErrMissingContact
}

// Outbox stores jobs in notification_jobs.
type Outbox struct {
	Now func() time.Time
}

func (o Outbox) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// Enqueue adds a message for the case's contact inside tx.
func (o Outbox) Enqueue(ctx context.Context, tx *sql.Tx, c domain.Case, actorID, template string, personalisation map[string]string) (Job, error) {
	channel, recipient, err := RecipientFor(c)
	if err != nil {
		return Job{}, err
	}
	if personalisation == nil {
		personalisation = map[string]string{}
	}
	personalisation["reference"] = c.Reference
	if c.ApplicantName != "" {
		personalisation["applicant_name"] = c.ApplicantName
	}
	now := o.now().UTC().Format(time.RFC3339)
	job := Job{
		ID:      uuid.NewString(),
		CaseID:  c.ID,
		ActorID: actorID,
		Message: Message{
			Channel:         channel,
			Recipient:       recipient,
			Template:        template,
			Personalisation: personalisation,
			Reference:       c.Reference,
		},
		Status:        JobQueued,
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	pers, err := json.Marshal(personalisation)
	if err != nil {
		return Job{}, err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO notification_jobs(id,case_id,actor_id,channel,recipient,template,personalisation_json,status,attempts,next_attempt_at,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,0,?,?,?)`,
		job.ID, job.CaseID, job.ActorID, channel, recipient, template, string(pers), job.Status, job.NextAttemptAt, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return Job{}, fmt.Errorf("enqueue notification: %w", err)
	}
	return job, nil
}

const jobColumns = `id,case_id,actor_id,channel,recipient,template,personalisation_json,status,attempts,COALESCE(last_error,''),COALESCE(delivery_id,''),next_attempt_at,created_at,updated_at`

func scanJob(row interface{ Scan(...any) error }) (Job, error) {
	var (
		j    Job
		pers string
	)
	if err := row.Scan(&j.ID, &j.CaseID, &j.ActorID, &j.Message.Channel, &j.Message.Recipient, &j.Message.Template, &pers,
		&j.Status, &j.Attempts, &j.LastError, &j.DeliveryID, &j.NextAttemptAt, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return j, err
	}
	if err := json.Unmarshal([]byte(pers), &j.Message.Personalisation); err != nil {
		return j, fmt.Errorf("job %s personalisation: %w", j.ID, err)
	}
	j.Message.Reference = j.Message.Personalisation["reference"]
	return j, nil
}

// Due returns queued jobs whose next attempt is not after now.
func (o Outbox) Due(ctx context.Context, db *sql.DB, now time.Time, limit int) ([]Job, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+jobColumns+` FROM notification_jobs WHERE status='queued' AND next_attempt_at<=? ORDER BY next_attempt_at, id LIMIT ?`,
		now.UTC().Format(time.RFC3339), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// ListForCase returns every job queued for a case, oldest first.
func (o Outbox) ListForCase(ctx context.Context, db *sql.DB, caseID string) ([]Job, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+jobColumns+` FROM notification_jobs WHERE case_id=? ORDER BY created_at, id`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (o Outbox) markTx(ctx context.Context, tx *sql.Tx, j Job) error {
	_, err := tx.ExecContext(ctx, `UPDATE notification_jobs SET status=?, attempts=?, last_error=?, delivery_id=?, next_attempt_at=?, updated_at=? WHERE id=?`,
		j.Status, j.Attempts, nullable(j.LastError), nullable(j.DeliveryID), j.NextAttemptAt, j.UpdatedAt, j.ID)
	return err
}

// FromConfig builds the notifier selected by config. The returned close
// function releases driver resources.
func FromConfig(cfg *config.Config, logger *zap.Logger) (Notifier, func() error, error) {
	noop := func() error { return nil }
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Notifications.Driver {
	case "", "log":
		return LogNotifier{Logger: logger}, noop, nil
	case "webhook":
		n := NewWebhookNotifier(cfg.Notifications.Webhook.URL, cfg.Notifications.Webhook.Secret, cfg.NotificationTimeout())
		return n, noop, nil
	case "kafka":
		n, err := NewKafkaNotifier(cfg.Notifications.Kafka.Brokers, cfg.Notifications.Kafka.Topic)
		if err != nil {
			return nil, nil, err
		}
		return n, n.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown notifications driver %s", cfg.Notifications.Driver)
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

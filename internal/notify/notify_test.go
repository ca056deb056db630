package notify_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bops/internal/audit"
	"bops/internal/db"
	"bops/internal/domain"
	"bops/internal/migrate"
	"bops/internal/notify"
)

var fixedNow = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notify.Message
	err  error
}

func (f *fakeNotifier) Send(ctx context.Context, msg notify.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, msg)
	return "delivery-1", nil
}

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(ctx, conn))
	now := fixedNow.Format(time.RFC3339)
	_, err = conn.ExecContext(ctx, `INSERT INTO tenants(id,name,created_at) VALUES ('t1','Town',?)`, now)
	require.NoError(t, err)
	_, err = conn.ExecContext(ctx, `INSERT INTO cases(id,tenant_id,reference,case_type,stage,received_at,created_at,updated_at) VALUES ('c1','t1','24-00001','planning_application','not_started',?,?,?)`, now, now, now)
	require.NoError(t, err)
	return conn
}

func enqueue(t *testing.T, conn *sql.DB, c domain.Case) notify.Job {
	t.Helper()
	ctx := context.Background()
	tx, err := conn.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer tx.Rollback()
	job, err := notify.Outbox{Now: func() time.Time { return fixedNow }}.Enqueue(ctx, tx, c, "u1", notify.TemplateRequestSent, map[string]string{"category": "fee_change"})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	return job
}

func testCase() domain.Case {
	return domain.Case{ID: "c1", Reference: "24-00001", ApplicantName: "Ada", ApplicantEmail: "ada@example.com"}
}

func TestRecipientPrefersAgent(t *testing.T) {
	c := testCase()
	c.AgentEmail = "agent@example.com"
	ch, to, err := notify.RecipientFor(c)
	require.NoError(t, err)
	assert.Equal(t, notify.Email, ch)
	assert.Equal(t, "agent@example.com", to)

	ch, to, err = notify.RecipientFor(domain.Case{ApplicantPhone: "07700900000"})
	require.NoError(t, err)
	assert.Equal(t, notify.SMS, ch)
	assert.Equal(t, "07700900000", to)

	_, _, err = notify.RecipientFor(domain.Case{})
	assert.ErrorIs(t, err, notify.ErrMissingContact)
}

func TestDispatchDeliversAndAudits(t *testing.T) {
	ctx := context.Background()
	conn := openDB(t)
	job := enqueue(t, conn, testCase())

	fake := &fakeNotifier{}
	d := &notify.Dispatcher{
		DB:       conn,
		Notifier: fake,
		Audit:    audit.Writer{Now: func() time.Time { return fixedNow }},
		Now:      func() time.Time { return fixedNow },
	}
	n, err := d.DispatchOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, fake.sent, 1)
	assert.Equal(t, "ada@example.com", fake.sent[0].Recipient)
	assert.Equal(t, "24-00001", fake.sent[0].Personalisation["reference"])
	assert.Equal(t, "fee_change", fake.sent[0].Personalisation["category"])

	jobs, err := notify.Outbox{}.ListForCase(ctx, conn, "c1")
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, job.ID, jobs[0].ID)
	assert.Equal(t, notify.JobDelivered, jobs[0].Status)
	assert.Equal(t, "delivery-1", jobs[0].DeliveryID)

	var actor, activity string
	require.NoError(t, conn.QueryRowContext(ctx, `SELECT actor_id, activity_type FROM audits WHERE case_id='c1'`).Scan(&actor, &activity))
	assert.Equal(t, "u1", actor)
	assert.Equal(t, "notification_sent", activity)

	n, err = d.DispatchOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestDispatchRetriesThenFails(t *testing.T) {
	ctx := context.Background()
	conn := openDB(t)
	enqueue(t, conn, testCase())

	now := fixedNow
	d := &notify.Dispatcher{
		DB:          conn,
		Notifier:    &fakeNotifier{err: errors.New("gateway down")},
		Audit:       audit.Writer{Now: func() time.Time { return now }},
		MaxAttempts: 2,
		Now:         func() time.Time { return now },
	}
	n, err := d.DispatchOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	jobs, err := notify.Outbox{}.ListForCase(ctx, conn, "c1")
	require.NoError(t, err)
	assert.Equal(t, notify.JobQueued, jobs[0].Status)
	assert.Equal(t, 1, jobs[0].Attempts)
	assert.Equal(t, "gateway down", jobs[0].LastError)
	assert.Equal(t, fixedNow.Add(notify.Backoff(1)).Format(time.RFC3339), jobs[0].NextAttemptAt)

	// not due yet
	n, err = d.DispatchOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	jobs, _ = notify.Outbox{}.ListForCase(ctx, conn, "c1")
	assert.Equal(t, 1, jobs[0].Attempts)

	now = fixedNow.Add(time.Hour)
	_, err = d.DispatchOnce(ctx)
	require.NoError(t, err)
	jobs, _ = notify.Outbox{}.ListForCase(ctx, conn, "c1")
	assert.Equal(t, notify.JobFailed, jobs[0].Status)
	assert.Equal(t, 2, jobs[0].Attempts)

	var activity string
	require.NoError(t, conn.QueryRowContext(ctx, `SELECT activity_type FROM audits WHERE case_id='c1'`).Scan(&activity))
	assert.Equal(t, "notification_failed", activity)
}

func TestEnqueueNeedsContact(t *testing.T) {
	ctx := context.Background()
	conn := openDB(t)
	tx, err := conn.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer tx.Rollback()
	_, err = notify.Outbox{}.Enqueue(ctx, tx, domain.Case{ID: "c1"}, "u1", notify.TemplateCaseValidated, nil)
	assert.ErrorIs(t, err, notify.ErrMissingContact)
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	assert.Equal(t, 30*time.Second, notify.Backoff(1))
	assert.Equal(t, 60*time.Second, notify.Backoff(2))
	assert.Equal(t, 2*time.Minute, notify.Backoff(3))
	assert.Equal(t, time.Hour, notify.Backoff(20))
}

func TestWebhookNotifierPosts(t *testing.T) {
	var got map[string]any
	var secret string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		secret = r.Header.Get("X-Bops-Secret")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	n := notify.NewWebhookNotifier(srv.URL, "s3cret", time.Second)
	id, err := n.Send(context.Background(), notify.Message{Channel: notify.Email, Recipient: "a@example.com", Template: notify.TemplateCaseValidated, Reference: "24-00001"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, "s3cret", secret)
	assert.Equal(t, "case_validated", got["template"])
	assert.Equal(t, id, got["delivery_id"])
}

func TestWebhookNotifierRejectsNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	n := notify.NewWebhookNotifier(srv.URL, "", time.Second)
	_, err := n.Send(context.Background(), notify.Message{Channel: notify.Email, Recipient: "a@example.com", Template: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
}

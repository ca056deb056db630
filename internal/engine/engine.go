package engine

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"bops/internal/audit"
	"bops/internal/calendar"
	"bops/internal/config"
	"bops/internal/docstore"
	"bops/internal/domain"
	"bops/internal/engine/auth"
	"bops/internal/notify"
	"bops/internal/repo"
	"bops/internal/tasklist"
)

// SystemActor attributes scheduled work that no user triggered.
const SystemActor = "system"

// Engine runs every case mutation in one SQL transaction: the state change,
// its audit rows and any queued notifications commit together.
type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Audit    audit.Auditor
	Docs     docstore.Store
	Outbox   notify.Outbox
	Auth     auth.Service
	Config   *config.Config
	Registry *tasklist.Registry
	Logger   *zap.Logger
	Now      func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	e := Engine{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Docs:     docstore.Store{DB: db},
		Auth:     auth.Service{DB: db},
		Config:   cfg,
		Registry: tasklist.DefaultRegistry(),
		Logger:   zap.NewNop(),
		Now:      time.Now,
	}
	e.Audit = audit.Writer{Now: e.now}
	e.Outbox = notify.Outbox{Now: e.now}
	return e
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) logger() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

func (e Engine) registry() *tasklist.Registry {
	if e.Registry == nil {
		return tasklist.DefaultRegistry()
	}
	return e.Registry
}

func (e Engine) auditor() audit.Auditor {
	if e.Audit == nil {
		return audit.Writer{Now: e.now}
	}
	return e.Audit
}

// inTx runs fn in a transaction and commits when it succeeds.
func inTx[T any](ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) (T, error)) (T, error) {
	var zero T
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return zero, err
	}
	defer tx.Rollback()
	out, err := fn(tx)
	if err != nil {
		return zero, err
	}
	if err := tx.Commit(); err != nil {
		return zero, err
	}
	return out, nil
}

// withAudit applies change and records the entry it returns in the same
// transaction.
func (e Engine) withAudit(ctx context.Context, tx *sql.Tx, change func() (audit.Entry, error)) error {
	entry, err := change()
	if err != nil {
		return err
	}
	if err := e.auditor().Record(ctx, tx, entry); err != nil {
		return SideEffectError{Effect: "audit", Err: err}
	}
	return nil
}

// configFor returns the configuration of a tenant. The engine's own config
// wins when it belongs to that tenant.
func (e Engine) configFor(ctx context.Context, tenantID string) (*config.Config, error) {
	if e.Config != nil && (e.Config.Tenant.ID == tenantID || e.Config.Tenant.ID == "") {
		return e.Config, nil
	}
	cfg, err := e.Repo.GetTenantConfig(ctx, tenantID)
	if errors.Is(err, repo.ErrNotFound) {
		return config.Default(tenantID), nil
	}
	return cfg, err
}

func (e Engine) calendarFor(cfg *config.Config) (calendar.Calendar, error) {
	return calendar.New(cfg.Calendar.Holidays)
}

// lockCase loads a case for mutation. expectedVersion 0 skips the caller's
// version check; the write in saveCase still compares versions.
func (e Engine) lockCase(ctx context.Context, tx *sql.Tx, caseID string, expectedVersion int) (domain.Case, error) {
	c, err := e.Repo.GetCaseTx(ctx, tx, caseID)
	if err != nil {
		return domain.Case{}, err
	}
	if expectedVersion != 0 && c.LockVersion != expectedVersion {
		return domain.Case{}, ConcurrentModificationError{CaseID: caseID}
	}
	if c.ArchivedAt != nil {
		return domain.Case{}, ErrCaseArchived
	}
	return c, nil
}

// saveCase writes c if nobody else has, bumping its lock version.
func (e Engine) saveCase(ctx context.Context, tx *sql.Tx, c domain.Case) (domain.Case, error) {
	c.UpdatedAt = e.stamp()
	v, err := e.Repo.UpdateCaseTx(ctx, tx, c, c.LockVersion)
	if errors.Is(err, repo.ErrStaleVersion) {
		return domain.Case{}, ConcurrentModificationError{CaseID: c.ID}
	}
	if err != nil {
		return domain.Case{}, err
	}
	c.LockVersion = v
	return c, nil
}

// notifyApplicant queues a message for the case contact. Cases without a
// contact are skipped.
func (e Engine) notifyApplicant(ctx context.Context, tx *sql.Tx, c domain.Case, actorID, template string, personalisation map[string]string) error {
	if !c.HasContact() {
		e.logger().Info("notification skipped, case has no contact",
			zap.String("case", c.Reference), zap.String("template", template))
		return nil
	}
	if _, err := e.Outbox.Enqueue(ctx, tx, c, actorID, template, personalisation); err != nil {
		return SideEffectError{Effect: "notify", Err: err}
	}
	return nil
}

func (e Engine) require(ctx context.Context, tx *sql.Tx, c domain.Case, actorID string, role auth.Role) (auth.Actor, error) {
	return e.Auth.RequireTx(ctx, tx, c.TenantID, actorID, role)
}

func strPtr(v string) *string { return &v }

func nonEmpty(field, v string) error {
	if strings.TrimSpace(v) == "" {
		return invalidPayload("%s is required", field)
	}
	return nil
}

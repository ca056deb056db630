package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"bops/internal/audit"
	"bops/internal/config"
	"bops/internal/domain"
	"bops/internal/engine/auth"
	"bops/internal/repo"
	"bops/internal/tasklist"
	"bops/internal/workflow"
)

// CaseCreateOptions describe a submission received from an applicant or a
// breach report.
type CaseCreateOptions struct {
	TenantID             string
	Reference            string
	CaseType             domain.CaseType
	ApplicationType      string
	Description          string
	ApplicantName        string
	ApplicantEmail       string
	ApplicantPhone       string
	AgentEmail           string
	OwnershipCertificate string
	ReceivedAt           time.Time
	ActorID              string
}

func (e Engine) CreateCase(ctx context.Context, opts CaseCreateOptions) (domain.Case, error) {
	if !workflow.KnownCaseType(opts.CaseType) {
		return domain.Case{}, invalidPayload("unknown case type %q", opts.CaseType)
	}
	cfg, err := e.configFor(ctx, opts.TenantID)
	if err != nil {
		return domain.Case{}, err
	}
	if opts.ApplicationType != "" {
		if _, ok := cfg.ApplicationTypes[opts.ApplicationType]; !ok {
			return domain.Case{}, invalidPayload("unknown application type %q", opts.ApplicationType)
		}
	}
	opts.OwnershipCertificate = strings.ToUpper(strings.TrimSpace(opts.OwnershipCertificate))
	if opts.OwnershipCertificate != "" && !validCertificate(opts.OwnershipCertificate) {
		return domain.Case{}, invalidPayload("ownership certificate must be A, B, C or D")
	}
	received := opts.ReceivedAt
	if received.IsZero() {
		received = e.now()
	}
	now := e.stamp()
	c := domain.Case{
		ID:                   uuid.NewString(),
		TenantID:             opts.TenantID,
		Reference:            opts.Reference,
		CaseType:             opts.CaseType,
		ApplicationType:      opts.ApplicationType,
		Stage:                domain.StageNotStarted,
		Description:          opts.Description,
		ApplicantName:        opts.ApplicantName,
		ApplicantEmail:       opts.ApplicantEmail,
		ApplicantPhone:       opts.ApplicantPhone,
		AgentEmail:           opts.AgentEmail,
		OwnershipCertificate: opts.OwnershipCertificate,
		ReceivedAt:           received.UTC().Format(time.RFC3339),
		LockVersion:          1,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	return inTx(ctx, e.DB, func(tx *sql.Tx) (domain.Case, error) {
		if _, err := e.Auth.RequireTx(ctx, tx, opts.TenantID, opts.ActorID, auth.RoleAssessor); err != nil {
			return domain.Case{}, err
		}
		if c.Reference == "" {
			ref, err := e.nextReference(ctx, tx, c.TenantID, received)
			if err != nil {
				return domain.Case{}, err
			}
			c.Reference = ref
		}
		err := e.withAudit(ctx, tx, func() (audit.Entry, error) {
			if err := e.Repo.InsertCase(ctx, tx, c); err != nil {
				if repo.IsUniqueViolation(err) {
					return audit.Entry{}, fmt.Errorf("reference %s already used", c.Reference)
				}
				return audit.Entry{}, fmt.Errorf("insert case: %w", err)
			}
			return audit.Entry{
				CaseID:       c.ID,
				ActorID:      opts.ActorID,
				ActivityType: "case_created",
				Payload:      audit.Payload{"reference": c.Reference, "case_type": c.CaseType},
			}, nil
		})
		return c, err
	})
}

// nextReference numbers cases per tenant and year, e.g. 24-00012.
func (e Engine) nextReference(ctx context.Context, tx *sql.Tx, tenantID string, received time.Time) (string, error) {
	prefix := received.UTC().Format("06") + "-"
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM cases WHERE tenant_id=? AND reference LIKE ?`, tenantID, prefix+"%").Scan(&n)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%05d", prefix, n+1), nil
}

func (e Engine) GetCase(ctx context.Context, id string) (domain.Case, error) {
	return e.Repo.GetCase(ctx, id)
}

// FindCase accepts a case id or a tenant-scoped reference.
func (e Engine) FindCase(ctx context.Context, tenantID, idOrReference string) (domain.Case, error) {
	c, err := e.Repo.GetCase(ctx, idOrReference)
	if err == nil || !errors.Is(err, repo.ErrNotFound) || tenantID == "" {
		return c, err
	}
	return e.Repo.GetCaseByReference(ctx, tenantID, idOrReference)
}

func (e Engine) ListCases(ctx context.Context, f repo.CaseFilters) ([]domain.Case, error) {
	return e.Repo.ListCases(ctx, f)
}

// AssignCase gives a case to an officer of the same tenant.
func (e Engine) AssignCase(ctx context.Context, caseID, userID, actorID string) (domain.Case, error) {
	return inTx(ctx, e.DB, func(tx *sql.Tx) (domain.Case, error) {
		c, err := e.lockCase(ctx, tx, caseID, 0)
		if err != nil {
			return domain.Case{}, err
		}
		if _, err := e.require(ctx, tx, c, actorID, auth.RoleAssessor); err != nil {
			return domain.Case{}, err
		}
		u, err := e.Repo.GetUserTx(ctx, tx, userID)
		if err != nil {
			return domain.Case{}, err
		}
		if u.TenantID != c.TenantID {
			return domain.Case{}, invalidPayload("user %s belongs to another tenant", userID)
		}
		err = e.withAudit(ctx, tx, func() (audit.Entry, error) {
			c.AssignedUserID = strPtr(userID)
			c, err = e.saveCase(ctx, tx, c)
			return audit.Entry{CaseID: c.ID, ActorID: actorID, ActivityType: "case_assigned", Payload: audit.Payload{"user_id": userID}}, err
		})
		return c, err
	})
}

// ArchiveCase soft-archives a case. Archived cases reject every mutation.
func (e Engine) ArchiveCase(ctx context.Context, caseID, reason, actorID string) (domain.Case, error) {
	return inTx(ctx, e.DB, func(tx *sql.Tx) (domain.Case, error) {
		c, err := e.lockCase(ctx, tx, caseID, 0)
		if err != nil {
			return domain.Case{}, err
		}
		if _, err := e.require(ctx, tx, c, actorID, auth.RoleAdministrator); err != nil {
			return domain.Case{}, err
		}
		err = e.withAudit(ctx, tx, func() (audit.Entry, error) {
			c.ArchivedAt = strPtr(e.stamp())
			c, err = e.saveCase(ctx, tx, c)
			return audit.Entry{CaseID: c.ID, ActorID: actorID, ActivityType: "case_archived", Comment: reason}, err
		})
		return c, err
	})
}

type DocumentOptions struct {
	CaseID      string
	Name        string
	ContentType string
	Tags        []string
	Content     io.Reader
	ActorID     string
}

func (e Engine) AttachDocument(ctx context.Context, opts DocumentOptions) (domain.Document, error) {
	if err := nonEmpty("document name", opts.Name); err != nil {
		return domain.Document{}, err
	}
	d := domain.Document{
		ID:          uuid.NewString(),
		CaseID:      opts.CaseID,
		Name:        opts.Name,
		ContentType: opts.ContentType,
		Tags:        opts.Tags,
		Active:      true,
		CreatedBy:   opts.ActorID,
		CreatedAt:   e.stamp(),
	}
	key, err := e.Docs.Put(opts.CaseID, d.ID, d.Name, opts.Content)
	if err != nil {
		return domain.Document{}, fmt.Errorf("store document: %w", err)
	}
	d.StorageKey = key
	out, err := inTx(ctx, e.DB, func(tx *sql.Tx) (domain.Document, error) {
		c, err := e.lockCase(ctx, tx, opts.CaseID, 0)
		if err != nil {
			return domain.Document{}, err
		}
		if _, err := e.require(ctx, tx, c, opts.ActorID, auth.RoleAssessor); err != nil {
			return domain.Document{}, err
		}
		err = e.withAudit(ctx, tx, func() (audit.Entry, error) {
			if err := e.Docs.AttachTx(ctx, tx, d); err != nil {
				return audit.Entry{}, err
			}
			_, err := e.saveCase(ctx, tx, c)
			return audit.Entry{CaseID: c.ID, ActorID: opts.ActorID, ActivityType: "document_attached",
				Payload: audit.Payload{"document_id": d.ID, "name": d.Name}}, err
		})
		return d, err
	})
	if err != nil {
		e.Docs.Discard(key)
	}
	return out, err
}

func (e Engine) ArchiveDocument(ctx context.Context, caseID, documentID, actorID string) (domain.Document, error) {
	return inTx(ctx, e.DB, func(tx *sql.Tx) (domain.Document, error) {
		c, err := e.lockCase(ctx, tx, caseID, 0)
		if err != nil {
			return domain.Document{}, err
		}
		if _, err := e.require(ctx, tx, c, actorID, auth.RoleAssessor); err != nil {
			return domain.Document{}, err
		}
		existing, err := e.Docs.GetTx(ctx, tx, documentID)
		if err != nil {
			return domain.Document{}, err
		}
		if existing.CaseID != c.ID {
			return domain.Document{}, repo.ErrNotFound
		}
		var d domain.Document
		err = e.withAudit(ctx, tx, func() (audit.Entry, error) {
			d, err = e.Docs.ArchiveTx(ctx, tx, documentID)
			if err != nil {
				return audit.Entry{}, err
			}
			_, err = e.saveCase(ctx, tx, c)
			return audit.Entry{CaseID: c.ID, ActorID: actorID, ActivityType: "document_archived",
				Payload: audit.Payload{"document_id": d.ID}}, err
		})
		return d, err
	})
}

func (e Engine) ListDocuments(ctx context.Context, caseID string) ([]domain.Document, error) {
	return e.Docs.List(ctx, caseID)
}

type MarkOptions struct {
	CaseID  string
	Slug    string
	Status  tasklist.Status
	ActorID string
}

// MarkTask records an officer's progress on a task. Setting not_started
// clears the mark. The mark is only an input: the task list may still
// report the task differently when its backing records disagree.
func (e Engine) MarkTask(ctx context.Context, opts MarkOptions) ([]tasklist.Task, error) {
	var status domain.TaskMarkStatus
	switch opts.Status {
	case tasklist.InProgress:
		status = domain.MarkInProgress
	case tasklist.Completed:
		status = domain.MarkCompleted
	case tasklist.NotStarted:
	default:
		return nil, invalidPayload("task status %q cannot be set", opts.Status)
	}
	return inTx(ctx, e.DB, func(tx *sql.Tx) ([]tasklist.Task, error) {
		c, err := e.lockCase(ctx, tx, opts.CaseID, 0)
		if err != nil {
			return nil, err
		}
		if _, err := e.require(ctx, tx, c, opts.ActorID, auth.RoleAssessor); err != nil {
			return nil, err
		}
		cfg, err := e.configFor(ctx, c.TenantID)
		if err != nil {
			return nil, err
		}
		tasks, err := e.tasksTx(ctx, tx, c, cfg)
		if err != nil {
			return nil, err
		}
		task, ok := findTask(tasks, opts.Slug)
		if !ok {
			return nil, invalidPayload("task %s is not part of this case", opts.Slug)
		}
		if !task.Enabled {
			return nil, PreconditionNotMetError{Slug: opts.Slug, Reason: fmt.Sprintf("task cannot be changed in stage %s", c.Stage)}
		}
		err = e.withAudit(ctx, tx, func() (audit.Entry, error) {
			var err error
			if status == "" {
				err = e.Repo.DeleteMarkTx(ctx, tx, c.ID, opts.Slug)
			} else {
				err = e.Repo.UpsertMarkTx(ctx, tx, domain.TaskMark{CaseID: c.ID, Slug: opts.Slug, Status: status, ActorID: opts.ActorID, UpdatedAt: e.stamp()})
			}
			if err != nil {
				return audit.Entry{}, err
			}
			c, err = e.saveCase(ctx, tx, c)
			return audit.Entry{CaseID: c.ID, ActorID: opts.ActorID, ActivityType: "task_marked",
				Payload: audit.Payload{"slug": opts.Slug, "status": opts.Status}}, err
		})
		if err != nil {
			return nil, err
		}
		return e.tasksTx(ctx, tx, c, cfg)
	})
}

// TaskList derives the current task list of a case.
func (e Engine) TaskList(ctx context.Context, caseID string) ([]tasklist.Task, error) {
	c, err := e.Repo.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	cfg, err := e.configFor(ctx, c.TenantID)
	if err != nil {
		return nil, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	return e.tasksTx(ctx, tx, c, cfg)
}

// snapshotTx gathers everything the task resolvers read for c.
func (e Engine) snapshotTx(ctx context.Context, tx *sql.Tx, c domain.Case, cfg *config.Config) (tasklist.Snapshot, error) {
	snap := tasklist.Snapshot{Case: c, Features: map[string]bool{}}
	var err error
	if snap.Requests, err = e.Repo.ListRequestsTx(ctx, tx, repo.RequestFilters{CaseID: c.ID}); err != nil {
		return snap, fmt.Errorf("load requests: %w", err)
	}
	if snap.Documents, err = e.Docs.ListTx(ctx, tx, c.ID); err != nil {
		return snap, fmt.Errorf("load documents: %w", err)
	}
	if snap.Items, err = e.Repo.ListAllItemsTx(ctx, tx, c.ID); err != nil {
		return snap, fmt.Errorf("load items: %w", err)
	}
	if snap.Marks, err = e.Repo.ListMarksTx(ctx, tx, c.ID); err != nil {
		return snap, fmt.Errorf("load task marks: %w", err)
	}
	rec, err := e.Repo.GetRecommendationTx(ctx, tx, c.ID)
	switch {
	case err == nil:
		snap.Recommendation = &rec
	case !errors.Is(err, repo.ErrNotFound):
		return snap, fmt.Errorf("load recommendation: %w", err)
	}
	if at, ok := cfg.ApplicationTypes[c.ApplicationType]; ok {
		for _, f := range at.Features {
			snap.Features[f] = true
		}
	}
	return snap, nil
}

func (e Engine) tasksTx(ctx context.Context, tx *sql.Tx, c domain.Case, cfg *config.Config) ([]tasklist.Task, error) {
	def, err := tasklist.For(c.CaseType)
	if err != nil {
		return nil, err
	}
	snap, err := e.snapshotTx(ctx, tx, c, cfg)
	if err != nil {
		return nil, err
	}
	return tasklist.Build(def, e.registry(), snap)
}

func findTask(tasks []tasklist.Task, slug string) (tasklist.Task, bool) {
	for _, t := range tasks {
		if t.Slug == slug {
			return t, true
		}
	}
	return tasklist.Task{}, false
}

func validCertificate(v string) bool {
	switch v {
	case "A", "B", "C", "D":
		return true
	}
	return false
}

// ListAudits returns a case's audit trail, oldest first.
func (e Engine) ListAudits(ctx context.Context, f repo.AuditFilters) ([]domain.Audit, error) {
	return e.Repo.ListAudits(ctx, f)
}

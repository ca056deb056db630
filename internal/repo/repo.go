package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"bops/internal/config"
	"bops/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var (
	ErrNotFound = errors.New("not found")
	// ErrStaleVersion means the case row changed since it was read.
	ErrStaleVersion = errors.New("stale case version")
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

// IsUniqueViolation reports whether err comes from a UNIQUE constraint or index.
func IsUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (r Repo) InsertTenant(ctx context.Context, tx *sql.Tx, t domain.Tenant) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tenants(id,name,created_at) VALUES (?,?,?)`, t.ID, t.Name, t.CreatedAt)
	return err
}

func (r Repo) GetTenant(ctx context.Context, id string) (domain.Tenant, error) {
	var t domain.Tenant
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,created_at FROM tenants WHERE id=?`, id).Scan(&t.ID, &t.Name, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return t, ErrNotFound
	}
	return t, err
}

func (r Repo) ListTenants(ctx context.Context) ([]domain.Tenant, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,created_at FROM tenants ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Tenant
	for rows.Next() {
		var t domain.Tenant
		if err := rows.Scan(&t.ID, &t.Name, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// SingleTenant returns the only tenant when exactly one exists.
func (r Repo) SingleTenant(ctx context.Context) (domain.Tenant, error) {
	tenants, err := r.ListTenants(ctx)
	if err != nil {
		return domain.Tenant{}, err
	}
	switch len(tenants) {
	case 0:
		return domain.Tenant{}, ErrNotFound
	case 1:
		return tenants[0], nil
	}
	return domain.Tenant{}, fmt.Errorf("multiple tenants exist; specify --tenant")
}

func (r Repo) UpsertTenantConfig(ctx context.Context, tenantID string, cfg *config.Config) error {
	return upsertTenantConfig(ctx, r.DB, tenantID, cfg)
}

func (r Repo) UpsertTenantConfigTx(ctx context.Context, tx *sql.Tx, tenantID string, cfg *config.Config) error {
	return upsertTenantConfig(ctx, tx, tenantID, cfg)
}

func upsertTenantConfig(ctx context.Context, q querier, tenantID string, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	cfg.Tenant.ID = tenantID
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err = q.ExecContext(ctx, `INSERT INTO tenant_configs(tenant_id,config_json,created_at,updated_at) VALUES (?,?,?,?)
ON CONFLICT(tenant_id) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`, tenantID, string(payload), now, now)
	return err
}

func (r Repo) GetTenantConfig(ctx context.Context, tenantID string) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT config_json FROM tenant_configs WHERE tenant_id=?`, tenantID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	if cfg.Tenant.ID == "" {
		cfg.Tenant.ID = tenantID
	}
	return &cfg, cfg.Validate()
}

const caseColumns = `id,tenant_id,reference,case_type,COALESCE(application_type,''),stage,COALESCE(description,''),
COALESCE(applicant_name,''),COALESCE(applicant_email,''),COALESCE(applicant_phone,''),COALESCE(agent_email,''),
COALESCE(ownership_certificate,''),assigned_user_id,received_at,validated_at,invalidated_at,determined_at,archived_at,
lock_version,created_at,updated_at`

func scanCase(row scanner) (domain.Case, error) {
	var (
		c                                                    domain.Case
		assigned, validated, invalidated, determined, archiv sql.NullString
	)
	err := row.Scan(&c.ID, &c.TenantID, &c.Reference, &c.CaseType, &c.ApplicationType, &c.Stage, &c.Description,
		&c.ApplicantName, &c.ApplicantEmail, &c.ApplicantPhone, &c.AgentEmail,
		&c.OwnershipCertificate, &assigned, &c.ReceivedAt, &validated, &invalidated, &determined, &archiv,
		&c.LockVersion, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	c.AssignedUserID = ptrFromNull(assigned)
	c.ValidatedAt = ptrFromNull(validated)
	c.InvalidatedAt = ptrFromNull(invalidated)
	c.DeterminedAt = ptrFromNull(determined)
	c.ArchivedAt = ptrFromNull(archiv)
	return c, nil
}

func (r Repo) InsertCase(ctx context.Context, tx *sql.Tx, c domain.Case) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO cases(id,tenant_id,reference,case_type,application_type,stage,description,
applicant_name,applicant_email,applicant_phone,agent_email,ownership_certificate,assigned_user_id,received_at,lock_version,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.TenantID, c.Reference, c.CaseType, nullable(c.ApplicationType), c.Stage, nullable(c.Description),
		nullable(c.ApplicantName), nullable(c.ApplicantEmail), nullable(c.ApplicantPhone), nullable(c.AgentEmail),
		nullable(c.OwnershipCertificate), nullableStringPtr(c.AssignedUserID), c.ReceivedAt, c.LockVersion, c.CreatedAt, c.UpdatedAt)
	return err
}

func (r Repo) GetCase(ctx context.Context, id string) (domain.Case, error) {
	return scanCase(r.DB.QueryRowContext(ctx, `SELECT `+caseColumns+` FROM cases WHERE id=?`, id))
}

func (r Repo) GetCaseTx(ctx context.Context, tx *sql.Tx, id string) (domain.Case, error) {
	return scanCase(tx.QueryRowContext(ctx, `SELECT `+caseColumns+` FROM cases WHERE id=?`, id))
}

func (r Repo) GetCaseByReference(ctx context.Context, tenantID, reference string) (domain.Case, error) {
	return scanCase(r.DB.QueryRowContext(ctx, `SELECT `+caseColumns+` FROM cases WHERE tenant_id=? AND reference=?`, tenantID, reference))
}

// UpdateCaseTx writes the mutable case fields if the row still carries
// expectedVersion, and returns the new version.
func (r Repo) UpdateCaseTx(ctx context.Context, tx *sql.Tx, c domain.Case, expectedVersion int) (int, error) {
	res, err := tx.ExecContext(ctx, `UPDATE cases SET stage=?, description=?, applicant_name=?, applicant_email=?, applicant_phone=?, agent_email=?,
ownership_certificate=?, assigned_user_id=?, validated_at=?, invalidated_at=?, determined_at=?, archived_at=?, updated_at=?, lock_version=lock_version+1
WHERE id=? AND lock_version=?`,
		c.Stage, nullable(c.Description), nullable(c.ApplicantName), nullable(c.ApplicantEmail), nullable(c.ApplicantPhone), nullable(c.AgentEmail),
		nullable(c.OwnershipCertificate), nullableStringPtr(c.AssignedUserID), nullableStringPtr(c.ValidatedAt), nullableStringPtr(c.InvalidatedAt),
		nullableStringPtr(c.DeterminedAt), nullableStringPtr(c.ArchivedAt), c.UpdatedAt, c.ID, expectedVersion)
	if err != nil {
		return 0, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := r.GetCaseTx(ctx, tx, c.ID); err != nil {
			return 0, err
		}
		return 0, ErrStaleVersion
	}
	return expectedVersion + 1, nil
}

// CaseFilters narrows ListCases.
type CaseFilters struct {
	TenantID        string
	CaseType        string
	Stage           string
	AssignedUserID  string
	IncludeArchived bool
	Limit           int
}

func (r Repo) ListCases(ctx context.Context, f CaseFilters) ([]domain.Case, error) {
	var (
		clauses []string
		args    []any
	)
	if f.TenantID != "" {
		clauses = append(clauses, "tenant_id=?")
		args = append(args, f.TenantID)
	}
	if f.CaseType != "" {
		clauses = append(clauses, "case_type=?")
		args = append(args, f.CaseType)
	}
	if f.Stage != "" {
		clauses = append(clauses, "stage=?")
		args = append(args, f.Stage)
	}
	if f.AssignedUserID != "" {
		clauses = append(clauses, "assigned_user_id=?")
		args = append(args, f.AssignedUserID)
	}
	if !f.IncludeArchived {
		clauses = append(clauses, "archived_at IS NULL")
	}
	query := `SELECT ` + caseColumns + ` FROM cases`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY received_at DESC, id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func ptrFromNull(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

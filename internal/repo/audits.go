package repo

import (
	"context"

	"bops/internal/domain"
)

// AuditFilters narrows ListAudits. AfterID pages forward through the log.
type AuditFilters struct {
	CaseID       string
	ActivityType string
	ActorID      string
	AfterID      int64
	Limit        int
}

func (r Repo) ListAudits(ctx context.Context, f AuditFilters) ([]domain.Audit, error) {
	query := `SELECT id,case_id,actor_id,activity_type,COALESCE(comment,''),payload_json,created_at FROM audits WHERE id>?`
	args := []any{f.AfterID}
	if f.CaseID != "" {
		query += " AND case_id=?"
		args = append(args, f.CaseID)
	}
	if f.ActivityType != "" {
		query += " AND activity_type=?"
		args = append(args, f.ActivityType)
	}
	if f.ActorID != "" {
		query += " AND actor_id=?"
		args = append(args, f.ActorID)
	}
	query += " ORDER BY id"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Audit
	for rows.Next() {
		var a domain.Audit
		if err := rows.Scan(&a.ID, &a.CaseID, &a.ActorID, &a.ActivityType, &a.Comment, &a.Payload, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

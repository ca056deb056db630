package repo

import (
	"context"
	"database/sql"

	"bops/internal/domain"
)

func (r Repo) UpsertMarkTx(ctx context.Context, tx *sql.Tx, m domain.TaskMark) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO task_marks(case_id,slug,status,actor_id,updated_at) VALUES (?,?,?,?,?)
ON CONFLICT(case_id,slug) DO UPDATE SET status=excluded.status, actor_id=excluded.actor_id, updated_at=excluded.updated_at`,
		m.CaseID, m.Slug, m.Status, m.ActorID, m.UpdatedAt)
	return err
}

// DeleteMarkTx clears a task mark; a missing mark is not an error.
func (r Repo) DeleteMarkTx(ctx context.Context, tx *sql.Tx, caseID, slug string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM task_marks WHERE case_id=? AND slug=?`, caseID, slug)
	return err
}

func (r Repo) ListMarksTx(ctx context.Context, tx *sql.Tx, caseID string) (map[string]domain.TaskMark, error) {
	rows, err := tx.QueryContext(ctx, `SELECT case_id,slug,status,actor_id,updated_at FROM task_marks WHERE case_id=?`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]domain.TaskMark{}
	for rows.Next() {
		var m domain.TaskMark
		if err := rows.Scan(&m.CaseID, &m.Slug, &m.Status, &m.ActorID, &m.UpdatedAt); err != nil {
			return nil, err
		}
		out[m.Slug] = m
	}
	return out, rows.Err()
}

package repo

import (
	"context"
	"database/sql"
	"errors"

	"bops/internal/domain"
)

const itemColumns = `id,case_id,kind,title,COALESCE(text,''),position,reviewer_edited,created_by,updated_by,created_at,updated_at`

func scanItem(row scanner) (domain.OrderedItem, error) {
	var (
		it     domain.OrderedItem
		edited int
	)
	err := row.Scan(&it.ID, &it.CaseID, &it.Kind, &it.Title, &it.Text, &it.Position, &edited, &it.CreatedBy, &it.UpdatedBy, &it.CreatedAt, &it.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return it, ErrNotFound
	}
	it.ReviewerEdited = edited == 1
	return it, err
}

func (r Repo) InsertItemTx(ctx context.Context, tx *sql.Tx, it domain.OrderedItem) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO ordered_items(id,case_id,kind,title,text,position,reviewer_edited,created_by,updated_by,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		it.ID, it.CaseID, it.Kind, it.Title, nullable(it.Text), it.Position, boolInt(it.ReviewerEdited), it.CreatedBy, it.UpdatedBy, it.CreatedAt, it.UpdatedAt)
	return err
}

func (r Repo) GetItem(ctx context.Context, id string) (domain.OrderedItem, error) {
	return scanItem(r.DB.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM ordered_items WHERE id=?`, id))
}

func (r Repo) GetItemTx(ctx context.Context, tx *sql.Tx, id string) (domain.OrderedItem, error) {
	return scanItem(tx.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM ordered_items WHERE id=?`, id))
}

// UpdateItemTx writes the editable content of an item, leaving position alone.
func (r Repo) UpdateItemTx(ctx context.Context, tx *sql.Tx, it domain.OrderedItem) error {
	res, err := tx.ExecContext(ctx, `UPDATE ordered_items SET title=?, text=?, reviewer_edited=?, updated_by=?, updated_at=? WHERE id=?`,
		it.Title, nullable(it.Text), boolInt(it.ReviewerEdited), it.UpdatedBy, it.UpdatedAt, it.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteItemTx(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM ordered_items WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetPositionsTx applies new positions for one case list. Rows are first
// parked on negative positions so the unique (case, kind, position) index
// holds after every statement.
func (r Repo) SetPositionsTx(ctx context.Context, tx *sql.Tx, caseID string, kind domain.ItemKind, positions map[string]int, updatedAt string) error {
	for id := range positions {
		if _, err := tx.ExecContext(ctx, `UPDATE ordered_items SET position=-position WHERE id=? AND case_id=? AND kind=?`, id, caseID, kind); err != nil {
			return err
		}
	}
	for id, pos := range positions {
		res, err := tx.ExecContext(ctx, `UPDATE ordered_items SET position=?, updated_at=? WHERE id=? AND case_id=? AND kind=?`, pos, updatedAt, id, caseID, kind)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
	}
	return nil
}

func (r Repo) ListItems(ctx context.Context, caseID string, kind domain.ItemKind) ([]domain.OrderedItem, error) {
	return listItems(ctx, r.DB, caseID, kind)
}

func (r Repo) ListItemsTx(ctx context.Context, tx *sql.Tx, caseID string, kind domain.ItemKind) ([]domain.OrderedItem, error) {
	return listItems(ctx, tx, caseID, kind)
}

// ListAllItemsTx groups every list of a case by kind.
func (r Repo) ListAllItemsTx(ctx context.Context, tx *sql.Tx, caseID string) (map[domain.ItemKind][]domain.OrderedItem, error) {
	items, err := listItems(ctx, tx, caseID, "")
	if err != nil {
		return nil, err
	}
	out := map[domain.ItemKind][]domain.OrderedItem{}
	for _, it := range items {
		out[it.Kind] = append(out[it.Kind], it)
	}
	return out, nil
}

func listItems(ctx context.Context, q querier, caseID string, kind domain.ItemKind) ([]domain.OrderedItem, error) {
	query := `SELECT ` + itemColumns + ` FROM ordered_items WHERE case_id=?`
	args := []any{caseID}
	if kind != "" {
		query += " AND kind=?"
		args = append(args, kind)
	}
	query += " ORDER BY kind, position"
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.OrderedItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

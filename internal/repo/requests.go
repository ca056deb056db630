package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"bops/internal/domain"
)

const requestColumns = `id,case_id,category,state,sequence,COALESCE(reason,''),proposed_json,target_id,post_validation,response_json,
COALESCE(cancel_reason,''),created_by,responded_by,cancelled_by,deadline,sent_at,responded_at,cancelled_at,closed_at,superseded_by,created_at,updated_at`

func scanRequest(row scanner) (domain.ValidationRequest, error) {
	var (
		v                                        domain.ValidationRequest
		proposed, response, target               sql.NullString
		respondedBy, cancelledBy, deadline, sent sql.NullString
		responded, cancelled, closed, superseded sql.NullString
		postValidation                           int
	)
	err := row.Scan(&v.ID, &v.CaseID, &v.Category, &v.State, &v.Sequence, &v.Reason, &proposed, &target, &postValidation, &response,
		&v.CancelReason, &v.CreatedBy, &respondedBy, &cancelledBy, &deadline, &sent, &responded, &cancelled, &closed, &superseded,
		&v.CreatedAt, &v.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return v, ErrNotFound
	}
	if err != nil {
		return v, err
	}
	if proposed.Valid {
		v.Proposed = json.RawMessage(proposed.String)
	}
	if response.Valid {
		v.Response = json.RawMessage(response.String)
	}
	v.PostValidation = postValidation == 1
	v.TargetID = ptrFromNull(target)
	v.RespondedBy = ptrFromNull(respondedBy)
	v.CancelledBy = ptrFromNull(cancelledBy)
	v.Deadline = ptrFromNull(deadline)
	v.SentAt = ptrFromNull(sent)
	v.RespondedAt = ptrFromNull(responded)
	v.CancelledAt = ptrFromNull(cancelled)
	v.ClosedAt = ptrFromNull(closed)
	v.SupersededBy = ptrFromNull(superseded)
	return v, nil
}

func rawOrNil(m json.RawMessage) any {
	if len(m) == 0 {
		return nil
	}
	return string(m)
}

func (r Repo) InsertRequestTx(ctx context.Context, tx *sql.Tx, v domain.ValidationRequest) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO validation_requests(id,case_id,category,state,sequence,reason,proposed_json,target_id,post_validation,
created_by,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		v.ID, v.CaseID, v.Category, v.State, v.Sequence, nullable(v.Reason), rawOrNil(v.Proposed), nullableStringPtr(v.TargetID),
		boolInt(v.PostValidation), v.CreatedBy, v.CreatedAt, v.UpdatedAt)
	return err
}

// UpdateRequestTx rewrites the lifecycle fields of a request. The caller has
// already checked the state transition.
func (r Repo) UpdateRequestTx(ctx context.Context, tx *sql.Tx, v domain.ValidationRequest) error {
	res, err := tx.ExecContext(ctx, `UPDATE validation_requests SET state=?, response_json=?, cancel_reason=?, responded_by=?, cancelled_by=?,
deadline=?, sent_at=?, responded_at=?, cancelled_at=?, closed_at=?, superseded_by=?, updated_at=? WHERE id=?`,
		v.State, rawOrNil(v.Response), nullable(v.CancelReason), nullableStringPtr(v.RespondedBy), nullableStringPtr(v.CancelledBy),
		nullableStringPtr(v.Deadline), nullableStringPtr(v.SentAt), nullableStringPtr(v.RespondedAt), nullableStringPtr(v.CancelledAt),
		nullableStringPtr(v.ClosedAt), nullableStringPtr(v.SupersededBy), v.UpdatedAt, v.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetRequest(ctx context.Context, id string) (domain.ValidationRequest, error) {
	return scanRequest(r.DB.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM validation_requests WHERE id=?`, id))
}

func (r Repo) GetRequestTx(ctx context.Context, tx *sql.Tx, id string) (domain.ValidationRequest, error) {
	return scanRequest(tx.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM validation_requests WHERE id=?`, id))
}

// ActiveRequestTx returns the pending or open request of a category, if any.
func (r Repo) ActiveRequestTx(ctx context.Context, tx *sql.Tx, caseID string, category domain.RequestCategory) (domain.ValidationRequest, error) {
	return scanRequest(tx.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM validation_requests
WHERE case_id=? AND category=? AND state IN ('pending','open') LIMIT 1`, caseID, category))
}

// CountActiveRequestsForTargetTx counts pending or open requests that point
// at an item.
func (r Repo) CountActiveRequestsForTargetTx(ctx context.Context, tx *sql.Tx, targetID string) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM validation_requests WHERE target_id=? AND state IN ('pending','open')`, targetID).Scan(&n)
	return n, err
}

// LatestRequestTx returns the highest-sequence request of a category.
func (r Repo) LatestRequestTx(ctx context.Context, tx *sql.Tx, caseID string, category domain.RequestCategory) (domain.ValidationRequest, error) {
	return scanRequest(tx.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM validation_requests
WHERE case_id=? AND category=? ORDER BY sequence DESC LIMIT 1`, caseID, category))
}

func (r Repo) NextRequestSequenceTx(ctx context.Context, tx *sql.Tx, caseID string, category domain.RequestCategory) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(sequence),0)+1 FROM validation_requests WHERE case_id=? AND category=?`, caseID, category).Scan(&n)
	return n, err
}

// RequestFilters narrows ListRequests.
type RequestFilters struct {
	CaseID   string
	Category string
	State    string
}

func (r Repo) ListRequests(ctx context.Context, f RequestFilters) ([]domain.ValidationRequest, error) {
	return listRequests(ctx, r.DB, f)
}

func (r Repo) ListRequestsTx(ctx context.Context, tx *sql.Tx, f RequestFilters) ([]domain.ValidationRequest, error) {
	return listRequests(ctx, tx, f)
}

func listRequests(ctx context.Context, q querier, f RequestFilters) ([]domain.ValidationRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM validation_requests WHERE 1=1`
	var args []any
	if f.CaseID != "" {
		query += " AND case_id=?"
		args = append(args, f.CaseID)
	}
	if f.Category != "" {
		query += " AND category=?"
		args = append(args, f.Category)
	}
	if f.State != "" {
		query += " AND state=?"
		args = append(args, f.State)
	}
	query += " ORDER BY created_at, category, sequence"
	return collectRequests(q.QueryContext(ctx, query, args...))
}

// ListOpenRequestsDue returns open requests whose deadline date is before the given date.
func (r Repo) ListOpenRequestsDue(ctx context.Context, before string) ([]domain.ValidationRequest, error) {
	return collectRequests(r.DB.QueryContext(ctx, `SELECT `+requestColumns+` FROM validation_requests
WHERE state='open' AND deadline IS NOT NULL AND deadline < ? ORDER BY deadline, id`, before))
}

func collectRequests(rows *sql.Rows, err error) ([]domain.ValidationRequest, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.ValidationRequest
	for rows.Next() {
		v, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

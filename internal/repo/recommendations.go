package repo

import (
	"context"
	"database/sql"
	"errors"

	"bops/internal/domain"
)

func scanRecommendation(row scanner) (domain.Recommendation, error) {
	var (
		rec                  domain.Recommendation
		decision, reviewerID sql.NullString
		challenged           sql.NullInt64
		submitted            int
	)
	err := row.Scan(&rec.CaseID, &rec.Status, &decision, &challenged, &submitted, &rec.AssessorID, &rec.AssessorComment,
		&reviewerID, &rec.ReviewerComment, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, ErrNotFound
	}
	if err != nil {
		return rec, err
	}
	rec.Decision = decision.String
	rec.ReviewerID = ptrFromNull(reviewerID)
	rec.Submitted = submitted == 1
	if challenged.Valid {
		v := challenged.Int64 == 1
		rec.Challenged = &v
	}
	return rec, nil
}

const recommendationColumns = `case_id,status,decision,challenged,submitted,assessor_id,COALESCE(assessor_comment,''),reviewer_id,
COALESCE(reviewer_comment,''),created_at,updated_at`

func (r Repo) GetRecommendation(ctx context.Context, caseID string) (domain.Recommendation, error) {
	return scanRecommendation(r.DB.QueryRowContext(ctx, `SELECT `+recommendationColumns+` FROM recommendations WHERE case_id=?`, caseID))
}

func (r Repo) GetRecommendationTx(ctx context.Context, tx *sql.Tx, caseID string) (domain.Recommendation, error) {
	return scanRecommendation(tx.QueryRowContext(ctx, `SELECT `+recommendationColumns+` FROM recommendations WHERE case_id=?`, caseID))
}

func (r Repo) UpsertRecommendationTx(ctx context.Context, tx *sql.Tx, rec domain.Recommendation) error {
	var challenged any
	if rec.Challenged != nil {
		challenged = boolInt(*rec.Challenged)
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO recommendations(case_id,status,decision,challenged,submitted,assessor_id,assessor_comment,reviewer_id,reviewer_comment,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(case_id) DO UPDATE SET status=excluded.status, decision=excluded.decision, challenged=excluded.challenged,
submitted=excluded.submitted, assessor_id=excluded.assessor_id, assessor_comment=excluded.assessor_comment,
reviewer_id=excluded.reviewer_id, reviewer_comment=excluded.reviewer_comment, updated_at=excluded.updated_at`,
		rec.CaseID, rec.Status, nullable(rec.Decision), challenged, boolInt(rec.Submitted), rec.AssessorID, nullable(rec.AssessorComment),
		nullableStringPtr(rec.ReviewerID), nullable(rec.ReviewerComment), rec.CreatedAt, rec.UpdatedAt)
	return err
}

package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type Payload map[string]any

// Entry is one audit row. Entries are only ever inserted.
type Entry struct {
	CaseID       string
	ActorID      string
	ActivityType string
	Comment      string
	Payload      Payload
}

// Auditor records entries inside the caller's transaction so that the
// audit row commits or rolls back together with the change it describes.
type Auditor interface {
	Record(ctx context.Context, tx *sql.Tx, e Entry) error
}

type Writer struct {
	Now func() time.Time
}

func (w Writer) Record(ctx context.Context, tx *sql.Tx, e Entry) error {
	if tx == nil {
		return errors.New("audit entries must be written inside a transaction")
	}
	if e.CaseID == "" || e.ActivityType == "" {
		return errors.New("audit entry needs case and activity type")
	}
	if e.ActorID == "" {
		return errors.New("audit entry needs an actor")
	}
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	if e.Payload == nil {
		e.Payload = Payload{}
	}
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO audits(case_id,actor_id,activity_type,comment,payload_json,created_at) VALUES (?,?,?,?,?,?)`,
		e.CaseID, e.ActorID, e.ActivityType, nullable(e.Comment), string(data), now().UTC().Format(time.RFC3339))
	return err
}

// RequestActivity names the activity for a validation request lifecycle step,
// e.g. "description_change_validation_request_cancelled".
func RequestActivity(category, verb string) string {
	return category + "_validation_request_" + verb
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

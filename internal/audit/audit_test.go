package audit_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bops/internal/audit"
	"bops/internal/db"
)

func TestRequestActivity(t *testing.T) {
	assert.Equal(t, "description_change_validation_request_cancelled", audit.RequestActivity("description_change", "cancelled"))
	assert.Equal(t, "red_line_boundary_change_validation_request_auto_closed", audit.RequestActivity("red_line_boundary_change", "auto_closed"))
}

func TestRecordRequiresTransaction(t *testing.T) {
	err := audit.Writer{}.Record(context.Background(), nil, audit.Entry{CaseID: "c1", ActorID: "a", ActivityType: "case_created"})
	require.Error(t, err)
}

func TestRecordRejectsIncompleteEntries(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	ctx := context.Background()
	tx, err := conn.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer tx.Rollback()

	w := audit.Writer{}
	assert.Error(t, w.Record(ctx, tx, audit.Entry{ActorID: "a", ActivityType: "case_created"}))
	assert.Error(t, w.Record(ctx, tx, audit.Entry{CaseID: "c1", ActorID: "a"}))
	assert.Error(t, w.Record(ctx, tx, audit.Entry{CaseID: "c1", ActivityType: "case_created"}))
}

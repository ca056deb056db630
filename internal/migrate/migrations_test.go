package migrate_test

import (
	"context"
	"testing"

	"bops/internal/db"
	"bops/internal/migrate"
)

func TestMigrateIsRepeatable(t *testing.T) {
	ctx := context.Background()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()

	if err := migrate.Migrate(ctx, conn); err != nil {
		t.Fatalf("first migrate: %v", err)
	}
	if err := migrate.Migrate(ctx, conn); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	all, err := migrate.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	v, err := migrate.Version(ctx, conn)
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if want := all[len(all)-1].Version; v != want {
		t.Fatalf("expected schema version %d, got %d", want, v)
	}
}

func TestAuditsRejectUpdates(t *testing.T) {
	ctx := context.Background()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()
	if err := migrate.Migrate(ctx, conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	now := "2024-01-01T00:00:00Z"
	mustExec := func(q string, args ...any) {
		t.Helper()
		if _, err := conn.ExecContext(ctx, q, args...); err != nil {
			t.Fatalf("%s: %v", q, err)
		}
	}
	mustExec(`INSERT INTO tenants(id,name,created_at) VALUES ('t1','Town',?)`, now)
	mustExec(`INSERT INTO cases(id,tenant_id,reference,case_type,stage,received_at,created_at,updated_at) VALUES ('c1','t1','24-00001','planning_application','not_started',?,?,?)`, now, now, now)
	mustExec(`INSERT INTO audits(case_id,actor_id,activity_type,payload_json,created_at) VALUES ('c1','u1','case_created','{}',?)`, now)

	if _, err := conn.ExecContext(ctx, `UPDATE audits SET comment='x'`); err == nil {
		t.Fatalf("expected update on audits to fail")
	}
	if _, err := conn.ExecContext(ctx, `DELETE FROM audits`); err == nil {
		t.Fatalf("expected delete on audits to fail")
	}
}

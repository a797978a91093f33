package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

func TestDiagnoseNamesGuardedRecordForPostgresViolations(t *testing.T) {
	pgxErr := &pgconn.PgError{Code: "23505", ConstraintName: "idx_projects_slug", TableName: "projects", Message: "duplicate key value"}
	diag := Diagnose(Wrap(CodeConflict, fmt.Errorf("insert: %w", pgxErr), "could not reserve a unique slug"))
	if diag.Code != CodeConflict || diag.SQLState != "23505" || diag.Guards != "project slug" {
		t.Fatalf("unexpected pgx diagnostics %+v", diag)
	}
	if len(diag.Chain) < 2 {
		t.Fatalf("expected wrap chain, got %v", diag.Chain)
	}

	pqErr := &pq.Error{Code: "23505", Constraint: "idx_purchases_checkout_project", Table: "purchases"}
	diag = Diagnose(fmt.Errorf("fulfil checkout: %w", pqErr))
	if diag.Table != "purchases" || diag.Guards != "purchase line" {
		t.Fatalf("unexpected pq diagnostics %+v", diag)
	}
}

func TestDiagnoseParsesSQLiteUniqueFailures(t *testing.T) {
	err := stdErrors.New("UNIQUE constraint failed: purchases.checkout_id, purchases.project_id")
	diag := Diagnose(err)
	if diag.Table != "purchases" || diag.Column != "checkout_id" || diag.Guards != "purchase line" {
		t.Fatalf("unexpected sqlite diagnostics %+v", diag)
	}

	fields := diag.LogFields()
	if fields["guards"] != "purchase line" || fields["db_table"] != "purchases" {
		t.Fatalf("unexpected log fields %v", fields)
	}
	if _, ok := fields["sql_state"]; ok {
		t.Fatalf("empty sql_state should be omitted: %v", fields)
	}
}

func TestDiagnoseNil(t *testing.T) {
	if diag := Diagnose(nil); diag.Message != "" || diag.Chain != nil {
		t.Fatalf("expected zero diagnostics, got %+v", diag)
	}
}

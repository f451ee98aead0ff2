package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

func TestDatabaseErrorRecognisesBothDrivers(t *testing.T) {
	pgx := fmt.Errorf("insert member: %w", &pgconn.PgError{Code: "23505", ConstraintName: "members_ssn_key", TableName: "members"})
	got, ok := DatabaseError(pgx)
	if !ok || got.Code != "23505" || got.Constraint != "members_ssn_key" || got.Table != "members" {
		t.Fatalf("unexpected pgx extraction %+v ok=%v", got, ok)
	}

	pqErr := Wrap(CodeInternal, &pq.Error{Code: "23514", Constraint: "member_sync_queue_status_check"}, "update entry")
	got, ok = DatabaseError(pqErr)
	if !ok || got.Code != "23514" || got.Constraint != "member_sync_queue_status_check" {
		t.Fatalf("unexpected pq extraction %+v ok=%v", got, ok)
	}

	if _, ok := DatabaseError(stdErrors.New("boom")); ok {
		t.Fatalf("plain error should not be a database error")
	}
}

func TestDumpFields(t *testing.T) {
	err := Wrap(CodeConflict, &pgconn.PgError{Code: "23505", ConstraintName: "members_ssn_key"}, "duplicate kennitala")
	fields := Dump(err).Fields()

	if fields["error_code"] != CodeConflict {
		t.Fatalf("unexpected code field %v", fields["error_code"])
	}
	if fields["error_class"] != FailureConflict {
		t.Fatalf("unexpected class field %v", fields["error_class"])
	}
	if fields["pg_constraint"] != "members_ssn_key" {
		t.Fatalf("missing constraint field: %v", fields)
	}
	if _, ok := fields["pg_table"]; ok {
		t.Fatalf("empty database columns should be omitted")
	}
	if chain, _ := fields["error_chain"].([]string); len(chain) != 2 {
		t.Fatalf("expected two links in chain, got %v", fields["error_chain"])
	}

	plain := Dump(stdErrors.New("boom")).Fields()
	if _, ok := plain["pg_code"]; ok {
		t.Fatalf("plain errors carry no database fields")
	}
	if len(Dump(nil).Chain) != 0 {
		t.Fatalf("nil error should dump empty")
	}
}

func TestPublicMessageAndDetails(t *testing.T) {
	validation := New(CodeValidation, "birthday must be YYYY-MM-DD").WithDetails(map[string]string{"field": "birthday"})
	if validation.PublicMessage() != "birthday must be YYYY-MM-DD" {
		t.Fatalf("validation messages are public, got %q", validation.PublicMessage())
	}
	if validation.PublicDetails() == nil {
		t.Fatalf("validation details are public")
	}

	internal := Wrap(CodeInternal, stdErrors.New("dial tcp: refused"), "load queue").WithDetails("secret")
	if internal.PublicMessage() != "internal server error" {
		t.Fatalf("internal messages must not leak, got %q", internal.PublicMessage())
	}
	if internal.PublicDetails() != nil {
		t.Fatalf("internal details must not leak")
	}

	if New(CodeNotFound, "").PublicMessage() != "resource not found" {
		t.Fatalf("empty message should fall back to the code's public message")
	}
}

func TestEnsureAndStatusOf(t *testing.T) {
	if got := Ensure(stdErrors.New("boom")).Code(); got != CodeInternal {
		t.Fatalf("untyped errors become internal, got %s", got)
	}
	if got := Ensure(nil).Code(); got != CodeInternal {
		t.Fatalf("nil becomes internal, got %s", got)
	}
	if got := StatusOf(fmt.Errorf("outer: %w", New(CodeRateLimit, "slow down"))); got != 429 {
		t.Fatalf("expected 429, got %d", got)
	}
}

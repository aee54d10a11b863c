package history

import (
	"context"
	"database/sql/driver"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"calling-platform/internal/calls"
)

// passthroughConverter lets slice arguments (call_id = ANY($1)) through;
// the real pgx driver handles them natively.
type passthroughConverter struct{}

func (passthroughConverter) ConvertValue(v any) (driver.Value, error) { return v, nil }

func TestPGRepo_ListByUser(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.ValueConverterOption(passthroughConverter{}))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	now := time.Unix(1700000000, 0).UTC()
	end := now.Add(time.Minute)

	callCols := []string{"call_id", "created_by", "is_group_call", "channel_name", "status", "scheduled_at", "end_time", "created_at", "updated_at"}
	mock.ExpectQuery("SELECT c.call_id, .* FROM calls c").
		WithArgs("u1", 10).
		WillReturnRows(sqlmock.NewRows(callCols).
			AddRow("c1", "100", false, "c1", "ended", nil, end, now, end))

	partCols := []string{"call_id", "user_id", "role", "status", "join_time", "leave_time", "created_at", "updated_at"}
	mock.ExpectQuery("SELECT call_id, user_id, .* FROM call_participants").
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(partCols).
			AddRow("c1", "u1", "host", "left", now, end, now, end).
			AddRow("c1", "u2", "participant", "left", now, end, now, end))

	rows, err := NewPGRepo(db).ListByUser(context.Background(), "u1", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 call, got %d", len(rows))
	}
	if rows[0].Call.Status != calls.CallStatusEnded {
		t.Fatalf("status = %s", rows[0].Call.Status)
	}
	if len(rows[0].Participants) != 2 {
		t.Fatalf("expected 2 participants, got %d", len(rows[0].Participants))
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGRepo_ListByUser_Empty(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	callCols := []string{"call_id", "created_by", "is_group_call", "channel_name", "status", "scheduled_at", "end_time", "created_at", "updated_at"}
	mock.ExpectQuery("SELECT c.call_id, .* FROM calls c").
		WithArgs("u1", 10).
		WillReturnRows(sqlmock.NewRows(callCols))

	rows, err := NewPGRepo(db).ListByUser(context.Background(), "u1", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected no rows, got %d", len(rows))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

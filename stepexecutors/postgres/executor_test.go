package postgres

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/sflowg-labs/deliverable-workflows/workflow"
)

func newMockExecutor(t *testing.T) (*Executor, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return &Executor{db: sqlx.NewDb(db, "postgres")}, mock
}

func TestExecute_Get_Found(t *testing.T) {
	exec, mock := newMockExecutor(t)
	rows := sqlmock.NewRows([]string{"id", "name"}).AddRow(1, "ada")
	mock.ExpectQuery("SELECT").WithArgs(1).WillReturnRows(rows)

	out, err := exec.Execute(context.Background(), workflow.Step{StepName: "lookup", Kind: "postgres.get"}, map[string]any{
		"query":  "SELECT id, name FROM users WHERE id = $1",
		"params": []any{1},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m := out.(map[string]any)
	if m["found"] != true {
		t.Fatalf("expected found=true, got %+v", m)
	}
	row := m["row"].(map[string]any)
	if row["name"] != "ada" {
		t.Fatalf("expected name=ada, got %+v", row)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestExecute_Get_NotFound(t *testing.T) {
	exec, mock := newMockExecutor(t)
	rows := sqlmock.NewRows([]string{"id", "name"})
	mock.ExpectQuery("SELECT").WillReturnRows(rows)

	out, err := exec.Execute(context.Background(), workflow.Step{StepName: "lookup", Kind: "postgres.get"}, map[string]any{
		"query": "SELECT id, name FROM users WHERE id = $1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.(map[string]any)["found"] != false {
		t.Fatalf("expected found=false")
	}
}

func TestExecute_Exec(t *testing.T) {
	exec, mock := newMockExecutor(t)
	mock.ExpectExec("UPDATE").WithArgs("done", 1).WillReturnResult(sqlmock.NewResult(0, 1))

	out, err := exec.Execute(context.Background(), workflow.Step{StepName: "update", Kind: "postgres.exec"}, map[string]any{
		"query":  "UPDATE tasks SET status = $1 WHERE id = $2",
		"params": []any{"done", 1},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.(map[string]any)["affected_rows"].(int64) != 1 {
		t.Fatalf("expected 1 affected row, got %+v", out)
	}
}

func TestExecute_MissingQuery(t *testing.T) {
	exec, _ := newMockExecutor(t)
	_, err := exec.Execute(context.Background(), workflow.Step{StepName: "bad", Kind: "postgres.get"}, map[string]any{})
	if err == nil {
		t.Fatalf("expected error for missing query")
	}
}

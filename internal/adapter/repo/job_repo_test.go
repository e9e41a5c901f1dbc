package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"genqueue/internal/domain"
	"genqueue/internal/sqlinline"
)

type stubExecutor struct {
	execQueries []string
	execArgs    [][]any
	execErr     error
	row         pgx.Row
	rows        pgx.Rows
}

func (s *stubExecutor) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	s.execQueries = append(s.execQueries, query)
	s.execArgs = append(s.execArgs, args)
	return pgconn.NewCommandTag("INSERT 0 1"), s.execErr
}

func (s *stubExecutor) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	return s.row
}

func (s *stubExecutor) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	return s.rows, nil
}

type simpleRow struct {
	scan func(dest ...any) error
}

func (r simpleRow) Scan(dest ...any) error {
	if r.scan == nil {
		return pgx.ErrNoRows
	}
	return r.scan(dest...)
}

type testRows struct {
	scans []func(dest ...any) error
	idx   int
}

func (r *testRows) Close()                                       {}
func (r *testRows) Err() error                                   { return nil }
func (r *testRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *testRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *testRows) Conn() *pgx.Conn                              { return nil }
func (r *testRows) RawValues() [][]byte                          { return nil }
func (r *testRows) Values() ([]any, error) {
	return nil, fmt.Errorf("values not supported in test rows")
}

func (r *testRows) Next() bool {
	if r.idx >= len(r.scans) {
		return false
	}
	r.idx++
	return true
}

func (r *testRows) Scan(dest ...any) error {
	return r.scans[r.idx-1](dest...)
}

func historyScanner(id string, status domain.JobStatus, results string) func(dest ...any) error {
	return func(dest ...any) error {
		req, _ := json.Marshal(domain.GenerationRequest{Prompt: "p", Width: 64, Height: 64, Count: 1, Mode: domain.ModeStandard})
		now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
		*dest[0].(*string) = id
		*dest[1].(*string) = string(status)
		*dest[2].(*[]byte) = req
		if results != "" {
			*dest[3].(*[]byte) = []byte(results)
		}
		*dest[4].(*string) = ""
		*dest[5].(*string) = ""
		*dest[6].(*string) = ""
		*dest[7].(*time.Time) = now
		*dest[8].(**time.Time) = &now
		*dest[9].(**time.Time) = &now
		return nil
	}
}

func TestSaveTerminalWritesRow(t *testing.T) {
	exec := &stubExecutor{}
	repo := NewJobHistory(exec)
	now := time.Now()
	seed := int64(5)
	job := domain.JobRecord{
		ID:          "job-1",
		Status:      domain.JobStatusCompleted,
		Request:     domain.GenerationRequest{Prompt: "fox", Width: 512, Height: 512, Count: 1, Seed: &seed},
		CreatedAt:   now,
		StartedAt:   &now,
		CompletedAt: &now,
		Results:     []domain.ImageResult{{ID: "job-1-0", URL: "u1"}},
	}
	if err := repo.SaveTerminal(context.Background(), job); err != nil {
		t.Fatalf("save: %v", err)
	}
	if len(exec.execQueries) != 1 || exec.execQueries[0] != sqlinline.QJobHistoryInsert {
		t.Fatalf("unexpected queries: %v", exec.execQueries)
	}
	args := exec.execArgs[0]
	if len(args) != 16 {
		t.Fatalf("args len = %d, want 16", len(args))
	}
	if args[0] != "job-1" || args[1] != "completed" || args[3] != "standard" {
		t.Fatalf("args = %v", args[:4])
	}
	if !strings.Contains(string(args[9].([]byte)), `"url":"u1"`) {
		t.Fatalf("results json = %s", args[9])
	}
	if args[10].(*string) != nil {
		t.Fatalf("error kind should be NULL for completed jobs")
	}
}

func TestSaveTerminalRejectsActiveJobs(t *testing.T) {
	exec := &stubExecutor{}
	err := NewJobHistory(exec).SaveTerminal(context.Background(), domain.JobRecord{ID: "job-1", Status: domain.JobStatusProcessing})
	if !errors.Is(err, domain.ErrNotTerminal) {
		t.Fatalf("error = %v, want ErrNotTerminal", err)
	}
	if len(exec.execQueries) != 0 {
		t.Fatalf("no query expected")
	}
}

func TestSaveTerminalWrapsDatabaseErrors(t *testing.T) {
	exec := &stubExecutor{execErr: errors.New("connection refused")}
	now := time.Now()
	err := NewJobHistory(exec).SaveTerminal(context.Background(), domain.JobRecord{
		ID: "job-2", Status: domain.JobStatusFailed, ErrorKind: domain.FailureAuth, Error: "bad key", CreatedAt: now, CompletedAt: &now,
	})
	if err == nil || !strings.Contains(err.Error(), "connection refused") {
		t.Fatalf("error = %v", err)
	}
	if kind := exec.execArgs[0][10].(*string); kind == nil || *kind != "auth" {
		t.Fatalf("error kind arg = %v", kind)
	}
}

func TestRecentScansRows(t *testing.T) {
	exec := &stubExecutor{rows: &testRows{scans: []func(dest ...any) error{
		historyScanner("job-2", domain.JobStatusCompleted, `[{"id":"job-2-0","url":"u"}]`),
		historyScanner("job-1", domain.JobStatusFailed, ""),
	}}}
	jobs, err := NewJobHistory(exec).Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("jobs len = %d", len(jobs))
	}
	if jobs[0].ID != "job-2" || jobs[0].Progress != 100 || len(jobs[0].Results) != 1 {
		t.Fatalf("jobs[0] = %+v", jobs[0])
	}
	if jobs[1].Status != domain.JobStatusFailed || jobs[1].Results != nil {
		t.Fatalf("jobs[1] = %+v", jobs[1])
	}
}

func TestGetMissingIsNotFound(t *testing.T) {
	exec := &stubExecutor{row: simpleRow{}}
	_, err := NewJobHistory(exec).Get(context.Background(), "nope")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

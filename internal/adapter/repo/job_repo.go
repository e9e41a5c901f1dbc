package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"genqueue/internal/domain"
	"genqueue/internal/infra"
	"genqueue/internal/sqlinline"
)

// JobHistoryPG archives terminal jobs in PostgreSQL. It implements
// domain.JobArchive.
type JobHistoryPG struct {
	db infra.SQLExecutor
}

// NewJobHistory creates a history repository over db.
func NewJobHistory(db infra.SQLExecutor) *JobHistoryPG {
	return &JobHistoryPG{db: db}
}

// EnsureSchema creates the history table when missing.
func (r *JobHistoryPG) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, sqlinline.QJobHistoryEnsureTable); err != nil {
		return fmt.Errorf("ensure job history table: %w", err)
	}
	return nil
}

// SaveTerminal inserts a completed or failed job. Re-archiving the same id is a
// no-op.
func (r *JobHistoryPG) SaveTerminal(ctx context.Context, job domain.JobRecord) error {
	if !job.Status.IsTerminal() {
		return fmt.Errorf("archive job %s: %w", job.ID, domain.ErrNotTerminal)
	}
	requestJSON, err := json.Marshal(job.Request)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	var resultsJSON []byte
	if job.Status == domain.JobStatusCompleted {
		results := job.Results
		if results == nil {
			results = []domain.ImageResult{}
		}
		if resultsJSON, err = json.Marshal(results); err != nil {
			return fmt.Errorf("encode results: %w", err)
		}
	}
	_, err = r.db.Exec(ctx, sqlinline.QJobHistoryInsert,
		job.ID,
		string(job.Status),
		job.Request.Prompt,
		string(domain.NormalizeMode(job.Request.Mode)),
		job.Request.Width,
		job.Request.Height,
		job.Request.Count,
		job.Request.Seed,
		requestJSON,
		nullableBytes(resultsJSON),
		nullableString(string(job.ErrorKind)),
		nullableString(job.Error),
		nullableString(job.PendingTaskID),
		job.CreatedAt,
		job.StartedAt,
		job.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job history %s: %w", job.ID, err)
	}
	return nil
}

// Recent lists archived jobs, most recently finished first.
func (r *JobHistoryPG) Recent(ctx context.Context, limit int) ([]domain.JobRecord, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.db.Query(ctx, sqlinline.QJobHistoryRecent, limit)
	if err != nil {
		return nil, fmt.Errorf("query job history: %w", err)
	}
	defer rows.Close()

	var jobs []domain.JobRecord
	for rows.Next() {
		job, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job history: %w", err)
	}
	return jobs, nil
}

// Get fetches one archived job.
func (r *JobHistoryPG) Get(ctx context.Context, id string) (domain.JobRecord, error) {
	job, err := scanHistory(r.db.QueryRow(ctx, sqlinline.QJobHistoryGet, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.JobRecord{}, domain.ErrNotFound
	}
	return job, err
}

func scanHistory(row pgx.Row) (domain.JobRecord, error) {
	var (
		job         domain.JobRecord
		status      string
		kind        string
		requestJSON []byte
		resultsJSON []byte
		startedAt   *time.Time
		completedAt *time.Time
	)
	if err := row.Scan(
		&job.ID,
		&status,
		&requestJSON,
		&resultsJSON,
		&kind,
		&job.Error,
		&job.PendingTaskID,
		&job.CreatedAt,
		&startedAt,
		&completedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.JobRecord{}, err
		}
		return domain.JobRecord{}, fmt.Errorf("scan job history: %w", err)
	}
	job.Status = domain.JobStatus(status)
	job.ErrorKind = domain.FailureKind(kind)
	job.StartedAt = startedAt
	job.CompletedAt = completedAt
	if err := json.Unmarshal(requestJSON, &job.Request); err != nil {
		return domain.JobRecord{}, fmt.Errorf("decode archived request %s: %w", job.ID, err)
	}
	if len(resultsJSON) > 0 {
		if err := json.Unmarshal(resultsJSON, &job.Results); err != nil {
			return domain.JobRecord{}, fmt.Errorf("decode archived results %s: %w", job.ID, err)
		}
	}
	if job.Status == domain.JobStatusCompleted {
		job.Progress = 100
	}
	return job, nil
}

func nullableBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

var _ domain.JobArchive = (*JobHistoryPG)(nil)

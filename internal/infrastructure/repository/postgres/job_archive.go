package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kirillkom/doc-converter/internal/core/domain"
	"github.com/kirillkom/doc-converter/internal/core/ports"
)

var _ ports.JobArchive = (*JobArchive)(nil)

// JobArchive stores terminal batch jobs and their item results once the
// scheduler evicts them from memory.
type JobArchive struct {
	db  *sql.DB
	now func() time.Time
}

func NewJobArchive(db *sql.DB) *JobArchive {
	return &JobArchive{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Archive upserts the job snapshot and replaces its stored results.
func (r *JobArchive) Archive(ctx context.Context, job domain.BatchJob, results []domain.ItemResult) error {
	settingsJSON, err := json.Marshal(job.Settings)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	itemsJSON, err := json.Marshal(job.Items)
	if err != nil {
		return fmt.Errorf("marshal items: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin archive tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.ExecContext(ctx, `
INSERT INTO batch_jobs (
	id, status, settings, items, total_items, done, failed, created_at, started_at, finished_at, cancelled_at, archived_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
ON CONFLICT (id) DO UPDATE SET
	status = EXCLUDED.status,
	items = EXCLUDED.items,
	done = EXCLUDED.done,
	failed = EXCLUDED.failed,
	finished_at = EXCLUDED.finished_at,
	cancelled_at = EXCLUDED.cancelled_at,
	archived_at = EXCLUDED.archived_at
`,
		job.ID, string(job.Status), settingsJSON, itemsJSON, job.TotalItems, job.Done, job.Failed,
		job.CreatedAt, job.StartedAt, job.FinishedAt, job.CancelledAt, r.now(),
	)
	if err != nil {
		return fmt.Errorf("upsert batch job: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM batch_item_results WHERE job_id = $1`, job.ID); err != nil {
		return fmt.Errorf("clear item results: %w", err)
	}
	for _, res := range results {
		var conversion any
		if res.Conversion != nil {
			raw, err := json.Marshal(res.Conversion)
			if err != nil {
				return fmt.Errorf("marshal conversion for item %d: %w", res.Index, err)
			}
			conversion = raw
		}
		_, err := tx.ExecContext(ctx, `
INSERT INTO batch_item_results (job_id, item_index, name, status, attempts, error_message, conversion)
VALUES ($1,$2,$3,$4,$5,$6,$7)
`, job.ID, res.Index, res.Name, string(res.Status), res.Attempts, res.Error, conversion)
		if err != nil {
			return fmt.Errorf("insert item result %d: %w", res.Index, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit archive tx: %w", err)
	}
	return nil
}

func (r *JobArchive) Get(ctx context.Context, jobID string) (*domain.BatchJob, []domain.ItemResult, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, status, settings, items, total_items, done, failed, created_at, started_at, finished_at, cancelled_at
FROM batch_jobs
WHERE id = $1
`, jobID)

	var (
		job                                domain.BatchJob
		status                             string
		settingsRaw, itemsRaw              []byte
		startedAt, finishedAt, cancelledAt sql.NullTime
	)
	err := row.Scan(
		&job.ID, &status, &settingsRaw, &itemsRaw, &job.TotalItems, &job.Done, &job.Failed,
		&job.CreatedAt, &startedAt, &finishedAt, &cancelledAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, domain.WrapError(domain.ErrJobNotFound, "get archived job", fmt.Errorf("id=%s", jobID))
		}
		return nil, nil, fmt.Errorf("scan batch job: %w", err)
	}
	job.Status = domain.JobStatus(status)
	job.StartedAt = timePtr(startedAt)
	job.FinishedAt = timePtr(finishedAt)
	job.CancelledAt = timePtr(cancelledAt)
	if err := json.Unmarshal(settingsRaw, &job.Settings); err != nil {
		return nil, nil, fmt.Errorf("unmarshal settings: %w", err)
	}
	if err := json.Unmarshal(itemsRaw, &job.Items); err != nil {
		return nil, nil, fmt.Errorf("unmarshal items: %w", err)
	}

	results, err := r.results(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}
	return &job, results, nil
}

func (r *JobArchive) results(ctx context.Context, jobID string) ([]domain.ItemResult, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT item_index, name, status, attempts, error_message, conversion
FROM batch_item_results
WHERE job_id = $1
ORDER BY item_index
`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list item results: %w", err)
	}
	defer rows.Close()

	out := make([]domain.ItemResult, 0)
	for rows.Next() {
		var (
			res           domain.ItemResult
			status        string
			conversionRaw []byte
		)
		if err := rows.Scan(&res.Index, &res.Name, &status, &res.Attempts, &res.Error, &conversionRaw); err != nil {
			return nil, fmt.Errorf("scan item result: %w", err)
		}
		res.Status = domain.ItemStatus(status)
		if len(conversionRaw) > 0 {
			res.Conversion = &domain.Conversion{}
			if err := json.Unmarshal(conversionRaw, res.Conversion); err != nil {
				return nil, fmt.Errorf("unmarshal conversion for item %d: %w", res.Index, err)
			}
		}
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate item results: %w", err)
	}
	return out, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/bobarin/beatcut/internal/models"
	"github.com/google/uuid"
)

const editJobColumns = `
	id, song_slug, project_id, seed, song_url, localize, status, attempts,
	payload, error_message, started_at, finished_at, created_at
`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEditJob(row rowScanner, job *models.EditJob) error {
	return row.Scan(
		&job.ID, &job.SongSlug, &job.ProjectID, &job.Seed, &job.SongURL,
		&job.Localize, &job.Status, &job.Attempts, &job.Payload,
		&job.ErrorMessage, &job.StartedAt, &job.FinishedAt, &job.CreatedAt,
	)
}

func (db *DB) CreateEditJob(ctx context.Context, job *models.EditJob) error {
	if job.Status == "" {
		job.Status = models.JobStatusQueued
	}

	query := `
		INSERT INTO edit_jobs (
			id, song_slug, project_id, seed, song_url, localize, status, attempts
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`

	return db.QueryRowContext(
		ctx, query,
		job.ID, job.SongSlug, job.ProjectID, job.Seed, job.SongURL,
		job.Localize, job.Status, job.Attempts,
	).Scan(&job.CreatedAt)
}

func (db *DB) GetEditJob(ctx context.Context, id uuid.UUID) (*models.EditJob, error) {
	query := `SELECT ` + editJobColumns + ` FROM edit_jobs WHERE id = $1`

	job := &models.EditJob{}
	err := scanEditJob(db.QueryRowContext(ctx, query, id), job)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("edit job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get edit job: %w", err)
	}

	return job, nil
}

func (db *DB) ListEditJobs(ctx context.Context, limit int) ([]models.EditJob, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + editJobColumns + ` FROM edit_jobs ORDER BY created_at DESC LIMIT $1`

	rows, err := db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query edit jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.EditJob
	for rows.Next() {
		var job models.EditJob
		if err := scanEditJob(rows, &job); err != nil {
			return nil, fmt.Errorf("failed to scan edit job: %w", err)
		}
		jobs = append(jobs, job)
	}

	return jobs, rows.Err()
}

// MarkEditJobRunning moves a job to running and counts the attempt.
func (db *DB) MarkEditJobRunning(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE edit_jobs
		SET status = $1, started_at = $2, attempts = attempts + 1
		WHERE id = $3
	`
	return db.execOne(ctx, id, query, models.JobStatusRunning, time.Now(), id)
}

func (db *DB) CompleteEditJob(ctx context.Context, id uuid.UUID, payload models.JSONB) error {
	query := `
		UPDATE edit_jobs
		SET status = $1, payload = $2, error_message = NULL, finished_at = $3
		WHERE id = $4
	`
	return db.execOne(ctx, id, query, models.JobStatusSucceeded, payload, time.Now(), id)
}

func (db *DB) FailEditJob(ctx context.Context, id uuid.UUID, errorMessage string) error {
	query := `
		UPDATE edit_jobs
		SET status = $1, error_message = $2, finished_at = $3
		WHERE id = $4
	`
	return db.execOne(ctx, id, query, models.JobStatusFailed, errorMessage, time.Now(), id)
}

func (db *DB) execOne(ctx context.Context, id uuid.UUID, query string, args ...interface{}) error {
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update edit job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update edit job: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("edit job %s: %w", id, ErrNotFound)
	}
	return nil
}

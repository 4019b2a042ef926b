package job

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"
)

type Repository interface {
	Create(ctx context.Context, job *Job) error
	MarkFinished(ctx context.Context, id string, ok bool, message string, result []byte) error
	Get(ctx context.Context, id string) (*Job, error)
	Count(ctx context.Context) (int, error)
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Create(ctx context.Context, job *Job) error {
	query := `INSERT INTO ingest_jobs (id, status, full_resync) VALUES ($1, $2, $3) RETURNING created_at`
	return r.db.QueryRowContext(ctx, query, job.ID, job.Status, job.FullResync).Scan(&job.CreatedAt)
}

func (r *PostgresRepo) MarkStarted(ctx context.Context, id string) error {
	query := `UPDATE ingest_jobs SET status = $1, started_at = NOW() WHERE id = $2`
	return r.exec(ctx, query, StatusStarted, id)
}

// MarkFinished records the terminal state. ok selects success or failure.
func (r *PostgresRepo) MarkFinished(ctx context.Context, id string, ok bool, message string, result []byte) error {
	status := StatusSuccess
	if !ok {
		status = StatusFailure
	}
	var payload any
	if len(result) > 0 {
		payload = result
	}
	query := `UPDATE ingest_jobs SET status = $1, message = $2, result = $3, finished_at = NOW() WHERE id = $4`
	return r.exec(ctx, query, status, message, payload, id)
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (*Job, error) {
	j := &Job{}
	var result []byte
	var started, finished sql.NullTime
	query := `SELECT id, status, full_resync, message, result, created_at, started_at, finished_at FROM ingest_jobs WHERE id = $1`
	err := r.db.QueryRowContext(ctx, query, id).Scan(&j.ID, &j.Status, &j.FullResync, &j.Message, &result, &j.CreatedAt, &started, &finished)
	if err != nil {
		return nil, err
	}
	if len(result) > 0 {
		j.Result = json.RawMessage(result)
	}
	j.StartedAt = nullTime(started)
	j.FinishedAt = nullTime(finished)
	return j, nil
}

func (r *PostgresRepo) Count(ctx context.Context) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM ingest_jobs`
	err := r.db.QueryRowContext(ctx, query).Scan(&count)
	return count, err
}

func (r *PostgresRepo) exec(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/nijaru/yt-script/errors"
	"github.com/nijaru/yt-script/models"
)

const defaultListLimit = 50

type Repository struct {
	db *DB
}

func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Save(ctx context.Context, run *models.Run) error {
	const op = "SQLiteRepository.Save"

	settings, err := json.Marshal(run.Settings)
	if err != nil {
		return errors.Internal(op, err, "Failed to encode settings")
	}
	artifacts, err := json.Marshal(run.Artifacts)
	if err != nil {
		return errors.Internal(op, err, "Failed to encode artifacts")
	}

	now := time.Now().UTC()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	run.UpdatedAt = now

	err = withRetry(ctx, r.db.config, op, func(ctx context.Context) error {
		_, err := r.db.statements.upsert.ExecContext(ctx,
			run.ID,
			run.URL,
			run.Title,
			string(run.Status),
			run.Step,
			string(settings),
			string(artifacts),
			run.Error,
			run.CreatedAt,
			run.UpdatedAt,
		)
		return err
	})
	if err != nil {
		if _, ok := errors.As(err); ok {
			return err
		}
		return errors.Internal(op, err, "Failed to save run")
	}
	return nil
}

func (r *Repository) Find(ctx context.Context, id string) (*models.Run, error) {
	const op = "SQLiteRepository.Find"

	run, err := scanRun(r.db.statements.get.QueryRowContext(ctx, id))
	if err == sql.ErrNoRows {
		return nil, errors.NotFound(op, nil, "Run not found")
	}
	if err != nil {
		return nil, errors.Internal(op, err, "Failed to query run")
	}
	return run, nil
}

func (r *Repository) FindByURL(ctx context.Context, url string) (*models.Run, error) {
	const op = "SQLiteRepository.FindByURL"

	run, err := scanRun(r.db.statements.getByURL.QueryRowContext(ctx, url))
	if err == sql.ErrNoRows {
		return nil, errors.NotFound(op, nil, "Run not found")
	}
	if err != nil {
		return nil, errors.Internal(op, err, "Failed to query run")
	}
	return run, nil
}

func (r *Repository) List(ctx context.Context, limit int) ([]*models.Run, error) {
	const op = "SQLiteRepository.List"

	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := r.db.statements.list.QueryContext(ctx, limit)
	if err != nil {
		return nil, errors.Internal(op, err, "Failed to list runs")
	}
	return collectRuns(op, rows)
}

func (r *Repository) FindStale(ctx context.Context, before time.Time) ([]*models.Run, error) {
	const op = "SQLiteRepository.FindStale"

	rows, err := r.db.statements.getStale.QueryContext(ctx, string(models.StatusProcessing), before.UTC())
	if err != nil {
		return nil, errors.Internal(op, err, "Failed to query stale runs")
	}
	return collectRuns(op, rows)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*models.Run, error) {
	run := &models.Run{}
	var status, settings, artifacts string

	err := row.Scan(
		&run.ID,
		&run.URL,
		&run.Title,
		&status,
		&run.Step,
		&settings,
		&artifacts,
		&run.Error,
		&run.CreatedAt,
		&run.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	run.Status = models.Status(status)
	if err := json.Unmarshal([]byte(settings), &run.Settings); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(artifacts), &run.Artifacts); err != nil {
		return nil, err
	}
	return run, nil
}

func collectRuns(op string, rows *sql.Rows) ([]*models.Run, error) {
	defer rows.Close()

	var runs []*models.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, errors.Internal(op, err, "Failed to scan run")
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Internal(op, err, "Failed to iterate runs")
	}
	return runs, nil
}

package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/nijaru/yt-script/errors"
)

const runColumns = `id, url, title, status, step, settings, artifacts, error, created_at, updated_at`

const (
	upsertRunQuery = `
        INSERT INTO runs (` + runColumns + `)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            title = excluded.title,
            status = excluded.status,
            step = excluded.step,
            settings = excluded.settings,
            artifacts = excluded.artifacts,
            error = excluded.error,
            updated_at = excluded.updated_at
    `

	getRunQuery = `SELECT ` + runColumns + ` FROM runs WHERE id = ?`

	getRunByURLQuery = `
        SELECT ` + runColumns + ` FROM runs
        WHERE url = ?
        ORDER BY created_at DESC
        LIMIT 1
    `

	listRunsQuery = `
        SELECT ` + runColumns + ` FROM runs
        ORDER BY created_at DESC
        LIMIT ?
    `

	getStaleRunsQuery = `
        SELECT ` + runColumns + ` FROM runs
        WHERE status = ? AND updated_at < ?
    `
)

type PreparedStatements struct {
	upsert   *sql.Stmt
	get      *sql.Stmt
	getByURL *sql.Stmt
	list     *sql.Stmt
	getStale *sql.Stmt
}

func (stmts *PreparedStatements) Prepare(ctx context.Context, db *sql.DB) error {
	const op = "PreparedStatements.Prepare"

	var err error

	if stmts.upsert, err = db.PrepareContext(ctx, upsertRunQuery); err != nil {
		return errors.Internal(op, err, "failed to prepare upsert statement")
	}
	if stmts.get, err = db.PrepareContext(ctx, getRunQuery); err != nil {
		return errors.Internal(op, err, "failed to prepare get statement")
	}
	if stmts.getByURL, err = db.PrepareContext(ctx, getRunByURLQuery); err != nil {
		return errors.Internal(op, err, "failed to prepare getByURL statement")
	}
	if stmts.list, err = db.PrepareContext(ctx, listRunsQuery); err != nil {
		return errors.Internal(op, err, "failed to prepare list statement")
	}
	if stmts.getStale, err = db.PrepareContext(ctx, getStaleRunsQuery); err != nil {
		return errors.Internal(op, err, "failed to prepare getStale statement")
	}

	return nil
}

func (stmts *PreparedStatements) Close() error {
	var errs []error

	for _, stmt := range [...]*sql.Stmt{stmts.upsert, stmts.get, stmts.getByURL, stmts.list, stmts.getStale} {
		if stmt != nil {
			if err := stmt.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("failed to close prepared statements: %v", errs)
	}
	return nil
}

package db

import (
	"context"
	"database/sql"
	"fmt"
)

// Exec runs one mutating statement and persists the image when it succeeds.
func (s *Store) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	conn, err := s.Handle()
	if err != nil {
		return nil, err
	}

	res, err := conn.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if err := s.Persist(ctx); err != nil {
		return nil, err
	}
	return res, nil
}

// InTx runs fn inside a transaction. The image is persisted only after the
// commit succeeds; any error from fn rolls the transaction back.
func (s *Store) InTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	conn, err := s.Handle()
	if err != nil {
		return err
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return s.Persist(ctx)
}

// RowsAffected returns ErrNotFound when res touched no rows.
func RowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

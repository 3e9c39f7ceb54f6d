package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strings"

	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

// Migrations holds the goose SQL migrations applied to every opened image.
//
//go:embed migrations/*.sql
var Migrations embed.FS

// MigrationsDir is the directory of Migrations passed to goose.
const MigrationsDir = "migrations"

// gooseLogger routes goose output through zap.
type gooseLogger struct {
	*zap.SugaredLogger
}

func (l gooseLogger) Printf(format string, v ...interface{}) {
	l.Debugf(strings.TrimSpace(format), v...)
}

// ConfigureGoose points goose at the embedded migrations and the sqlite dialect.
func ConfigureGoose(logger *zap.SugaredLogger) error {
	goose.SetBaseFS(Migrations)
	goose.SetLogger(gooseLogger{logger})
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	return nil
}

// Migrate applies all pending migrations to conn.
func Migrate(ctx context.Context, conn *sql.DB, logger *zap.SugaredLogger) error {
	if err := ConfigureGoose(logger); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, conn, MigrationsDir); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"github.com/lalithlochan/herald/migrations"
)

const migrationsTable = "schema_migrations"

// Migrate applies the embedded goose migrations over the pool.
func (db *DB) Migrate(ctx context.Context) error {
	// goose needs database/sql; the wrapper shares the pool's connections.
	sqlDB := stdlib.OpenDBFromPool(db.pool)
	defer func() {
		if err := sqlDB.Close(); err != nil {
			db.logger.Warn("failed to close migration connection", zap.Error(err))
		}
	}()

	goose.SetBaseFS(migrations.FS)
	goose.SetTableName(migrationsTable)
	goose.SetLogger(gooseLogger{sugar: db.logger.Sugar()})

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}

	if err := goose.UpContext(ctx, sqlDB, "."); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	version, err := goose.GetDBVersionContext(ctx, sqlDB)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	db.logger.Info("migrations complete", zap.Int64("version", version))
	return nil
}

// gooseLogger routes goose output through zap. Fatalf must not exit the process.
type gooseLogger struct {
	sugar *zap.SugaredLogger
}

func (l gooseLogger) Fatalf(format string, v ...any) { l.sugar.Errorf(format, v...) }
func (l gooseLogger) Printf(format string, v ...any) { l.sugar.Infof(format, v...) }

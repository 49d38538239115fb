package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Драйвер Postgres для goose
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

// Migrate применяет накопившиеся goose-миграции из каталога dir.
// Выполняется на старте capgate-демона до подключения пула: схема обязана
// быть актуальной раньше, чем первый резолв полезет в таблицу.
func Migrate(ctx context.Context, dsn, dir string, logger *zap.Logger) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("migrate: open: %w", err)
	}
	defer db.Close()

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("migrate: configure goose: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	logger.Info("applying migrations", zap.String("dir", dir))
	if err := goose.UpContext(runCtx, db, dir); err != nil {
		return fmt.Errorf("migrate: apply: %w", err)
	}
	logger.Info("migrations applied")
	return nil
}

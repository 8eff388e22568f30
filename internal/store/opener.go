package store

import (
	"context"
	"fmt"
	"log/slog"

	"coachdocs/internal/config"
	"coachdocs/internal/database"
	"coachdocs/internal/database/migration"
	"coachdocs/internal/repository/sqlstore"
)

// SQLOpener opens the configured database, upgrades its schema to
// migration.CurrentVersion and wraps it in the SQL engine. The schema upgrade
// path is reachable only from here.
func SQLOpener(cfg config.DatabaseConfig, logger *slog.Logger) Opener {
	dialect := migration.DialectSQLite
	if cfg.Driver == config.DriverPostgres {
		dialect = migration.DialectPostgres
	}
	return func(ctx context.Context) (*Conn, error) {
		db, err := database.Open(ctx, cfg)
		if err != nil {
			return nil, err
		}
		res, err := migration.Upgrade(ctx, db, dialect, migration.CurrentVersion, logger)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("schema upgrade: %w", err)
		}
		return &Conn{DB: db, Documents: sqlstore.NewDocumentSQL(db), Version: res.To}, nil
	}
}

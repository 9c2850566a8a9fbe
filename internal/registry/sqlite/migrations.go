package sqlite

import (
	"database/sql"
	"embed"
	"time"

	"github.com/pressly/goose/v3"

	"github.com/agentstation/assetsync/pkg/logging"
)

//go:embed migrations_sqlite/*.sql
var embedMigrations embed.FS

const migrationsDir = "migrations_sqlite"

func runMigrations(db *sql.DB) error {
	goose.SetBaseFS(embedMigrations)
	goose.SetTableName("db_version")
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}

	currentVersion, err := goose.GetDBVersion(db)
	if err != nil {
		currentVersion = 0
	}

	migrations, err := goose.CollectMigrations(migrationsDir, 0, goose.MaxVersion)
	if err != nil {
		return err
	}
	var targetVersion int64
	if len(migrations) > 0 {
		targetVersion = migrations[len(migrations)-1].Version
	}

	startTime := time.Now()
	if err := goose.Up(db, migrationsDir); err != nil {
		return err
	}

	if currentVersion < targetVersion {
		logging.Info().
			Int64("previous_version", currentVersion).
			Int64("current_version", targetVersion).
			Dur("duration", time.Since(startTime).Round(time.Millisecond)).
			Msg("Registry migrations completed")
	}
	return nil
}

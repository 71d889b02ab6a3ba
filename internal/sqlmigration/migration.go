package sqlmigration

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

type migration struct {
	ID         int    `db:"id"`
	Version    int    `db:"version"`
	Name       string `db:"name"`
	UpScript   string `db:"-"`
	DownScript string `db:"-"`
}

// Run applies every migration in fsys newer than the last applied one. Files
// follow the convention <version>.<name>.<up|down>.sql and every version needs
// both scripts. When a migration fails, the ones applied by this run are
// reverted.
func Run(ctx context.Context, db *sqlx.DB, fsys fs.FS, log *zap.Logger) error {
	migrations, err := load(fsys)
	if err != nil {
		return err
	}

	if len(migrations) == 0 {
		return nil
	}

	if err := ensureMigrationsSchema(ctx, db); err != nil {
		return err
	}

	var applied []migration
	if err := db.SelectContext(ctx, &applied, getAppliedMigrationsQuery()); err != nil {
		return err
	}

	lastAppliedVersion := 0
	if len(applied) > 0 {
		lastAppliedVersion = applied[0].Version
	}

	toApply := pending(migrations, lastAppliedVersion)
	if len(toApply) == 0 {
		log.Info("database schema is up to date", zap.Int("version", lastAppliedVersion))
		return nil
	}

	newlyApplied := []migration{}

	var migrationErr error
	for _, m := range toApply {
		if err := apply(ctx, db, m); err != nil {
			migrationErr = fmt.Errorf("migration %d.%s failed: %w", m.Version, m.Name, err)
			break
		}

		log.Info("migration applied", zap.Int("version", m.Version), zap.String("name", m.Name))
		newlyApplied = append(newlyApplied, m)
	}

	if migrationErr != nil {
		if err := revertState(ctx, db, newlyApplied); err != nil {
			return fmt.Errorf("%s: %w", err.Error(), migrationErr)
		}
		return migrationErr
	}

	return nil
}

func load(fsys fs.FS) (map[int]migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, err
	}

	migrations := make(map[int]migration)

	for _, entry := range entries {
		if entry.IsDir() || path.Ext(entry.Name()) != ".sql" {
			continue
		}

		parts := strings.Split(entry.Name(), ".")
		if len(parts) != 4 {
			continue
		}

		version, err := strconv.Atoi(parts[0])
		if err != nil {
			return nil, fmt.Errorf("invalid migration version in %s: %w", entry.Name(), err)
		}

		m := migrations[version]
		m.Version = version

		if m.Name != "" && m.Name != parts[1] {
			return nil, fmt.Errorf("version %d is used by both %s and %s", version, m.Name, parts[1])
		}
		m.Name = parts[1]

		content, err := fs.ReadFile(fsys, entry.Name())
		if err != nil {
			return nil, err
		}

		switch parts[2] {
		case "up":
			m.UpScript = string(content)
		case "down":
			m.DownScript = string(content)
		default:
			return nil, fmt.Errorf("unrecognized script type: %s", parts[2])
		}

		migrations[version] = m
	}

	if err := validateFoundMigrationFiles(migrations); err != nil {
		return nil, err
	}

	return migrations, nil
}

func pending(migrations map[int]migration, lastAppliedVersion int) []migration {
	var toApply []migration
	for version, m := range migrations {
		if version <= lastAppliedVersion {
			continue
		}
		toApply = append(toApply, m)
	}

	sort.Slice(toApply, func(i, j int) bool {
		return toApply[i].Version < toApply[j].Version
	})

	return toApply
}

func apply(ctx context.Context, db *sqlx.DB, m migration) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, m.UpScript); err != nil {
		return rollback(tx, err)
	}

	const stmt = `
		INSERT INTO
			schema_migration (version, name)
		VALUES
			($1, $2);`

	if _, err := tx.ExecContext(ctx, stmt, m.Version, m.Name); err != nil {
		return rollback(tx, err)
	}

	return tx.Commit()
}

func revertState(ctx context.Context, db *sqlx.DB, applied []migration) error {
	for i := len(applied) - 1; i >= 0; i-- {
		m := applied[i]

		tx, err := db.BeginTxx(ctx, nil)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, m.DownScript); err != nil {
			return rollback(tx, err)
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM schema_migration WHERE version = $1", m.Version); err != nil {
			return rollback(tx, err)
		}

		if err := tx.Commit(); err != nil {
			return err
		}
	}

	return nil
}

func rollback(tx *sqlx.Tx, cause error) error {
	if err := tx.Rollback(); err != nil {
		return fmt.Errorf("failed to roll back transaction: %s: %w", err.Error(), cause)
	}
	return cause
}

func validateFoundMigrationFiles(migrations map[int]migration) error {
	for _, m := range migrations {
		if m.DownScript == "" {
			return fmt.Errorf("failed to find 'down' script for %s", m.Name)
		}

		if m.UpScript == "" {
			return fmt.Errorf("failed to find 'up' script for %s", m.Name)
		}
	}
	return nil
}

func ensureMigrationsSchema(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS schema_migration (
			id serial PRIMARY KEY,
			name text NOT NULL,
			version integer NOT NULL
		)`,
	)
	return err
}

func getAppliedMigrationsQuery() string {
	const query = `
		SELECT
			id, version, name
		FROM
			schema_migration
		ORDER BY
			version DESC;`

	return query
}

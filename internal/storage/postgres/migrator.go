package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

//go:embed sql/migrations/*.sql
var migrationsFS embed.FS

const (
	migrationsDir = "sql/migrations"

	// schemaLockKey сериализует параллельный запуск миграций из нескольких реплик.
	schemaLockKey = int64(72044913)

	schemaVersionsDDL = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version BIGINT PRIMARY KEY,
    name TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
)

var migrationName = regexp.MustCompile(`^(\d+)_([a-zA-Z0-9_]+)\.(up|down)\.sql$`)

type direction string

const (
	directionUp   direction = "up"
	directionDown direction = "down"
)

// schemaStep — пара up/down скриптов одной версии схемы.
type schemaStep struct {
	Version int64
	Name    string
	Up      string
	Down    string
}

func (s schemaStep) script(dir direction) string {
	if dir == directionDown {
		return s.Down
	}
	return s.Up
}

// MigrateUp применяет ещё не применённые миграции по возрастанию версии.
// steps=0 применяет все.
func (s *Store) MigrateUp(ctx context.Context, steps int) error {
	return s.migrate(ctx, directionUp, steps)
}

// MigrateDown откатывает последние применённые миграции. steps<=0 означает один шаг.
func (s *Store) MigrateDown(ctx context.Context, steps int) error {
	if steps <= 0 {
		steps = 1
	}
	return s.migrate(ctx, directionDown, steps)
}

// MigrationStatus возвращает последнюю применённую версию и число применённых миграций.
func (s *Store) MigrationStatus(ctx context.Context) (int64, int, error) {
	if s == nil || s.db == nil {
		return 0, 0, errNotInitialized
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, schemaVersionsDDL); err != nil {
		return 0, 0, fmt.Errorf("ensure schema_migrations: %w", err)
	}

	var (
		version int64
		count   int
	)
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0), COUNT(*) FROM schema_migrations`).
		Scan(&version, &count)
	if err != nil {
		return 0, 0, fmt.Errorf("read migration status: %w", err)
	}
	return version, count, nil
}

func (s *Store) migrate(ctx context.Context, dir direction, steps int) error {
	if s == nil || s.db == nil {
		return errNotInitialized
	}
	if dir != directionUp && dir != directionDown {
		return fmt.Errorf("unknown migration direction %q", dir)
	}

	all, err := readSchemaSteps(migrationsFS)
	if err != nil {
		return err
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Close()

	lockCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if _, err := conn.ExecContext(lockCtx, `SELECT pg_advisory_lock($1)`, schemaLockKey); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.WithoutCancel(ctx), `SELECT pg_advisory_unlock($1)`, schemaLockKey)
	}()

	if _, err := conn.ExecContext(ctx, schemaVersionsDDL); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}

	applied, err := appliedVersions(ctx, conn)
	if err != nil {
		return err
	}

	plan, err := planSteps(all, applied, dir, steps)
	if err != nil {
		return err
	}
	for _, step := range plan {
		if err := runStep(ctx, conn, step, dir); err != nil {
			return err
		}
	}
	return nil
}

// planSteps выбирает миграции для выполнения: для up непримененные по возрастанию,
// для down применённые по убыванию.
func planSteps(all []schemaStep, applied map[int64]bool, dir direction, limit int) ([]schemaStep, error) {
	plan := make([]schemaStep, 0, len(all))

	if dir == directionUp {
		for _, step := range all {
			if !applied[step.Version] {
				plan = append(plan, step)
			}
		}
	} else {
		known := make(map[int64]schemaStep, len(all))
		for _, step := range all {
			known[step.Version] = step
		}
		versions := make([]int64, 0, len(applied))
		for v := range applied {
			versions = append(versions, v)
		}
		sort.Slice(versions, func(i, j int) bool { return versions[i] > versions[j] })
		for _, v := range versions {
			step, ok := known[v]
			if !ok {
				return nil, fmt.Errorf("applied migration %d has no source files", v)
			}
			plan = append(plan, step)
		}
	}

	if limit > 0 && len(plan) > limit {
		plan = plan[:limit]
	}
	return plan, nil
}

func runStep(ctx context.Context, conn *sql.Conn, step schemaStep, dir direction) (err error) {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration %d (%s): %w", step.Version, dir, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, step.script(dir)); err != nil {
		return fmt.Errorf("run migration %d_%s (%s): %w", step.Version, step.Name, dir, err)
	}

	if dir == directionUp {
		_, err = tx.ExecContext(ctx, `INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, step.Version, step.Name)
	} else {
		_, err = tx.ExecContext(ctx, `DELETE FROM schema_migrations WHERE version = $1`, step.Version)
	}
	if err != nil {
		return fmt.Errorf("record migration %d_%s (%s): %w", step.Version, step.Name, dir, err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %d_%s (%s): %w", step.Version, step.Name, dir, err)
	}
	return nil
}

func appliedVersions(ctx context.Context, conn *sql.Conn) (map[int64]bool, error) {
	rows, err := conn.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int64]bool)
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan applied migration: %w", err)
		}
		applied[v] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applied migrations: %w", err)
	}
	return applied, nil
}

// readSchemaSteps читает пары NNNN_name.up.sql / NNNN_name.down.sql.
func readSchemaSteps(fsys fs.FS) ([]schemaStep, error) {
	entries, err := fs.ReadDir(fsys, migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	byVersion := make(map[int64]*schemaStep)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		file := entry.Name()
		m := migrationName.FindStringSubmatch(file)
		if m == nil {
			return nil, fmt.Errorf("unexpected file in migrations dir: %s", file)
		}
		version, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse version of %s: %w", file, err)
		}

		raw, err := fs.ReadFile(fsys, path.Join(migrationsDir, file))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", file, err)
		}
		body := strings.TrimSpace(string(raw))
		if body == "" {
			return nil, fmt.Errorf("empty migration %s", file)
		}

		step, ok := byVersion[version]
		if !ok {
			step = &schemaStep{Version: version, Name: m[2]}
			byVersion[version] = step
		}
		if step.Name != m[2] {
			return nil, fmt.Errorf("version %d has conflicting names %q and %q", version, step.Name, m[2])
		}

		target := &step.Up
		if direction(m[3]) == directionDown {
			target = &step.Down
		}
		if *target != "" {
			return nil, fmt.Errorf("duplicate %s script for version %d", m[3], version)
		}
		*target = body
	}

	if len(byVersion) == 0 {
		return nil, errors.New("no migrations found")
	}

	steps := make([]schemaStep, 0, len(byVersion))
	for _, step := range byVersion {
		if step.Up == "" || step.Down == "" {
			return nil, fmt.Errorf("migration %d_%s needs both up and down scripts", step.Version, step.Name)
		}
		steps = append(steps, *step)
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].Version < steps[j].Version })
	return steps, nil
}

package database

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migration is one versioned schema step, loaded from NNN_name.sql
type Migration struct {
	Version int
	Name    string
	SQL     string
}

type migrator struct {
	db  *sql.DB
	src fs.FS
	log *zap.SugaredLogger
}

func newMigrator(db *sql.DB, src fs.FS, log *zap.SugaredLogger) *migrator {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &migrator{db: db, src: src, log: log}
}

// migrate brings the schema up to the newest migration in src. A database
// that already holds tables is snapshotted next to dbPath first.
func (m *migrator) migrate(dbPath string) error {
	if _, err := m.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at INTEGER NOT NULL
	)`); err != nil {
		return fmt.Errorf("failed to initialize migrations table: %w", err)
	}

	version, err := m.version()
	if err != nil {
		return fmt.Errorf("failed to get current version: %w", err)
	}

	all, err := m.load()
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	pending := slices.DeleteFunc(all, func(mg Migration) bool { return mg.Version <= version })
	if len(pending) == 0 {
		m.log.Debugw("database is up to date", "version", version)
		return nil
	}

	populated, err := m.populated()
	if err != nil {
		return fmt.Errorf("failed to inspect schema: %w", err)
	}
	if populated {
		if err := m.snapshot(dbPath, version); err != nil {
			return fmt.Errorf("failed to backup database: %w", err)
		}
	}

	m.log.Infow("running migrations", "pending", len(pending), "from", version, "to", pending[len(pending)-1].Version)
	for _, mg := range pending {
		if err := m.apply(mg); err != nil {
			return fmt.Errorf("failed to apply migration %d (%s): %w", mg.Version, mg.Name, err)
		}
		m.log.Infow("applied migration", "version", mg.Version, "name", mg.Name)
	}
	return nil
}

func (m *migrator) version() (int, error) {
	var v int
	err := m.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&v)
	return v, err
}

func (m *migrator) populated() (bool, error) {
	var n int
	err := m.db.QueryRow(`SELECT COUNT(*) FROM sqlite_master
		WHERE type = 'table' AND name NOT IN ('schema_migrations', 'sqlite_sequence')`).Scan(&n)
	return n > 0, err
}

// load returns the migrations in src sorted by version. Files without a
// numeric prefix are skipped; two files with the same version are an error.
func (m *migrator) load() ([]Migration, error) {
	names, err := fs.Glob(m.src, "migrations/*.sql")
	if err != nil {
		return nil, err
	}

	var out []Migration
	for _, name := range names {
		prefix, rest, ok := strings.Cut(path.Base(name), "_")
		if !ok {
			continue
		}
		version, err := strconv.Atoi(prefix)
		if err != nil {
			continue
		}
		body, err := fs.ReadFile(m.src, name)
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %s: %w", name, err)
		}
		out = append(out, Migration{
			Version: version,
			Name:    strings.TrimSuffix(rest, ".sql"),
			SQL:     string(body),
		})
	}

	slices.SortFunc(out, func(a, b Migration) int { return a.Version - b.Version })
	for i := 1; i < len(out); i++ {
		if out[i].Version == out[i-1].Version {
			return nil, fmt.Errorf("duplicate migration version %d", out[i].Version)
		}
	}
	return out, nil
}

// snapshot writes a consistent copy of the live database with VACUUM INTO,
// which also captures pages still sitting in the WAL.
func (m *migrator) snapshot(dbPath string, version int) error {
	target := fmt.Sprintf("%s.backup-v%d-%s", dbPath, version, time.Now().Format("20060102-150405"))
	if _, err := m.db.Exec("VACUUM INTO ?", target); err != nil {
		return err
	}
	m.log.Infow("created database backup", "file", path.Base(target))
	return nil
}

func (m *migrator) apply(mg Migration) error {
	tx, err := m.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(mg.SQL); err != nil {
		return fmt.Errorf("migration SQL failed: %w", err)
	}
	if _, err := tx.Exec(
		"INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)",
		mg.Version, mg.Name, time.Now().UnixMilli(),
	); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}
	return tx.Commit()
}

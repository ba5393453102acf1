package store

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migration is one versioned schema change
type Migration struct {
	Version     string
	Description string
	SQL         string
}

// Tables and indexes the SQLite store depends on
var (
	requiredTables  = []string{"offline_queue", "history"}
	requiredIndexes = []string{"idx_offline_queue_identity", "idx_history_conversation"}
)

// MigrationManager applies the embedded migrations to a SQLite database
// ARCHITECTURAL DISCOVERY: Each migration runs in its own transaction together
// with its schema_migrations row, so a failed step leaves no partial version.
type MigrationManager struct {
	db    *sql.DB
	files fs.FS
}

// NewMigrationManager creates a migration manager over the embedded migrations
func NewMigrationManager(db *sql.DB) *MigrationManager {
	return &MigrationManager{db: db, files: migrationFiles}
}

// ApplyMigrations applies all pending migrations in version order
func (m *MigrationManager) ApplyMigrations() error {
	if _, err := m.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    TEXT PRIMARY KEY,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`); err != nil {
		return fmt.Errorf("failed to create migration table: %w", err)
	}

	migrations, err := m.LoadMigrations()
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	applied, err := m.AppliedVersions()
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	for _, migration := range migrations {
		if applied[migration.Version] {
			continue
		}
		if err := m.apply(migration); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", migration.Version, err)
		}
	}
	return nil
}

// LoadMigrations reads the embedded files, e.g. "001_initial_schema.sql" is version "001"
func (m *MigrationManager) LoadMigrations() ([]Migration, error) {
	names, err := fs.Glob(m.files, "migrations/*.sql")
	if err != nil {
		return nil, err
	}

	migrations := make([]Migration, 0, len(names))
	for _, name := range names {
		content, err := fs.ReadFile(m.files, name)
		if err != nil {
			return nil, err
		}

		base := strings.TrimSuffix(path.Base(name), ".sql")
		version, description, _ := strings.Cut(base, "_")
		migrations = append(migrations, Migration{
			Version:     version,
			Description: description,
			SQL:         string(content),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// AppliedVersions returns the set of versions recorded in schema_migrations
func (m *MigrationManager) AppliedVersions() (map[string]bool, error) {
	rows, err := m.db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	versions := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		versions[version] = true
	}
	return versions, rows.Err()
}

func (m *MigrationManager) apply(migration Migration) error {
	tx, err := m.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(migration.SQL); err != nil {
		return err
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", migration.Version); err != nil {
		return err
	}
	return tx.Commit()
}

// ValidateSchema checks that every table and index the store queries exists
func (m *MigrationManager) ValidateSchema() error {
	for _, table := range requiredTables {
		if err := m.requireObject("table", table); err != nil {
			return err
		}
	}
	for _, index := range requiredIndexes {
		if err := m.requireObject("index", index); err != nil {
			return err
		}
	}
	return nil
}

func (m *MigrationManager) requireObject(kind, name string) error {
	var count int
	err := m.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type = ? AND name = ?",
		kind, name,
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("failed to check %s %s: %w", kind, name, err)
	}
	if count == 0 {
		return fmt.Errorf("required %s %s does not exist", kind, name)
	}
	return nil
}

package store

import (
	"database/sql"
	"fmt"
	"io"
	"os"
	"time"

	"claudeindex/internal/logging"
)

// schemaVersion tracks the entries table's shape across process upgrades.
// Bumped whenever initialize() changes the table's columns or indexes.
const schemaVersion = 1

// RunMigrations brings a freshly-opened database's schema up to
// schemaVersion. It is idempotent: a database already at the current
// version is left untouched.
func RunMigrations(db *sql.DB) error {
	if err := ensureSchemaVersionTable(db); err != nil {
		return fmt.Errorf("ensure schema_version table: %w", err)
	}

	current, err := getSchemaVersion(db)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	if current >= schemaVersion {
		return nil
	}

	logging.Store("running migrations: schema %d -> %d", current, schemaVersion)

	if current < 1 {
		if err := migrateToV1(db); err != nil {
			return fmt.Errorf("migrate to v1: %w", err)
		}
	}

	return setSchemaVersion(db, schemaVersion)
}

// migrateToV1 is a no-op beyond recording the version: v1's shape is exactly
// what initialize() already creates. Kept as an explicit step so later
// schema changes (e.g. an added index) have a clear place to land rather
// than being folded silently into initialize().
func migrateToV1(db *sql.DB) error {
	return nil
}

func ensureSchemaVersionTable(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		version INTEGER NOT NULL
	)`)
	return err
}

func getSchemaVersion(db *sql.DB) (int, error) {
	var v int
	err := db.QueryRow("SELECT version FROM schema_version WHERE id = 1").Scan(&v)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return v, nil
}

func setSchemaVersion(db *sql.DB, v int) error {
	_, err := db.Exec(
		"INSERT INTO schema_version (id, version) VALUES (1, ?) ON CONFLICT(id) DO UPDATE SET version=excluded.version",
		v,
	)
	return err
}

// tableExists reports whether a table is present in the database, used by
// callers that need to branch on an older schema before migrations run.
func tableExists(db *sql.DB, name string) bool {
	var n int
	err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name).Scan(&n)
	return err == nil && n > 0
}

// columnExists reports whether a column is present on a table.
func columnExists(db *sql.DB, table, column string) bool {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid        int
			name       string
			ctype      string
			notnull    int
			dfltValue  sql.NullString
			primaryKey int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &primaryKey); err != nil {
			continue
		}
		if name == column {
			return true
		}
	}
	return false
}

// CreateBackup copies the database file (and its WAL/SHM siblings, if
// present) to a timestamped sibling path before a destructive operation
// (delete_where's recovery-operation contract, spec.md §4.2). Returns the
// backup's path.
func CreateBackup(dbPath string) (string, error) {
	if dbPath == "" || dbPath == ":memory:" {
		return "", fmt.Errorf("create_backup: no on-disk database to back up")
	}

	backupPath := fmt.Sprintf("%s.backup-%d", dbPath, time.Now().UnixNano())
	if err := copyFile(dbPath, backupPath); err != nil {
		return "", fmt.Errorf("copy database: %w", err)
	}

	for _, suffix := range []string{"-wal", "-shm"} {
		src := dbPath + suffix
		if _, err := os.Stat(src); err == nil {
			_ = copyFile(src, backupPath+suffix)
		}
	}

	logging.Store("created backup at %s", backupPath)
	return backupPath, nil
}

// RestoreBackup overwrites dbPath with a previously-created backup. Callers
// must close any open *sql.DB against dbPath first.
func RestoreBackup(backupPath, dbPath string) error {
	if err := copyFile(backupPath, dbPath); err != nil {
		return fmt.Errorf("restore database: %w", err)
	}
	for _, suffix := range []string{"-wal", "-shm"} {
		src := backupPath + suffix
		if _, err := os.Stat(src); err == nil {
			_ = copyFile(src, dbPath+suffix)
		}
	}
	logging.Store("restored backup from %s", backupPath)
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}

package store

import (
	"bytes"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"text/template"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
)

// Supported driver names.
const (
	DriverSQLite3 = "sqlite3"
	DriverMySQL   = "mysql"
)

// Schema version tracking:
// 1 - documents, document_fields, meta
// 2 - index on documents(collection, seq) for collection scans
const currentSchemaVersion = 2

// ErrNotFound is returned when a document does not exist.
var ErrNotFound = errors.New("not found")

// Store is a document store over database/sql.
type Store struct {
	db     *sql.DB
	driver string
	ids    IDGenerator
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithIDGenerator replaces the default UUIDv7 ID generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(s *Store) { s.ids = g }
}

// WithLogger sets the store's logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Open connects to a database and brings its schema up to date.
// driver is DriverSQLite3 or DriverMySQL; dsn is passed to sql.Open.
func Open(driver, dsn string, opts ...Option) (*Store, error) {
	if driver != DriverSQLite3 && driver != DriverMySQL {
		return nil, fmt.Errorf("open store: unsupported driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to store: %w", err)
	}

	if driver == DriverSQLite3 {
		// SQLite only supports one writer at a time.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		if err := applyPragmas(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply pragmas: %w", err)
		}
	}

	s := &Store{db: db, driver: driver, ids: UUIDv7Generator{}, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	if err := s.applySchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return s, nil
}

// OpenSQLite opens (creating if needed) the SQLite database at path.
func OpenSQLite(path string, opts ...Option) (*Store, error) {
	return Open(DriverSQLite3, path, opts...)
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Driver returns the driver name the store was opened with.
func (s *Store) Driver() string {
	return s.driver
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

// schemaTmpl is evaluated with . as a map holding one entry whose key is
// the driver name.
var schemaTmpl = template.Must(template.New("schema").Parse(`
CREATE TABLE IF NOT EXISTS meta (
	name VARCHAR(64) NOT NULL PRIMARY KEY,
	value VARCHAR(255) NOT NULL
);
CREATE TABLE IF NOT EXISTS documents (
	seq {{if .sqlite3}}INTEGER PRIMARY KEY AUTOINCREMENT{{else}}BIGINT NOT NULL PRIMARY KEY AUTO_INCREMENT{{end}},
	id VARCHAR(64) NOT NULL,
	collection VARCHAR(64) NOT NULL,
	body {{if .sqlite3}}TEXT{{else}}LONGTEXT{{end}} NOT NULL,
	unique_key CHAR(64) NULL,
	UNIQUE (collection, id),
	UNIQUE (collection, unique_key)
);
CREATE TABLE IF NOT EXISTS document_fields (
	doc_seq BIGINT NOT NULL,
	name VARCHAR(128) NOT NULL,
	value {{if .sqlite3}}TEXT{{else}}VARCHAR(1024){{end}} NOT NULL,
	num_value DOUBLE NULL,
	PRIMARY KEY (doc_seq, name),
{{if not .sqlite3}}
	INDEX (name, value(191)),
{{end}}
	FOREIGN KEY (doc_seq) REFERENCES documents(seq) ON DELETE CASCADE
);
{{if .sqlite3}}
CREATE INDEX IF NOT EXISTS document_fields_name_value ON document_fields(name, value);
{{end}}
`))

// applySchema creates missing tables and runs migrations.
func (s *Store) applySchema() error {
	var buf bytes.Buffer
	if err := schemaTmpl.Execute(&buf, map[string]bool{s.driver: true}); err != nil {
		return err
	}
	for _, q := range strings.Split(buf.String(), ";") {
		if strings.TrimSpace(q) == "" {
			continue
		}
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	return s.runMigrations()
}

// runMigrations applies incremental migrations based on the version
// recorded in meta.
func (s *Store) runMigrations() error {
	version, err := s.schemaVersion()
	if err != nil {
		return err
	}
	if version < 2 {
		if err := s.migrateToV2(); err != nil {
			return err
		}
	}
	if version != currentSchemaVersion {
		return s.setSchemaVersion(currentSchemaVersion)
	}
	return nil
}

func (s *Store) schemaVersion() (int, error) {
	var v string
	err := s.db.QueryRow("SELECT value FROM meta WHERE name = 'schema_version'").Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get schema version: %w", err)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("get schema version: %w", err)
	}
	return n, nil
}

func (s *Store) setSchemaVersion(v int) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("set schema version: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.Exec("DELETE FROM meta WHERE name = 'schema_version'"); err != nil {
		return fmt.Errorf("set schema version: %w", err)
	}
	if _, err := tx.Exec("INSERT INTO meta (name, value) VALUES ('schema_version', ?)", strconv.Itoa(v)); err != nil {
		return fmt.Errorf("set schema version: %w", err)
	}
	return tx.Commit()
}

// migrateToV2 adds the collection scan index. MySQL has no IF NOT EXISTS
// for indexes, which is fine since the version gate runs it once.
func (s *Store) migrateToV2() error {
	q := "CREATE INDEX documents_collection_seq ON documents(collection, seq)"
	if s.driver == DriverSQLite3 {
		q = "CREATE INDEX IF NOT EXISTS documents_collection_seq ON documents(collection, seq)"
	}
	if _, err := s.db.Exec(q); err != nil {
		return fmt.Errorf("migrate to v2: %w", err)
	}
	return nil
}

// insertIgnore returns the INSERT statement that skips rows violating a
// unique constraint.
func (s *Store) insertIgnore(table, columns, placeholders string) string {
	if s.driver == DriverMySQL {
		return fmt.Sprintf("INSERT IGNORE INTO %s (%s) VALUES (%s)", table, columns, placeholders)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT DO NOTHING", table, columns, placeholders)
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	if err := s.db.QueryRow(fmt.Sprintf("PRAGMA %s", name)).Scan(&value); err != nil {
		return fmt.Errorf("query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}

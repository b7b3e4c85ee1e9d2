package storage

import (
	"context"
	"database/sql"
	"embed"
	"os"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	// Registers the "sqlite" driver.
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// SQLiteConfig configures the local store.
type SQLiteConfig struct {
	// Path is the database file.
	Path string `json:"path" yaml:"path"`
	// ArtifactDir receives a copy of every uploaded artifact.
	ArtifactDir string `json:"artifact_dir" yaml:"artifact_dir"`
}

// StoredRecord is a record read back from the local store.
type StoredRecord struct {
	ID        string
	CreatedAt string
	Record
}

// SQLite keeps records in a local database and artifacts in a directory.
type SQLite struct {
	db     *sql.DB
	dir    string
	logger *zap.SugaredLogger
}

// NewSQLite opens the database, applies pending migrations and prepares the artifact directory.
func NewSQLite(cfg SQLiteConfig, logger *zap.SugaredLogger) (*SQLite, error) {
	if cfg.Path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if cfg.ArtifactDir == "" {
		cfg.ArtifactDir = filepath.Join(filepath.Dir(cfg.Path), "artifacts")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, errors.Wrap(err, "create database directory")
	}
	if err := os.MkdirAll(cfg.ArtifactDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create artifact directory")
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", cfg.Path)
	}
	// Single writer.
	db.SetMaxOpenConns(1)

	s := &SQLite{db: db, dir: cfg.ArtifactDir, logger: logger}
	if err := s.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) migrateUp() error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return errors.Wrap(err, "load migrations")
	}
	driver, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	if err != nil {
		return errors.Wrap(err, "create sqlite migration driver")
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return errors.Wrap(err, "create migrate instance")
	}
	m.Log = &migrateLogger{logger: s.logger}

	// m is not closed: closing it would close s.db.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return errors.Wrap(err, "migration up failed")
	}
	return nil
}

// UploadArtifact writes data into the artifact directory and returns its path.
func (s *SQLite) UploadArtifact(_ context.Context, name string, data []byte) (string, error) {
	if name == "" || name != filepath.Base(name) {
		return "", errors.Wrapf(ErrArtifactUpload, "invalid artifact name %q", name)
	}
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", errors.Wrapf(ErrArtifactUpload, "%v", err)
	}
	return path, nil
}

// InsertRecord implements Store.
func (s *SQLite) InsertRecord(ctx context.Context, record Record) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO registro (id, imagem, fases_detectadas, angulo_definido) VALUES (?, ?, ?, ?)`,
		uuid.NewString(), record.Image, record.Phases, record.Angle)
	if err != nil {
		return errors.Wrapf(ErrRecordInsert, "%v", err)
	}
	return nil
}

// Recent returns up to limit records, newest first.
func (s *SQLite) Recent(ctx context.Context, limit int) ([]StoredRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, created_at, imagem, fases_detectadas, angulo_definido
		 FROM registro ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query records")
	}
	defer rows.Close()

	var out []StoredRecord
	for rows.Next() {
		var r StoredRecord
		if err := rows.Scan(&r.ID, &r.CreatedAt, &r.Image, &r.Phases, &r.Angle); err != nil {
			return nil, errors.Wrap(err, "scan record")
		}
		out = append(out, r)
	}
	return out, errors.Wrap(rows.Err(), "iterate records")
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

type migrateLogger struct {
	logger *zap.SugaredLogger
}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	l.logger.Debugf("migrate: "+format, v...)
}

func (l *migrateLogger) Verbose() bool {
	return false
}

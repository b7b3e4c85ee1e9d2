// Package storage persists capture artifacts and detection records.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var (
	// ErrArtifactUpload is returned when an artifact could not be stored or addressed.
	ErrArtifactUpload = errors.New("artifact upload failed")
	// ErrRecordInsert is returned when a detection record could not be written.
	ErrRecordInsert = errors.New("record insert failed")
)

// ArtifactLayout is the timestamp layout used for artifact names.
const ArtifactLayout = "2006-01-02_15-04-05"

// Record is one persisted detection result. Field tags follow the remote table columns.
type Record struct {
	// Image is the public reference returned by the artifact upload.
	Image string `json:"imagem"`
	// Phases is the textual list of detected labels, e.g. "[fase_1 fase_2]".
	Phases string `json:"fases_detectadas"`
	// Angle is the chosen actuator angle, e.g. "30 graus".
	Angle string `json:"angulo_definido"`
}

// NewRecord builds a record from an uploaded artifact reference and a decision.
func NewRecord(reference string, labels []string, command int) Record {
	return Record{
		Image:  reference,
		Phases: fmt.Sprintf("%v", labels),
		Angle:  fmt.Sprintf("%d graus", command),
	}
}

// ArtifactName returns the object name for an artifact captured at t.
func ArtifactName(t time.Time) string {
	return t.Format(ArtifactLayout) + ".jpg"
}

// Store is a persistence sink.
type Store interface {
	// UploadArtifact stores data under name and returns a reference to it.
	UploadArtifact(ctx context.Context, name string, data []byte) (string, error)
	// InsertRecord writes a detection record.
	InsertRecord(ctx context.Context, record Record) error
	Close() error
}

// Backend names a Store implementation.
type Backend string

// Store backends.
const (
	BackendSupabase Backend = "supabase"
	BackendSQLite   Backend = "sqlite"
	BackendNone     Backend = "none"
)

// Backends lists the known store backends.
var Backends = []Backend{BackendSupabase, BackendSQLite, BackendNone}

// Valid reports whether b is a known backend.
func (b Backend) Valid() bool {
	for _, known := range Backends {
		if b == known {
			return true
		}
	}
	return false
}

// Config selects and configures a Store.
type Config struct {
	Backend  Backend        `json:"backend" yaml:"backend"`
	Bucket   string         `json:"bucket" yaml:"bucket"`
	Table    string         `json:"table" yaml:"table"`
	Supabase SupabaseConfig `json:"supabase" yaml:"supabase"`
	SQLite   SQLiteConfig   `json:"sqlite" yaml:"sqlite"`
}

// Open builds the Store named by cfg.Backend.
func Open(cfg Config, logger *zap.SugaredLogger) (Store, error) {
	switch cfg.Backend {
	case BackendSupabase:
		sc := cfg.Supabase
		sc.Bucket, sc.Table = cfg.Bucket, cfg.Table
		return NewSupabase(sc, logger)
	case BackendSQLite:
		return NewSQLite(cfg.SQLite, logger)
	case BackendNone, "":
		return None{}, nil
	default:
		return nil, errors.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// Package journal - the append-only cycle log.
//
// Each entry is one line:
//
//	[2006-01-02 15:04:05] - STATUS - detail
//
// The file is opened, appended and closed for every entry.
package journal

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Status tags an entry as a success or a failure.
type Status string

const (
	// StatusSuccess marks a completed cycle.
	StatusSuccess Status = "SUCESSO"
	// StatusFailure marks a failed stage or an empty detection.
	StatusFailure Status = "FALHA"
)

// TimeLayout is the timestamp layout of an entry.
const TimeLayout = "2006-01-02 15:04:05"

// Entry is one journal line.
type Entry struct {
	Time   time.Time
	Status Status
	Detail string
}

// String formats the entry without the trailing newline.
func (e Entry) String() string {
	// Newlines would split an entry across lines.
	detail := strings.ReplaceAll(e.Detail, "\n", " ")
	return fmt.Sprintf("[%s] - %s - %s", e.Time.Format(TimeLayout), e.Status, detail)
}

// Sink receives journal entries.
type Sink interface {
	Append(status Status, detail string)
}

// Journal appends entries to a file and mirrors them on the console logger.
type Journal struct {
	mu     sync.Mutex
	path   string
	clock  clock.Clock
	logger *zap.SugaredLogger
}

// New creates a journal writing to path.
//
// Arguments:
//   - path: The log file. Parent directories are created on first write.
//   - c: The clock used to timestamp entries. Nil uses local wall time.
//   - logger: The console mirror.
//
// Returns:
//   - *Journal: The journal.
func New(path string, c clock.Clock, logger *zap.SugaredLogger) *Journal {
	if c == nil {
		c = clock.New()
	}
	return &Journal{path: path, clock: c, logger: logger}
}

// Path returns the log file path.
func (j *Journal) Path() string {
	return j.path
}

// Append records an entry.
//
// Write failures are reported on the console logger and otherwise ignored.
//
// Arguments:
//   - status: The entry status.
//   - detail: Free text.
func (j *Journal) Append(status Status, detail string) {
	e := Entry{Time: j.clock.Now(), Status: status, Detail: detail}

	if status == StatusFailure {
		j.logger.Warnw(detail, "status", status)
	} else {
		j.logger.Infow(detail, "status", status)
	}

	if err := j.write(e); err != nil {
		j.logger.Errorw("journal write failed", "path", j.path, "error", err)
	}
}

func (j *Journal) write(e Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(j.path), 0o755); err != nil {
		return errors.Wrap(err, "create log directory")
	}

	f, err := os.OpenFile(j.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrap(err, "open log")
	}
	if _, err := f.WriteString(e.String() + "\n"); err != nil {
		f.Close()
		return errors.Wrap(err, "append log")
	}
	return errors.Wrap(f.Close(), "close log")
}

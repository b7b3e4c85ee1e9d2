package capture

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
)

// DirectorySource replays image files from a directory, one per Fetch, in
// name order, wrapping around at the end.
type DirectorySource struct {
	mu    sync.Mutex
	files []string
	next  int
	clock clock.Clock
}

// NewDirectorySource lists the images in dir.
//
// Arguments:
//   - dir: Directory path containing .jpg, .jpeg or .png files.
//   - c: The clock used to timestamp frames. Nil uses the wall clock.
//
// Returns:
//   - *DirectorySource: The source.
//   - error: An error if the directory cannot be read or holds no images.
func NewDirectorySource(dir string, c clock.Clock) (*DirectorySource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", dir)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jpg", ".jpeg", ".png":
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	if len(files) == 0 {
		return nil, errors.Errorf("no images in %s", dir)
	}
	sort.Strings(files)

	if c == nil {
		c = clock.New()
	}
	return &DirectorySource{files: files, clock: c}, nil
}

// Len returns the number of images being replayed.
func (s *DirectorySource) Len() int {
	return len(s.files)
}

// Fetch reads and decodes the next image.
//
// Returns:
//   - *Frame: The decoded frame.
//   - error: ErrTransport if the file cannot be read, ErrDecode if it is not an image.
func (s *DirectorySource) Fetch(ctx context.Context) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrapf(ErrTransport, "%v", err)
	}

	s.mu.Lock()
	path := s.files[s.next]
	s.next = (s.next + 1) % len(s.files)
	s.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(ErrTransport, "read %s: %v", path, err)
	}

	return decodeFrame(data, path, s.clock.Now())
}

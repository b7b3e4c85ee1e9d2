// Package capture - acquires single frames from the camera.
package capture

import (
	"context"
	"image"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-phase/images"
)

// Capture failure kinds. Every error returned by a Source wraps exactly one of them.
var (
	// ErrTransport covers connection failures, timeouts and unreadable bodies.
	ErrTransport = errors.New("camera transport failed")
	// ErrStatus is returned for a non-2xx camera response.
	ErrStatus = errors.New("camera returned an error status")
	// ErrDecode is returned when the payload is not a decodable image.
	ErrDecode = errors.New("camera payload is not an image")
)

// Frame is one captured image.
type Frame struct {
	// Data is the encoded payload as received.
	Data []byte
	// Image is the decoded payload.
	Image image.Image
	// Meta describes the payload format and dimensions.
	Meta *images.Image
	// CapturedAt is the time the payload was received.
	CapturedAt time.Time
	// Origin identifies where the frame came from (URL or file path).
	Origin string
}

// Source produces frames on demand.
type Source interface {
	// Fetch acquires one frame. It never retries.
	Fetch(ctx context.Context) (*Frame, error)
}

// decodeFrame validates a payload and builds a Frame.
func decodeFrame(data []byte, origin string, at time.Time) (*Frame, error) {
	img, meta, err := images.Decode(data)
	if err != nil {
		return nil, errors.Wrapf(ErrDecode, "%s: %v", origin, err)
	}
	return &Frame{Data: data, Image: img, Meta: meta, CapturedAt: at, Origin: origin}, nil
}

// Save writes the frame payload to path, replacing any previous file.
//
// The file is written to a temporary sibling and renamed into place, so a
// reader never observes a partial frame. Missing directories are created.
//
// Arguments:
//   - frame: The frame to store.
//   - path: The destination file.
//
// Returns:
//   - error: An error if the file cannot be written.
func Save(frame *Frame, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "create %s", dir)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return errors.Wrap(err, "create temp frame")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(frame.Data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "write frame")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close frame")
	}
	return errors.Wrap(os.Rename(tmp.Name(), path), "replace frame")
}

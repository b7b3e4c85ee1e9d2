//go:build !gocv

package opencv

import (
	"context"

	"go.uber.org/zap"

	"github.com/nvr-ai/go-phase/inference"
)

// Available reports whether the OpenCV backend is compiled in.
const Available = false

// Backend is a placeholder that cannot be constructed without the gocv tag.
type Backend struct{}

// New always fails with ErrUnavailable.
func New(_ Config, _ *zap.SugaredLogger) (*Backend, error) {
	return nil, ErrUnavailable
}

// Run always fails with ErrUnavailable.
func (b *Backend) Run(context.Context, inference.Tensor) ([]inference.Tensor, error) {
	return nil, ErrUnavailable
}

// Close is a no-op.
func (b *Backend) Close() error {
	return nil
}

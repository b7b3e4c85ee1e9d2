//go:build gocv

package opencv

import (
	"context"
	"os"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/go-phase/inference"
)

// Available reports whether the OpenCV backend is compiled in.
const Available = true

// Backend runs an ONNX model with the OpenCV DNN module.
type Backend struct {
	mu     sync.Mutex
	net    gocv.Net
	output string
	closed bool
	logger *zap.SugaredLogger
}

// New loads the model with gocv.ReadNet.
//
// Arguments:
//   - cfg: The backend configuration.
//   - logger: The logger for lifecycle messages.
//
// Returns:
//   - *Backend: The backend. Call Close to release the network.
//   - error: An error if the model is missing or cannot be parsed.
func New(cfg Config, logger *zap.SugaredLogger) (*Backend, error) {
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, errors.Wrapf(err, "model %s", cfg.ModelPath)
	}

	net := gocv.ReadNet(cfg.ModelPath, "")
	if net.Empty() {
		return nil, errors.Errorf("failed to load ONNX model: %s", cfg.ModelPath)
	}

	switch cfg.Target {
	case TargetCUDA:
		net.SetPreferableBackend(gocv.NetBackendCUDA)
		net.SetPreferableTarget(gocv.NetTargetCUDA)
	default:
		net.SetPreferableBackend(gocv.NetBackendOpenCV)
		net.SetPreferableTarget(gocv.NetTargetCPU)
	}

	logger.Infow("opencv network ready", "model", cfg.ModelPath, "target", cfg.Target)
	return &Backend{net: net, output: cfg.OutputName, logger: logger}, nil
}

// Run feeds input as a blob and returns the forward output.
//
// Arguments:
//   - ctx: Checked before the run.
//   - input: An NCHW float32 tensor.
//
// Returns:
//   - []inference.Tensor: A single output tensor owning its data.
//   - error: An error if the input is malformed or the network produced nothing.
func (b *Backend) Run(ctx context.Context, input inference.Tensor) ([]inference.Tensor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := input.Validate(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errors.New("opencv backend is closed")
	}

	sizes := make([]int, len(input.Shape))
	for i, d := range input.Shape {
		sizes[i] = int(d)
	}
	blob := gocv.NewMatWithSizes(sizes, gocv.MatTypeCV32F)
	defer blob.Close()

	dst, err := blob.DataPtrFloat32()
	if err != nil {
		return nil, errors.Wrap(err, "blob data")
	}
	copy(dst, input.Data)

	b.net.SetInput(blob, "")
	out := b.net.Forward(b.output)
	defer out.Close()
	if out.Empty() {
		return nil, errors.New("opencv forward produced no output")
	}

	src, err := out.DataPtrFloat32()
	if err != nil {
		return nil, errors.Wrap(err, "output data")
	}
	data := make([]float32, len(src))
	copy(data, src)

	dims := out.Size()
	shape := make([]int64, len(dims))
	for i, d := range dims {
		shape[i] = int64(d)
	}

	return []inference.Tensor{{Shape: shape, Data: data}}, nil
}

// Close releases the network.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.net.Close()
}

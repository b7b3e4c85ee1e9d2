// Package inference - Inference backend contract shared by every runtime.
package inference

import (
	"context"

	"github.com/pkg/errors"
)

// Tensor is a dense float32 tensor exchanged with a backend.
type Tensor struct {
	// Shape of the tensor, outermost dimension first.
	Shape []int64 `json:"shape" yaml:"shape"`
	// Data is the row-major backing slice.
	Data []float32 `json:"-" yaml:"-"`
}

// Elements returns the number of elements implied by the shape.
//
// Returns:
//   - int: Product of all dimensions, or 0 when the shape is empty or has a non-positive dimension.
func (t Tensor) Elements() int {
	if len(t.Shape) == 0 {
		return 0
	}
	n := 1
	for _, d := range t.Shape {
		if d <= 0 {
			return 0
		}
		n *= int(d)
	}
	return n
}

// Validate checks that the backing slice matches the shape.
//
// Returns:
//   - error: An error if the data length does not match the shape.
func (t Tensor) Validate() error {
	if n := t.Elements(); n == 0 || n != len(t.Data) {
		return errors.Errorf("tensor shape %v holds %d elements, got %d", t.Shape, n, len(t.Data))
	}
	return nil
}

// Backend runs a model: one input tensor in, one or more output tensors out.
//
// Implementations are opaque to the rest of the pipeline and may be backed by
// onnxruntime, OpenCV DNN or a test double.
type Backend interface {
	// Run executes the model on input.
	Run(ctx context.Context, input Tensor) ([]Tensor, error)
	// Close releases native resources.
	Close() error
}

// BackendFunc adapts a function to the Backend interface.
type BackendFunc func(ctx context.Context, input Tensor) ([]Tensor, error)

// Run calls f(ctx, input).
func (f BackendFunc) Run(ctx context.Context, input Tensor) ([]Tensor, error) {
	return f(ctx, input)
}

// Close is a no-op.
func (f BackendFunc) Close() error {
	return nil
}

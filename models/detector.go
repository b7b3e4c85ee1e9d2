package models

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-phase/inference"
	"github.com/nvr-ai/go-phase/models/model"
	"github.com/nvr-ai/go-phase/models/preprocess"
)

var (
	// ErrBackendPanic is returned when a backend panics during inference.
	ErrBackendPanic = errors.New("inference backend panicked")
	// ErrPostprocessPanic is returned when a postprocessor panics on backend outputs.
	ErrPostprocessPanic = errors.New("postprocessor panicked")
)

// Result is the outcome of running the detector on one frame.
type Result struct {
	// Detections are the recognized phases, highest confidence first.
	Detections []model.Detection
	// Preprocess holds the transform metadata of the input tensor.
	Preprocess *preprocess.Result
	// Inference is the wall time spent in the backend.
	Inference time.Duration
}

// Labels returns the phase labels, highest confidence first.
func (r *Result) Labels() []string {
	return model.Labels(r.Detections)
}

// Detector chains preprocessing, inference and postprocessing.
type Detector struct {
	pre     *preprocess.Preprocessor
	backend inference.Backend
	post    model.Postprocessor
}

// NewDetector creates a detector.
//
// Arguments:
//   - pre: The preprocessor producing the input tensor.
//   - backend: The inference backend.
//   - post: The postprocessor interpreting the backend outputs.
//
// Returns:
//   - *Detector: The detector. It owns backend and closes it in Close.
func NewDetector(pre *preprocess.Preprocessor, backend inference.Backend, post model.Postprocessor) *Detector {
	return &Detector{pre: pre, backend: backend, post: post}
}

// DetectBytes decodes an encoded frame and runs Detect on it.
//
// Arguments:
//   - ctx: The context for the inference.
//   - data: JPEG or PNG bytes.
//
// Returns:
//   - *Result: The detections.
//   - error: preprocess.ErrInvalidImage, a backend error or postprocess.ErrOutputShape, wrapped.
func (d *Detector) DetectBytes(ctx context.Context, data []byte) (*Result, error) {
	img, err := preprocess.Decode(data)
	if err != nil {
		return nil, err
	}
	return d.Detect(ctx, img)
}

// Detect runs the full detection chain on a decoded frame.
//
// A panic raised by the backend is recovered and returned as ErrBackendPanic,
// one raised by the postprocessor as ErrPostprocessPanic.
//
// Arguments:
//   - ctx: The context for the inference.
//   - img: The decoded frame.
//
// Returns:
//   - *Result: The detections, possibly none.
//   - error: An error from any stage, wrapped with the stage name.
func (d *Detector) Detect(ctx context.Context, img image.Image) (*Result, error) {
	pre, err := d.pre.Preprocess(img)
	if err != nil {
		return nil, errors.Wrap(err, "preprocess")
	}

	start := time.Now()
	outputs, err := d.run(ctx, pre.Tensor)
	elapsed := time.Since(start)
	if err != nil {
		return nil, errors.Wrap(err, "inference")
	}

	detections, err := d.postprocess(outputs)
	if err != nil {
		return nil, errors.Wrap(err, "postprocess")
	}

	return &Result{Detections: detections, Preprocess: pre, Inference: elapsed}, nil
}

func (d *Detector) run(ctx context.Context, input inference.Tensor) (outputs []inference.Tensor, err error) {
	defer func() {
		if r := recover(); r != nil {
			outputs = nil
			err = errors.Wrap(ErrBackendPanic, fmt.Sprint(r))
		}
	}()
	return d.backend.Run(ctx, input)
}

func (d *Detector) postprocess(outputs []inference.Tensor) (detections []model.Detection, err error) {
	defer func() {
		if r := recover(); r != nil {
			detections = nil
			err = errors.Wrap(ErrPostprocessPanic, fmt.Sprint(r))
		}
	}()
	return d.post.PostProcess(outputs)
}

// Close releases the backend.
func (d *Detector) Close() error {
	return d.backend.Close()
}

// Package model - Definitions shared by every phase model variant.
package model

import (
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-phase/images"
	"github.com/nvr-ai/go-phase/inference"
)

// Kind selects how a model's output is interpreted.
type Kind string

const (
	// KindYOLOv8 is an anchor-free multi-box detector with a (1, 4+C, A) head.
	KindYOLOv8 Kind = "yolov8"
	// KindClassifier is a single-label image classifier with a (1, C) head.
	KindClassifier Kind = "classifier"
)

// Kinds is a list of all supported model kinds.
var Kinds = []Kind{KindYOLOv8, KindClassifier}

// Default thresholds the phase models were validated with.
const (
	DefaultConfidenceThreshold float32 = 0.25
	DefaultIoUThreshold        float32 = 0.7
)

// Config holds the postprocessing parameters of a model.
type Config struct {
	// Kind selects the postprocessor.
	Kind Kind `json:"kind" yaml:"kind"`
	// NumClasses is the class count the head must have. 0 accepts any count.
	NumClasses int `json:"num_classes" yaml:"num_classes"`
	// ConfidenceThreshold is the exclusive minimum class score.
	ConfidenceThreshold float32 `json:"confidence_threshold" yaml:"confidence_threshold"`
	// IoUThreshold is the overlap above which a lower scoring box is suppressed.
	IoUThreshold float32 `json:"iou_threshold" yaml:"iou_threshold"`
	// Softmax applies a softmax to classifier logits before thresholding.
	Softmax bool `json:"softmax" yaml:"softmax"`
}

// DefaultConfig returns the multi-box configuration with the validated thresholds.
func DefaultConfig() Config {
	return Config{
		Kind:                KindYOLOv8,
		ConfidenceThreshold: DefaultConfidenceThreshold,
		IoUThreshold:        DefaultIoUThreshold,
	}
}

// Validate checks the configuration.
//
// Returns:
//   - error: An error describing the first invalid field.
func (c Config) Validate() error {
	known := false
	for _, k := range Kinds {
		if c.Kind == k {
			known = true
			break
		}
	}
	if !known {
		return errors.Errorf("unsupported model kind %q", c.Kind)
	}
	if c.NumClasses < 0 {
		return errors.Errorf("num_classes must not be negative, got %d", c.NumClasses)
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold >= 1 {
		return errors.Errorf("confidence_threshold must be in [0, 1), got %v", c.ConfidenceThreshold)
	}
	if c.IoUThreshold <= 0 || c.IoUThreshold > 1 {
		return errors.Errorf("iou_threshold must be in (0, 1], got %v", c.IoUThreshold)
	}
	return nil
}

// Detection is one recognized phase in a frame.
type Detection struct {
	// Label is the phase label, always present in the phase table.
	Label string `json:"label"`
	// Class is the zero-based class index.
	Class int `json:"class"`
	// Score is the class confidence.
	Score float32 `json:"score"`
	// Box is the detection box in model input units. Zero for classifiers.
	Box images.Rect `json:"box"`
}

// Labels returns the labels of detections, in order.
func Labels(detections []Detection) []string {
	labels := make([]string, len(detections))
	for i, d := range detections {
		labels[i] = d.Label
	}
	return labels
}

// Postprocessor turns raw backend outputs into recognized phases.
type Postprocessor interface {
	// Kind identifies the implementation.
	Kind() Kind
	// PostProcess returns the recognized phases, highest confidence first.
	// Unknown classes are dropped. A malformed output yields an error wrapping
	// postprocess.ErrOutputShape.
	PostProcess(outputs []inference.Tensor) ([]Detection, error)
}

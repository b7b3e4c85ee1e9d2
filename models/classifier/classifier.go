// Package classifier - single-label phase classifier.
//
// The classifier head emits one score per class for the whole frame, so at
// most one phase is reported per cycle.
package classifier

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-phase/inference"
	"github.com/nvr-ai/go-phase/models/model"
	"github.com/nvr-ai/go-phase/models/postprocess"
	"github.com/nvr-ai/go-phase/phases"
)

// Classifier is the instance of the classifier postprocessor.
type Classifier struct {
	config model.Config
	table  *phases.Table
}

// NewModel creates a new classifier postprocessor.
//
// Arguments:
//   - config: The model configuration. Kind must be model.KindClassifier.
//   - table: The phase table used to name and validate classes.
//
// Returns:
//   - *Classifier: The postprocessor.
//   - error: An error if the configuration is invalid.
func NewModel(config model.Config, table *phases.Table) (*Classifier, error) {
	if config.Kind != model.KindClassifier {
		return nil, errors.Errorf("classifier: wrong model kind %q", config.Kind)
	}
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "classifier")
	}
	if table == nil {
		return nil, errors.New("classifier: phase table is required")
	}
	return &Classifier{config: config, table: table}, nil
}

// Kind returns model.KindClassifier.
func (c *Classifier) Kind() model.Kind {
	return model.KindClassifier
}

// PostProcess picks the best class of a (1, C) or (C) head.
//
// Arguments:
//   - outputs: The backend outputs. Only the first tensor is read.
//
// Returns:
//   - []model.Detection: Zero or one detection. Never nil.
//   - error: An error wrapping postprocess.ErrOutputShape for a malformed head.
func (c *Classifier) PostProcess(outputs []inference.Tensor) ([]model.Detection, error) {
	if len(outputs) == 0 {
		return nil, errors.Wrap(postprocess.ErrOutputShape, "no output tensors")
	}

	out := outputs[0]
	var classes int
	switch {
	case len(out.Shape) == 1:
		classes = int(out.Shape[0])
	case len(out.Shape) == 2 && out.Shape[0] == 1:
		classes = int(out.Shape[1])
	default:
		return nil, errors.Wrapf(postprocess.ErrOutputShape, "want (1, C), got %v", out.Shape)
	}
	if classes < 1 || len(out.Data) != classes {
		return nil, errors.Wrapf(postprocess.ErrOutputShape, "shape %v with %d values", out.Shape, len(out.Data))
	}
	if c.config.NumClasses > 0 && classes != c.config.NumClasses {
		return nil, errors.Wrapf(postprocess.ErrOutputShape, "want %d classes, got %d", c.config.NumClasses, classes)
	}

	scores := out.Data
	if c.config.Softmax {
		scores = Softmax(scores)
	}

	best := 0
	for i := 1; i < len(scores); i++ {
		if scores[i] > scores[best] {
			best = i
		}
	}

	detections := make([]model.Detection, 0, 1)
	if label, ok := c.table.Label(best); ok && scores[best] > c.config.ConfidenceThreshold {
		detections = append(detections, model.Detection{Label: label, Class: best, Score: scores[best]})
	}
	return detections, nil
}

// Softmax returns the normalized exponentials of logits.
//
// The maximum is subtracted first so large logits do not overflow.
func Softmax(logits []float32) []float32 {
	out := make([]float32, len(logits))
	if len(logits) == 0 {
		return out
	}

	max := logits[0]
	for _, v := range logits[1:] {
		max = math32.Max(max, v)
	}

	var sum float32
	for i, v := range logits {
		out[i] = math32.Exp(v - max)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

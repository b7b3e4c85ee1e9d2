package postprocess

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-phase/images"
	"github.com/nvr-ai/go-phase/inference"
)

// ErrOutputShape is returned when a model output does not match the (1, 4+C, A) head layout.
var ErrOutputShape = errors.New("unexpected model output shape")

// boxParams is the number of geometric values (cx, cy, w, h) leading each row.
const boxParams = 4

// Decode converts the first output of a detection head into scored candidates.
//
// The output must have shape (1, 4+C, A): for each of the A anchors, four
// center-form box values followed by C class confidences, stored attribute-major.
// The tensor is transposed to (A, 4+C) so that each row is one anchor.
//
// Arguments:
//   - outputs: The backend outputs. Only the first tensor is used.
//   - numClasses: The expected class count C, or 0 to infer it from the shape.
//
// Returns:
//   - []Candidate: One candidate per anchor, in anchor order, with corner-form boxes.
//   - error: ErrOutputShape (wrapped) when the outputs are empty or mis-shaped.
func Decode(outputs []inference.Tensor, numClasses int) ([]Candidate, error) {
	if len(outputs) == 0 {
		return nil, errors.Wrap(ErrOutputShape, "no output tensors")
	}

	out := outputs[0]
	if len(out.Shape) != 3 || out.Shape[0] != 1 {
		return nil, errors.Wrapf(ErrOutputShape, "want (1, 4+C, A), got %v", out.Shape)
	}

	if out.Shape[1] <= boxParams || out.Shape[2] < 1 {
		return nil, errors.Wrapf(ErrOutputShape, "want at least one class and one anchor, got %v", out.Shape)
	}
	if numClasses > 0 && out.Shape[1] != int64(boxParams+numClasses) {
		return nil, errors.Wrapf(ErrOutputShape, "want %d classes, got %d", numClasses, out.Shape[1]-boxParams)
	}
	// Dimensions are bounded by the data length before multiplying.
	n := int64(len(out.Data))
	if out.Shape[2] > n/out.Shape[1] || out.Shape[1]*out.Shape[2] != n {
		return nil, errors.Wrapf(ErrOutputShape, "shape %v does not match %d values", out.Shape, n)
	}
	rows, anchors := int(out.Shape[1]), int(out.Shape[2])

	grid, err := anchorMajor(out.Data, rows, anchors)
	if err != nil {
		return nil, err
	}

	candidates := make([]Candidate, anchors)
	for a := 0; a < anchors; a++ {
		row := grid[a*rows : (a+1)*rows]
		class, score := argmax(row[boxParams:])
		candidates[a] = Candidate{
			Box:   images.FromCenter(row[0], row[1], row[2], row[3]),
			Score: score,
			Class: class,
			Index: a,
		}
	}

	return candidates, nil
}

// anchorMajor transposes a (rows, anchors) attribute-major buffer into (anchors, rows).
func anchorMajor(data []float32, rows, anchors int) ([]float32, error) {
	backing := make([]float32, len(data))
	copy(backing, data)

	// A single anchor is already laid out row by row.
	if anchors == 1 {
		return backing, nil
	}

	t := tensor.New(tensor.WithShape(rows, anchors), tensor.WithBacking(backing))
	if err := t.T(); err != nil {
		return nil, errors.Wrap(err, "transpose output")
	}
	if err := t.Transpose(); err != nil {
		return nil, errors.Wrap(err, "materialize transposed output")
	}

	grid, ok := t.Data().([]float32)
	if !ok {
		return nil, errors.Wrapf(ErrOutputShape, "unexpected backing type %T", t.Data())
	}
	return grid, nil
}

// argmax returns the index and value of the first maximum.
func argmax(values []float32) (int, float32) {
	best, bestScore := 0, values[0]
	for i := 1; i < len(values); i++ {
		if values[i] > bestScore {
			best, bestScore = i, values[i]
		}
	}
	return best, bestScore
}

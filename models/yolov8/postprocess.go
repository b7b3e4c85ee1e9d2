package yolov8

import (
	"github.com/nvr-ai/go-phase/inference"
	"github.com/nvr-ai/go-phase/models/model"
	"github.com/nvr-ai/go-phase/models/postprocess"
)

// PostProcess transforms the output of the YOLOv8 head into recognized phases by:
//   - Decoding the (1, 4+C, A) head into one candidate per anchor.
//   - Dropping candidates whose best class score is not above the confidence threshold.
//   - Applying greedy class-agnostic NMS.
//   - Naming each survivor "fase_<class+1>" and keeping only phases in the table.
//
// Arguments:
//   - outputs: The backend outputs. Only the first tensor is read.
//
// Returns:
//   - []model.Detection: Recognized phases, highest confidence first. Never nil.
//   - error: An error wrapping postprocess.ErrOutputShape for a malformed head.
func (m *YOLOv8) PostProcess(outputs []inference.Tensor) ([]model.Detection, error) {
	candidates, err := postprocess.Decode(outputs, m.config.NumClasses)
	if err != nil {
		return nil, err
	}

	kept := postprocess.ApplyGreedyNMS(
		postprocess.Filter(candidates, m.config.ConfidenceThreshold),
		m.config.IoUThreshold,
	)

	detections := make([]model.Detection, 0, len(kept))
	for _, c := range kept {
		label, ok := m.table.Label(c.Class)
		if !ok {
			continue
		}
		detections = append(detections, model.Detection{
			Label: label,
			Class: c.Class,
			Score: c.Score,
			Box:   c.Box,
		})
	}

	return detections, nil
}

// Package yolov8 - YOLOv8 multi-box phase detector.
package yolov8

import (
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-phase/models/model"
	"github.com/nvr-ai/go-phase/phases"
)

// YOLOv8 is the instance of the YOLOv8 postprocessor.
type YOLOv8 struct {
	config model.Config
	table  *phases.Table
}

// NewModel creates a new YOLOv8 postprocessor.
//
// Arguments:
//   - config: The model configuration. Kind must be model.KindYOLOv8.
//   - table: The phase table used to name and validate classes.
//
// Returns:
//   - *YOLOv8: The postprocessor.
//   - error: An error if the configuration is invalid.
func NewModel(config model.Config, table *phases.Table) (*YOLOv8, error) {
	if config.Kind != model.KindYOLOv8 {
		return nil, errors.Errorf("yolov8: wrong model kind %q", config.Kind)
	}
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "yolov8")
	}
	if table == nil {
		return nil, errors.New("yolov8: phase table is required")
	}
	return &YOLOv8{config: config, table: table}, nil
}

// Kind returns model.KindYOLOv8.
func (m *YOLOv8) Kind() model.Kind {
	return model.KindYOLOv8
}

// Config returns the model configuration.
func (m *YOLOv8) Config() model.Config {
	return m.config
}

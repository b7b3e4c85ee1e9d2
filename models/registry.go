// Package models - registry and detector for the phase models.
package models

import (
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-phase/models/classifier"
	"github.com/nvr-ai/go-phase/models/model"
	"github.com/nvr-ai/go-phase/models/yolov8"
	"github.com/nvr-ai/go-phase/phases"
)

// NewPostprocessor creates the postprocessor for the configured model kind.
//
// Arguments:
//   - config: The model configuration. Kind selects the implementation.
//   - table: The phase table the postprocessor validates labels against.
//
// Returns:
//   - model.Postprocessor: The configured postprocessor.
//   - error: An error if the kind is unsupported or the configuration is invalid.
//
// Example:
//
// ```go
//
//	post, err := models.NewPostprocessor(model.DefaultConfig(), phases.Default())
//	if err != nil {
//	    log.Fatalf("Failed to create postprocessor: %v", err)
//	}
//
// ```
func NewPostprocessor(config model.Config, table *phases.Table) (model.Postprocessor, error) {
	switch config.Kind {
	case model.KindYOLOv8:
		m, err := yolov8.NewModel(config, table)
		if err != nil {
			return nil, err
		}
		return m, nil
	case model.KindClassifier:
		m, err := classifier.NewModel(config, table)
		if err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, errors.Errorf("unsupported model kind: %s", config.Kind)
	}
}

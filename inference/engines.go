// Package inference - Inference backend identifiers.
package inference

// EngineType is the type of the engine
type EngineType string

const (
	// EngineONNX is the ONNX engine that uses the onnxruntime library
	EngineONNX EngineType = "onnx"
	// EngineOpenCV is the OpenCV DNN engine (requires the gocv build tag)
	EngineOpenCV EngineType = "opencv"
)

// Engines is a list of all supported engines
var Engines = []EngineType{EngineONNX, EngineOpenCV}

// Valid reports whether e names a supported engine.
func (e EngineType) Valid() bool {
	for _, known := range Engines {
		if e == known {
			return true
		}
	}
	return false
}

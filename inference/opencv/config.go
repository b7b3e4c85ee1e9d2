// Package opencv - OpenCV DNN inference backend.
//
// The backend is compiled only with the gocv build tag, since it links
// against a native OpenCV installation. Without the tag New returns
// ErrUnavailable.
package opencv

import (
	"strings"

	"github.com/pkg/errors"
)

// ErrUnavailable is returned by New when the binary was built without OpenCV support.
var ErrUnavailable = errors.New("opencv backend not compiled in (build with -tags gocv)")

// Target selects the compute device of the DNN module.
type Target string

const (
	// TargetCPU runs the network on the OpenCV CPU backend.
	TargetCPU Target = "cpu"
	// TargetCUDA runs the network on the CUDA backend.
	TargetCUDA Target = "cuda"
)

// ParseTarget parses a target name. An empty name selects the CPU.
func ParseTarget(s string) (Target, error) {
	switch t := Target(strings.ToLower(strings.TrimSpace(s))); t {
	case "", TargetCPU:
		return TargetCPU, nil
	case TargetCUDA:
		return t, nil
	default:
		return "", errors.Errorf("unknown opencv target %q", s)
	}
}

// Config configures an OpenCV DNN backend.
type Config struct {
	// ModelPath is the path to the .onnx file.
	ModelPath string `json:"model_path" yaml:"model_path"`
	// OutputName is the layer to read. Empty reads the network's default output.
	OutputName string `json:"output_name" yaml:"output_name"`
	// Target selects the compute device.
	Target Target `json:"target" yaml:"target"`
}

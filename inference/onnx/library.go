package onnx

import (
	"runtime"

	"github.com/pkg/errors"
)

// DefaultSharedLibPath returns the bundled onnxruntime library path for the current platform.
//
// Returns:
//   - string: The path to the shared library.
//   - error: An error if no library is bundled for this platform.
func DefaultSharedLibPath() (string, error) {
	return sharedLibPath(runtime.GOOS, runtime.GOARCH)
}

func sharedLibPath(goos, goarch string) (string, error) {
	switch goos {
	case "windows":
		if goarch == "amd64" {
			return "third_party/onnxruntime.dll", nil
		}
	case "darwin":
		return "third_party/libonnxruntime.dylib", nil
	case "linux":
		if goarch == "arm64" {
			return "third_party/onnxruntime_arm64.so", nil
		}
		return "third_party/onnxruntime.so", nil
	}
	return "", errors.Errorf("no onnxruntime library bundled for %s/%s", goos, goarch)
}

package images

import (
	"image"

	"github.com/disintegration/imaging"
)

// Orientation records the geometric correction applied to a frame before inference.
type Orientation struct {
	// RotationDegrees is the rotation applied, in degrees.
	RotationDegrees int `json:"rotation_degrees" yaml:"rotation_degrees"`
	// CounterClockwise is true when the rotation was counter-clockwise.
	CounterClockwise bool `json:"counter_clockwise" yaml:"counter_clockwise"`
}

// MountCorrection is the fixed rotation that undoes the camera's physical mounting.
var MountCorrection = Orientation{RotationDegrees: 90, CounterClockwise: true}

// CorrectMounting rotates img 90 degrees counter-clockwise.
//
// A W×H input becomes an H×W output whose bounds start at the origin.
//
// Arguments:
//   - img: The decoded camera frame.
//
// Returns:
//   - *image.NRGBA: The rotated frame.
//   - Orientation: The transform that was applied.
func CorrectMounting(img image.Image) (*image.NRGBA, Orientation) {
	return imaging.Rotate90(img), MountCorrection
}

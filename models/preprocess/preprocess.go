// Package preprocess - turns a decoded camera frame into a model input tensor.
package preprocess

import (
	"image"
	"strings"

	"github.com/nfnt/resize"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-phase/images"
	"github.com/nvr-ai/go-phase/inference"
)

// ErrInvalidImage is returned for absent, undecodable or zero-sized input.
var ErrInvalidImage = images.ErrInvalidImage

// InputSize is the square edge the detection models are exported with.
const InputSize = 640

// ColorMode defines the channel order written into the tensor.
type ColorMode int

const (
	// ColorModeBGR writes blue, green, red (the order OpenCV decodes into).
	ColorModeBGR ColorMode = iota
	// ColorModeRGB writes red, green, blue.
	ColorModeRGB
)

// ParseColorMode parses "bgr" or "rgb" (case-insensitive). An empty string is BGR.
//
// Arguments:
//   - s: The configured color mode.
//
// Returns:
//   - ColorMode: The parsed mode.
//   - error: An error for any other value.
func ParseColorMode(s string) (ColorMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "bgr":
		return ColorModeBGR, nil
	case "rgb":
		return ColorModeRGB, nil
	default:
		return 0, errors.Errorf("unknown color mode %q", s)
	}
}

// String returns the configuration spelling of the mode.
func (m ColorMode) String() string {
	if m == ColorModeRGB {
		return "rgb"
	}
	return "bgr"
}

// Config defines preprocessing configuration for a model.
type Config struct {
	// InputWidth is the expected width of the model input.
	InputWidth int
	// InputHeight is the expected height of the model input.
	InputHeight int
	// ColorMode defines the channel order.
	ColorMode ColorMode
}

// DefaultConfig returns the 640×640 BGR configuration used by the phase models.
func DefaultConfig() Config {
	return Config{InputWidth: InputSize, InputHeight: InputSize, ColorMode: ColorModeBGR}
}

// Result contains the preprocessed tensor and the transform that produced it.
type Result struct {
	// Tensor has shape [1, 3, InputHeight, InputWidth], values in [0, 1].
	Tensor inference.Tensor
	// Orientation is the rotation applied before resizing.
	Orientation images.Orientation
	// SourceWidth is the frame width after rotation, before resizing.
	SourceWidth int
	// SourceHeight is the frame height after rotation, before resizing.
	SourceHeight int
	// ScaleX is the horizontal scaling factor applied.
	ScaleX float64
	// ScaleY is the vertical scaling factor applied.
	ScaleY float64
}

// Preprocessor handles image preprocessing for the detection models.
//
// It holds no mutable state and is safe for concurrent use.
type Preprocessor struct {
	config Config
}

// NewPreprocessor creates a new preprocessor with the given configuration.
//
// Zero dimensions fall back to InputSize.
//
// Arguments:
//   - config: The preprocessing configuration.
//
// Returns:
//   - *Preprocessor: A configured Preprocessor instance.
//
// Example:
//
// ```go
//
//	p := preprocess.NewPreprocessor(preprocess.DefaultConfig())
//	res, err := p.Preprocess(frame)
//
// ```
func NewPreprocessor(config Config) *Preprocessor {
	if config.InputWidth <= 0 {
		config.InputWidth = InputSize
	}
	if config.InputHeight <= 0 {
		config.InputHeight = InputSize
	}
	return &Preprocessor{config: config}
}

// Config returns the effective configuration.
func (p *Preprocessor) Config() Config {
	return p.config
}

// Decode decodes an encoded frame.
//
// Arguments:
//   - data: JPEG or PNG bytes.
//
// Returns:
//   - image.Image: The decoded frame.
//   - error: ErrInvalidImage (wrapped) when the bytes cannot be decoded.
func Decode(data []byte) (image.Image, error) {
	img, _, err := images.Decode(data)
	return img, err
}

// Preprocess performs all preprocessing steps on a decoded frame.
//
// Steps, in order: rotate 90° counter-clockwise to undo the camera mounting,
// resize to the model input (bilinear, aspect ratio not kept), write the
// channels planar (CHW) in the configured order, scale to [0, 1] and add the
// batch dimension. The input is not modified and nothing is written to disk.
//
// Arguments:
//   - img: The decoded frame.
//
// Returns:
//   - *Result: The tensor and transform metadata.
//   - error: ErrInvalidImage (wrapped) when img is nil or has a zero dimension.
func (p *Preprocessor) Preprocess(img image.Image) (*Result, error) {
	if img == nil {
		return nil, errors.Wrap(ErrInvalidImage, "image is nil")
	}
	if b := img.Bounds(); b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, errors.Wrapf(ErrInvalidImage, "invalid image dimensions: %dx%d", b.Dx(), b.Dy())
	}

	rotated, orientation := images.CorrectMounting(img)
	srcW, srcH := rotated.Bounds().Dx(), rotated.Bounds().Dy()

	w, h := p.config.InputWidth, p.config.InputHeight
	resized := resize.Resize(uint(w), uint(h), rotated, resize.Bilinear)

	return &Result{
		Tensor: inference.Tensor{
			Shape: []int64{1, 3, int64(h), int64(w)},
			Data:  p.imageToTensor(resized),
		},
		Orientation:  orientation,
		SourceWidth:  srcW,
		SourceHeight: srcH,
		ScaleX:       float64(w) / float64(srcW),
		ScaleY:       float64(h) / float64(srcH),
	}, nil
}

// imageToTensor converts an image to a planar float32 tensor in [0, 1].
func (p *Preprocessor) imageToTensor(img image.Image) []float32 {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	plane := width * height
	tensor := make([]float32, 3*plane)

	// The first and last planes swap between BGR and RGB.
	first, last := 2, 0
	if p.config.ColorMode == ColorModeRGB {
		first, last = 0, 2
	}

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b := pixel(img, bounds.Min.X+x, bounds.Min.Y+y)
			i := y*width + x
			rgb := [3]float32{r, g, b}
			tensor[i] = rgb[first]
			tensor[plane+i] = rgb[1]
			tensor[2*plane+i] = rgb[last]
		}
	}

	return tensor
}

// pixel returns the normalized color at (x, y).
func pixel(img image.Image, x, y int) (float32, float32, float32) {
	if n, ok := img.(*image.NRGBA); ok {
		off := n.PixOffset(x, y)
		return float32(n.Pix[off]) / 255, float32(n.Pix[off+1]) / 255, float32(n.Pix[off+2]) / 255
	}
	r, g, b, _ := img.At(x, y).RGBA()
	return float32(r>>8) / 255, float32(g>>8) / 255, float32(b>>8) / 255
}

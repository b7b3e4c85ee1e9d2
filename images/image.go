// Package images - Image definition and decoding for captured frames.
package images

import (
	"bytes"
	"image"
	// Registered decoders for camera payloads.
	_ "image/jpeg"
	_ "image/png"

	"github.com/pkg/errors"
)

// ErrInvalidImage is returned when a payload cannot be decoded or has no pixels.
var ErrInvalidImage = errors.New("invalid image")

// ImageFormat represents supported image formats
type ImageFormat string

// ImageFormat constants
const (
	// FormatJPEG is the JPEG image format.
	FormatJPEG ImageFormat = "jpeg"
	// FormatPNG is the PNG image format.
	FormatPNG ImageFormat = "png"
)

// Image represents an encoded image with its format and dimensions.
type Image struct {
	// The format of the image.
	Format ImageFormat `json:"format" yaml:"format"`
	// The data of the image.
	Data []byte `json:"data" yaml:"data"`
	// The width of the image.
	Width int `json:"width" yaml:"width"`
	// The height of the image.
	Height int `json:"height" yaml:"height"`
}

// Decode decodes an encoded payload into an image.
//
// Arguments:
//   - data: The encoded bytes (JPEG or PNG).
//
// Returns:
//   - image.Image: The decoded pixels.
//   - *Image: The payload annotated with its format and dimensions.
//   - error: ErrInvalidImage (wrapped) when the payload is empty, undecodable or zero-sized.
func Decode(data []byte) (image.Image, *Image, error) {
	if len(data) == 0 {
		return nil, nil, errors.Wrap(ErrInvalidImage, "empty payload")
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, nil, errors.Wrapf(ErrInvalidImage, "decode: %v", err)
	}

	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, nil, errors.Wrapf(ErrInvalidImage, "zero dimension %dx%d", b.Dx(), b.Dy())
	}

	return img, &Image{
		Format: ImageFormat(format),
		Data:   data,
		Width:  b.Dx(),
		Height: b.Dy(),
	}, nil
}

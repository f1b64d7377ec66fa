package image

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"
)

// MaxImageDimension is the maximum allowed width or height for upload
const MaxImageDimension = 8192

var (
	// ErrInvalidDimensions indicates width or height is not positive
	ErrInvalidDimensions = errors.New("invalid dimensions: width and height must be positive")
	// ErrTooLarge indicates the image exceeds MaxImageDimension
	ErrTooLarge = errors.New("dimensions exceed maximum allowed")
)

// EncodePNG re-encodes a decoded image as PNG for posting to chat.
func EncodePNG(img image.Image) ([]byte, error) {
	if img == nil {
		return nil, errors.New("nil image")
	}

	bounds := img.Bounds()
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		return nil, ErrInvalidDimensions
	}
	if bounds.Dx() > MaxImageDimension || bounds.Dy() > MaxImageDimension {
		return nil, fmt.Errorf("%w (%dx%d > %d)", ErrTooLarge, bounds.Dx(), bounds.Dy(), MaxImageDimension)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

package image

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"
)

func solid(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestEncodePNG_RoundTrip(t *testing.T) {
	src := solid(3, 2, color.RGBA{R: 255, A: 255})

	pngData, err := EncodePNG(src)
	if err != nil {
		t.Fatalf("EncodePNG failed: %v", err)
	}

	img, err := png.Decode(bytes.NewReader(pngData))
	if err != nil {
		t.Fatalf("Failed to decode PNG: %v", err)
	}

	bounds := img.Bounds()
	if bounds.Dx() != 3 || bounds.Dy() != 2 {
		t.Errorf("got dimensions %dx%d, want 3x2", bounds.Dx(), bounds.Dy())
	}
	r, g, b, a := img.At(1, 1).RGBA()
	if r>>8 != 255 || g != 0 || b != 0 || a>>8 != 255 {
		t.Errorf("pixel = (%d,%d,%d,%d), want opaque red", r>>8, g>>8, b>>8, a>>8)
	}
}

func TestEncodePNG_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		img     image.Image
		wantErr error
	}{
		{"empty bounds", image.NewRGBA(image.Rect(0, 0, 0, 0)), ErrInvalidDimensions},
		{"too wide", image.NewGray(image.Rect(0, 0, MaxImageDimension+1, 1)), ErrTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := EncodePNG(tt.img)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("EncodePNG() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if _, err := EncodePNG(nil); err == nil {
		t.Error("EncodePNG(nil) error = nil, want error")
	}
}

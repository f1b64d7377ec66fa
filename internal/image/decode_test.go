package image

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, solid(w, h, color.RGBA{G: 200, A: 255})); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	return buf.Bytes()
}

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, solid(w, h, color.RGBA{B: 200, A: 255}), nil); err != nil {
		t.Fatalf("jpeg.Encode: %v", err)
	}
	return buf.Bytes()
}

func TestDecode_PreservesGroupingAndOrder(t *testing.T) {
	batches := []Batch{
		{NodeID: "9", Payloads: [][]byte{pngBytes(t, 4, 4), jpegBytes(t, 8, 8)}},
		{NodeID: "12", Payloads: [][]byte{pngBytes(t, 2, 6)}},
	}

	results, err := Decode(batches)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}
	if results[0].NodeID != "9" || results[1].NodeID != "12" {
		t.Errorf("node order = [%s %s], want [9 12]", results[0].NodeID, results[1].NodeID)
	}

	if len(results[0].Images) != 2 {
		t.Fatalf("node 9 images = %d, want 2", len(results[0].Images))
	}
	if got := results[0].Images[0].Bounds().Dx(); got != 4 {
		t.Errorf("node 9 image 0 width = %d, want 4", got)
	}
	if got := results[0].Images[1].Bounds().Dx(); got != 8 {
		t.Errorf("node 9 image 1 width = %d, want 8", got)
	}
	if results[0].Formats[0] != "png" || results[0].Formats[1] != "jpeg" {
		t.Errorf("formats = %v, want [png jpeg]", results[0].Formats)
	}
	if got := results[1].Images[0].Bounds().Dy(); got != 6 {
		t.Errorf("node 12 image 0 height = %d, want 6", got)
	}

	if Count(results) != 3 {
		t.Errorf("Count() = %d, want 3", Count(results))
	}
}

func TestDecode_CorruptPayloadFailsWholeBatch(t *testing.T) {
	good := pngBytes(t, 2, 2)
	corrupt := append([]byte(nil), good[:len(good)/2]...)

	tests := []struct {
		name    string
		batches []Batch
	}{
		{"truncated png", []Batch{{NodeID: "9", Payloads: [][]byte{good, corrupt}}}},
		{"not an image", []Batch{{NodeID: "9", Payloads: [][]byte{[]byte("<html>502 Bad Gateway</html>")}}}},
		{"empty payload", []Batch{{NodeID: "9", Payloads: [][]byte{{}}}}},
		{"second node bad", []Batch{
			{NodeID: "9", Payloads: [][]byte{good}},
			{NodeID: "10", Payloads: [][]byte{[]byte("garbage")}},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, err := Decode(tt.batches)
			if !errors.Is(err, ErrDecode) {
				t.Errorf("Decode() error = %v, want ErrDecode", err)
			}
			if results != nil {
				t.Errorf("Decode() returned partial results: %d nodes", len(results))
			}
		})
	}
}

func TestDecode_Empty(t *testing.T) {
	results, err := Decode(nil)
	if err != nil {
		t.Fatalf("Decode(nil) error = %v", err)
	}
	if len(results) != 0 {
		t.Errorf("len(results) = %d, want 0", len(results))
	}
}

func TestDecodeOne_GIF(t *testing.T) {
	// 1x1 transparent GIF
	gif := []byte{
		0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00, 0x00,
		0xff, 0xff, 0xff, 0x00, 0x00, 0x00, 0x21, 0xf9, 0x04, 0x01, 0x00, 0x00, 0x00,
		0x00, 0x2c, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x02, 0x02,
		0x44, 0x01, 0x00, 0x3b,
	}

	img, format, err := DecodeOne(gif)
	if err != nil {
		t.Fatalf("DecodeOne() error = %v", err)
	}
	if format != "gif" {
		t.Errorf("format = %q, want gif", format)
	}
	if img.Bounds() != image.Rect(0, 0, 1, 1) {
		t.Errorf("bounds = %v, want 1x1", img.Bounds())
	}
}

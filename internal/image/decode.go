// Package image turns the raw artifact bytes returned by the generation
// server into in-memory images, and back into PNG for upload.
//
// PNG, JPEG, GIF and WebP payloads are recognized.
package image

import (
	"bytes"
	"errors"
	"fmt"
	"image"

	// Registered decoders
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

// ErrDecode indicates an artifact is not a valid image
var ErrDecode = errors.New("failed to decode image")

// Batch holds the raw payloads produced by one output node, in order.
type Batch struct {
	NodeID   string
	Payloads [][]byte
}

// Result holds the decoded images of one output node, in order.
type Result struct {
	NodeID string
	Images []image.Image
	// Formats holds the detected format name of each image ("png", "webp", ...)
	Formats []string
}

// Decode decodes every payload of every batch. Node grouping and order are
// preserved. The first payload that fails to decode aborts the whole call;
// no partial result is returned.
func Decode(batches []Batch) ([]Result, error) {
	results := make([]Result, 0, len(batches))
	for _, batch := range batches {
		res := Result{
			NodeID:  batch.NodeID,
			Images:  make([]image.Image, 0, len(batch.Payloads)),
			Formats: make([]string, 0, len(batch.Payloads)),
		}
		for i, data := range batch.Payloads {
			img, format, err := DecodeOne(data)
			if err != nil {
				return nil, fmt.Errorf("node %s image %d: %w", batch.NodeID, i, err)
			}
			res.Images = append(res.Images, img)
			res.Formats = append(res.Formats, format)
		}
		results = append(results, res)
	}
	return results, nil
}

// DecodeOne decodes a single payload and reports its format.
func DecodeOne(data []byte) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", fmt.Errorf("%w: empty payload", ErrDecode)
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return img, format, nil
}

// Count returns the total number of images across results.
func Count(results []Result) int {
	n := 0
	for _, r := range results {
		n += len(r.Images)
	}
	return n
}

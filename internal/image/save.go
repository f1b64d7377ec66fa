package image

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// ErrInvalidNodeID indicates a node id that cannot be used in a file name
var ErrInvalidNodeID = errors.New("node id is not a safe file name")

// validNodeIDPattern matches ComfyUI node ids, including grouped ids
// such as "12:3".
var validNodeIDPattern = regexp.MustCompile(`^[A-Za-z0-9_:-]+$`)

// Save writes every image of results to dir as PNG and returns the written
// paths in result order. Files are named <node>_<n>.png with n counting from
// 1 within each node; ':' in grouped node ids becomes '-'.
//
// dir is created if needed. Each file is written to a temp file and then
// renamed, so an existing file is replaced atomically. On error the paths
// written so far are returned with it.
func Save(dir string, results []Result) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	var paths []string
	for _, r := range results {
		if !validNodeIDPattern.MatchString(r.NodeID) {
			return paths, fmt.Errorf("%w: %q", ErrInvalidNodeID, r.NodeID)
		}
		base := strings.ReplaceAll(r.NodeID, ":", "-")

		for i, img := range r.Images {
			data, err := EncodePNG(img)
			if err != nil {
				return paths, fmt.Errorf("node %s image %d: %w", r.NodeID, i+1, err)
			}

			path := filepath.Join(dir, fmt.Sprintf("%s_%d.png", base, i+1))
			if err := writeFile(path, data); err != nil {
				return paths, err
			}
			paths = append(paths, path)
		}
	}
	return paths, nil
}

func writeFile(path string, data []byte) error {
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to commit %s: %w", path, err)
	}
	return nil
}

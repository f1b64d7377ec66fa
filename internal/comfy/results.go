package comfy

import (
	"context"
	"fmt"
)

// FetchResults retrieves the manifest of a completed job and downloads every
// image it lists. Nodes without images are left out. Downloads run one at a
// time, nodes and images in the order the manifest gives them.
func (c *Client) FetchResults(ctx context.Context, handle JobHandle) ([]NodeArtifacts, error) {
	manifest, err := c.FetchManifest(ctx, handle)
	if err != nil {
		return nil, err
	}

	var results []NodeArtifacts
	for _, node := range manifest.Nodes {
		if len(node.Images) == 0 {
			continue
		}

		payloads := make([][]byte, 0, len(node.Images))
		for i, ref := range node.Images {
			data, err := c.FetchArtifact(ctx, ref)
			if err != nil {
				return nil, fmt.Errorf("node %s image %d (%s): %w", node.NodeID, i, ref.Filename, err)
			}
			payloads = append(payloads, data)
		}

		c.logger.Debug("Fetched %d images for node %s", len(payloads), node.NodeID)
		results = append(results, NodeArtifacts{NodeID: node.NodeID, Payloads: payloads})
	}

	return results, nil
}

// Package startup provides startup validation and initialization for sektabot.
//
// It checks that the generation server is reachable before the bot starts
// accepting commands, wires the components together and runs the bot until
// a shutdown signal arrives.
package startup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/SektaHub/SektaBot/internal/comfy"
)

// ErrServerNotRunning is returned when the generation server is not reachable
var ErrServerNotRunning = errors.New("comfyui server not reachable")

// validateTimeout is the timeout for the server validation request
const validateTimeout = 5 * time.Second

// ValidateServer checks that the generation server answers /system_stats.
// It returns the reported stats so the caller can log what it connected to.
func ValidateServer(ctx context.Context, client *comfy.Client) (*comfy.SystemStats, error) {
	if client == nil {
		return nil, errors.New("generation client cannot be nil")
	}

	ctx, cancel := context.WithTimeout(ctx, validateTimeout)
	defer cancel()

	stats, err := client.SystemStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w at %s: %w", ErrServerNotRunning, client.BaseURL(), err)
	}
	return stats, nil
}

// DescribeServer summarizes stats for a startup log line.
func DescribeServer(stats *comfy.SystemStats) string {
	if stats == nil {
		return "unknown server"
	}

	version := stats.System.ComfyUIVersion
	if version == "" {
		version = "unknown version"
	}
	if len(stats.Devices) == 0 {
		return fmt.Sprintf("ComfyUI %s (no devices reported)", version)
	}
	d := stats.Devices[0]
	return fmt.Sprintf("ComfyUI %s on %s (%s, %d MiB VRAM free)", version, d.Name, d.Type, d.VRAMFree/(1024*1024))
}

// Command comfygen runs one prompt through the ComfyUI workflow and writes
// the resulting images to disk.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"github.com/SektaHub/SektaBot/internal/config"
	"github.com/SektaHub/SektaBot/internal/image"
	"github.com/SektaHub/SektaBot/internal/startup"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	cfg, err := config.ParseOneShot(args, stderr)
	if errors.Is(err, config.ErrShowHelp) || errors.Is(err, config.ErrShowVersion) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	logger := startup.CreateLogger(cfg)

	components, err := startup.InitializeGenerator(cfg, logger)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	results, err := components.Generator.Generate(ctx, cfg.Prompt, uuid.NewString())
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	paths, err := image.Save(cfg.OutputDir, results)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "Generated %d images\n", image.Count(results))
	for _, p := range paths {
		fmt.Fprintln(stdout, p)
	}
	return 0
}

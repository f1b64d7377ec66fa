// Package generate runs one text-to-image job end to end against a ComfyUI
// server: fill the workflow, subscribe, submit, wait for completion, fetch
// and decode the outputs.
package generate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/SektaHub/SektaBot/internal/comfy"
	"github.com/SektaHub/SektaBot/internal/image"
	"github.com/SektaHub/SektaBot/internal/logging"
	"github.com/SektaHub/SektaBot/internal/workflow"
)

// Generator submits prompts to one server using one workflow template.
// It keeps no per-job state; concurrent Generate calls are independent.
type Generator struct {
	client *comfy.Client
	tmpl   *workflow.Template
	logger *logging.Logger
}

// New creates a Generator. A nil logger discards output.
func New(client *comfy.Client, tmpl *workflow.Template, logger *logging.Logger) (*Generator, error) {
	if client == nil {
		return nil, errors.New("generation client cannot be nil")
	}
	if tmpl == nil {
		return nil, errors.New("workflow template cannot be nil")
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Generator{client: client, tmpl: tmpl, logger: logger}, nil
}

// Generate runs promptText through the workflow and returns the decoded
// images grouped by output node, in the order the server reported them.
// clientID scopes the notification channel and must be unique per call.
//
// An empty result with a nil error means the job finished without producing
// any image.
func (g *Generator) Generate(ctx context.Context, promptText, clientID string) ([]image.Result, error) {
	log := g.logger.With("client_id", clientID)
	start := time.Now()

	// Fill first: a broken template must not open a channel or queue a job.
	doc, err := g.tmpl.Fill(promptText)
	if err != nil {
		log.Error("Workflow template rejected: %v", err)
		return nil, err
	}

	sub, err := g.client.Subscribe(ctx, clientID)
	if err != nil {
		log.Error("Failed to open notification channel: %v", err)
		return nil, err
	}

	handle, err := g.client.Submit(ctx, doc, clientID)
	if err != nil {
		sub.Close()
		log.Error("Failed to submit prompt: %v", err)
		return nil, err
	}
	log = log.With("prompt_id", handle.PromptID)
	log.Info("Submitted prompt (%d chars)", len(promptText))

	state, err := comfy.WaitForCompletion(ctx, sub, g.client.ReceiveTimeout(), log)
	if err != nil {
		log.Error("Wait ended in state %s: %v", state, err)
		return nil, err
	}

	batches, err := g.client.FetchResults(ctx, handle)
	if err != nil {
		log.Error("Failed to fetch results: %v", err)
		return nil, err
	}

	results, err := image.Decode(toBatches(batches))
	if err != nil {
		log.Error("Failed to decode results: %v", err)
		return nil, err
	}

	log.Info("Generated %d images across %d nodes in %v", image.Count(results), len(results), time.Since(start).Round(time.Millisecond))
	return results, nil
}

// Generate is the one-call form: it builds a client for serverAddress, runs
// a single job and returns its images.
func Generate(ctx context.Context, promptText, serverAddress, clientID string, tmpl *workflow.Template, logger *logging.Logger) ([]image.Result, error) {
	client, err := comfy.NewClientWithOptions(serverAddress, comfy.Options{Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	g, err := New(client, tmpl, logger)
	if err != nil {
		return nil, err
	}
	return g.Generate(ctx, promptText, clientID)
}

func toBatches(artifacts []comfy.NodeArtifacts) []image.Batch {
	batches := make([]image.Batch, 0, len(artifacts))
	for _, a := range artifacts {
		batches = append(batches, image.Batch{NodeID: a.NodeID, Payloads: a.Payloads})
	}
	return batches
}

package provider

import (
	"context"
	"strings"
	"time"

	"github.com/jorge-barreto/docgen/internal/failure"
)

// ClaudeGateway generates text with the claude CLI in print mode.
type ClaudeGateway struct {
	Timeout time.Duration
	Options
}

func (g *ClaudeGateway) Generate(ctx context.Context, req Request) (Response, error) {
	args := []string{"-p", req.Prompt}
	if req.Params.Model != "" {
		args = append(args, "--model", req.Params.Model)
	}
	if req.System != "" {
		args = append(args, "--append-system-prompt", req.System)
	}
	out, err := runProcess(ctx, g.Options, req, g.Timeout, "", "claude", args...)
	if err != nil {
		return Response{}, err
	}
	text := strings.TrimSpace(out)
	if text == "" {
		return Response{}, failure.Transientf("claude returned no output")
	}
	return Response{Text: text, Model: req.Params.Model}, nil
}

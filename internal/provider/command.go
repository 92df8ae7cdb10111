package provider

import (
	"context"
	"strings"
	"time"
)

// CommandGateway runs a shell command with the prompt on stdin and takes its
// stdout as the generated text. The system prompt, when set, is sent first
// followed by a blank line. DOCGEN_MODEL and friends are in the environment.
type CommandGateway struct {
	Command string
	Timeout time.Duration
	Options
}

func (g *CommandGateway) Generate(ctx context.Context, req Request) (Response, error) {
	input := req.Prompt
	if req.System != "" {
		input = req.System + "\n\n" + req.Prompt
	}
	out, err := runProcess(ctx, g.Options, req, g.Timeout, input, "bash", "-c", g.Command)
	if err != nil {
		return Response{}, err
	}
	return Response{Text: strings.TrimRight(out, "\n"), Model: req.Params.Model}, nil
}

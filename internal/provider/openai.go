package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/jorge-barreto/docgen/internal/failure"
)

// OpenAIGateway calls an OpenAI-compatible chat completions endpoint through
// the official SDK. The SDK's own retries are off; the executor owns the
// attempt budget.
type OpenAIGateway struct {
	client  openai.Client
	Timeout time.Duration
	// now is replaced in tests to pin Retry-After dates.
	now func() time.Time
}

// NewOpenAIGateway builds a gateway. An empty baseURL uses the SDK default.
func NewOpenAIGateway(baseURL, apiKey string, timeout time.Duration) *OpenAIGateway {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimRight(baseURL, "/")+"/"))
	}
	return &OpenAIGateway{
		client:  openai.NewClient(opts...),
		Timeout: timeout,
		now:     time.Now,
	}
}

func (g *OpenAIGateway) Generate(ctx context.Context, req Request) (Response, error) {
	callCtx := ctx
	if g.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.Timeout)
		defer cancel()
	}

	var msgs []openai.ChatCompletionMessageParamUnion
	if req.System != "" {
		msgs = append(msgs, openai.SystemMessage(req.System))
	}
	msgs = append(msgs, openai.UserMessage(req.Prompt))
	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(req.Params.Model),
		Messages:    msgs,
		Temperature: openai.Float(req.Params.Temperature),
	}
	if req.Params.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.Params.MaxTokens))
	}

	out, err := g.client.Chat.Completions.New(callCtx, params)
	if err != nil {
		if cerr := contextErr(ctx, callCtx.Err()); cerr != nil {
			return Response{}, cerr
		}
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return Response{}, g.statusError(apiErr)
		}
		return Response{}, failure.Transientf("openai: %w", err)
	}
	if len(out.Choices) == 0 {
		return Response{}, failure.Transientf("response has no choices")
	}
	choice := out.Choices[0]
	if choice.FinishReason == "content_filter" {
		return Response{}, failure.Permanentf("content filter blocked the response")
	}
	return Response{Text: choice.Message.Content, Model: out.Model}, nil
}

// statusError maps an API error onto the failure taxonomy: 429 is
// RateLimited (unless the quota is gone), 408, 409 and 5xx are Transient,
// everything else is Permanent.
func (g *OpenAIGateway) statusError(e *openai.Error) error {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	msg = fmt.Sprintf("HTTP %d: %s", e.StatusCode, msg)

	switch {
	case e.StatusCode == http.StatusTooManyRequests:
		// insufficient_quota also arrives as 429 but will not clear by waiting
		if e.Type == "insufficient_quota" || e.Code == "insufficient_quota" {
			return failure.Permanentf("%s", msg)
		}
		var header string
		if e.Response != nil {
			header = e.Response.Header.Get("Retry-After")
		}
		return failure.RateLimitedf(g.retryAfter(header), "%s", msg)
	case e.StatusCode == http.StatusRequestTimeout, e.StatusCode == http.StatusConflict,
		e.StatusCode >= 500:
		return failure.Transientf("%s", msg)
	default:
		return failure.Permanentf("%s", msg)
	}
}

// retryAfter parses a Retry-After header given in seconds or as an HTTP date.
func (g *OpenAIGateway) retryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		now := time.Now
		if g.now != nil {
			now = g.now
		}
		if d := t.Sub(now()); d > 0 {
			return d
		}
	}
	return 0
}

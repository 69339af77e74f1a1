package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/recall/internal/fragment"
)

const (
	defaultTimeout   = 60 * time.Second
	defaultChatModel = "gpt-4o-mini"
	defaultEmbModel  = "text-embedding-3-small"
)

var tracer = otel.Tracer("recall/providers")

// Config configures the collaborator client.
type Config struct {
	BaseURL           string // e.g. "https://api.openai.com/v1"
	APIKey            string
	ChatModel         string
	EmbedModel        string
	TimeoutSeconds    int // per-call hard timeout (default 60)
	RequestsPerMinute int // 0 disables rate limiting
}

// Client talks to an OpenAI-compatible API. It implements both the reasoning
// contract (Evolve/Reconcile) and the embedding contract (Embed).
type Client struct {
	cfg     Config
	httpc   *http.Client
	limiter *rate.Limiter
	timeout time.Duration
}

// NewClient creates a collaborator client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("provider base URL is required")
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = defaultChatModel
	}
	if cfg.EmbedModel == "" {
		cfg.EmbedModel = defaultEmbModel
	}
	timeout := defaultTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), cfg.RequestsPerMinute)
	}

	return &Client{
		cfg:     cfg,
		httpc:   &http.Client{},
		limiter: limiter,
		timeout: timeout,
	}, nil
}

// Evolve asks the model to evolve one fragment view with new session events.
// The instruction is explicitly evolve, not re-summarize: unaffected prior
// content is retained, only what the new events justify is added or revised.
func (c *Client) Evolve(ctx context.Context, kind fragment.Kind, previous json.RawMessage,
	siblings map[fragment.Kind]json.RawMessage, evidence string) (json.RawMessage, error) {
	return c.complete(ctx, "evolve", kind, evolvePrompt(kind), previous, siblings, evidence)
}

// Reconcile asks the model to consolidate one fragment view across a window
// of session snapshots into a new baseline value.
func (c *Client) Reconcile(ctx context.Context, kind fragment.Kind, baseline json.RawMessage,
	siblings map[fragment.Kind]json.RawMessage, evidence string) (json.RawMessage, error) {
	return c.complete(ctx, "reconcile", kind, reconcilePrompt(kind), baseline, siblings, evidence)
}

func (c *Client) complete(ctx context.Context, op string, kind fragment.Kind, system string,
	previous json.RawMessage, siblings map[fragment.Kind]json.RawMessage, evidence string) (json.RawMessage, error) {
	ctx, span := tracer.Start(ctx, "provider."+op)
	defer span.End()
	span.SetAttributes(attribute.String("fragment.kind", string(kind)))

	req := chatRequest{
		Model:          c.cfg.ChatModel,
		Messages:       []chatMessage{{Role: "system", Content: system}, {Role: "user", Content: userPrompt(previous, siblings, evidence)}},
		Temperature:    0.2,
		MaxTokens:      4096,
		ResponseFormat: &responseFormat{Type: "json_object"},
	}

	var resp chatResponse
	if err := c.post(ctx, "/chat/completions", req, &resp); err != nil {
		return nil, fmt.Errorf("%s %s: %w", op, kind, err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("%s %s: api error: %s", op, kind, resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%s %s: empty response", op, kind)
	}

	raw, ok := rawJSON(resp.Choices[0].Message.Content)
	if !ok {
		return nil, fmt.Errorf("%s %s: response is not valid JSON", op, kind)
	}
	return raw, nil
}

// Embed returns one vector per input text, order-preserving. Mode selects the
// query/passage prefix for asymmetric embedding models.
func (c *Client) Embed(ctx context.Context, texts []string, mode string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	ctx, span := tracer.Start(ctx, "provider.embed")
	defer span.End()
	span.SetAttributes(attribute.Int("embed.texts", len(texts)))

	prefix := "search_document: "
	if mode == ModeQuery {
		prefix = "search_query: "
	}
	input := make([]string, len(texts))
	for i, t := range texts {
		input[i] = prefix + t
	}

	var resp embedResponse
	if err := c.post(ctx, "/embeddings", embedRequest{Model: c.cfg.EmbedModel, Input: input}, &resp); err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("embed: api error: %s", resp.Error.Message)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embed: got %d vectors for %d texts", len(resp.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("embed: index %d out of range", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	start := time.Now()
	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		slog.Warn("provider request failed", "path", path, "status", resp.StatusCode, "elapsed", time.Since(start))
		return fmt.Errorf("http %d: %s", resp.StatusCode, truncate(string(data), 200))
	}

	return json.Unmarshal(data, out)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

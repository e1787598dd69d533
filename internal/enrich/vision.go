// Package enrich resolves vendor names from schedule images when a
// source's own extraction leaves the name unresolved. Resolution is best
// effort: every failure is swallowed into "no result" so enrichment can
// never fail a source.
package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ballardtrucks/roundup/internal/errclass"
	"github.com/ballardtrucks/roundup/internal/retry"
)

// NameResolver is the enrichment capability consumed by adapters: given an
// image URL, return the vendor name shown in it, or report no result.
type NameResolver interface {
	ResolveName(ctx context.Context, imageURL string) (string, bool)
}

// Noop never resolves anything. Used when vision analysis is disabled.
type Noop struct{}

// ResolveName implements NameResolver.
func (Noop) ResolveName(context.Context, string) (string, bool) {
	return "", false
}

const (
	defaultEndpoint = "https://api.anthropic.com/v1/messages"
	apiVersion      = "2023-06-01"

	prompt = `Look at this food truck or restaurant logo/image. ` +
		`Extract ONLY the business name. Do not include words like ` +
		`"Food Truck", "Kitchen", "Catering" unless they are part of the ` +
		`actual business name. Reply with the name alone, or NONE if no ` +
		`business name is visible.`
)

// VisionConfig controls the Claude vision client.
type VisionConfig struct {
	APIKey     string
	Model      string
	Endpoint   string
	Timeout    time.Duration
	MaxRetries int
}

// Vision resolves vendor names by sending the image to the Claude
// messages API.
type Vision struct {
	cfg    VisionConfig
	client *http.Client
	logger *zap.Logger
}

// NewVision constructs a Vision resolver.
func NewVision(cfg VisionConfig, logger *zap.Logger) *Vision {
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 2
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Vision{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// ResolveName asks the vision model for the vendor name in the image.
// Transient API failures are retried with exponential backoff; any
// terminal failure yields ("", false), never an error.
func (v *Vision) ResolveName(ctx context.Context, imageURL string) (string, bool) {
	if !strings.HasPrefix(imageURL, "http") {
		return "", false
	}
	name, err := retry.Do(ctx, retry.Config{
		MaxAttempts: v.cfg.MaxRetries + 1,
		BackoffBase: 2,
		BackoffUnit: time.Second,
	}, func(attemptCtx context.Context) (string, error) {
		return v.analyze(attemptCtx, imageURL)
	})
	if err != nil {
		v.logger.Debug("vision analysis failed", zap.String("image", imageURL), zap.Error(err))
		return "", false
	}
	name = strings.TrimSpace(name)
	if name == "" || strings.EqualFold(name, "NONE") {
		return "", false
	}
	v.logger.Info("vendor name resolved from image", zap.String("vendor", name))
	return name, true
}

type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	Messages  []message `json:"messages"`
}

type message struct {
	Role    string    `json:"role"`
	Content []content `json:"content"`
}

type content struct {
	Type   string       `json:"type"`
	Text   string       `json:"text,omitempty"`
	Source *imageSource `json:"source,omitempty"`
}

type imageSource struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

func (v *Vision) analyze(ctx context.Context, imageURL string) (string, error) {
	body, err := json.Marshal(messagesRequest{
		Model:     v.cfg.Model,
		MaxTokens: 200,
		Messages: []message{{
			Role: "user",
			Content: []content{
				{Type: "image", Source: &imageSource{Type: "url", URL: imageURL}},
				{Type: "text", Text: prompt},
			},
		}},
	})
	if err != nil {
		return "", fmt.Errorf("marshal vision request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build vision request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", v.cfg.APIKey)
	req.Header.Set("anthropic-version", apiVersion)

	resp, err := v.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("vision request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &errclass.HTTPError{StatusCode: resp.StatusCode, URL: v.cfg.Endpoint}
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read vision response: %w", err)
	}
	var parsed messagesResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", &errclass.ExtractError{Reason: "vision response was not valid JSON"}
	}
	for _, c := range parsed.Content {
		if c.Type == "text" {
			return c.Text, nil
		}
	}
	return "", &errclass.ExtractError{Reason: "vision response contained no text block"}
}

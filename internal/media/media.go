// Package media brokers single-shot image and video generation through an
// OpenRouter-compatible completion endpoint. Generation models return the
// asset URL in the completion content, either inline in prose or as a bare
// URL, so the result is extracted by pattern match.
package media

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
)

type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
)

// Result carries either a resolved asset URL or a failure reason, never both.
type Result struct {
	URL string
	Err string
}

type Config struct {
	BaseURL    string
	ImageKey   string
	VideoKey   string
	ImageModel string
	VideoModel string
	Timeout    time.Duration
}

type Client struct {
	image   llms.LLM
	video   llms.LLM
	timeout time.Duration
	logger  *zap.Logger
}

var urlPattern = regexp.MustCompile(`https?://[^\s)]+`)

// New builds a client for whichever media kinds have a key configured. A
// missing key is not an error here; the matching Generate call reports it.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://openrouter.ai/api/v1"
	}
	if cfg.ImageModel == "" {
		cfg.ImageModel = "stabilityai/stable-diffusion-xl-base-1.0"
	}
	if cfg.VideoModel == "" {
		cfg.VideoModel = "luma/ray"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}

	c := &Client{timeout: cfg.Timeout, logger: logger}

	if cfg.ImageKey != "" {
		llm, err := openai.New(
			openai.WithToken(cfg.ImageKey),
			openai.WithBaseURL(cfg.BaseURL),
			openai.WithModel(cfg.ImageModel),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to build image client: %w", err)
		}
		c.image = llm
	}

	if cfg.VideoKey != "" {
		llm, err := openai.New(
			openai.WithToken(cfg.VideoKey),
			openai.WithBaseURL(cfg.BaseURL),
			openai.WithModel(cfg.VideoModel),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to build video client: %w", err)
		}
		c.video = llm
	}

	return c, nil
}

// Generate issues one generation request and extracts the asset URL from the
// completion content. All failures come back as Result.Err; callers surface
// them inline rather than failing the surrounding response.
func (c *Client) Generate(ctx context.Context, kind Kind, prompt string) Result {
	var llm llms.LLM
	switch kind {
	case KindImage:
		if c.image == nil {
			return Result{Err: "Image API key not configured"}
		}
		llm = c.image
	case KindVideo:
		if c.video == nil {
			return Result{Err: "Video API key not configured"}
		}
		llm = c.video
	default:
		return Result{Err: fmt.Sprintf("unsupported media kind %q", kind)}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	content, err := llms.GenerateFromSinglePrompt(ctx, llm, prompt)
	if err != nil {
		c.logger.Error("media generation request failed",
			zap.String("kind", string(kind)),
			zap.Error(err))
		return Result{Err: err.Error()}
	}

	return extract(kind, content)
}

func extract(kind Kind, content string) Result {
	if url := urlPattern.FindString(content); url != "" {
		return Result{URL: url}
	}

	snippet := content
	if len(snippet) > 100 {
		snippet = snippet[:100]
	}
	return Result{Err: fmt.Sprintf("Failed to extract %s URL. Response: %s", kind, snippet)}
}

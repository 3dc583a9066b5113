// Package llm talks to the upstream OpenAI-compatible chat-completion API. It
// exposes the streamed response as a sequence of typed chunks and provides the
// assembler that reconstructs tool calls split across stream fragments.
package llm

import (
	"context"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// Tool names the upstream model may call. Both take a single "prompt" string.
const (
	ToolGenerateImage = "generate_image"
	ToolGenerateVideo = "generate_video"
)

// ChatMessage is one turn of upstream context.
type ChatMessage struct {
	Role    string
	Content string
}

type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int64
}

type Client struct {
	api openai.Client
	cfg Config
}

func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("upstream API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://openrouter.ai/api/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "openai/gpt-4o-mini"
	}

	api := openai.NewClient(
		option.WithBaseURL(cfg.BaseURL),
		option.WithAPIKey(cfg.APIKey),
	)

	return &Client{api: api, cfg: cfg}, nil
}

// StreamChat opens a streaming completion with media tools enabled and
// delivers chunks to fn strictly in arrival order, StreamEnd last. A non-nil
// error from fn aborts the stream and is returned unchanged.
func (c *Client) StreamChat(ctx context.Context, msgs []ChatMessage, fn func(Chunk) error) error {
	params := openai.ChatCompletionNewParams{
		Messages: convertMessages(msgs),
		Model:    openai.ChatModel(c.cfg.Model),
		Tools:    mediaTools(),
	}
	if c.cfg.Temperature > 0 {
		params.Temperature = openai.Float(c.cfg.Temperature)
	}
	if c.cfg.MaxTokens > 0 {
		params.MaxTokens = openai.Int(c.cfg.MaxTokens)
	}

	stream := c.api.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta

		for _, tc := range delta.ToolCalls {
			frag := ToolCallFragment{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			}
			if err := fn(frag); err != nil {
				return err
			}
		}

		if delta.Content != "" {
			if err := fn(TextDelta{Text: delta.Content}); err != nil {
				return err
			}
		}
	}

	if err := stream.Err(); err != nil {
		return fmt.Errorf("upstream streaming error: %w", err)
	}

	return fn(StreamEnd{})
}

func convertMessages(msgs []ChatMessage) []openai.ChatCompletionMessageParamUnion {
	result := make([]openai.ChatCompletionMessageParamUnion, len(msgs))
	for i, msg := range msgs {
		switch msg.Role {
		case "system":
			result[i] = openai.SystemMessage(msg.Content)
		case "assistant":
			result[i] = openai.AssistantMessage(msg.Content)
		default:
			result[i] = openai.UserMessage(msg.Content)
		}
	}
	return result
}

// mediaTools declares the two media-generation functions. Tool choice stays
// automatic: the model decides per request whether to call one.
func mediaTools() []openai.ChatCompletionToolUnionParam {
	promptSchema := func(desc string) openai.FunctionParameters {
		return openai.FunctionParameters{
			"type": "object",
			"properties": map[string]any{
				"prompt": map[string]any{
					"type":        "string",
					"description": desc,
				},
			},
			"required": []string{"prompt"},
		}
	}

	return []openai.ChatCompletionToolUnionParam{
		openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        ToolGenerateImage,
			Description: openai.String("Generate an image from a text prompt"),
			Parameters:  promptSchema("Text description of the image to generate"),
		}),
		openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        ToolGenerateVideo,
			Description: openai.String("Generate a short video from a text prompt"),
			Parameters:  promptSchema("Text description of the video to generate"),
		}),
	}
}

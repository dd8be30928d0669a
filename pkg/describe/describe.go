// Package describe captions images through an OpenAI-compatible chat model.
package describe

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"clipbot/pkg/config"

	osdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// maxImageBytes caps what is inlined into one request.
const maxImageBytes = 20 << 20

// Describer produces a short caption for a local image.
type Describer interface {
	Describe(ctx context.Context, imagePath string) (string, error)
}

type Client struct {
	client         osdk.Client
	model          string
	language       string
	requestTimeout time.Duration
	log            *slog.Logger
}

func New(cfg config.DescribeConfig, log *slog.Logger, extra ...option.RequestOption) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		apiKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	}
	if apiKey == "" {
		return nil, errors.New("describe.api_key is required or OPENAI_API_KEY must be set")
	}
	if log == nil {
		log = slog.Default()
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	requestTimeout := time.Duration(cfg.RequestTimeoutSeconds) * time.Second
	if requestTimeout > 0 {
		opts = append(opts, option.WithRequestTimeout(requestTimeout))
	}
	opts = append(opts, extra...)

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = config.DefaultDescribeModel
	}
	language := strings.TrimSpace(cfg.Language)
	if language == "" {
		language = config.DefaultDescribeLanguage
	}

	return &Client{
		client:         osdk.NewClient(opts...),
		model:          model,
		language:       language,
		requestTimeout: requestTimeout,
		log:            log.With("component", "describe.openai"),
	}, nil
}

func (c *Client) Describe(ctx context.Context, imagePath string) (string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	startedAt := time.Now()

	dataURL, err := imageDataURL(imagePath)
	if err != nil {
		return "", err
	}
	c.log.Debug("describe request started", "model", c.model, "path", imagePath)

	completion, err := c.client.Chat.Completions.New(ctx, osdk.ChatCompletionNewParams{
		Model: osdk.ChatModel(c.model),
		Messages: []osdk.ChatCompletionMessageParamUnion{
			osdk.UserMessage([]osdk.ChatCompletionContentPartUnionParam{
				osdk.TextContentPart(prompt(c.language)),
				osdk.ImageContentPart(osdk.ChatCompletionContentPartImageImageURLParam{URL: dataURL}),
			}),
		},
	})
	if err != nil {
		c.log.Debug("describe request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", err)
		return "", fmt.Errorf("describe image failed: %w", err)
	}

	if len(completion.Choices) == 0 {
		return "", errors.New("describe image returned no choices")
	}
	text := strings.TrimSpace(completion.Choices[0].Message.Content)
	if text == "" {
		return "", errors.New("describe image returned no text")
	}
	c.log.Debug("describe request completed", "duration_ms", time.Since(startedAt).Milliseconds(), "response_length", len(text))

	return text, nil
}

func prompt(language string) string {
	return fmt.Sprintf("Describe this image in one or two short sentences. Answer in %s.", language)
}

func imageDataURL(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("stat image: %w", err)
	}
	if info.Size() > maxImageBytes {
		return "", fmt.Errorf("image is %d bytes, limit is %d", info.Size(), maxImageBytes)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read image: %w", err)
	}

	mimeType := http.DetectContentType(content)
	if !strings.HasPrefix(mimeType, "image/") {
		return "", fmt.Errorf("unsupported image content type %q", mimeType)
	}

	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(content), nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.requestTimeout <= 0 {
		return ctx, func() {}
	}

	return context.WithTimeout(ctx, c.requestTimeout)
}

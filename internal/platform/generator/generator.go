// Package generator produces care-plan text through the Anthropic Messages
// API. A Client is built once from an explicit Config; it never reads
// credentials from the environment on its own.
package generator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	DefaultModel     = "claude-sonnet-4-20250514"
	DefaultMaxTokens = 1024
)

// ErrEmptyResponse is wrapped in a GenerationError when the provider answers
// without any text content.
var ErrEmptyResponse = errors.New("care plan response contained no text content")

// Config holds the fixed generation settings.
type Config struct {
	APIKey    string
	BaseURL   string // empty uses the SDK default endpoint
	Model     string
	MaxTokens int64
	Timeout   time.Duration // zero leaves the SDK default in place
}

// GenerationError reports any failure of a generation call. Its message is
// the provider's own error text, which callers persist as diagnostics.
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string {
	return e.Err.Error()
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// Client sends one Messages request per care plan. SDK retries are turned
// off so a single failure is final.
type Client struct {
	api       anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

func New(cfg Config) *Client {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}

	return &Client{
		api:       anthropic.NewClient(opts...),
		model:     anthropic.Model(cfg.Model),
		maxTokens: cfg.MaxTokens,
	}
}

// Generate returns the text of the first content block of the response.
func (c *Client) Generate(ctx context.Context, req Request) (string, error) {
	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(BuildPrompt(req))),
		},
	})
	if err != nil {
		return "", &GenerationError{Err: err}
	}
	if msg == nil || len(msg.Content) == 0 {
		return "", &GenerationError{Err: ErrEmptyResponse}
	}

	first := msg.Content[0]
	if first.Type != "text" {
		return "", &GenerationError{Err: fmt.Errorf("%w: first block has type %q", ErrEmptyResponse, first.Type)}
	}
	return first.Text, nil
}

package ai

import (
	"context"
	"errors"
)

// Request represents a generic inference request against a chat-style API.
type Request struct {
	Model       string
	Prompt      string
	Temperature float64
	MaxTokens   int
	// Vision fields, set for image-edit requests
	ImageBase64 string // base64-encoded page raster
	ImageMIME   string // e.g. "image/jpeg"
}

type Response struct {
	Text string
}

// Client interface for providers (streamed image-edit endpoint, OpenAI,
// Anthropic). Implementations return the full accumulated text.
type Client interface {
	Name() string
	Do(ctx context.Context, req Request) (Response, error)
}

var (
	ErrRateLimited = errors.New("rate_limited")
	ErrEmptyReply  = errors.New("empty_reply")
)

func IsRateLimited(err error) bool { return errors.Is(err, ErrRateLimited) }

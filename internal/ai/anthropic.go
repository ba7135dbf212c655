package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// AnthropicClient is the alternate merge provider.
type AnthropicClient struct {
	http    *http.Client
	baseURL string
	apiKey  string
}

func NewAnthropicClient(baseURL, apiKey string) *AnthropicClient {
	return &AnthropicClient{http: &http.Client{}, baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey}
}

func (c *AnthropicClient) Name() string { return "anthropic" }

type anthropicMsgReq struct {
	Model       string         `json:"model"`
	MaxTokens   int            `json:"max_tokens"`
	Temperature float64        `json:"temperature"`
	Messages    []anthropicMsg `json:"messages"`
}

type anthropicMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicMsgResp struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
}

func (c *AnthropicClient) Do(ctx context.Context, req Request) (Response, error) {
	if c.apiKey == "" {
		return Response{}, errors.New("missing Anthropic API key")
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	payload := anthropicMsgReq{
		Model:       req.Model,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
		Messages:    []anthropicMsg{{Role: "user", Content: req.Prompt}},
	}

	body, _ := json.Marshal(payload)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return Response{}, err
	}
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Response{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return Response{}, ErrRateLimited
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Response{}, fmt.Errorf("anthropic status %d", resp.StatusCode)
	}

	var r anthropicMsgResp
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return Response{}, err
	}
	if len(r.Content) == 0 {
		return Response{}, ErrEmptyReply
	}
	return Response{Text: r.Content[0].Text}, nil
}

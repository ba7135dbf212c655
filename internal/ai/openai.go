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

// OpenAIClient is a plain (non-streaming) chat client used for the text
// block merge step. It speaks to any OpenAI-compatible endpoint.
type OpenAIClient struct {
	http    *http.Client
	baseURL string
	apiKey  string
}

func NewOpenAIClient(baseURL, apiKey string) *OpenAIClient {
	return &OpenAIClient{http: &http.Client{}, baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey}
}

func (c *OpenAIClient) Name() string { return "openai" }

type openAIChatReq struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature float64         `json:"temperature"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatResp struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *OpenAIClient) Do(ctx context.Context, req Request) (Response, error) {
	if c.apiKey == "" {
		return Response{}, errors.New("missing OpenAI API key")
	}

	payload := openAIChatReq{
		Model:       req.Model,
		Messages:    []openAIMessage{{Role: "user", Content: req.Prompt}},
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}

	body, _ := json.Marshal(payload)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Response{}, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
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
		return Response{}, fmt.Errorf("openai status %d", resp.StatusCode)
	}

	var r openAIChatResp
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return Response{}, err
	}
	if len(r.Choices) == 0 {
		return Response{}, ErrEmptyReply
	}
	return Response{Text: r.Choices[0].Message.Content}, nil
}

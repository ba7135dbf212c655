package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ImageGenClient talks to an OpenAI-compatible chat endpoint that performs
// image editing. Responses always arrive as a server-sent-event stream; the
// client accumulates the text deltas into one payload, which the caller
// scans for the regenerated image's URL.
type ImageGenClient struct {
	http    *http.Client
	baseURL string
	apiKey  string
}

// NewImageGenClient builds a client against the full endpoint URL
// (e.g. "http://host/v1/chat/completions").
func NewImageGenClient(baseURL, apiKey string) *ImageGenClient {
	return &ImageGenClient{http: &http.Client{}, baseURL: baseURL, apiKey: apiKey}
}

func (c *ImageGenClient) Name() string { return "imagegen" }

type imageGenReq struct {
	Model    string        `json:"model"`
	Messages []imageGenMsg `json:"messages"`
	Stream   bool          `json:"stream"`
}

type imageGenMsg struct {
	Role    string           `json:"role"`
	Content []map[string]any `json:"content"`
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

func (c *ImageGenClient) Do(ctx context.Context, req Request) (Response, error) {
	payload := imageGenReq{
		Model: req.Model,
		Messages: []imageGenMsg{{
			Role: "user",
			Content: []map[string]any{
				{"type": "text", "text": req.Prompt},
				{"type": "image_url", "image_url": map[string]string{
					"url": fmt.Sprintf("data:%s;base64,%s", req.ImageMIME, req.ImageBase64),
				}},
			},
		}},
		Stream: true,
	}

	body, _ := json.Marshal(payload)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
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
		return Response{}, fmt.Errorf("imagegen status %d", resp.StatusCode)
	}

	text, err := accumulateSSE(resp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("read stream: %w", err)
	}
	if text == "" {
		return Response{}, ErrEmptyReply
	}
	return Response{Text: text}, nil
}

// accumulateSSE concatenates all delta contents from an SSE stream until the
// [DONE] sentinel or EOF. Malformed chunks are skipped, not fatal.
func accumulateSSE(r io.Reader) (string, error) {
	var full strings.Builder
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}
		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) > 0 {
			full.WriteString(chunk.Choices[0].Delta.Content)
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return full.String(), nil
}

package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOpenAIDo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Fatalf("missing auth header, got %q", got)
		}
		var req openAIChatReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if req.Temperature != 0.1 || req.Messages[0].Content != "merge these" {
			t.Fatalf("unexpected request: %+v", req)
		}
		fmt.Fprint(w, `{"choices":[{"message":{"content":"[]"}}]}`)
	}))
	defer srv.Close()

	c := NewOpenAIClient(srv.URL, "sk-test")
	resp, err := c.Do(context.Background(), Request{Model: "gpt-4o", Prompt: "merge these", Temperature: 0.1})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if resp.Text != "[]" {
		t.Fatalf("unexpected text %q", resp.Text)
	}
}

func TestOpenAIMissingKey(t *testing.T) {
	c := NewOpenAIClient("http://unused", "")
	if _, err := c.Do(context.Background(), Request{}); err == nil {
		t.Fatal("expected error for missing key")
	}
}

func TestOpenAINoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[]}`)
	}))
	defer srv.Close()

	c := NewOpenAIClient(srv.URL, "k")
	if _, err := c.Do(context.Background(), Request{}); !errors.Is(err, ErrEmptyReply) {
		t.Fatalf("expected ErrEmptyReply, got %v", err)
	}
}

func TestAnthropicDo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "ak-test" || r.Header.Get("anthropic-version") == "" {
			t.Fatal("missing anthropic headers")
		}
		var req anthropicMsgReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if req.MaxTokens != 4096 {
			t.Fatalf("expected default max_tokens 4096, got %d", req.MaxTokens)
		}
		fmt.Fprint(w, `{"content":[{"text":"merged"}]}`)
	}))
	defer srv.Close()

	c := NewAnthropicClient(srv.URL, "ak-test")
	resp, err := c.Do(context.Background(), Request{Model: "claude", Prompt: "merge"})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if resp.Text != "merged" {
		t.Fatalf("unexpected text %q", resp.Text)
	}
}

func TestAnthropicRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewAnthropicClient(srv.URL, "k")
	if _, err := c.Do(context.Background(), Request{}); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

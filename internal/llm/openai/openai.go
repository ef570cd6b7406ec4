package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"stockcast/internal/interfaces"
	"stockcast/internal/store"
	"stockcast/internal/trace"
)

// Oracle implements the Oracle interface over the OpenAI chat completions API.
type Oracle struct {
	cfg      *store.Config
	endpoint string
}

// New creates an OpenAI oracle. Endpoint override via OPENAI_API_ENDPOINT.
func New(cfg *store.Config) *Oracle {
	endpoint := "https://api.openai.com/v1/chat/completions"
	if ep := os.Getenv("OPENAI_API_ENDPOINT"); ep != "" {
		endpoint = ep
	}
	return &Oracle{cfg: cfg, endpoint: endpoint}
}

var _ interfaces.Oracle = (*Oracle)(nil)

// Call sends one system+user exchange and returns the assistant text.
func (o *Oracle) Call(ctx context.Context, system, user string) (string, error) {
	ctx, span := trace.StartSpan(ctx, "openai-api-call")
	defer span.End()

	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return "", errors.New("OPENAI_API_KEY missing")
	}

	body := map[string]any{
		"model": o.cfg.LLM.Model,
		"messages": []map[string]string{
			{"role": "system", "content": system},
			{"role": "user", "content": user},
		},
		"temperature": o.cfg.LLM.Temperature,
		"max_tokens":  o.cfg.LLM.MaxTokens,
	}
	bb, _ := json.Marshal(body)

	req, err := http.NewRequestWithContext(ctx, "POST", o.endpoint, bytes.NewReader(bb))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("openai http %d", resp.StatusCode)
	}

	var r struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return "", err
	}

	if len(r.Choices) == 0 {
		return "", errors.New("no choices")
	}

	return strings.TrimSpace(r.Choices[0].Message.Content), nil
}

package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"stockcast/internal/interfaces"
	"stockcast/internal/store"
	"stockcast/internal/trace"
)

// Oracle implements the Oracle interface over the Anthropic messages API.
type Oracle struct {
	cfg      *store.Config
	endpoint string
}

// New creates an Anthropic oracle. If you use a proxy/bedrock/vertex, set
// the endpoint via ANTHROPIC_API_ENDPOINT.
func New(cfg *store.Config) *Oracle {
	endpoint := "https://api.anthropic.com/v1/messages"
	if ep := os.Getenv("ANTHROPIC_API_ENDPOINT"); ep != "" {
		endpoint = ep
	}
	return &Oracle{cfg: cfg, endpoint: endpoint}
}

var _ interfaces.Oracle = (*Oracle)(nil)

// Call sends one system+user exchange and returns the assistant text.
func (o *Oracle) Call(ctx context.Context, system, user string) (string, error) {
	ctx, span := trace.StartSpan(ctx, "anthropic-api-call")
	defer span.End()

	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return "", errors.New("ANTHROPIC_API_KEY missing")
	}

	reqBody := map[string]any{
		"model":  o.cfg.LLM.Model,
		"system": system,
		"messages": []map[string]string{
			{"role": "user", "content": user},
		},
		"max_tokens":  o.cfg.LLM.MaxTokens,
		"temperature": o.cfg.LLM.Temperature,
	}

	bb, _ := json.Marshal(reqBody)
	req, err := http.NewRequestWithContext(ctx, "POST", o.endpoint, bytes.NewReader(bb))
	if err != nil {
		return "", err
	}
	req.Header.Set("x-api-key", apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("anthropic http %d: %s", resp.StatusCode, string(body))
	}

	respBytes, _ := io.ReadAll(resp.Body)

	// Drill common response shapes for the assistant text
	var anyResp any
	if err := json.Unmarshal(respBytes, &anyResp); err != nil {
		return string(respBytes), nil
	}

	if m, ok := anyResp.(map[string]any); ok {
		// messages API: content is an array of {type, text} blocks
		if content, found := m["content"]; found {
			if arr, ok2 := content.([]any); ok2 {
				var parts []string
				for _, block := range arr {
					if bm, ok3 := block.(map[string]any); ok3 {
						if s, ok4 := bm["text"].(string); ok4 {
							parts = append(parts, s)
						}
					}
				}
				if len(parts) > 0 {
					return strings.Join(parts, "\n"), nil
				}
			}
			if s, ok2 := content.(string); ok2 && strings.TrimSpace(s) != "" {
				return s, nil
			}
		}
		// legacy completion-style fields
		for _, k := range []string{"completion", "output", "output_text", "completion_text", "result"} {
			if v, exists := m[k]; exists {
				if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
					return s, nil
				}
			}
		}
	}

	return string(respBytes), nil
}

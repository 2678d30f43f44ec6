package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	DefaultOllamaURL = "http://localhost:11434"

	ollamaShowEndpoint  = "/api/show"
	ollamaEmbedEndpoint = "/api/embed"
	ollamaHTTPTimeout   = 60 * time.Second
)

// Ollama implements Model against a local Ollama server.
type Ollama struct {
	baseURL string
	model   string
	client  *http.Client
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Error      string      `json:"error"`
}

func NewOllama(baseURL, model string) *Ollama {
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	return &Ollama{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client: &http.Client{
			Timeout:   ollamaHTTPTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// OllamaLoader returns a Loader that checks the server knows the spec's model.
func OllamaLoader(baseURL string) Loader {
	return func(ctx context.Context, spec Spec) (Model, error) {
		m := NewOllama(baseURL, spec.ID)
		if err := m.show(ctx); err != nil {
			return nil, err
		}
		return m, nil
	}
}

func (o *Ollama) Reentrant() bool { return true }

func (o *Ollama) show(ctx context.Context) error {
	body, err := json.Marshal(map[string]string{"model": o.model})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	resp, err := o.post(ctx, ollamaShowEndpoint, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("ollama model %q: status %d: %s", o.model, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

func (o *Ollama) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(ollamaEmbedRequest{Model: o.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	resp, err := o.post(ctx, ollamaEmbedEndpoint, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	var out ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("ollama API error: %s", out.Error)
	}
	return out.Embeddings, nil
}

func (o *Ollama) post(ctx context.Context, path string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama request failed: %w", err)
	}
	return resp, nil
}

package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// OllamaBackend calls the Ollama /api/embed endpoint.
type OllamaBackend struct {
	apiURL  string
	model   string
	timeout time.Duration
	client  *http.Client
	dim     int
}

type OllamaEmbeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type OllamaEmbeddingResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
}

func NewOllamaBackend(apiURL, model string, timeout time.Duration) *OllamaBackend {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OllamaBackend{
		apiURL:  apiURL,
		model:   model,
		timeout: timeout,
		client:  http.DefaultClient,
	}
}

// LoadOllama returns a Loader that pulls the model into memory with a warmup
// request and learns the vector size from its answer.
func LoadOllama(apiURL, model string, timeout time.Duration) Loader {
	return func(ctx context.Context) (Backend, error) {
		b := NewOllamaBackend(apiURL, model, timeout)
		vecs, err := b.Embed(ctx, []string{"warmup"})
		if err != nil {
			return nil, fmt.Errorf("ollama warmup: %w", err)
		}
		if len(vecs) != 1 || len(vecs[0]) == 0 {
			return nil, fmt.Errorf("ollama warmup: empty embedding from model %s", model)
		}
		b.dim = len(vecs[0])
		return b, nil
	}
}

func (b *OllamaBackend) Dimension() int {
	return b.dim
}

func (b *OllamaBackend) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(OllamaEmbeddingRequest{Model: b.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.apiURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("ollama API error: status %d, body: %s", resp.StatusCode, string(body))
	}

	var ollamaResp OllamaEmbeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&ollamaResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if len(ollamaResp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama returned %d embeddings for %d inputs", len(ollamaResp.Embeddings), len(texts))
	}

	out := make([][]float32, len(ollamaResp.Embeddings))
	for i, e := range ollamaResp.Embeddings {
		v := make([]float32, len(e))
		for j, x := range e {
			v[j] = float32(x)
		}
		out[i] = v
	}
	return out, nil
}

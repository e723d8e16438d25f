package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// OllamaEmbedder generates embeddings via a local Ollama server's
// /api/embed endpoint, grounded on the teacher's embedding provider.
type OllamaEmbedder struct {
	baseURL   string
	model     string
	dimension int
	client    *http.Client
	logger    *zap.Logger
}

type embedRequest struct {
	Model string      `json:"model"`
	Input interface{} `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// NewOllamaEmbedder probes the model once at construction to learn its
// output dimension, the way the teacher's NewOllamaEmbedder does.
func NewOllamaEmbedder(baseURL, model string, logger *zap.Logger) (*OllamaEmbedder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &OllamaEmbedder{
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	probe, err := e.Embed(ctx, "dimension probe")
	if err != nil {
		return nil, fmt.Errorf("probe embedding dimension for %s: %w", model, err)
	}
	e.dimension = len(probe)
	logger.Info("memory embedder ready", zap.String("model", model), zap.Int("dimension", e.dimension))
	return e, nil
}

func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.doEmbed(ctx, text)
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("empty embedding response from ollama")
	}
	return vectors[0], nil
}

func (e *OllamaEmbedder) Dimension() int { return e.dimension }

func (e *OllamaEmbedder) doEmbed(ctx context.Context, input interface{}) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Model: e.model, Input: input})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		e.logger.Warn("ollama embed request failed, retrying", zap.Error(err))
		resp, err = e.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("ollama embed request failed after retry: %w", err)
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama embed returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var decoded embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	if len(decoded.Embeddings) == 0 {
		return nil, fmt.Errorf("ollama returned empty embeddings array")
	}
	return decoded.Embeddings, nil
}

// Package embedding is the client for the external embedding producer.
// The coordinator treats embedding as best-effort: a failed or timed-out
// call yields a zero vector and the query proceeds with degraded quality.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mosaicdb/mosaicdb/pkg/common/errors"
)

// Embedder turns text into fixed-dimension dense vectors.
type Embedder interface {
	Encode(ctx context.Context, text string) []float32
	EncodeBatch(ctx context.Context, texts []string) [][]float32
	Dim() int
}

// HTTPEmbedder calls an OpenAI-compatible /v1/embeddings endpoint.
type HTTPEmbedder struct {
	endpoint string
	model    string
	dim      int
	client   *http.Client
	logger   *zap.Logger
}

// NewHTTPEmbedder creates an embedder client.
func NewHTTPEmbedder(endpoint, model string, dim int, logger *zap.Logger) *HTTPEmbedder {
	return &HTTPEmbedder{
		endpoint: endpoint,
		model:    model,
		dim:      dim,
		client:   &http.Client{Timeout: 10 * time.Second},
		logger:   logger,
	}
}

// Dim reports the vector dimension.
func (e *HTTPEmbedder) Dim() int { return e.dim }

// Encode embeds one text, falling back to a zero vector on failure.
func (e *HTTPEmbedder) Encode(ctx context.Context, text string) []float32 {
	vecs := e.EncodeBatch(ctx, []string{text})
	return vecs[0]
}

// EncodeBatch embeds several texts in one call. Positions that could not
// be embedded hold zero vectors.
func (e *HTTPEmbedder) EncodeBatch(ctx context.Context, texts []string) [][]float32 {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = make([]float32, e.dim)
	}
	if len(texts) == 0 {
		return out
	}

	vecs, err := e.request(ctx, texts)
	if err != nil {
		e.logger.Warn("embedding request failed, using zero vectors",
			zap.Int("texts", len(texts)),
			zap.Error(err))
		return out
	}
	for i, v := range vecs {
		if i < len(out) && len(v) == e.dim {
			out[i] = v
		}
	}
	return out
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (e *HTTPEmbedder) request(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embeddingRequest{Model: e.model, Input: texts})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint+"/v1/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf(errors.ErrInternal, "embedding endpoint returned %d", resp.StatusCode)
	}

	var parsed embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}

	vecs := make([][]float32, len(texts))
	for _, d := range parsed.Data {
		if d.Index >= 0 && d.Index < len(vecs) {
			vecs[d.Index] = d.Embedding
		}
	}
	return vecs, nil
}

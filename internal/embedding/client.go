// Package embedding wraps an OpenAI-compatible embeddings endpoint used to
// vectorize news articles for semantic search.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/leeksaver/leeksaver/internal/errkind"
)

// Client calls the embeddings endpoint.
type Client struct {
	baseURL   string
	model     string
	dimension int
	batchSize int
	http      *http.Client
}

// New creates a client. baseURL empty disables embedding work; callers
// check Enabled before scheduling.
func New(baseURL, model string, dimension, batchSize int) *Client {
	if batchSize <= 0 {
		batchSize = 64
	}
	return &Client{
		baseURL:   baseURL,
		model:     model,
		dimension: dimension,
		batchSize: batchSize,
		http:      &http.Client{Timeout: 60 * time.Second},
	}
}

// Enabled reports whether an endpoint is configured.
func (c *Client) Enabled() bool { return c.baseURL != "" }

// MaxBatchSize is the largest input slice Embed accepts per call.
func (c *Client) MaxBatchSize() int { return c.batchSize }

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed vectorizes up to MaxBatchSize texts, returning one vector per input
// in order.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if !c.Enabled() {
		return nil, errkind.New(errkind.ConfigError, "embedding endpoint not configured")
	}
	if len(texts) == 0 {
		return nil, nil
	}
	if len(texts) > c.batchSize {
		return nil, errkind.Newf(errkind.ValidationRejected,
			"batch of %d exceeds limit %d", len(texts), c.batchSize)
	}

	body, err := json.Marshal(embedRequest{Model: c.model, Input: texts})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errkind.Wrap(err, errkind.KindOf(err), "embed request")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, errkind.New(errkind.RateLimited, "embedding endpoint throttled")
	case resp.StatusCode >= 500:
		return nil, errkind.Newf(errkind.UpstreamUnavailable, "embedding endpoint returned %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, errkind.Newf(errkind.ValidationRejected, "embedding endpoint returned %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 128<<20))
	if err != nil {
		return nil, err
	}
	var out embedResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, errkind.Wrap(err, errkind.SchemaDrift, "decode embedding response")
	}
	if len(out.Data) != len(texts) {
		return nil, errkind.Newf(errkind.SchemaDrift,
			"got %d vectors for %d inputs", len(out.Data), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for _, d := range out.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, errkind.Newf(errkind.SchemaDrift, "vector index %d out of range", d.Index)
		}
		if c.dimension > 0 && len(d.Embedding) != c.dimension {
			return nil, errkind.Newf(errkind.SchemaDrift,
				"vector has %d dimensions, expected %d", len(d.Embedding), c.dimension)
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}

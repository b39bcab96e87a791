// Package embedding provides the embedder used to vectorise chunks and queries.
//
// The provider is reached through langchaingo's OpenAI-compatible client. Calls are
// split into provider-sized batches and every batch runs under its own timeout.
package embedding

import (
	"context"
	"fmt"
	"time"

	"docqa-go/internal/config"
	"docqa-go/pkg/errs"
	"docqa-go/pkg/log"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

const (
	defaultBatchSize = 64
	defaultTimeout   = 60 * time.Second
)

// Embedder maps texts to fixed-dimension vectors.
type Embedder interface {
	embeddings.Embedder
	// Model names the embedding model; vectors from different models are not comparable.
	Model() string
}

// Client wraps a langchaingo embedder with batching, timeouts and result validation.
type Client struct {
	next      embeddings.Embedder
	model     string
	batchSize int
	timeout   time.Duration
}

// NewClient creates a client for an OpenAI-compatible embeddings endpoint.
func NewClient(cfg config.EmbeddingConfig) (*Client, error) {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	llm, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithToken(cfg.APIKey),
		openai.WithEmbeddingModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("init embedding provider: %w", err)
	}
	embedder, err := embeddings.NewEmbedder(llm,
		embeddings.WithBatchSize(batchSize),
		embeddings.WithStripNewLines(false),
	)
	if err != nil {
		return nil, fmt.Errorf("init embedder: %w", err)
	}
	return New(embedder, cfg.Model, batchSize, cfg.Timeout), nil
}

// New wraps an existing langchaingo embedder.
func New(next embeddings.Embedder, model string, batchSize int, timeout time.Duration) *Client {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{next: next, model: model, batchSize: batchSize, timeout: timeout}
}

// Model implements Embedder.
func (c *Client) Model() string {
	return c.model
}

// EmbedDocuments returns one vector per text, in input order. Any provider failure aborts
// the whole call; there are no retries.
func (c *Client) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, 0, len(texts))
	dim := 0
	for start := 0; start < len(texts); start += c.batchSize {
		end := min(start+c.batchSize, len(texts))
		vectors, err := c.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embed texts %d-%d: %w", start, end-1, err)
		}
		for i, v := range vectors {
			if dim == 0 {
				dim = len(v)
			}
			if len(v) != dim {
				return nil, fmt.Errorf("text %d has dimension %d, want %d: %w", start+i, len(v), dim, errs.ErrEmbeddingProvider)
			}
		}
		out = append(out, vectors...)
		log.Debugf("[Embedding] 完成批次 %d-%d/%d, model: %s", start, end-1, len(texts), c.model)
	}
	return out, nil
}

func (c *Client) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	vectors, err := c.next.EmbedDocuments(cctx, batch)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrEmbeddingProvider, err)
	}
	if len(vectors) != len(batch) {
		return nil, fmt.Errorf("provider returned %d vectors for %d texts: %w", len(vectors), len(batch), errs.ErrEmbeddingProvider)
	}
	for i, v := range vectors {
		if len(v) == 0 {
			return nil, fmt.Errorf("provider returned an empty vector for text %d: %w", i, errs.ErrEmbeddingProvider)
		}
	}
	return vectors, nil
}

// EmbedQuery embeds a single query text.
func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	vector, err := c.next.EmbedQuery(cctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w: %w", errs.ErrEmbeddingProvider, err)
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("embed query: empty vector: %w", errs.ErrEmbeddingProvider)
	}
	return vector, nil
}

var _ Embedder = (*Client)(nil)

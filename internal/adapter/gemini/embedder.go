package gemini

import (
	"context"
	"log/slog"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const (
	Provider  = "gemini"
	ModelName = "gemini-embedding-001"

	// Dimensions and pricing of the configured embedding model; recorded
	// on the embedding_models row at bootstrap.
	Dimensions      = 1536
	CostPer1KTokens = 0.00015
)

type Embedder struct {
	client *genai.Client
	model  string
}

func NewEmbedder(ctx context.Context, apiKey string) (*Embedder, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	return &Embedder{client: client, model: ModelName}, nil
}

// Embed returns the embedding vector for text along with the token count
// the call consumed, so callers can price the request against the daily
// budget.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float64, int, error) {
	slog.DebugContext(ctx, "embedding content", "model", e.model, "length", len(text))

	em := e.client.EmbeddingModel(e.model)
	res, err := em.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		slog.ErrorContext(ctx, "embedding failed", "error", err)
		return nil, 0, err
	}
	if res.Embedding == nil {
		return nil, 0, nil
	}

	vec := make([]float64, len(res.Embedding.Values))
	for i, v := range res.Embedding.Values {
		vec[i] = float64(v)
	}

	return vec, e.countTokens(ctx, text), nil
}

func (e *Embedder) countTokens(ctx context.Context, text string) int {
	resp, err := e.client.GenerativeModel(e.model).CountTokens(ctx, genai.Text(text))
	if err != nil {
		// Billing still needs a number; approximate at 4 chars per token.
		slog.WarnContext(ctx, "token count failed, estimating", "error", err)
		return (len(text) + 3) / 4
	}
	return int(resp.TotalTokens)
}

func (e *Embedder) Close() error {
	return e.client.Close()
}

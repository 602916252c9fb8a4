package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
)

// ErrRateLimited marks provider throttling; the only provider error
// worth retrying with backoff.
var ErrRateLimited = errors.New("embedding provider rate limited")

// Provider turns texts into vectors. One implementation per backend.
type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
}

type OpenAIProvider struct {
	client *openai.Client
	model  string
}

func NewOpenAIProvider(apiKey, model string) *OpenAIProvider {
	return &OpenAIProvider{
		client: openai.NewClient(apiKey),
		model:  model,
	}
}

func (p *OpenAIProvider) Model() string {
	return p.model
}

func (p *OpenAIProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(p.model),
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusTooManyRequests {
			return nil, fmt.Errorf("%w: %v", ErrRateLimited, err)
		}
		return nil, fmt.Errorf("failed to generate embeddings: %w", err)
	}

	embeddings := make([][]float32, len(resp.Data))
	for i, data := range resp.Data {
		vector := make([]float32, len(data.Embedding))
		copy(vector, data.Embedding)
		embeddings[i] = vector
	}
	return embeddings, nil
}

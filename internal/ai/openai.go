// internal/ai/openai.go
package ai

import (
	"github.com/sashabaranov/go-openai"
)

type EmbeddingService struct {
	client *openai.Client
	model  openai.EmbeddingModel
}

func NewEmbeddingService(apiKey string) *EmbeddingService {
	return &EmbeddingService{
		client: openai.NewClient(apiKey),
		model:  openai.AdaEmbeddingV2,
	}
}

// Model reports the embedding model name recorded alongside stored vectors.
func (s *EmbeddingService) Model() string {
	return string(s.model)
}

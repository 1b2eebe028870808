package voyage

import (
	"context"
	"errors"
	"fmt"

	"github.com/austinfhunter/voyageai"
)

const DefaultDimensions = 1024

const DefaultModel = "voyage-3.5-lite"

type EmbeddingType string

const (
	EmbeddingTypeDocument EmbeddingType = "document"
	EmbeddingTypeQuery    EmbeddingType = "query"
	EmbeddingTypeDefault  EmbeddingType = ""
)

// embedFunc matches voyageai.VoyageClient.Embed, reduced to the payload we read
type embedFunc func(texts []string, model string, opts *voyageai.EmbeddingRequestOpts) ([]voyageai.EmbeddingObject, error)

// Service generates embeddings with Voyage AI. Each Service owns its client.
type Service struct {
	embed      embedFunc
	dimensions int
	model      string
}

// NewService creates an embedding service for the given key
func NewService(apiKey string) (*Service, error) {
	if apiKey == "" {
		return nil, errors.New("voyage api key is empty")
	}
	client := voyageai.NewClient(&voyageai.VoyageClientOpts{Key: apiKey})

	return &Service{
		embed: func(texts []string, model string, opts *voyageai.EmbeddingRequestOpts) ([]voyageai.EmbeddingObject, error) {
			resp, err := client.Embed(texts, model, opts)
			if err != nil {
				return nil, err
			}
			return resp.Data, nil
		},
		dimensions: DefaultDimensions,
		model:      DefaultModel,
	}, nil
}

// SetDimensions sets the output dimension; non-positive values are ignored
func (s *Service) SetDimensions(dimensions int) {
	if dimensions > 0 {
		s.dimensions = dimensions
	}
}

// SetModel sets the embedding model; empty values are ignored
func (s *Service) SetModel(model string) {
	if model != "" {
		s.model = model
	}
}

// Dimensions returns the dimension count requested from the model
func (s *Service) Dimensions() int {
	return s.dimensions
}

// Model returns the configured model name
func (s *Service) Model() string {
	return s.model
}

// GenerateEmbedding generates an embedding for a single text
func (s *Service) GenerateEmbedding(ctx context.Context, text string, embeddingType EmbeddingType) ([]float32, error) {
	data, err := s.GenerateEmbeddings(ctx, []string{text}, embeddingType)
	if err != nil {
		return nil, err
	}
	return data[0], nil
}

// GenerateEmbeddings embeds several texts in one request, preserving order
func (s *Service) GenerateEmbeddings(ctx context.Context, texts []string, embeddingType EmbeddingType) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(texts) == 0 {
		return nil, nil
	}

	dimensions := s.dimensions
	data, err := s.embed(texts, s.model, &voyageai.EmbeddingRequestOpts{
		InputType:       parseEmbeddingType(embeddingType),
		OutputDimension: &dimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("could not get embeddings: %w", err)
	}
	if len(data) != len(texts) {
		return nil, fmt.Errorf("voyage returned %d embeddings for %d texts", len(data), len(texts))
	}

	out := make([][]float32, len(data))
	for i, obj := range data {
		if len(obj.Embedding) == 0 {
			return nil, fmt.Errorf("voyage returned an empty embedding at index %d", i)
		}
		out[i] = obj.Embedding
	}
	return out, nil
}

func parseEmbeddingType(embeddingType EmbeddingType) *string {
	if embeddingType != EmbeddingTypeDefault {
		value := string(embeddingType)
		return &value
	}
	return nil
}

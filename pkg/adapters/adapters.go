package adapters

import (
	"context"
	"fmt"
	"os"

	openaisdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/FrenchMajesty/ingredient-filter/pkg/adapters/pinecone"
	"github.com/FrenchMajesty/ingredient-filter/pkg/adapters/voyage"
	"github.com/FrenchMajesty/ingredient-filter/pkg/types"
)

// VoyageEmbeddingAdapter adapts the Voyage service to resolver.EmbeddingClient
type VoyageEmbeddingAdapter struct {
	client interface {
		GenerateEmbedding(ctx context.Context, text string, embeddingType voyage.EmbeddingType) ([]float32, error)
	}
}

// NewVoyageEmbeddingAdapter creates a Voyage adapter. A nil apiKey falls back to
// VOYAGEAI_API_KEY; zero model/dimensions keep the service defaults.
func NewVoyageEmbeddingAdapter(apiKey *string, model string, dimensions int) (*VoyageEmbeddingAdapter, error) {
	key, err := loadEnvVar(apiKey, "VOYAGEAI_API_KEY")
	if err != nil {
		return nil, err
	}

	service, err := voyage.NewService(*key)
	if err != nil {
		return nil, err
	}
	service.SetModel(model)
	service.SetDimensions(dimensions)

	return &VoyageEmbeddingAdapter{client: service}, nil
}

// GenerateEmbedding implements resolver.EmbeddingClient. Ingredient names are
// embedded as documents so stored and queried vectors share one space.
func (a *VoyageEmbeddingAdapter) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	return a.client.GenerateEmbedding(ctx, text, voyage.EmbeddingTypeDocument)
}

const defaultOpenAIEmbeddingModel = openaisdk.EmbeddingModelTextEmbedding3Small

// OpenAIEmbeddingAdapter generates embeddings with the official OpenAI SDK
type OpenAIEmbeddingAdapter struct {
	client     openaisdk.Client
	model      string
	dimensions int
}

// NewOpenAIEmbeddingAdapter creates an OpenAI embeddings adapter. A nil apiKey
// falls back to OPENAI_API_KEY.
func NewOpenAIEmbeddingAdapter(apiKey *string, model string, dimensions int, opts ...option.RequestOption) (*OpenAIEmbeddingAdapter, error) {
	key, err := loadEnvVar(apiKey, "OPENAI_API_KEY")
	if err != nil {
		return nil, err
	}
	if model == "" {
		model = defaultOpenAIEmbeddingModel
	}

	opts = append([]option.RequestOption{option.WithAPIKey(*key)}, opts...)
	return &OpenAIEmbeddingAdapter{
		client:     openaisdk.NewClient(opts...),
		model:      model,
		dimensions: dimensions,
	}, nil
}

// GenerateEmbedding implements resolver.EmbeddingClient
func (a *OpenAIEmbeddingAdapter) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	params := openaisdk.EmbeddingNewParams{
		Input: openaisdk.EmbeddingNewParamsInputUnion{OfString: openaisdk.String(text)},
		Model: openaisdk.EmbeddingModel(a.model),
	}
	if a.dimensions > 0 {
		params.Dimensions = openaisdk.Int(int64(a.dimensions))
	}

	resp, err := a.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("could not get embedding: %w", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("openai returned no embedding")
	}

	out := make([]float32, len(resp.Data[0].Embedding))
	for i, v := range resp.Data[0].Embedding {
		out[i] = float32(v)
	}
	return out, nil
}

// PineconeVectorAdapter adapts a Pinecone index to similarity.VectorClient
type PineconeVectorAdapter struct {
	index interface {
		Search(ctx context.Context, queryVector []float32, topK int, filter map[string]any, includeMetadata bool) ([]pinecone.QueryMatch, error)
		Upsert(ctx context.Context, vectors []pinecone.Vector) error
		Delete(ctx context.Context, ids []string) error
	}
}

// NewPineconeVectorAdapter connects to a Pinecone index. Nil apiKey/host fall
// back to PINECONE_API_KEY and PINECONE_HOST.
func NewPineconeVectorAdapter(apiKey *string, host *string, namespace string) (*PineconeVectorAdapter, error) {
	key, err := loadEnvVar(apiKey, "PINECONE_API_KEY")
	if err != nil {
		return nil, err
	}

	h, err := loadEnvVar(host, "PINECONE_HOST")
	if err != nil {
		return nil, err
	}

	service, err := pinecone.NewService(*key)
	if err != nil {
		return nil, fmt.Errorf("failed to create pinecone service: %w", err)
	}

	index, err := service.ForIndex(*h, namespace)
	if err != nil {
		return nil, err
	}

	return &PineconeVectorAdapter{index: index}, nil
}

// Search implements similarity.VectorClient
func (a *PineconeVectorAdapter) Search(ctx context.Context, vector []float32, topK int) ([]types.VectorMatch, error) {
	matches, err := a.index.Search(ctx, vector, topK, nil, true)
	if err != nil {
		return nil, err
	}

	results := make([]types.VectorMatch, 0, len(matches))
	for _, match := range matches {
		if match.Vector == nil {
			continue
		}
		metadata := map[string]any{}
		if match.Vector.Metadata != nil {
			metadata = match.Vector.Metadata.AsMap()
		}

		results = append(results, types.VectorMatch{
			ID:       match.Vector.Id,
			Score:    match.Score,
			Metadata: metadata,
		})
	}

	return results, nil
}

// Upsert implements similarity.VectorClient
func (a *PineconeVectorAdapter) Upsert(ctx context.Context, id string, vector []float32, metadata map[string]any) error {
	metadataStruct, err := structpb.NewStruct(metadata)
	if err != nil {
		return fmt.Errorf("invalid vector metadata: %w", err)
	}

	return a.index.Upsert(ctx, []pinecone.Vector{
		{
			Id:       id,
			Values:   vector,
			Metadata: metadataStruct,
		},
	})
}

// Delete implements similarity.VectorClient
func (a *PineconeVectorAdapter) Delete(ctx context.Context, ids []string) error {
	return a.index.Delete(ctx, ids)
}

// loadEnvVar returns target, or the value of envKey when target is nil or empty
func loadEnvVar(target *string, envKey string) (*string, error) {
	if target == nil || *target == "" {
		envVar := os.Getenv(envKey)
		if envVar == "" {
			return nil, fmt.Errorf("%s environment variable not set and no value provided", envKey)
		}
		return &envVar, nil
	}
	return target, nil
}

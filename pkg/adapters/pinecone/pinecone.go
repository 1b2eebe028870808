package pinecone

import (
	"context"
	"errors"
	"fmt"

	"github.com/pinecone-io/go-pinecone/pinecone"
	"google.golang.org/protobuf/types/known/structpb"
)

// NewService creates a Pinecone client for the given key
func NewService(apiKey string) (*Service, error) {
	if apiKey == "" {
		return nil, errors.New("pinecone api key is empty")
	}

	client, err := pinecone.NewClient(pinecone.NewClientParams{
		ApiKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize pinecone client: %w", err)
	}

	return &Service{client: client}, nil
}

// ForIndex opens a connection to the index served at host, scoped to namespace
func (s *Service) ForIndex(host, namespace string) (*Index, error) {
	if host == "" {
		return nil, errors.New("pinecone index host is empty")
	}

	conn, err := s.client.Index(pinecone.NewIndexConnParams{
		Host:      host,
		Namespace: namespace,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to pinecone index: %w", err)
	}

	return &Index{conn: conn, namespace: namespace}, nil
}

// Namespace returns the namespace the index connection is scoped to
func (idx *Index) Namespace() string {
	return idx.namespace
}

// Search performs a vector similarity search in the index
func (idx *Index) Search(ctx context.Context, queryVector []float32, topK int, filter map[string]any, includeMetadata bool) ([]QueryMatch, error) {
	if topK <= 0 {
		return nil, nil
	}

	req := &pinecone.QueryByVectorValuesRequest{
		Vector:          queryVector,
		TopK:            uint32(topK),
		IncludeValues:   false,
		IncludeMetadata: includeMetadata,
	}
	if len(filter) > 0 {
		metadataFilter, err := structpb.NewStruct(filter)
		if err != nil {
			return nil, fmt.Errorf("failed to build metadata filter: %w", err)
		}
		req.MetadataFilter = metadataFilter
	}

	resp, err := idx.conn.QueryByVectorValues(ctx, req)
	if err != nil {
		return nil, err
	}

	matches := make([]QueryMatch, 0, len(resp.Matches))
	for _, match := range resp.Matches {
		if match == nil || match.Vector == nil {
			continue
		}
		matches = append(matches, *match)
	}

	return matches, nil
}

// Upsert stores vectors in the index
func (idx *Index) Upsert(ctx context.Context, vectors []Vector) error {
	pineconeVectors := make([]*pinecone.Vector, len(vectors))
	for i := range vectors {
		pineconeVectors[i] = &vectors[i]
	}

	_, err := idx.conn.UpsertVectors(ctx, pineconeVectors)
	return err
}

// Delete removes vectors from the index
func (idx *Index) Delete(ctx context.Context, ids []string) error {
	for start := 0; start < len(ids); start += maxDeleteBatch {
		end := min(start+maxDeleteBatch, len(ids))
		if err := idx.conn.DeleteVectorsById(ctx, ids[start:end]); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the underlying gRPC connection
func (idx *Index) Close() error {
	return idx.conn.Close()
}

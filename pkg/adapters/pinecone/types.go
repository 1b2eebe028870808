package pinecone

import (
	"github.com/pinecone-io/go-pinecone/pinecone"
)

// maxDeleteBatch is the most ids Pinecone accepts in one delete request
const maxDeleteBatch = 1000

// Service wraps a Pinecone control-plane client
type Service struct {
	client *pinecone.Client
}

// Index provides data-plane operations on one index namespace
type Index struct {
	conn      *pinecone.IndexConnection
	namespace string
}

// Vector represents a vector with metadata (re-exported from SDK for convenience)
type Vector = pinecone.Vector

// QueryMatch represents a match from query results (re-exported from SDK for convenience)
type QueryMatch = pinecone.ScoredVector

// Metadata represents the metadata for a vector (re-exported from SDK for convenience)
type Metadata = pinecone.Metadata

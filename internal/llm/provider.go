package llm

import "context"

// Embedder provides embedding generation APIs.
type Embedder interface {
	Embeddings(ctx context.Context, model string, inputs []string) ([][]float32, error)
}

// DefaultEmbeddingModel is used when DINEREC_EMBEDDING_MODEL is unset.
const DefaultEmbeddingModel = "text-embedding-3-small"

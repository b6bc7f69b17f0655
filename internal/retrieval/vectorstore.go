package retrieval

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/vectorstores"
	"github.com/tmc/langchaingo/vectorstores/qdrant"
)

// VectorStoreGateway serves snippets from a langchaingo vector store.
type VectorStoreGateway struct {
	store     vectorstores.VectorStore
	threshold float32
}

func NewVectorStoreGateway(store vectorstores.VectorStore, threshold float32) *VectorStoreGateway {
	return &VectorStoreGateway{store: store, threshold: threshold}
}

func (g *VectorStoreGateway) Retrieve(ctx context.Context, query string, k int) ([]Snippet, error) {
	docs, err := g.store.SimilaritySearch(ctx, query, k, vectorstores.WithScoreThreshold(g.threshold))
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}
	out := make([]Snippet, 0, len(docs))
	for _, d := range docs {
		s := Snippet{Text: d.PageContent, Score: float64(d.Score)}
		if v, ok := d.Metadata["id"].(string); ok {
			s.ID = v
		}
		if v, ok := d.Metadata["source"].(string); ok {
			s.Source = v
		}
		out = append(out, s)
	}
	return out, nil
}

// QdrantConfig configures the Qdrant-backed gateway.
type QdrantConfig struct {
	URL            string
	Collection     string
	OpenAIAPIKey   string
	EmbeddingModel string
}

// NewQdrantGateway builds a gateway over a Qdrant collection embedded with
// OpenAI embeddings.
func NewQdrantGateway(cfg QdrantConfig) (*VectorStoreGateway, error) {
	u, err := url.Parse(strings.TrimSpace(cfg.URL))
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid qdrant url %q", cfg.URL)
	}
	if strings.TrimSpace(cfg.Collection) == "" {
		return nil, fmt.Errorf("qdrant collection is required")
	}

	opts := []openai.Option{openai.WithToken(cfg.OpenAIAPIKey)}
	if cfg.EmbeddingModel != "" {
		opts = append(opts, openai.WithEmbeddingModel(cfg.EmbeddingModel))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create embedding client: %w", err)
	}
	e, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}
	store, err := qdrant.New(
		qdrant.WithURL(*u),
		qdrant.WithCollectionName(cfg.Collection),
		qdrant.WithEmbedder(e),
	)
	if err != nil {
		return nil, fmt.Errorf("create qdrant store: %w", err)
	}
	return NewVectorStoreGateway(&store, 0), nil
}

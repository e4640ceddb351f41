// Package chromem implements core.KnowledgeRetriever on chromem-go, a pure
// Go embedded vector database. Each user gets their own collection for
// namespace isolation; an empty user id maps to a shared global collection.
// It is the default backend for the orchestrator's IncludeKnowledge
// enrichment; production deployments can substitute any retriever that
// satisfies the core interface.
package chromem

import (
	"context"
	"fmt"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/hupe1980/contextmesh/core"
)

// Config configures the retriever.
type Config struct {
	// CollectionPrefix namespaces collection names, default "knowledge".
	CollectionPrefix string
	// Embedding supplies document/query embeddings. Nil falls back to
	// chromem's default embedding function, which requires external
	// credentials; supply an explicit func for hermetic setups.
	Embedding chromem.EmbeddingFunc
}

// Document is one knowledge entry to index.
type Document struct {
	ID       string
	Content  string
	Metadata map[string]string
}

// Retriever wraps a chromem DB behind the core.KnowledgeRetriever contract.
// Safe for concurrent use.
type Retriever struct {
	db          *chromem.DB
	cfg         Config
	mu          sync.RWMutex
	collections map[string]*chromem.Collection
}

// New creates an in-memory retriever.
func New(optFns ...func(c *Config)) *Retriever {
	cfg := Config{CollectionPrefix: "knowledge"}
	for _, fn := range optFns {
		fn(&cfg)
	}
	return &Retriever{
		db:          chromem.NewDB(),
		cfg:         cfg,
		collections: make(map[string]*chromem.Collection),
	}
}

// Add indexes documents under the user's collection.
func (r *Retriever) Add(ctx context.Context, userID string, docs ...Document) error {
	col, err := r.collection(userID)
	if err != nil {
		return err
	}
	for _, doc := range docs {
		id := doc.ID
		if id == "" {
			id = core.NewID()
		}
		err := col.AddDocument(ctx, chromem.Document{
			ID:       id,
			Content:  doc.Content,
			Metadata: doc.Metadata,
		})
		if err != nil {
			return fmt.Errorf("add document %s: %w", id, err)
		}
	}
	return nil
}

// Retrieve returns up to limit documents relevant to the query, best match
// first. A user with no indexed documents gets an empty result, not an error.
func (r *Retriever) Retrieve(ctx context.Context, userID, query string, limit int) ([]core.KnowledgeResult, error) {
	col, err := r.collection(userID)
	if err != nil {
		return nil, err
	}
	// chromem rejects nResults above the collection size.
	if count := col.Count(); limit > count {
		limit = count
	}
	if limit <= 0 {
		return []core.KnowledgeResult{}, nil
	}
	hits, err := col.Query(ctx, query, limit, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query collection: %w", err)
	}
	results := make([]core.KnowledgeResult, 0, len(hits))
	for _, hit := range hits {
		results = append(results, core.KnowledgeResult{
			ID:       hit.ID,
			Content:  hit.Content,
			Score:    hit.Similarity,
			Metadata: hit.Metadata,
		})
	}
	return results, nil
}

// collection returns the per-user collection, creating it on first use.
func (r *Retriever) collection(userID string) (*chromem.Collection, error) {
	r.mu.RLock()
	col, exists := r.collections[userID]
	r.mu.RUnlock()
	if exists {
		return col, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Double-check after acquiring write lock.
	if col, exists := r.collections[userID]; exists {
		return col, nil
	}

	name := r.cfg.CollectionPrefix + "_global"
	if userID != "" {
		name = r.cfg.CollectionPrefix + "_user_" + userID
	}
	col, err := r.db.CreateCollection(name, nil, r.cfg.Embedding)
	if err != nil {
		return nil, fmt.Errorf("create collection %s: %w", name, err)
	}
	r.collections[userID] = col
	return col, nil
}

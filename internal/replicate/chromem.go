package replicate

import (
	"context"
	"fmt"

	chromem "github.com/philippgille/chromem-go"
)

// ChromemCollection adapts a *chromem.Collection to the Collection
// interface, grounded on becomeliminal-nim-go-sdk's ChromemStore wrapper
// (NewDB / CreateCollection / Document / AddDocument / QueryEmbedding).
// chromem-go has no in-place metadata patch, so Upsert re-adds the
// document; chromem's AddDocument overwrites by ID.
type ChromemCollection struct {
	col *chromem.Collection
}

// NewChromemCollection creates a chromem-go collection shared across
// every project; documents carry a "project" metadata field for
// partitioning rather than one collection per project, since Replicator
// is built once at startup before any project is known. embeddingFunc
// is nil because every document already carries a precomputed embedding
// from the local embedding worker.
func NewChromemCollection(db *chromem.DB, name string) (*ChromemCollection, error) {
	col, err := db.CreateCollection(name, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("replicate: create collection %s: %w", name, err)
	}
	return &ChromemCollection{col: col}, nil
}

func (c *ChromemCollection) Upsert(ctx context.Context, id string, embedding []float32, metadata map[string]string) error {
	return c.col.AddDocument(ctx, chromem.Document{ID: id, Embedding: embedding, Metadata: metadata})
}

func (c *ChromemCollection) Get(ctx context.Context, id string) (map[string]string, bool, error) {
	doc, err := c.col.GetByID(ctx, id)
	if err != nil {
		return nil, false, nil
	}
	return doc.Metadata, true, nil
}

func (c *ChromemCollection) Delete(ctx context.Context, id string) error {
	return c.col.Delete(ctx, nil, nil, id)
}

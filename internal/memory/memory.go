// Package memory implements C8: semantic recall backing the `memory`
// panel. It pairs a vector index (LanceDB, via Arrow record batches)
// with a row-store mirror (GORM over sqlite or postgres) that Remember
// and Forget keep in step; nothing in this package reads the mirror
// back, so recall and listing go through the vector index only. Grounded
// on the teacher's memory/vectorstore
// split (internal/domain/memory/memory.go, internal/infrastructure/
// vectorstore/lancedb_store.go) collapsed into one package.
package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Entry is one remembered fact: its text, embedding, and the
// session/user scope it was recorded under.
type Entry struct {
	ID        string
	Content   string
	Embedding []float32
	Metadata  map[string]interface{}
	Score     float32
	CreatedAt time.Time
	UpdatedAt time.Time
	SessionID string
	UserID    string
}

// VectorStore is the similarity-search backend. LanceStore is the only
// production implementation; tests may substitute an in-memory fake.
type VectorStore interface {
	Insert(ctx context.Context, entry *Entry) error
	Search(ctx context.Context, query []float32, topK int, filter *SearchFilter) ([]*Entry, error)
	Delete(ctx context.Context, id string) error
	GetBySession(ctx context.Context, sessionID string) ([]*Entry, error)
}

// SearchFilter narrows a Search call to one session/user/time window.
type SearchFilter struct {
	UserID    string
	SessionID string
	MinScore  float32
	TimeRange *TimeRange
}

type TimeRange struct {
	Start time.Time
	End   time.Time
}

// Embedder turns text into the vector the store indexes and searches
// against.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

func generateID(content string, now time.Time) string {
	hash := sha256.Sum256([]byte(content + now.String()))
	return hex.EncodeToString(hash[:16])
}

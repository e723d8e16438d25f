package memory

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Store is C8's public surface: Remember writes to both the vector
// index and the row-store mirror, Recall does top-K similarity search
// and formats hits for the `memory` panel (it implements
// panel.Recaller without importing that package, the same narrow-
// interface-at-the-boundary pattern the rest of this module uses).
type Store struct {
	vectors  VectorStore
	db       *gorm.DB
	embedder Embedder
	logger   *zap.Logger
}

// NewStore wires a Store from its three collaborators. db may be nil,
// in which case Remember only writes the vector index (useful for
// tests or a read-only recall-only deployment).
func NewStore(vectors VectorStore, db *gorm.DB, embedder Embedder, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{vectors: vectors, db: db, embedder: embedder, logger: logger}
}

// Remember embeds content and writes it to the vector index and (if
// configured) the row-store mirror, scoped to sessionID/userID.
func (s *Store) Remember(ctx context.Context, content, sessionID, userID string, metadata map[string]interface{}) (*Entry, error) {
	embedding, err := s.embedder.Embed(ctx, content)
	if err != nil {
		return nil, fmt.Errorf("embed memory content: %w", err)
	}

	now := time.Now()
	entry := &Entry{
		ID:        generateID(content, now),
		Content:   content,
		Embedding: embedding,
		Metadata:  metadata,
		SessionID: sessionID,
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.vectors.Insert(ctx, entry); err != nil {
		return nil, fmt.Errorf("insert memory entry: %w", err)
	}

	if s.db != nil {
		row, err := entryToRow(entry)
		if err == nil {
			if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
				s.logger.Warn("memory row-store mirror write failed", zap.Error(err))
			}
		}
	}

	return entry, nil
}

// Recall performs top-K semantic search and renders each hit as one
// numbered line, satisfying internal/panel.Recaller.
func (s *Store) Recall(ctx context.Context, query string, topK int) ([]string, error) {
	queryEmbed, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed recall query: %w", err)
	}
	hits, err := s.vectors.Search(ctx, queryEmbed, topK, nil)
	if err != nil {
		return nil, fmt.Errorf("search memory: %w", err)
	}
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = fmt.Sprintf("%d. %s", i+1, h.Content)
	}
	return out, nil
}

// Forget deletes one entry from the vector index and its row mirror.
func (s *Store) Forget(ctx context.Context, id string) error {
	if err := s.vectors.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete memory entry: %w", err)
	}
	if s.db != nil {
		if err := s.db.WithContext(ctx).Where("id = ?", id).Delete(&record{}).Error; err != nil {
			s.logger.Warn("memory row-store mirror delete failed", zap.Error(err))
		}
	}
	return nil
}

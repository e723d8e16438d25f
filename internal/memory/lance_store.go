package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	arrowmem "github.com/apache/arrow/go/v17/arrow/memory"
	"github.com/lancedb/lancedb-go/pkg/contracts"
	"github.com/lancedb/lancedb-go/pkg/lancedb"
	"go.uber.org/zap"
)

const lanceTableName = "memories"

// LanceStore is the vector-index half of C8's memory backend.
type LanceStore struct {
	conn      contracts.IConnection
	table     contracts.ITable
	schema    *arrow.Schema
	dimension int
	logger    *zap.Logger
}

// NewLanceStore opens (or creates) the LanceDB table under storePath.
func NewLanceStore(storePath string, dimension int, logger *zap.Logger) (*LanceStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	absPath, err := expandPath(storePath)
	if err != nil {
		return nil, fmt.Errorf("expand lance store path: %w", err)
	}
	if err := os.MkdirAll(absPath, 0o755); err != nil {
		return nil, fmt.Errorf("create lance store directory: %w", err)
	}

	ctx := context.Background()
	conn, err := lancedb.Connect(ctx, absPath, nil)
	if err != nil {
		return nil, fmt.Errorf("connect to lancedb at %s: %w", absPath, err)
	}

	fields := []arrow.Field{
		{Name: "id", Type: arrow.BinaryTypes.String, Nullable: false},
		{Name: "content", Type: arrow.BinaryTypes.String, Nullable: false},
		{Name: "vector", Type: arrow.FixedSizeListOf(int32(dimension), arrow.PrimitiveTypes.Float32), Nullable: false},
		{Name: "metadata", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "session_id", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "user_id", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "created_at", Type: arrow.PrimitiveTypes.Int64, Nullable: false},
		{Name: "updated_at", Type: arrow.PrimitiveTypes.Int64, Nullable: false},
	}
	arrowSchema := arrow.NewSchema(fields, nil)

	table, err := openOrCreateLanceTable(ctx, conn, arrowSchema, logger)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open/create lance table: %w", err)
	}

	logger.Info("memory vector store ready", zap.String("path", absPath), zap.Int("dimension", dimension))

	return &LanceStore{conn: conn, table: table, schema: arrowSchema, dimension: dimension, logger: logger}, nil
}

func openOrCreateLanceTable(ctx context.Context, conn contracts.IConnection, arrowSchema *arrow.Schema, logger *zap.Logger) (contracts.ITable, error) {
	table, err := conn.OpenTable(ctx, lanceTableName)
	if err == nil {
		return table, nil
	}
	schema, err := lancedb.NewSchema(arrowSchema)
	if err != nil {
		return nil, fmt.Errorf("build lance schema: %w", err)
	}
	return conn.CreateTable(ctx, lanceTableName, schema)
}

func (s *LanceStore) Insert(ctx context.Context, entry *Entry) error {
	record, err := s.entryToRecord(entry)
	if err != nil {
		return fmt.Errorf("build arrow record: %w", err)
	}
	defer record.Release()

	if err := s.table.Add(ctx, record, nil); err != nil {
		return fmt.Errorf("lance insert: %w", err)
	}
	return nil
}

func (s *LanceStore) Search(ctx context.Context, query []float32, topK int, filter *SearchFilter) ([]*Entry, error) {
	filterExpr := buildLanceFilterExpr(filter)

	var results []map[string]interface{}
	var err error
	if filterExpr != "" {
		results, err = s.table.VectorSearchWithFilter(ctx, "vector", query, topK, filterExpr)
	} else {
		results, err = s.table.VectorSearch(ctx, "vector", query, topK)
	}
	if err != nil {
		return nil, fmt.Errorf("lance vector search: %w", err)
	}

	entries := make([]*Entry, 0, len(results))
	for _, row := range results {
		entry := rowToEntry(row)
		if entry == nil {
			continue
		}
		if filter != nil {
			if filter.MinScore > 0 && entry.Score < filter.MinScore {
				continue
			}
			if filter.TimeRange != nil && (entry.CreatedAt.Before(filter.TimeRange.Start) || entry.CreatedAt.After(filter.TimeRange.End)) {
				continue
			}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (s *LanceStore) Delete(ctx context.Context, id string) error {
	if err := s.table.Delete(ctx, fmt.Sprintf("id = '%s'", id)); err != nil {
		return fmt.Errorf("lance delete: %w", err)
	}
	return nil
}

func (s *LanceStore) GetBySession(ctx context.Context, sessionID string) ([]*Entry, error) {
	results, err := s.table.SelectWithFilter(ctx, fmt.Sprintf("session_id = '%s'", sessionID))
	if err != nil {
		return nil, fmt.Errorf("lance session query: %w", err)
	}
	entries := make([]*Entry, 0, len(results))
	for _, row := range results {
		if e := rowToEntry(row); e != nil {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

func (s *LanceStore) Close() error {
	if s.table != nil {
		s.table.Close()
	}
	if s.conn != nil {
		s.conn.Close()
	}
	return nil
}

func (s *LanceStore) entryToRecord(entry *Entry) (arrow.Record, error) {
	pool := arrowmem.NewGoAllocator()

	idB := array.NewStringBuilder(pool)
	idB.Append(entry.ID)
	idArr := idB.NewArray()
	defer idArr.Release()

	contentB := array.NewStringBuilder(pool)
	contentB.Append(entry.Content)
	contentArr := contentB.NewArray()
	defer contentArr.Release()

	vectorArr, err := buildVectorArray(pool, entry.Embedding, s.dimension)
	if err != nil {
		return nil, err
	}
	defer vectorArr.Release()

	metaJSON, _ := json.Marshal(entry.Metadata)
	metaB := array.NewStringBuilder(pool)
	metaB.Append(string(metaJSON))
	metaArr := metaB.NewArray()
	defer metaArr.Release()

	sessionB := array.NewStringBuilder(pool)
	sessionB.Append(entry.SessionID)
	sessionArr := sessionB.NewArray()
	defer sessionArr.Release()

	userB := array.NewStringBuilder(pool)
	userB.Append(entry.UserID)
	userArr := userB.NewArray()
	defer userArr.Release()

	createdB := array.NewInt64Builder(pool)
	createdB.Append(entry.CreatedAt.Unix())
	createdArr := createdB.NewArray()
	defer createdArr.Release()

	updatedB := array.NewInt64Builder(pool)
	updatedB.Append(entry.UpdatedAt.Unix())
	updatedArr := updatedB.NewArray()
	defer updatedArr.Release()

	cols := []arrow.Array{idArr, contentArr, vectorArr, metaArr, sessionArr, userArr, createdArr, updatedArr}
	return array.NewRecord(s.schema, cols, 1), nil
}

func buildVectorArray(pool arrowmem.Allocator, vec []float32, dim int) (arrow.Array, error) {
	if len(vec) != dim {
		return nil, fmt.Errorf("vector dimension mismatch: expected %d, got %d", dim, len(vec))
	}
	floatB := array.NewFloat32Builder(pool)
	floatB.AppendValues(vec, nil)
	floatArr := floatB.NewArray()
	defer floatArr.Release()

	listType := arrow.FixedSizeListOf(int32(dim), arrow.PrimitiveTypes.Float32)
	listData := array.NewData(listType, 1, []*arrowmem.Buffer{nil}, []arrow.ArrayData{floatArr.Data()}, 0, 0)
	return array.NewFixedSizeListData(listData), nil
}

func buildLanceFilterExpr(filter *SearchFilter) string {
	if filter == nil {
		return ""
	}
	var parts []string
	if filter.UserID != "" {
		parts = append(parts, fmt.Sprintf("user_id = '%s'", filter.UserID))
	}
	if filter.SessionID != "" {
		parts = append(parts, fmt.Sprintf("session_id = '%s'", filter.SessionID))
	}
	return strings.Join(parts, " AND ")
}

func rowToEntry(row map[string]interface{}) *Entry {
	entry := &Entry{}
	if v, ok := row["id"].(string); ok {
		entry.ID = v
	}
	if v, ok := row["content"].(string); ok {
		entry.Content = v
	}
	if v, ok := row["session_id"].(string); ok {
		entry.SessionID = v
	}
	if v, ok := row["user_id"].(string); ok {
		entry.UserID = v
	}
	if v, ok := row["metadata"].(string); ok && v != "" {
		var meta map[string]interface{}
		if err := json.Unmarshal([]byte(v), &meta); err == nil {
			entry.Metadata = meta
		}
	}
	if v, ok := toInt64(row["created_at"]); ok {
		entry.CreatedAt = time.Unix(v, 0)
	}
	if v, ok := toInt64(row["updated_at"]); ok {
		entry.UpdatedAt = time.Unix(v, 0)
	}
	if v, ok := toFloat32(row["_distance"]); ok {
		entry.Score = 1.0 / (1.0 + v)
	}
	return entry
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case float64:
		return int64(n), true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	}
	return 0, false
}

func toFloat32(v interface{}) (float32, bool) {
	switch n := v.(type) {
	case float32:
		return n, true
	case float64:
		return float32(n), true
	}
	return 0, false
}

func expandPath(path string) (string, error) {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}

package memory

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// DBConfig selects the row-store dialector, adapted from the teacher's
// database config/dialector switch.
type DBConfig struct {
	Type string // "sqlite" or "postgres"
	DSN  string
}

// record is the row-store mirror of an Entry: same rows the vector
// index holds, minus the embedding. Store writes and deletes these rows
// but never reads them; GetBySession is served by the vector index.
type record struct {
	ID        string `gorm:"primaryKey;size:64"`
	Content   string `gorm:"type:text;not null"`
	Metadata  string `gorm:"type:text"`
	SessionID string `gorm:"index;size:64"`
	UserID    string `gorm:"index;size:64"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (record) TableName() string { return "memory_entries" }

// OpenDB connects to the configured row-store and migrates its schema.
func OpenDB(cfg DBConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Type {
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported memory db type: %s", cfg.Type)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:  gormlogger.Default.LogMode(gormlogger.Warn),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("open memory db: %w", err)
	}
	if err := db.AutoMigrate(&record{}); err != nil {
		return nil, fmt.Errorf("migrate memory db: %w", err)
	}
	return db, nil
}

func entryToRow(e *Entry) (*record, error) {
	metaJSON, err := json.Marshal(e.Metadata)
	if err != nil {
		return nil, err
	}
	return &record{
		ID: e.ID, Content: e.Content, Metadata: string(metaJSON),
		SessionID: e.SessionID, UserID: e.UserID,
		CreatedAt: e.CreatedAt, UpdatedAt: e.UpdatedAt,
	}, nil
}

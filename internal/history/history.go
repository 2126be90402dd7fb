// Package history keeps a durable log of applied adaptive adjustments,
// backed by a local SQLite database. The log is the operator's answer to
// "why did the bitrate drop last night".
package history

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-hclog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/glowf1sh/glowboxremote/internal/adaptive"
)

// Entry is one recorded adjustment.
type Entry struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Kind      string    `gorm:"index;type:varchar(32);not null" json:"kind"`
	LinkID    string    `gorm:"type:varchar(128)" json:"link_id,omitempty"`
	FromBps   int       `json:"from_bps,omitempty"`
	ToBps     int       `json:"to_bps,omitempty"`
	Reason    string    `gorm:"type:varchar(256)" json:"reason"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

// TableName returns the table name for GORM.
func (Entry) TableName() string {
	return "adjustments"
}

// Log stores adjustment entries. It satisfies adaptive.AdjustmentRecorder.
type Log struct {
	logger hclog.Logger
	db     *gorm.DB
}

// Open creates or opens the adjustment log at the given path and
// migrates the schema.
func Open(path string, logger hclog.Logger) (*Log, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("migrate history schema: %w", err)
	}

	return &Log{logger: logger.Named("history"), db: db}, nil
}

// Record implements adaptive.AdjustmentRecorder. Failures are logged and
// swallowed: losing a history row must never disturb the control loop.
func (l *Log) Record(adj adaptive.Adjustment) {
	entry := Entry{
		Kind:      string(adj.Kind),
		LinkID:    adj.LinkID,
		FromBps:   adj.FromBps,
		ToBps:     adj.ToBps,
		Reason:    adj.Reason,
		CreatedAt: adj.At,
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	if err := l.db.Create(&entry).Error; err != nil {
		l.logger.Error("failed to record adjustment", "kind", adj.Kind, "error", err)
	}
}

// Recent returns up to limit entries, newest first.
func (l *Log) Recent(limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	var entries []Entry
	err := l.db.Order("created_at DESC, id DESC").Limit(limit).Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("query adjustment history: %w", err)
	}
	return entries, nil
}

// Since returns entries recorded at or after the given time, newest first.
func (l *Log) Since(t time.Time) ([]Entry, error) {
	var entries []Entry
	err := l.db.Where("created_at >= ?", t).
		Order("created_at DESC, id DESC").Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("query adjustment history: %w", err)
	}
	return entries, nil
}

// Prune deletes entries older than the retention window and returns the
// number removed.
func (l *Log) Prune(retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention)
	res := l.db.Where("created_at < ?", cutoff).Delete(&Entry{})
	if res.Error != nil {
		return 0, fmt.Errorf("prune adjustment history: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		l.logger.Info("pruned adjustment history", "removed", res.RowsAffected)
	}
	return res.RowsAffected, nil
}

// Close releases the underlying database handle.
func (l *Log) Close() error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Package journal persists dispatch outcomes so failed deliveries can be
// recovered by hand, and holds the relay instance lease.
package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/zulandar/issuerelay/internal/db"
	"github.com/zulandar/issuerelay/internal/models"
	"github.com/zulandar/issuerelay/internal/telegraph"
	"gorm.io/gorm"
)

const (
	// DefaultListLimit is the number of rows List returns when Filter.Limit is unset.
	DefaultListLimit = 50
	// MaxListLimit caps Filter.Limit.
	MaxListLimit = 500
)

// Journal is a gorm-backed delivery journal. It implements telegraph.Journal.
type Journal struct {
	db  *gorm.DB
	log zerolog.Logger
}

var _ telegraph.Journal = (*Journal)(nil)

// New migrates the journal tables and returns a Journal.
func New(gdb *gorm.DB, log zerolog.Logger) (*Journal, error) {
	if gdb == nil {
		return nil, fmt.Errorf("journal: db is required")
	}
	if err := db.AutoMigrate(gdb); err != nil {
		return nil, fmt.Errorf("journal: %w", err)
	}
	return &Journal{db: gdb, log: log}, nil
}

// Record appends one dispatch outcome.
func (j *Journal) Record(ctx context.Context, o telegraph.Outcome) error {
	row := models.Delivery{
		EventID:   o.EventID,
		EventType: string(o.EventType),
		Status:    string(o.Status),
		Text:      o.Text,
	}
	if o.Err != nil {
		row.Error = o.Err.Error()
	}
	if err := j.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("journal: record event %d: %w", o.EventID, err)
	}
	return nil
}

// Filter narrows List results.
type Filter struct {
	Status string // empty matches every status
	Limit  int
}

// List returns journal rows newest first.
func (j *Journal) List(ctx context.Context, f Filter) ([]models.Delivery, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	q := j.db.WithContext(ctx).Order("id DESC").Limit(limit)
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	var rows []models.Delivery
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("journal: list: %w", err)
	}
	return rows, nil
}

// Prune deletes rows created before the cutoff and returns how many were removed.
func (j *Journal) Prune(ctx context.Context, before time.Time) (int64, error) {
	result := j.db.WithContext(ctx).Where("created_at < ?", before).Delete(&models.Delivery{})
	if result.Error != nil {
		return 0, fmt.Errorf("journal: prune: %w", result.Error)
	}
	return result.RowsAffected, nil
}

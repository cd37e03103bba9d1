package store

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// ReplaceTrendSnapshots atomically swaps the trend_snapshots table with the provided rows.
func (d *Database) ReplaceTrendSnapshots(rows []TrendSnapshot) error {
	if d == nil {
		return errors.New("database is nil")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gorm.Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&TrendSnapshot{}).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		for i := range rows {
			rows[i].ID = 0
		}
		// Batch insert to stay under the SQLite variable limit (999)
		const batchSize = 100
		if err := tx.CreateInBatches(rows, batchSize).Error; err != nil {
			return fmt.Errorf("insert trend snapshots: %w", err)
		}
		return nil
	})
}

// ListTrendSnapshots returns the stored snapshots ordered by window and insertion order.
// A positive windowDays restricts the result to that window.
func (d *Database) ListTrendSnapshots(windowDays int) ([]TrendSnapshot, error) {
	if d == nil {
		return nil, errors.New("database is nil")
	}
	query := d.gorm.Model(&TrendSnapshot{}).Order("window_days ASC, id ASC")
	if windowDays > 0 {
		query = query.Where("window_days = ?", windowDays)
	}
	var rows []TrendSnapshot
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

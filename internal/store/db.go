package store

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Database wraps the GORM DB handle and exposes repository helpers.
type Database struct {
	gorm *gorm.DB
	mu   sync.Mutex
}

// Open initializes the SQLite-backed database at the provided path.
func Open(path string, silent bool) (*Database, error) {
	cfg := &gorm.Config{}
	if silent {
		cfg.Logger = logger.Default.LogMode(logger.Silent)
	}
	db, err := gorm.Open(sqlite.Open(path), cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.AutoMigrate(&DailyEntry{}, &QuestionResponse{}, &TrendSnapshot{}, &DailyAdvice{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	if err := db.Exec("PRAGMA journal_mode=WAL").Error; err != nil {
		logrus.WithError(err).Warn("enable WAL mode")
	}
	if err := db.Exec("PRAGMA synchronous=NORMAL").Error; err != nil {
		logrus.WithError(err).Warn("set synchronous pragma")
	}
	if err := applyIndexes(db); err != nil {
		return nil, fmt.Errorf("apply indexes: %w", err)
	}
	return &Database{gorm: db}, nil
}

// GORM exposes the raw gorm.DB handle.
func (d *Database) GORM() *gorm.DB {
	return d.gorm
}

// Close closes the underlying database connection.
func (d *Database) Close() error {
	if d == nil {
		return nil
	}
	sqlDB, err := d.gorm.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveEntry inserts or replaces the entry for its date together with its responses. Advice
// generated for a replaced entry is dropped.
// On return entry.ID holds the stored row id.
func (d *Database) SaveEntry(entry *DailyEntry) error {
	if entry == nil {
		return errors.New("entry is nil")
	}
	entry.EntryDate = strings.TrimSpace(entry.EntryDate)
	if entry.EntryDate == "" {
		return errors.New("entry date is required")
	}
	if entry.FollowUpsJSON == "" {
		entry.SetFollowUps(nil)
	}
	responses := entry.Responses
	entry.ID = 0

	d.mu.Lock()
	defer d.mu.Unlock()
	err := d.gorm.Transaction(func(tx *gorm.DB) error {
		err := tx.Omit(clause.Associations).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "entry_date"}},
			DoUpdates: clause.AssignmentColumns([]string{"overall_feeling", "follow_ups_json", "processing_time_ms", "updated_at"}),
		}).Create(entry).Error
		if err != nil {
			return err
		}
		var stored DailyEntry
		if err := tx.Select("id", "created_at").Where("entry_date = ?", entry.EntryDate).First(&stored).Error; err != nil {
			return err
		}
		entry.ID = stored.ID
		entry.CreatedAt = stored.CreatedAt

		if err := tx.Where("entry_id = ?", entry.ID).Delete(&QuestionResponse{}).Error; err != nil {
			return err
		}
		if err := tx.Where("entry_id = ?", entry.ID).Delete(&DailyAdvice{}).Error; err != nil {
			return err
		}
		if len(responses) == 0 {
			return nil
		}
		for i := range responses {
			responses[i].ID = 0
			responses[i].EntryID = entry.ID
		}
		return tx.CreateInBatches(responses, 100).Error
	})
	if err != nil {
		return fmt.Errorf("save entry %s: %w", entry.EntryDate, err)
	}
	entry.Responses = responses
	return nil
}

// GetEntry loads the entry for a date with its responses. It returns gorm.ErrRecordNotFound
// when the day has no entry.
func (d *Database) GetEntry(date string) (*DailyEntry, error) {
	var entry DailyEntry
	err := d.gorm.Preload("Responses", func(db *gorm.DB) *gorm.DB {
		return db.Order("id ASC")
	}).Where("entry_date = ?", strings.TrimSpace(date)).First(&entry).Error
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// ListEntries returns a page of entries, newest first, with the total count.
func (d *Database) ListEntries(offset, limit int) ([]DailyEntry, int64, error) {
	var total int64
	if err := d.gorm.Model(&DailyEntry{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	q := d.gorm.Model(&DailyEntry{}).Preload("Responses", func(db *gorm.DB) *gorm.DB {
		return db.Order("id ASC")
	}).Order("entry_date DESC")
	if limit > 0 {
		q = q.Offset(offset).Limit(limit)
	}
	var entries []DailyEntry
	if err := q.Find(&entries).Error; err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// CountEntries returns the number of stored entries.
func (d *Database) CountEntries() (int64, error) {
	var count int64
	if err := d.gorm.Model(&DailyEntry{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// DeleteEntry removes the entry for a date with its responses and advice.
func (d *Database) DeleteEntry(date string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gorm.Transaction(func(tx *gorm.DB) error {
		var entry DailyEntry
		if err := tx.Select("id").Where("entry_date = ?", strings.TrimSpace(date)).First(&entry).Error; err != nil {
			return err
		}
		if err := tx.Where("entry_id = ?", entry.ID).Delete(&QuestionResponse{}).Error; err != nil {
			return err
		}
		if err := tx.Where("entry_id = ?", entry.ID).Delete(&DailyAdvice{}).Error; err != nil {
			return err
		}
		return tx.Delete(&DailyEntry{}, entry.ID).Error
	})
}

// RecentSamples returns the slider answers of the latest entries strictly before the given
// date, newest first. An empty date means no upper bound.
func (d *Database) RecentSamples(before string, limit int) ([]DaySample, error) {
	if d == nil {
		return nil, errors.New("database is nil")
	}
	q := d.gorm.Model(&DailyEntry{}).Preload("Responses", "answer_type = ?", "slider").Order("entry_date DESC")
	if before = strings.TrimSpace(before); before != "" {
		q = q.Where("entry_date < ?", before)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var entries []DailyEntry
	if err := q.Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("recent samples: %w", err)
	}
	samples := make([]DaySample, 0, len(entries))
	for _, e := range entries {
		values := make(map[string]float64, len(e.Responses))
		for _, r := range e.Responses {
			v, err := strconv.ParseFloat(strings.TrimSpace(r.AnswerValue), 64)
			if err != nil {
				logrus.WithFields(logrus.Fields{"date": e.EntryDate, "key": r.QuestionKey}).Debug("skipping non-numeric slider value")
				continue
			}
			values[r.QuestionKey] = v
		}
		samples = append(samples, DaySample{Date: e.EntryDate, Values: values})
	}
	return samples, nil
}

// EntriesBetween loads the entries dated from start to end inclusive, newest first.
func (d *Database) EntriesBetween(start, end string) ([]DailyEntry, error) {
	var entries []DailyEntry
	err := d.gorm.Preload("Responses", func(db *gorm.DB) *gorm.DB {
		return db.Order("id ASC")
	}).Where("entry_date >= ? AND entry_date <= ?", strings.TrimSpace(start), strings.TrimSpace(end)).
		Order("entry_date DESC").Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("entries between %s and %s: %w", start, end, err)
	}
	return entries, nil
}

// SaveAdvice stores the advice for its entry, replacing any earlier advice.
func (d *Database) SaveAdvice(advice *DailyAdvice) error {
	if advice == nil || advice.EntryID == 0 {
		return errors.New("advice must reference an entry")
	}
	advice.ID = 0
	d.mu.Lock()
	defer d.mu.Unlock()
	err := d.gorm.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "entry_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"entry_date", "rule_id", "category", "source", "advice_json", "generated_at"}),
	}).Create(advice).Error
	if err != nil {
		return fmt.Errorf("save advice %s: %w", advice.EntryDate, err)
	}
	return nil
}

// GetAdvice returns the advice stored for a date, or gorm.ErrRecordNotFound.
func (d *Database) GetAdvice(date string) (*DailyAdvice, error) {
	var advice DailyAdvice
	if err := d.gorm.Where("entry_date = ?", strings.TrimSpace(date)).First(&advice).Error; err != nil {
		return nil, err
	}
	return &advice, nil
}

func applyIndexes(db *gorm.DB) error {
	stmts := []string{
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_daily_entries_entry_date ON daily_entries(entry_date)",
		"CREATE INDEX IF NOT EXISTS idx_question_responses_entry_key ON question_responses(entry_id, question_key)",
		"CREATE INDEX IF NOT EXISTS idx_question_responses_type ON question_responses(answer_type)",
		"CREATE INDEX IF NOT EXISTS idx_trend_snapshots_window_metric ON trend_snapshots(window_days, metric)",
	}
	for _, stmt := range stmts {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}

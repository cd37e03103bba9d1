package store

import (
	"encoding/json"
	"strings"
	"time"
)

// DailyEntry is one submitted diary report. There is at most one entry per calendar day.
type DailyEntry struct {
	ID               uint   `gorm:"primaryKey"`
	EntryDate        string `gorm:"size:10;uniqueIndex"`
	OverallFeeling   string `gorm:"size:32"`
	FollowUpsJSON    string `gorm:"type:text"`
	ProcessingTimeMs int64
	Responses        []QuestionResponse `gorm:"foreignKey:EntryID"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// QuestionResponse stores one answer of an entry. AnswerValue holds the display form of the
// answer (slider number, option id, comma separated option ids, or the note text).
type QuestionResponse struct {
	ID          uint   `gorm:"primaryKey"`
	EntryID     uint   `gorm:"index"`
	QuestionKey string `gorm:"size:64;index"`
	Step        string `gorm:"size:16"`
	AnswerType  string `gorm:"size:16"`
	AnswerValue string `gorm:"type:text"`
	CreatedAt   time.Time
}

// TrendSnapshot is a precomputed metric summary for one window (7 or 30 entries).
type TrendSnapshot struct {
	ID         uint   `gorm:"primaryKey"`
	WindowDays int    `gorm:"index"`
	Entries    int
	Metric     string `gorm:"size:64"`
	Average    float64
	Latest     float64
	HighCount  int
	Trend      string `gorm:"size:16"`
	ComputedAt time.Time
}

// DailyAdvice is the advice generated for an entry. There is at most one per entry, and
// replacing the entry drops it.
type DailyAdvice struct {
	ID          uint   `gorm:"primaryKey"`
	EntryID     uint   `gorm:"uniqueIndex"`
	EntryDate   string `gorm:"size:10;index"`
	RuleID      string `gorm:"size:64"`
	Category    string `gorm:"size:32"`
	Source      string `gorm:"size:16"`
	AdviceJSON  string `gorm:"type:text"`
	GeneratedAt time.Time
}

// DaySample is the numeric slider answers of one entry, keyed by question.
type DaySample struct {
	Date   string
	Values map[string]float64
}

// SetFollowUps persists the follow-up ids that were shown for the entry.
func (e *DailyEntry) SetFollowUps(ids []string) {
	if ids == nil {
		e.FollowUpsJSON = "[]"
		return
	}
	payload, _ := json.Marshal(ids)
	e.FollowUpsJSON = string(payload)
}

// FollowUps returns the decoded follow-up ids.
func (e *DailyEntry) FollowUps() []string {
	if strings.TrimSpace(e.FollowUpsJSON) == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(e.FollowUpsJSON), &out); err != nil {
		return nil
	}
	return out
}

// Response looks up the stored answer for a question key.
func (e *DailyEntry) Response(key string) (QuestionResponse, bool) {
	for _, r := range e.Responses {
		if r.QuestionKey == key {
			return r, true
		}
	}
	return QuestionResponse{}, false
}

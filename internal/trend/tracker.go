package trend

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"health-diary/backend/internal/report"
	"health-diary/backend/internal/store"
)

// SampleSource yields per-day slider values, newest first, for entries strictly before a date.
type SampleSource interface {
	RecentSamples(before string, limit int) ([]store.DaySample, error)
}

// SnapshotStore persists precomputed windows.
type SnapshotStore interface {
	SampleSource
	ReplaceTrendSnapshots(rows []store.TrendSnapshot) error
	ListTrendSnapshots(windowDays int) ([]store.TrendSnapshot, error)
}

// Tracker derives trend flags from stored history.
type Tracker struct {
	source SampleSource
}

// NewTracker wraps a sample source.
func NewTracker(source SampleSource) *Tracker {
	return &Tracker{source: source}
}

// Trends returns the flags of the short window preceding date. Metrics with no history are
// left out so the engine sees them as absent.
func (t *Tracker) Trends(date string) (report.Trends, error) {
	if t == nil || t.source == nil {
		return report.Trends{}, nil
	}
	samples, err := t.source.RecentSamples(date, ShortWindow)
	if err != nil {
		return nil, fmt.Errorf("load trend history: %w", err)
	}
	return Summarize(samples, ShortWindow).Trends(), nil
}

// Summary computes both windows over entries before date. An empty date includes every entry.
func (t *Tracker) Summary(date string) (Summary, error) {
	if t == nil || t.source == nil {
		return Summary{}, nil
	}
	samples, err := t.source.RecentSamples(date, LongWindow)
	if err != nil {
		return Summary{}, fmt.Errorf("load trend history: %w", err)
	}
	return Build(samples), nil
}

// RefreshSnapshots recomputes both windows over all entries and replaces the stored snapshots.
// It returns the number of rows written.
func RefreshSnapshots(db SnapshotStore, now time.Time) (int, error) {
	samples, err := db.RecentSamples("", LongWindow)
	if err != nil {
		return 0, fmt.Errorf("load trend history: %w", err)
	}
	summary := Build(samples)
	rows := make([]store.TrendSnapshot, 0, 12)
	for _, w := range []*Window{summary.Window7, summary.Window30} {
		if w == nil {
			continue
		}
		for _, m := range w.Metrics {
			rows = append(rows, store.TrendSnapshot{
				WindowDays: w.Days,
				Entries:    w.Entries,
				Metric:     m.Key,
				Average:    m.Average,
				Latest:     m.Latest,
				HighCount:  m.HighCount,
				Trend:      string(m.Trend),
				ComputedAt: now,
			})
		}
	}
	if err := db.ReplaceTrendSnapshots(rows); err != nil {
		return 0, fmt.Errorf("persist trend snapshots: %w", err)
	}
	logrus.WithFields(logrus.Fields{
		"entries":   len(samples),
		"snapshots": len(rows),
	}).Info("trend snapshots refreshed")
	return len(rows), nil
}

// FromSnapshots rebuilds a Summary from stored rows. Rows with an unknown trend flag are
// reported as stable.
func FromSnapshots(rows []store.TrendSnapshot) Summary {
	var summary Summary
	windows := map[int]*Window{}
	for _, row := range rows {
		w, ok := windows[row.WindowDays]
		if !ok {
			w = &Window{Days: row.WindowDays, Entries: row.Entries}
			windows[row.WindowDays] = w
		}
		flag, err := report.ParseTrendFlag(row.Trend)
		if err != nil {
			flag = report.TrendStable
		}
		w.Metrics = append(w.Metrics, Metric{
			Key:       row.Metric,
			Average:   row.Average,
			Latest:    row.Latest,
			HighCount: row.HighCount,
			Trend:     flag,
		})
	}
	summary.Window7 = windows[ShortWindow]
	summary.Window30 = windows[LongWindow]
	return summary
}

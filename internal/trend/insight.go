package trend

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"health-diary/backend/internal/report"
	"health-diary/backend/internal/store"
	"health-diary/backend/internal/util"
)

// Choice buckets counted by the insight windows. Every bucket appears in the result, zero
// counts included.
var (
	sleepBuckets     = []string{"lt6", "6_7", "7_8", "gt8"}
	napBuckets       = []string{"none", "lt30", "30_60", "gt60"}
	stepBuckets      = []string{"lt3k", "3_6k", "6_10k", "gt10k"}
	menstrualBuckets = []string{"period", "non_period", "irregular"}
)

// SymptomInsight is one slider metric over a calendar window.
type SymptomInsight struct {
	Key     string           `json:"key"`
	Average float64          `json:"average"`
	Latest  float64          `json:"latest"`
	Trend   report.TrendFlag `json:"trend"`
}

// MedicationCounts tallies the adherence answers of a window.
type MedicationCounts struct {
	OnTime int `json:"onTime"`
	Missed int `json:"missed"`
	NA     int `json:"na"`
}

// InsightWindow summarizes the calendar days from Start to End inclusive. Unlike Window it
// counts days, not entries, so CompletionRate shows how many days were logged.
type InsightWindow struct {
	Days           int              `json:"days"`
	Start          string           `json:"start"`
	End            string           `json:"end"`
	Entries        int              `json:"entries"`
	CompletionRate float64          `json:"completionRate"`
	Sleep          map[string]int   `json:"sleep"`
	Nap            map[string]int   `json:"nap"`
	Steps          map[string]int   `json:"steps"`
	Menstrual      map[string]int   `json:"menstrual"`
	Symptoms       []SymptomInsight `json:"symptoms"`
	ChillDays      int              `json:"chillDays"`
	Medication     MedicationCounts `json:"medication"`
}

// Insight carries the weekly and monthly calendar windows ending on the same day. A window is
// nil when no entry falls inside it.
type Insight struct {
	Window7  *InsightWindow `json:"window7"`
	Window30 *InsightWindow `json:"window30"`
}

// EntrySource loads entries for a date range, newest first.
type EntrySource interface {
	EntriesBetween(start, end string) ([]store.DailyEntry, error)
}

// LoadInsight reads the last LongWindow days ending on end and builds both windows.
func LoadInsight(src EntrySource, end time.Time) (Insight, error) {
	start := util.FormatDay(end.AddDate(0, 0, -(LongWindow - 1)))
	entries, err := src.EntriesBetween(start, util.FormatDay(end))
	if err != nil {
		return Insight{}, err
	}
	return BuildInsight(entries, end), nil
}

// BuildInsight computes both windows from entries in any order. Entries with unparsable dates
// are ignored.
func BuildInsight(entries []store.DailyEntry, end time.Time) Insight {
	return Insight{
		Window7:  buildInsightWindow(entries, end, ShortWindow),
		Window30: buildInsightWindow(entries, end, LongWindow),
	}
}

func buildInsightWindow(entries []store.DailyEntry, end time.Time, days int) *InsightWindow {
	endDay := util.FormatDay(end)
	startDay := util.FormatDay(end.AddDate(0, 0, -(days - 1)))

	var inside []store.DailyEntry
	for _, e := range entries {
		if _, err := util.ParseDay(e.EntryDate); err != nil {
			continue
		}
		if e.EntryDate >= startDay && e.EntryDate <= endDay {
			inside = append(inside, e)
		}
	}
	if len(inside) == 0 {
		return nil
	}
	sortNewestFirst(inside)

	w := &InsightWindow{
		Days:           days,
		Start:          startDay,
		End:            endDay,
		Entries:        len(inside),
		CompletionRate: round2(float64(len(inside)) / float64(days)),
		Sleep:          countOptions(inside, "sleep_duration", sleepBuckets),
		Nap:            countOptions(inside, "nap_duration", napBuckets),
		Steps:          countOptions(inside, "daily_steps", stepBuckets),
		Menstrual:      countOptions(inside, "menstrual_status", menstrualBuckets),
	}
	for _, e := range inside {
		if r, ok := e.Response(report.KeyChillExposure); ok && r.AnswerValue == "yes" {
			w.ChillDays++
		}
		if r, ok := e.Response("medication_adherence"); ok {
			switch r.AnswerValue {
			case "on_time":
				w.Medication.OnTime++
			case "missed":
				w.Medication.Missed++
			case "na":
				w.Medication.NA++
			}
		}
	}
	for _, t := range DefaultTracked() {
		var values []float64
		for _, e := range inside {
			r, ok := e.Response(t.Key)
			if !ok {
				continue
			}
			if v, err := strconv.ParseFloat(strings.TrimSpace(r.AnswerValue), 64); err == nil {
				values = append(values, v)
			}
		}
		if len(values) == 0 {
			continue
		}
		sum := 0.0
		for _, v := range values {
			sum += v
		}
		w.Symptoms = append(w.Symptoms, SymptomInsight{
			Key:     t.Key,
			Average: round1(sum / float64(len(values))),
			Latest:  round1(values[0]),
			Trend:   Compute(values),
		})
	}
	return w
}

func countOptions(entries []store.DailyEntry, key string, buckets []string) map[string]int {
	counts := make(map[string]int, len(buckets))
	for _, b := range buckets {
		counts[b] = 0
	}
	for _, e := range entries {
		r, ok := e.Response(key)
		if !ok {
			continue
		}
		if _, known := counts[r.AnswerValue]; known {
			counts[r.AnswerValue]++
		}
	}
	return counts
}

func sortNewestFirst(entries []store.DailyEntry) {
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].EntryDate > entries[j].EntryDate })
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

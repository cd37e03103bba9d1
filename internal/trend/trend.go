package trend

import (
	"math"

	"health-diary/backend/internal/report"
	"health-diary/backend/internal/store"
)

const (
	// ShortWindow is the entry count behind the trend flags fed to the follow-up engine.
	ShortWindow = 7
	// LongWindow is the monthly overview window.
	LongWindow = 30

	risingDelta = 1.0
)

// Tracked is a metric summarized across entries.
type Tracked struct {
	Key           string
	HighThreshold float64
}

// DefaultTracked lists the symptom sliders plus irritability.
func DefaultTracked() []Tracked {
	return []Tracked{
		{Key: "headache_intensity", HighThreshold: 6},
		{Key: "neck_back_intensity", HighThreshold: 6},
		{Key: "stomach_intensity", HighThreshold: 6},
		{Key: "nasal_intensity", HighThreshold: 6},
		{Key: "knee_intensity", HighThreshold: 6},
		{Key: report.KeyMood, HighThreshold: 6},
	}
}

// Metric is the summary of one tracked metric over a window.
type Metric struct {
	Key       string           `json:"key"`
	Average   float64          `json:"average"`
	Latest    float64          `json:"latest"`
	HighCount int              `json:"highCount"`
	Trend     report.TrendFlag `json:"trend"`
}

// Window summarizes the most recent entries. Days is the window size, Entries how many entries
// actually contributed.
type Window struct {
	Days    int      `json:"days"`
	Entries int      `json:"entries"`
	Metrics []Metric `json:"metrics"`
}

// Summary carries both windows. Either may be nil when there is no data.
type Summary struct {
	Window7  *Window `json:"window7"`
	Window30 *Window `json:"window30"`
}

// Trends extracts the flag per metric.
func (w *Window) Trends() report.Trends {
	out := report.Trends{}
	if w == nil {
		return out
	}
	for _, m := range w.Metrics {
		out[m.Key] = m.Trend
	}
	return out
}

// Compute classifies values ordered newest first. The latest value is compared with the mean
// of the rest; a difference of at least one point in either direction is a trend.
func Compute(values []float64) report.TrendFlag {
	if len(values) < 2 {
		return report.TrendStable
	}
	rest := values[1:]
	sum := 0.0
	for _, v := range rest {
		sum += v
	}
	delta := values[0] - sum/float64(len(rest))
	switch {
	case delta >= risingDelta:
		return report.TrendRising
	case delta <= -risingDelta:
		return report.TrendFalling
	default:
		return report.TrendStable
	}
}

// Summarize builds a window over the first `days` samples (newest first) using the default
// tracked metrics.
func Summarize(samples []store.DaySample, days int) *Window {
	return SummarizeMetrics(samples, days, DefaultTracked())
}

// SummarizeMetrics is Summarize over an explicit metric list. It returns nil when no sample
// carries any tracked metric.
func SummarizeMetrics(samples []store.DaySample, days int, tracked []Tracked) *Window {
	if days > 0 && len(samples) > days {
		samples = samples[:days]
	}
	if len(samples) == 0 {
		return nil
	}
	metrics := make([]Metric, 0, len(tracked))
	for _, t := range tracked {
		values := make([]float64, 0, len(samples))
		for _, s := range samples {
			if v, ok := s.Values[t.Key]; ok {
				values = append(values, v)
			}
		}
		if len(values) == 0 {
			continue
		}
		sum, high := 0.0, 0
		for _, v := range values {
			sum += v
			if v >= t.HighThreshold {
				high++
			}
		}
		metrics = append(metrics, Metric{
			Key:       t.Key,
			Average:   round1(sum / float64(len(values))),
			Latest:    round1(values[0]),
			HighCount: high,
			Trend:     Compute(values),
		})
	}
	if len(metrics) == 0 {
		return nil
	}
	return &Window{Days: days, Entries: len(samples), Metrics: metrics}
}

// Build computes both windows from up to LongWindow samples.
func Build(samples []store.DaySample) Summary {
	return Summary{
		Window7:  Summarize(samples, ShortWindow),
		Window30: Summarize(samples, LongWindow),
	}
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

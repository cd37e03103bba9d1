package followup

import "health-diary/backend/internal/report"

const (
	// DefaultSeverityThreshold is the slider value at which a symptom counts as severe.
	DefaultSeverityThreshold = 6
	// DefaultMaxQuestions caps how many follow-ups one report can receive.
	DefaultMaxQuestions = 6
)

// Engine selects follow-up questions from today's answers and recent trends.
// It holds no mutable state and is safe for concurrent use.
type Engine struct {
	catalog         *Catalog
	threshold       int
	maxQuestions    int
	contextTriggers bool
}

// Option customises an Engine.
type Option func(*Engine)

// WithCatalog swaps the rule table.
func WithCatalog(c *Catalog) Option {
	return func(e *Engine) {
		if c != nil {
			e.catalog = c
		}
	}
}

// WithThreshold sets the severity threshold. Values outside the slider range are ignored.
func WithThreshold(threshold int) Option {
	return func(e *Engine) {
		if threshold > report.SliderMin && threshold <= report.SliderMax {
			e.threshold = threshold
		}
	}
}

// WithMaxQuestions caps the number of follow-ups returned.
func WithMaxQuestions(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxQuestions = n
		}
	}
}

// WithContextTriggers enables the focus, overall-feeling and exposure triggers for the
// pattern follow-up.
func WithContextTriggers(enabled bool) Option {
	return func(e *Engine) {
		e.contextTriggers = enabled
	}
}

// New builds an engine over the default catalog unless overridden.
func New(opts ...Option) *Engine {
	e := &Engine{
		catalog:      DefaultCatalog(),
		threshold:    DefaultSeverityThreshold,
		maxQuestions: DefaultMaxQuestions,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

var defaultEngine = New()

// Evaluate runs the default engine.
func Evaluate(answers report.Answers, trends report.Trends) []Question {
	return defaultEngine.Evaluate(answers, trends)
}

// Catalog exposes the rule table the engine evaluates.
func (e *Engine) Catalog() *Catalog { return e.catalog }

// Threshold reports the severity threshold in use.
func (e *Engine) Threshold() int { return e.threshold }

// MaxQuestions reports the follow-up cap.
func (e *Engine) MaxQuestions() int { return e.maxQuestions }

// ContextTriggers reports whether the context triggers are on.
func (e *Engine) ContextTriggers() bool { return e.contextTriggers }

// Evaluate walks the rules in catalog order and returns at most one follow-up per symptom.
// Missing answers, non-slider payloads and missing trends never trigger anything.
func (e *Engine) Evaluate(answers report.Answers, trends report.Trends) []Question {
	out := make([]Question, 0, len(e.catalog.rules))
	for _, rule := range e.catalog.rules {
		if len(out) >= e.maxQuestions {
			break
		}
		answer, ok := answers[rule.Key]
		if !ok {
			continue
		}
		value, ok := answer.SliderValue()
		if !ok {
			continue
		}
		value = report.ClampSlider(value, report.SliderMin, report.SliderMax)

		id, reason := "", Reason("")
		switch {
		case value >= e.threshold:
			id, reason = rule.NatureID(), ReasonSeverity
		case trends[rule.Key] == report.TrendRising:
			id, reason = rule.PatternID(), ReasonTrend
		case e.contextTriggers:
			if r, hit := contextReason(rule, answers); hit {
				id, reason = rule.PatternID(), r
			}
		}
		if id == "" {
			continue
		}
		q := copyQuestion(e.catalog.byID[id])
		q.Reason = reason
		out = append(out, q)
	}
	return out
}

func contextReason(rule Rule, answers report.Answers) (Reason, bool) {
	if rule.Focus != "" && answers[report.KeyFocusPriority].HasOption(rule.Focus) {
		return ReasonFocus, true
	}
	if opt, ok := answers[report.KeyOverallFeeling].ChoiceValue(); ok && opt == "awful" {
		return ReasonOverall, true
	}
	if rule.Exposure != nil {
		if opt, ok := answers[rule.Exposure.Key].ChoiceValue(); ok && opt == rule.Exposure.Option {
			return ReasonExposure, true
		}
	}
	return "", false
}

package advice

import (
	"sort"

	"health-diary/backend/internal/report"
	"health-diary/backend/internal/trend"
)

const (
	// SevereIntensity is the slider value above which pain advice takes over.
	SevereIntensity = 7
	// IrritableIntensity is the irritability value at which mood advice applies.
	IrritableIntensity = 8
	// LowStepDays is how many low-step days in the last week make a sedentary week.
	LowStepDays = 4
)

var painKeys = []string{"headache_intensity", "neck_back_intensity", "stomach_intensity", "nasal_intensity", "knee_intensity"}

// Input is one logged day plus the calendar week ending on it. Week may be nil.
type Input struct {
	Answers report.Answers
	Week    *trend.InsightWindow
}

// Rule turns a matching day into fixed advice. Higher priority wins; equal priorities keep
// table order.
type Rule struct {
	ID       string
	Category string
	Priority int
	Match    func(Input) bool
	Advice   Payload
}

// Result is the outcome of one Advise call. RuleID is empty when the fallback was used.
type Result struct {
	RuleID   string  `json:"rule_id,omitempty"`
	Category string  `json:"category,omitempty"`
	Payload  Payload `json:"advice"`
}

// Matched reports whether a rule produced the payload.
func (r Result) Matched() bool { return r.RuleID != "" }

// Advisor picks the highest priority rule that matches a day. It is safe for concurrent use.
type Advisor struct {
	rules []Rule
}

// Option customises an Advisor.
type Option func(*Advisor)

// WithRules replaces the rule table.
func WithRules(rules []Rule) Option {
	return func(a *Advisor) {
		if len(rules) > 0 {
			a.rules = append([]Rule(nil), rules...)
		}
	}
}

// New builds an advisor over DefaultRules unless overridden.
func New(opts ...Option) *Advisor {
	a := &Advisor{rules: DefaultRules()}
	for _, opt := range opts {
		opt(a)
	}
	sort.SliceStable(a.rules, func(i, j int) bool { return a.rules[i].Priority > a.rules[j].Priority })
	return a
}

// Rules returns the rules in evaluation order.
func (a *Advisor) Rules() []Rule {
	return append([]Rule(nil), a.rules...)
}

// Advise returns the advice of the first matching rule, or Fallback.
func (a *Advisor) Advise(in Input) Result {
	for _, r := range a.rules {
		if r.Match != nil && r.Match(in) {
			p := r.Advice.Normalize()
			p.Source = SourceLocal
			return Result{RuleID: r.ID, Category: r.Category, Payload: p}
		}
	}
	return Result{Payload: Fallback()}
}

func choice(in Input, key string) string {
	v, _ := in.Answers[key].ChoiceValue()
	return v
}

func slider(in Input, key string) (int, bool) {
	v, ok := in.Answers[key].SliderValue()
	if !ok {
		return 0, false
	}
	if v < report.SliderMin {
		v = report.SliderMin
	}
	if v > report.SliderMax {
		v = report.SliderMax
	}
	return v, true
}

// DefaultRules is the built-in table.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:       "pain_severe",
			Category: "pain",
			Priority: 10,
			Match: func(in Input) bool {
				for _, k := range painKeys {
					if v, ok := slider(in, k); ok && v > SevereIntensity {
						return true
					}
				}
				return false
			},
			Advice: Payload{
				Observations:  []string{"Some discomfort went above 7 today. That deserves attention."},
				Actions:       []string{"Note where it hurts and how long it lasts.", "Take it easy today and skip strenuous activity.", "Try a cold or warm compress, whichever suits the pain."},
				TomorrowFocus: []string{"Log whether the pain eased."},
				RedFlags:      []string{"Pain that keeps getting worse, comes with fever or limits movement needs a doctor."},
			},
		},
		{
			ID:       "sleep_short",
			Category: "sleep",
			Priority: 8,
			Match:    func(in Input) bool { return choice(in, "sleep_duration") == "lt6" },
			Advice: Payload{
				Observations:  []string{"Under 6 hours of sleep leaves little time to recover."},
				Actions:       []string{"Go to bed an hour earlier tonight and aim for 7 hours.", "Put the phone away an hour before bed.", "If sleep stays short for 3 days, talk to a doctor."},
				TomorrowFocus: []string{"Log when you went to bed and woke up."},
			},
		},
		{
			ID:       "mood_irritable",
			Category: "mood",
			Priority: 7,
			Match: func(in Input) bool {
				v, ok := slider(in, report.KeyMood)
				return ok && v >= IrritableIntensity
			},
			Advice: Payload{
				Observations:  []string{"Irritability ran high today."},
				Actions:       []string{"Do something you enjoy for a while: music, a book, some sunlight.", "Talk it through with someone you trust.", "Keep regular sleep and wake times."},
				TomorrowFocus: []string{"Note what affected your mood."},
				RedFlags:      []string{"Low mood lasting over two weeks or thoughts of self-harm need professional help."},
			},
		},
		{
			ID:       "exercise_low",
			Category: "exercise",
			Priority: 6,
			Match: func(in Input) bool {
				if choice(in, "daily_steps") != "lt3k" || in.Week == nil {
					return false
				}
				return in.Week.Steps["lt3k"] >= LowStepDays
			},
			Advice: Payload{
				Observations:  []string{"Most days this week stayed under 3k steps."},
				Actions:       []string{"Start small with a 15-20 minute walk after a meal.", "Pick an activity you like, enjoying it matters most.", "Set a goal of moving at least twice this week."},
				TomorrowFocus: []string{"Log whether the walk happened."},
			},
		},
		{
			ID:       "medication_missed",
			Category: "medication",
			Priority: 6,
			Match:    func(in Input) bool { return choice(in, "medication_adherence") == "missed" },
			Advice: Payload{
				Observations:  []string{"Some medication was missed today."},
				Actions:       []string{"Tie the dose to a daily habit such as breakfast.", "Keep the medication where you will see it."},
				TomorrowFocus: []string{"Log whether tomorrow's doses were on time."},
			},
		},
		{
			ID:       "sleep_insufficient",
			Category: "sleep",
			Priority: 5,
			Match:    func(in Input) bool { return choice(in, "sleep_duration") == "6_7" },
			Advice: Payload{
				Observations:  []string{"Sleep was a little short at 6-7 hours."},
				Actions:       []string{"Try going to bed 30 minutes earlier.", "Keep naps to 20-30 minutes so the night is not affected."},
				TomorrowFocus: []string{"See whether sleep time improves."},
			},
		},
		{
			ID:       "nap_long",
			Category: "sleep",
			Priority: 4,
			Match:    func(in Input) bool { return choice(in, "nap_duration") == "gt60" },
			Advice: Payload{
				Observations:  []string{"A nap over an hour can push bedtime later."},
				Actions:       []string{"Cap naps at 30 minutes and take them before 3pm."},
				TomorrowFocus: []string{"Note how long it took to fall asleep."},
			},
		},
	}
}

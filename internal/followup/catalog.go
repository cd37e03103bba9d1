package followup

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"health-diary/backend/internal/report"
)

// Reason records why a follow-up was surfaced.
type Reason string

const (
	ReasonSeverity Reason = "severity"
	ReasonTrend    Reason = "trend"
	ReasonFocus    Reason = "focus"
	ReasonOverall  Reason = "overall"
	ReasonExposure Reason = "exposure"
	ReasonAI       Reason = "ai"
)

// Question is a follow-up selected for the current report.
type Question struct {
	ID      string      `json:"id"`
	Symptom string      `json:"symptom"`
	Key     string      `json:"key"`
	Title   string      `json:"title"`
	Prompt  string      `json:"prompt"`
	Order   int         `json:"order"`
	Kind    report.Kind `json:"kind"`
	Reason  Reason      `json:"reason"`
}

// Prompt is the text and options of one catalog follow-up.
type Prompt struct {
	Title   string          `yaml:"title" json:"title"`
	Prompt  string          `yaml:"prompt" json:"prompt"`
	Options []report.Option `yaml:"options" json:"options"`
}

// Exposure is an extra single-choice answer that also warrants the pattern follow-up.
type Exposure struct {
	Key    string `yaml:"key" json:"key"`
	Option string `yaml:"option" json:"option"`
}

// Rule ties one symptom slider to its two follow-ups.
type Rule struct {
	Key      string    `yaml:"key" json:"key"`
	Symptom  string    `yaml:"symptom" json:"symptom"`
	Focus    string    `yaml:"focus,omitempty" json:"focus,omitempty"`
	Exposure *Exposure `yaml:"exposure,omitempty" json:"exposure,omitempty"`
	Nature   Prompt    `yaml:"nature" json:"nature"`
	Pattern  Prompt    `yaml:"pattern" json:"pattern"`
}

// NatureID is the id of the severity follow-up.
func (r Rule) NatureID() string { return "fu_" + r.Symptom + "_nature" }

// PatternID is the id of the trend follow-up.
func (r Rule) PatternID() string { return "fu_" + r.Symptom + "_pattern" }

// Catalog is the ordered, validated rule table. It is read-only once built.
type Catalog struct {
	rules []Rule
	byID  map[string]Question
}

type catalogFile struct {
	Rules []Rule `yaml:"rules"`
}

// NewCatalog validates the rules and indexes their follow-ups.
func NewCatalog(rules []Rule) (*Catalog, error) {
	if len(rules) == 0 {
		return nil, errors.New("catalog has no rules")
	}
	c := &Catalog{rules: make([]Rule, 0, len(rules)), byID: make(map[string]Question, len(rules)*2)}
	keys := make(map[string]struct{}, len(rules))
	for i, rule := range rules {
		rule.Key = report.NormalizeKey(rule.Key)
		rule.Symptom = report.NormalizeKey(rule.Symptom)
		if rule.Key == "" {
			return nil, fmt.Errorf("rule %d: key is required", i)
		}
		if rule.Symptom == "" {
			return nil, fmt.Errorf("rule %d (%s): symptom is required", i, rule.Key)
		}
		if _, dup := keys[rule.Key]; dup {
			return nil, fmt.Errorf("rule %d: duplicate key %q", i, rule.Key)
		}
		keys[rule.Key] = struct{}{}
		if rule.Exposure != nil {
			exposure := Exposure{Key: report.NormalizeKey(rule.Exposure.Key), Option: strings.TrimSpace(rule.Exposure.Option)}
			if exposure.Key == "" || exposure.Option == "" {
				return nil, fmt.Errorf("rule %s: exposure needs key and option", rule.Key)
			}
			rule.Exposure = &exposure
		}
		rule.Nature.Options = append([]report.Option(nil), rule.Nature.Options...)
		rule.Pattern.Options = append([]report.Option(nil), rule.Pattern.Options...)
		for _, p := range []Prompt{rule.Nature, rule.Pattern} {
			if strings.TrimSpace(p.Title) == "" {
				return nil, fmt.Errorf("rule %s: follow-up title is required", rule.Key)
			}
			if len(p.Options) == 0 {
				return nil, fmt.Errorf("rule %s: follow-up options are required", rule.Key)
			}
		}
		base := 100 + len(c.rules)*10
		nature := buildQuestion(rule, rule.NatureID(), rule.Nature, base)
		pattern := buildQuestion(rule, rule.PatternID(), rule.Pattern, base+1)
		for _, q := range []Question{nature, pattern} {
			if _, dup := c.byID[q.ID]; dup {
				return nil, fmt.Errorf("duplicate follow-up id %q", q.ID)
			}
			c.byID[q.ID] = q
		}
		c.rules = append(c.rules, rule)
	}
	return c, nil
}

// LoadCatalog reads a YAML rule table from disk.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read follow-up catalog: %w", err)
	}
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("unmarshal follow-up catalog: %w", err)
	}
	return NewCatalog(file.Rules)
}

// Rules returns a copy of the rule table in evaluation order.
func (c *Catalog) Rules() []Rule {
	return append([]Rule(nil), c.rules...)
}

// Find looks a follow-up up by id.
func (c *Catalog) Find(id string) (Question, bool) {
	q, ok := c.byID[id]
	if !ok {
		return Question{}, false
	}
	return copyQuestion(q), true
}

// Questions lists every follow-up in catalog order.
func (c *Catalog) Questions() []Question {
	out := make([]Question, 0, len(c.rules)*2)
	for _, r := range c.rules {
		out = append(out, copyQuestion(c.byID[r.NatureID()]), copyQuestion(c.byID[r.PatternID()]))
	}
	return out
}

func buildQuestion(rule Rule, id string, p Prompt, order int) Question {
	return Question{
		ID:      id,
		Symptom: rule.Symptom,
		Key:     rule.Key,
		Title:   strings.TrimSpace(p.Title),
		Prompt:  strings.TrimSpace(p.Prompt),
		Order:   order,
		Kind: report.Kind{
			Type:    report.KindSingleChoice,
			Options: append([]report.Option(nil), p.Options...),
		},
	}
}

func copyQuestion(q Question) Question {
	q.Kind.Options = append([]report.Option(nil), q.Kind.Options...)
	return q
}

func opts(pairs ...string) []report.Option {
	out := make([]report.Option, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, report.Option{ID: pairs[i], Label: pairs[i+1]})
	}
	return out
}

// DefaultRules is the built-in symptom table.
func DefaultRules() []Rule {
	return []Rule{
		{
			Key:     "headache_intensity",
			Symptom: "headache",
			Focus:   "head",
			Nature: Prompt{
				Title:  "What does the headache feel like?",
				Prompt: "Helps tell a tension headache from a migraine.",
				Options: opts(
					"dull", "Dull or pressing",
					"throbbing", "Throbbing or pulsing",
					"sharp", "Sharp or stabbing",
					"unclear", "Hard to say or changing",
				),
			},
			Pattern: Prompt{
				Title:  "Duration and triggers",
				Prompt: "How long does it last, and is it worse after sitting or screens?",
				Options: opts(
					"lt1h", "Under 1 hour, occasional",
					"1_3h", "1-3 hours",
					"gt3h", "Over 3 hours or recurring",
					"after_screen", "Worse after sitting or screens",
				),
			},
		},
		{
			Key:     "neck_back_intensity",
			Symptom: "neck_back",
			Focus:   "neck_back",
			Nature: Prompt{
				Title:  "Does it spread or cause numbness?",
				Prompt: "Helps tell muscle strain from nerve involvement.",
				Options: opts(
					"shoulder", "Spreads to shoulder or back",
					"arm", "Arm aches, tingles, or feels weak",
					"stiff", "Only tight or stiff",
					"none", "Does not spread",
				),
			},
			Pattern: Prompt{
				Title:  "Likely trigger",
				Prompt: "What set it off today?",
				Options: opts(
					"posture", "Long sitting or looking down",
					"sleep", "Sleeping position or pillow",
					"load", "Lifting or exercise",
					"none", "Not sure or no clear trigger",
				),
			},
		},
		{
			Key:     "stomach_intensity",
			Symptom: "stomach",
			Focus:   "stomach",
			Nature: Prompt{
				Title:  "What kind of stomach discomfort?",
				Prompt: "Acid, bloating, or cramping?",
				Options: opts(
					"acid", "Acid reflux or heartburn",
					"bloat", "Bloated or full",
					"sharp", "Sharp pain or cramps",
					"nausea", "Nausea",
				),
			},
			Pattern: Prompt{
				Title:  "Meals and routine",
				Prompt: "Which situation sets it off more easily?",
				Options: opts(
					"late_meal", "Late or heavy dinner",
					"spicy", "Spicy, fried food or alcohol",
					"coffee", "Coffee or strong tea",
					"empty", "Empty stomach",
					"none", "No clear pattern",
				),
			},
		},
		{
			Key:      "nasal_intensity",
			Symptom:  "nasal",
			Focus:    "nasal",
			Exposure: &Exposure{Key: report.KeyChillExposure, Option: "yes"},
			Nature: Prompt{
				Title:  "Main nose and throat symptom",
				Prompt: "Helps tell allergy, a chill, or an infection apart.",
				Options: opts(
					"congestion", "Blocked nose",
					"runny", "Runny nose or sneezing",
					"throat", "Itchy or scratchy throat",
					"colored", "Thicker or darker mucus",
				),
			},
			Pattern: Prompt{
				Title:  "Possible cause",
				Prompt: "Was it a chill or an allergy?",
				Options: opts(
					"cold", "Cold air or air conditioning",
					"allergy", "Allergy season, dust, or pets",
					"infection", "Low fever or tiredness, like a cold",
					"unknown", "Not sure",
				),
			},
		},
		{
			Key:     "knee_intensity",
			Symptom: "knee",
			Focus:   "knee",
			Nature: Prompt{
				Title:  "Swelling or clicking?",
				Prompt: "Checks for fluid or instability.",
				Options: opts(
					"swelling", "Swollen or puffy",
					"click", "Clicking, unstable, or giving way",
					"sore", "Only sore, no swelling",
					"none", "None of these",
				),
			},
			Pattern: Prompt{
				Title:  "When does the knee get worse?",
				Prompt: "Find the situations that made it worse today.",
				Options: opts(
					"stairs", "Stairs or squatting",
					"sport", "Running, jumping, or training",
					"cold", "Cold weather",
					"sit", "Stiff after sitting",
				),
			},
		},
	}
}

// DefaultCatalog returns the built-in catalog.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(DefaultRules())
	if err != nil {
		panic(err)
	}
	return c
}

package advice

import (
	"strings"
	"sync"
	"testing"

	"health-diary/backend/internal/report"
	"health-diary/backend/internal/trend"
)

func TestAdvise(t *testing.T) {
	lowWeek := &trend.InsightWindow{Steps: map[string]int{"lt3k": 5}}
	activeWeek := &trend.InsightWindow{Steps: map[string]int{"lt3k": 1, "6_10k": 4}}

	testCases := []struct {
		name    string
		input   Input
		rule    string
		outcome Source
	}{
		{"nothing notable", Input{Answers: report.Answers{"sleep_duration": report.Choice("7_8"), "headache_intensity": report.Slider(3)}}, "", SourceFallback},
		{"severe knee", Input{Answers: report.Answers{"knee_intensity": report.Slider(8)}}, "pain_severe", SourceLocal},
		{"seven is not severe", Input{Answers: report.Answers{"knee_intensity": report.Slider(7)}}, "", SourceFallback},
		{"clamped slider", Input{Answers: report.Answers{"stomach_intensity": report.Slider(42)}}, "pain_severe", SourceLocal},
		{"pain outranks sleep", Input{Answers: report.Answers{"sleep_duration": report.Choice("lt6"), "headache_intensity": report.Slider(9)}}, "pain_severe", SourceLocal},
		{"short sleep", Input{Answers: report.Answers{"sleep_duration": report.Choice("lt6"), report.KeyMood: report.Slider(9)}}, "sleep_short", SourceLocal},
		{"irritable", Input{Answers: report.Answers{report.KeyMood: report.Slider(8)}}, "mood_irritable", SourceLocal},
		{"sedentary week", Input{Answers: report.Answers{"daily_steps": report.Choice("lt3k")}, Week: lowWeek}, "exercise_low", SourceLocal},
		{"one lazy day", Input{Answers: report.Answers{"daily_steps": report.Choice("lt3k")}, Week: activeWeek}, "", SourceFallback},
		{"no week history", Input{Answers: report.Answers{"daily_steps": report.Choice("lt3k")}}, "", SourceFallback},
		{"exercise before medication", Input{Answers: report.Answers{"daily_steps": report.Choice("lt3k"), "medication_adherence": report.Choice("missed")}, Week: lowWeek}, "exercise_low", SourceLocal},
		{"missed medication", Input{Answers: report.Answers{"medication_adherence": report.Choice("missed")}}, "medication_missed", SourceLocal},
		{"slightly short sleep", Input{Answers: report.Answers{"sleep_duration": report.Choice("6_7"), "nap_duration": report.Choice("gt60")}}, "sleep_insufficient", SourceLocal},
		{"long nap", Input{Answers: report.Answers{"nap_duration": report.Choice("gt60")}}, "nap_long", SourceLocal},
		{"wrong answer shape", Input{Answers: report.Answers{"sleep_duration": report.Slider(4), "knee_intensity": report.Choice("8")}}, "", SourceFallback},
	}
	advisor := New()
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := advisor.Advise(tc.input)
			if got.RuleID != tc.rule {
				t.Fatalf("expected rule %q got %q", tc.rule, got.RuleID)
			}
			if got.Payload.Source != tc.outcome {
				t.Fatalf("expected source %q got %q", tc.outcome, got.Payload.Source)
			}
			if got.Matched() != (tc.rule != "") {
				t.Fatalf("matched mismatch for %q", got.RuleID)
			}
			if got.Payload.Empty() {
				t.Fatalf("expected advice content")
			}
		})
	}
}

func TestDefaultRulesWithinLimits(t *testing.T) {
	seen := map[string]bool{}
	for _, r := range DefaultRules() {
		if seen[r.ID] {
			t.Fatalf("duplicate rule %s", r.ID)
		}
		seen[r.ID] = true
		p := r.Advice
		if len(p.Observations) == 0 || len(p.Actions) == 0 {
			t.Fatalf("%s: empty advice", r.ID)
		}
		if len(p.Observations) > maxObservations || len(p.Actions) > maxActions || len(p.TomorrowFocus) > maxFocus || len(p.RedFlags) > maxRedFlags {
			t.Fatalf("%s: advice exceeds limits", r.ID)
		}
	}
}

func TestRulesOrderedByPriority(t *testing.T) {
	rules := New().Rules()
	for i := 1; i < len(rules); i++ {
		if rules[i].Priority > rules[i-1].Priority {
			t.Fatalf("rule %s before higher priority %s", rules[i-1].ID, rules[i].ID)
		}
	}
	if rules[3].ID != "exercise_low" || rules[4].ID != "medication_missed" {
		t.Fatalf("expected table order for equal priorities, got %s, %s", rules[3].ID, rules[4].ID)
	}
}

func TestWithRules(t *testing.T) {
	always := func(Input) bool { return true }
	advisor := New(WithRules([]Rule{
		{ID: "low", Priority: 1, Match: always, Advice: Payload{Actions: []string{"low"}}},
		{ID: "high", Priority: 5, Match: always, Advice: Payload{Actions: []string{"  high  ", "", "b", "c", "d"}}},
	}))
	got := advisor.Advise(Input{})
	if got.RuleID != "high" {
		t.Fatalf("expected high got %s", got.RuleID)
	}
	if strings.Join(got.Payload.Actions, "|") != "high|b|c" {
		t.Fatalf("expected normalized actions got %v", got.Payload.Actions)
	}

	if New(WithRules(nil)).Advise(Input{Answers: report.Answers{"nap_duration": report.Choice("gt60")}}).RuleID != "nap_long" {
		t.Fatalf("expected empty rule list to keep defaults")
	}
}

func TestAdviseConcurrent(t *testing.T) {
	advisor := New()
	in := Input{Answers: report.Answers{"medication_adherence": report.Choice("missed")}}
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if got := advisor.Advise(in).RuleID; got != "medication_missed" {
				t.Errorf("expected medication_missed got %s", got)
			}
		}()
	}
	wg.Wait()
}

func TestFallbackNormalized(t *testing.T) {
	p := Fallback()
	if p.Source != SourceFallback || p.Empty() {
		t.Fatalf("unexpected fallback %+v", p)
	}
	if got := (Payload{Observations: []string{" ", ""}}).Normalize(); !got.Empty() {
		t.Fatalf("expected blank lines dropped got %+v", got)
	}
}

package followup

import (
	"reflect"
	"strings"
	"sync"
	"testing"

	"health-diary/backend/internal/report"
)

func ids(questions []Question) []string {
	out := make([]string, 0, len(questions))
	for _, q := range questions {
		out = append(out, q.ID)
	}
	return out
}

func contains(questions []Question, id string) bool {
	for _, q := range questions {
		if q.ID == id {
			return true
		}
	}
	return false
}

func TestEvaluate_SevereHeadache(t *testing.T) {
	got := Evaluate(report.Answers{"headache_intensity": report.Slider(7)}, report.Trends{})

	if !contains(got, "fu_headache_nature") {
		t.Fatalf("expected fu_headache_nature in %v", ids(got))
	}
	if contains(got, "fu_headache_pattern") {
		t.Fatalf("did not expect fu_headache_pattern in %v", ids(got))
	}
	if got[0].Reason != ReasonSeverity {
		t.Fatalf("expected reason %q got %q", ReasonSeverity, got[0].Reason)
	}
}

func TestEvaluate_RisingTrendEvenIfMild(t *testing.T) {
	got := Evaluate(
		report.Answers{"headache_intensity": report.Slider(4)},
		report.Trends{"headache_intensity": report.TrendRising},
	)

	if !reflect.DeepEqual(ids(got), []string{"fu_headache_pattern"}) {
		t.Fatalf("expected only fu_headache_pattern got %v", ids(got))
	}
	if got[0].Reason != ReasonTrend {
		t.Fatalf("expected reason %q got %q", ReasonTrend, got[0].Reason)
	}
}

func TestEvaluate_CalmAndStable(t *testing.T) {
	got := Evaluate(report.Answers{"headache_intensity": report.Slider(2)}, report.Trends{})

	for _, q := range got {
		if strings.HasPrefix(q.ID, "fu_headache") {
			t.Fatalf("unexpected follow-up %s", q.ID)
		}
	}
}

func TestEvaluate_EverySymptomBranch(t *testing.T) {
	catalog := DefaultCatalog()
	for _, rule := range catalog.Rules() {
		rule := rule
		tests := []struct {
			name   string
			value  int
			trend  report.TrendFlag
			expect []string
		}{
			{"at threshold stable", 6, report.TrendStable, []string{rule.NatureID()}},
			{"severe rising", 9, report.TrendRising, []string{rule.NatureID()}},
			{"severe falling", 10, report.TrendFalling, []string{rule.NatureID()}},
			{"mild rising", 5, report.TrendRising, []string{rule.PatternID()}},
			{"zero rising", 0, report.TrendRising, []string{rule.PatternID()}},
			{"mild stable", 5, report.TrendStable, []string{}},
			{"mild falling", 3, report.TrendFalling, []string{}},
			{"mild absent", 1, "", []string{}},
		}
		for _, tc := range tests {
			t.Run(rule.Symptom+"/"+tc.name, func(t *testing.T) {
				trends := report.Trends{}
				if tc.trend != "" {
					trends[rule.Key] = tc.trend
				}
				got := Evaluate(report.Answers{rule.Key: report.Slider(tc.value)}, trends)
				if !reflect.DeepEqual(ids(got), tc.expect) {
					t.Fatalf("expected %v got %v", tc.expect, ids(got))
				}
			})
		}
	}
}

func TestEvaluate_MissingAnswerNeverTriggers(t *testing.T) {
	trends := report.Trends{}
	for _, rule := range DefaultCatalog().Rules() {
		trends[rule.Key] = report.TrendRising
	}
	got := Evaluate(report.Answers{}, trends)
	if len(got) != 0 {
		t.Fatalf("expected no follow-ups got %v", ids(got))
	}
	got = Evaluate(nil, nil)
	if len(got) != 0 {
		t.Fatalf("expected no follow-ups for nil input got %v", ids(got))
	}
}

func TestEvaluate_NonSliderPayloadIgnored(t *testing.T) {
	got := Evaluate(
		report.Answers{"headache_intensity": report.Choice("7")},
		report.Trends{"headache_intensity": report.TrendRising},
	)
	if len(got) != 0 {
		t.Fatalf("expected no follow-ups got %v", ids(got))
	}
}

func TestEvaluate_ClampsOutOfRange(t *testing.T) {
	tests := []struct {
		name   string
		value  int
		trend  report.TrendFlag
		expect []string
	}{
		{"far above", 42, "", []string{"fu_knee_nature"}},
		{"just above", 11, report.TrendRising, []string{"fu_knee_nature"}},
		{"negative stable", -5, report.TrendStable, []string{}},
		{"negative rising", -5, report.TrendRising, []string{"fu_knee_pattern"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Evaluate(report.Answers{"knee_intensity": report.Slider(tc.value)}, report.Trends{"knee_intensity": tc.trend})
			if !reflect.DeepEqual(ids(got), tc.expect) {
				t.Fatalf("expected %v got %v", tc.expect, ids(got))
			}
		})
	}
}

func TestEvaluate_FixedSymptomOrder(t *testing.T) {
	answers := report.Answers{
		"knee_intensity":      report.Slider(8),
		"nasal_intensity":     report.Slider(2),
		"stomach_intensity":   report.Slider(6),
		"neck_back_intensity": report.Slider(1),
		"headache_intensity":  report.Slider(9),
	}
	trends := report.Trends{"nasal_intensity": report.TrendRising, "neck_back_intensity": report.TrendRising}

	want := []string{
		"fu_headache_nature",
		"fu_neck_back_pattern",
		"fu_stomach_nature",
		"fu_nasal_pattern",
		"fu_knee_nature",
	}
	for i := 0; i < 20; i++ {
		got := Evaluate(answers, trends)
		if !reflect.DeepEqual(ids(got), want) {
			t.Fatalf("run %d: expected %v got %v", i, want, ids(got))
		}
		seen := map[string]bool{}
		for _, q := range got {
			if seen[q.ID] {
				t.Fatalf("duplicate follow-up %s", q.ID)
			}
			seen[q.ID] = true
		}
	}
}

func TestEvaluate_Deterministic(t *testing.T) {
	answers := report.Answers{"headache_intensity": report.Slider(6), "stomach_intensity": report.Slider(3)}
	trends := report.Trends{"stomach_intensity": report.TrendRising}

	first := Evaluate(answers, trends)
	second := Evaluate(answers, trends)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("non-deterministic output:\n%+v\n%+v", first, second)
	}
}

func TestEvaluate_DoesNotMutateInputs(t *testing.T) {
	answers := report.Answers{
		"headache_intensity": report.Slider(15),
		"focus_priority":     report.MultiChoice("head"),
	}
	trends := report.Trends{"headache_intensity": report.TrendRising}
	answersBefore := answers.Clone()
	trendsBefore := trends.Clone()

	New(WithContextTriggers(true)).Evaluate(answers, trends)

	if !reflect.DeepEqual(answers, answersBefore) {
		t.Fatalf("answers mutated: %+v", answers)
	}
	if !reflect.DeepEqual(trends, trendsBefore) {
		t.Fatalf("trends mutated: %+v", trends)
	}
}

func TestEvaluate_ResultDoesNotAliasCatalog(t *testing.T) {
	e := New()
	got := e.Evaluate(report.Answers{"headache_intensity": report.Slider(8)}, nil)
	got[0].Kind.Options[0].Label = "changed"
	got[0].Title = "changed"

	again := e.Evaluate(report.Answers{"headache_intensity": report.Slider(8)}, nil)
	if again[0].Kind.Options[0].Label == "changed" || again[0].Title == "changed" {
		t.Fatal("engine output shares memory with the catalog")
	}
}

func TestEvaluate_ConcurrentCalls(t *testing.T) {
	e := New()
	answers := report.Answers{"headache_intensity": report.Slider(7), "knee_intensity": report.Slider(2)}
	trends := report.Trends{"knee_intensity": report.TrendRising}
	want := ids(e.Evaluate(answers, trends))

	var wg sync.WaitGroup
	errs := make(chan string, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if got := ids(e.Evaluate(answers, trends)); !reflect.DeepEqual(got, want) {
				errs <- strings.Join(got, ",")
			}
		}()
	}
	wg.Wait()
	close(errs)
	for got := range errs {
		t.Fatalf("expected %v got %s", want, got)
	}
}

func TestEvaluate_ContextTriggers(t *testing.T) {
	e := New(WithContextTriggers(true))

	tests := []struct {
		name    string
		answers report.Answers
		expect  []string
		reason  Reason
	}{
		{
			"focus priority",
			report.Answers{"knee_intensity": report.Slider(2), report.KeyFocusPriority: report.MultiChoice("knee")},
			[]string{"fu_knee_pattern"},
			ReasonFocus,
		},
		{
			"chill exposure for nasal",
			report.Answers{"nasal_intensity": report.Slider(1), report.KeyChillExposure: report.Choice("yes")},
			[]string{"fu_nasal_pattern"},
			ReasonExposure,
		},
		{
			"severity still wins",
			report.Answers{"knee_intensity": report.Slider(7), report.KeyFocusPriority: report.MultiChoice("knee")},
			[]string{"fu_knee_nature"},
			ReasonSeverity,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := e.Evaluate(tc.answers, nil)
			if !reflect.DeepEqual(ids(got), tc.expect) {
				t.Fatalf("expected %v got %v", tc.expect, ids(got))
			}
			if got[0].Reason != tc.reason {
				t.Fatalf("expected reason %q got %q", tc.reason, got[0].Reason)
			}
		})
	}

	overall := e.Evaluate(report.Answers{
		"headache_intensity":     report.Slider(0),
		"stomach_intensity":      report.Slider(0),
		report.KeyOverallFeeling: report.Choice("awful"),
	}, nil)
	if !reflect.DeepEqual(ids(overall), []string{"fu_headache_pattern", "fu_stomach_pattern"}) {
		t.Fatalf("unexpected overall follow-ups %v", ids(overall))
	}

	// Off by default: the same context produces nothing.
	if got := Evaluate(report.Answers{"knee_intensity": report.Slider(2), report.KeyFocusPriority: report.MultiChoice("knee")}, nil); len(got) != 0 {
		t.Fatalf("expected no follow-ups with context triggers off, got %v", ids(got))
	}
}

func TestEngineOptions(t *testing.T) {
	e := New(WithThreshold(8), WithMaxQuestions(2))
	answers := report.Answers{
		"headache_intensity":  report.Slider(7),
		"neck_back_intensity": report.Slider(8),
		"stomach_intensity":   report.Slider(9),
		"knee_intensity":      report.Slider(10),
	}
	got := e.Evaluate(answers, nil)
	if !reflect.DeepEqual(ids(got), []string{"fu_neck_back_nature", "fu_stomach_nature"}) {
		t.Fatalf("unexpected follow-ups %v", ids(got))
	}

	ignored := New(WithThreshold(0), WithThreshold(11), WithMaxQuestions(-1))
	if ignored.Threshold() != DefaultSeverityThreshold || ignored.MaxQuestions() != DefaultMaxQuestions {
		t.Fatalf("invalid options should be ignored, got threshold %d max %d", ignored.Threshold(), ignored.MaxQuestions())
	}
}

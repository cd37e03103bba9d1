package report

import (
	"fmt"
	"sort"
)

// Question keys used outside the bank.
const (
	KeyOverallFeeling = "overall_feeling"
	KeyFocusPriority  = "focus_priority"
	KeyChillExposure  = "chill_exposure"
	KeyDailyNotes     = "daily_notes"
	KeyMood           = "mood_irritability"
)

// Slider bounds shared by every intensity question.
const (
	SliderMin = 0
	SliderMax = 10
)

// Bank is an ordered set of daily questions.
type Bank struct {
	questions []Question
	byID      map[string]int
}

// NewBank indexes the supplied questions. Ids must be unique.
func NewBank(questions []Question) (*Bank, error) {
	sorted := append([]Question(nil), questions...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Step.Index() != sorted[j].Step.Index() {
			return sorted[i].Step.Index() < sorted[j].Step.Index()
		}
		return sorted[i].Order < sorted[j].Order
	})
	byID := make(map[string]int, len(sorted))
	for i, q := range sorted {
		if q.ID == "" {
			return nil, fmt.Errorf("question %d has no id", i)
		}
		if _, dup := byID[q.ID]; dup {
			return nil, fmt.Errorf("duplicate question id %q", q.ID)
		}
		byID[q.ID] = i
	}
	return &Bank{questions: sorted, byID: byID}, nil
}

// Questions returns a copy of all questions in display order.
func (b *Bank) Questions() []Question {
	return append([]Question(nil), b.questions...)
}

// ForStep returns the questions belonging to the step.
func (b *Bank) ForStep(step Step) []Question {
	var out []Question
	for _, q := range b.questions {
		if q.Step == step {
			out = append(out, q)
		}
	}
	return out
}

// Find looks a question up by id.
func (b *Bank) Find(id string) (Question, bool) {
	idx, ok := b.byID[id]
	if !ok {
		return Question{}, false
	}
	return b.questions[idx], true
}

// Validate checks answer against the question id and returns the value to store.
func (b *Bank) Validate(id string, answer Answer) (Answer, error) {
	q, ok := b.Find(id)
	if !ok {
		return Answer{}, fmt.Errorf("unknown question %q", id)
	}
	accepted, err := q.Kind.Accepts(answer)
	if err != nil {
		return Answer{}, fmt.Errorf("%s: %w", id, err)
	}
	return accepted, nil
}

func intensity(id, title, prompt string, order int) Question {
	return Question{
		ID:       id,
		Title:    title,
		Prompt:   prompt,
		Step:     StepBaseline,
		Order:    order,
		Required: true,
		Kind:     Kind{Type: KindSlider, Min: SliderMin, Max: SliderMax, Default: 0, Suffix: " / 10"},
	}
}

func singleChoice(id, title, prompt string, order int, options ...Option) Question {
	return Question{
		ID:       id,
		Title:    title,
		Prompt:   prompt,
		Step:     StepBaseline,
		Order:    order,
		Required: true,
		Kind:     Kind{Type: KindSingleChoice, Options: options},
	}
}

// DefaultBank returns the built-in greeting and baseline questions.
func DefaultBank() *Bank {
	overall := singleChoice(KeyOverallFeeling, "How are you feeling today?",
		"The number of questions adapts to how you feel.", 0,
		Option{ID: "great", Label: "Great"},
		Option{ID: "ok", Label: "Okay"},
		Option{ID: "unwell", Label: "A bit unwell"},
		Option{ID: "awful", Label: "Awful"},
	)
	overall.Step = StepGreeting

	focus := Question{
		ID:       KeyFocusPriority,
		Title:    "Anything to pay special attention to today?",
		Prompt:   "Pick the areas you want to look at more closely.",
		Step:     StepGreeting,
		Order:    1,
		Required: true,
		Kind: Kind{
			Type: KindMultipleChoice,
			Options: []Option{
				{ID: "head", Label: "Headache"},
				{ID: "neck_back", Label: "Neck, shoulders, back"},
				{ID: "stomach", Label: "Stomach"},
				{ID: "nasal", Label: "Nose and throat"},
				{ID: "knee", Label: "Knees"},
				{ID: "emotion", Label: "Mood"},
				{ID: "sleep", Label: "Sleep"},
				{ID: "period", Label: "Period"},
				{ID: "none", Label: "Nothing in particular"},
			},
			MaxSelection: 3,
			Helper:       "Choose up to 3",
		},
	}

	notes := Question{
		ID:       KeyDailyNotes,
		Title:    "Anything else worth noting?",
		Prompt:   "Small details, medication changes, plans for tomorrow.",
		Step:     StepBaseline,
		Order:    14,
		Required: false,
		Kind:     Kind{Type: KindTextInput, Hint: "Optional", MaxLength: 240, Helper: "Up to 240 characters"},
	}

	bank, err := NewBank([]Question{
		overall,
		focus,
		singleChoice("sleep_duration", "How long did you sleep last night?", "A rough guess is fine.", 2,
			Option{ID: "lt6", Label: "Under 6 hours"},
			Option{ID: "6_7", Label: "6-7 hours"},
			Option{ID: "7_8", Label: "7-8 hours"},
			Option{ID: "gt8", Label: "Over 8 hours"},
		),
		singleChoice("nap_duration", "Did you nap today?", "Pick none if you did not.", 3,
			Option{ID: "none", Label: "None"},
			Option{ID: "lt30", Label: "Under 30 minutes"},
			Option{ID: "30_60", Label: "30-60 minutes"},
			Option{ID: "gt60", Label: "Over 60 minutes"},
		),
		singleChoice("daily_steps", "How many steps today?", "An estimate is enough.", 4,
			Option{ID: "lt3k", Label: "Under 3k"},
			Option{ID: "3_6k", Label: "3-6k"},
			Option{ID: "6_10k", Label: "6-10k"},
			Option{ID: "gt10k", Label: "Over 10k"},
		),
		intensity("headache_intensity", "Any headache today?", "0 is nothing at all, 10 is very strong.", 5),
		intensity("neck_back_intensity", "Neck, shoulder or back tension?", "Anywhere from 0 to 10.", 6),
		intensity("stomach_intensity", "How is your stomach?", "Choose 0 if it felt settled.", 7),
		intensity("nasal_intensity", "Nose or throat discomfort?", "Dryness, congestion, an itchy throat all count.", 8),
		intensity("knee_intensity", "Knee discomfort?", "Soreness after exercise or weather changes counts.", 9),
		intensity(KeyMood, "Feeling irritable today?", "0 is calm, 10 is very irritable.", 10),
		singleChoice(KeyChillExposure, "Were you exposed to cold today?", "Air conditioning drafts or damp cold count.", 11,
			Option{ID: "yes", Label: "Yes"},
			Option{ID: "no", Label: "No"},
		),
		singleChoice("medication_adherence", "Did you take your medication on time?", "Pick not applicable if you have no plan.", 12,
			Option{ID: "on_time", Label: "On time"},
			Option{ID: "missed", Label: "Missed some"},
			Option{ID: "na", Label: "Not applicable"},
		),
		singleChoice("menstrual_status", "Are you on your period today?", "Pick not on period if this does not apply.", 13,
			Option{ID: "period", Label: "On period"},
			Option{ID: "non_period", Label: "Not on period"},
			Option{ID: "irregular", Label: "Irregular"},
		),
		notes,
	})
	if err != nil {
		panic(err)
	}
	return bank
}

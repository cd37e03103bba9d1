package ai

import (
	"context"

	"health-diary/backend/internal/followup"
	"health-diary/backend/internal/report"
)

const aiOrderBase = 900

// Augmenter adapts a Suggester to the report flow.
type Augmenter struct {
	suggester Suggester
}

// NewAugmenter returns nil when s is nil or disabled, so callers can pass the result
// straight to the flow options.
func NewAugmenter(s Suggester) *Augmenter {
	if s == nil || !s.Enabled() {
		return nil
	}
	return &Augmenter{suggester: s}
}

// Augment asks the suggester for follow-ups beyond the rule-based ones.
func (a *Augmenter) Augment(ctx context.Context, answers report.Answers, trends report.Trends, existing []followup.Question) ([]followup.Question, error) {
	if a == nil {
		return nil, ErrDisabled
	}
	suggestions, err := a.suggester.Suggest(ctx, Input{Answers: answers, Trends: trends, Existing: existing})
	if err != nil {
		return nil, err
	}
	return Questions(suggestions), nil
}

// Questions converts suggestions into follow-ups ordered after the catalog ones.
func Questions(suggestions []Suggestion) []followup.Question {
	out := make([]followup.Question, 0, len(suggestions))
	for i, s := range suggestions {
		out = append(out, s.Question(aiOrderBase+i))
	}
	return out
}

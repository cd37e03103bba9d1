package ai

import (
	"fmt"
	"strings"

	"health-diary/backend/internal/followup"
	"health-diary/backend/internal/report"
)

// Suggestion is one extra follow-up proposed by the model.
type Suggestion struct {
	ID      string   `json:"id,omitempty"`
	Text    string   `json:"text"`
	Type    string   `json:"type"`
	Options []string `json:"options,omitempty"`
}

// Input is what the model sees: today's answers, the trend flags, and the follow-ups the
// rule engine already chose.
type Input struct {
	Answers  report.Answers
	Trends   report.Trends
	Existing []followup.Question
}

// Question converts the suggestion into a single-choice follow-up. Option ids are derived
// from the labels.
func (s Suggestion) Question(order int) followup.Question {
	options := make([]report.Option, 0, len(s.Options))
	seen := make(map[string]struct{}, len(s.Options))
	for i, label := range s.Options {
		id := report.NormalizeKey(label)
		if id == "" {
			id = fmt.Sprintf("opt_%d", i+1)
		}
		if _, dup := seen[id]; dup {
			base := id
			for n := i + 1; ; n++ {
				id = fmt.Sprintf("%s_%d", base, n)
				if _, taken := seen[id]; !taken {
					break
				}
			}
		}
		seen[id] = struct{}{}
		options = append(options, report.Option{ID: id, Label: strings.TrimSpace(label)})
	}
	return followup.Question{
		ID:     s.ID,
		Title:  strings.TrimSpace(s.Text),
		Order:  order,
		Reason: followup.ReasonAI,
		Kind:   report.Kind{Type: report.KindSingleChoice, Options: options},
	}
}

package api

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"health-diary/backend/internal/flow"
	"health-diary/backend/internal/followup"
	"health-diary/backend/internal/report"
	"health-diary/backend/internal/store"
	"health-diary/backend/internal/trend"
)

// ConfigResponse describes the engine settings the frontend adapts to.
type ConfigResponse struct {
	Threshold       int    `json:"threshold"`
	MaxQuestions    int    `json:"max_questions"`
	ContextTriggers bool   `json:"context_triggers"`
	AIEnabled       bool   `json:"ai_enabled"`
	Timezone        string `json:"timezone"`
	Entries         int64  `json:"entries"`
	LiveSessions    int    `json:"live_sessions"`
}

// QuestionsResponse lists the fixed questions and every follow-up the catalog can emit.
type QuestionsResponse struct {
	Questions []report.Question   `json:"questions"`
	FollowUps []followup.Question `json:"follow_ups"`
}

// EvaluateRequest carries one day's answers. Values are decoded one by one so a malformed
// entry is skipped instead of failing the request. Trends are read from history when omitted.
type EvaluateRequest struct {
	Date    string                     `json:"date"`
	Answers map[string]json.RawMessage `json:"answers"`
	Trends  map[string]json.RawMessage `json:"trends"`
}

// EvaluateResponse holds the selected follow-ups.
type EvaluateResponse struct {
	Date             string              `json:"date"`
	FollowUps        []followup.Question `json:"follow_ups"`
	Trends           report.Trends       `json:"trends"`
	ProcessingTimeMs int64               `json:"processing_time_ms"`
}

// SuggestResponse holds model-proposed follow-ups.
type SuggestResponse struct {
	FollowUps []followup.Question `json:"follow_ups"`
}

// CreateSessionRequest optionally names the diary day.
type CreateSessionRequest struct {
	Date string `json:"date"`
}

// EntryDTO is the API representation of a submitted day.
type EntryDTO struct {
	ID               uint           `json:"id"`
	Date             string         `json:"date"`
	OverallFeeling   string         `json:"overall_feeling"`
	Answers          report.Answers `json:"answers"`
	FollowUps        []string       `json:"follow_ups"`
	ProcessingTimeMs int64          `json:"processing_time_ms"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// EntriesResponse is a page of entries, newest first.
type EntriesResponse struct {
	Items []EntryDTO `json:"items"`
	Total int64      `json:"total"`
}

// TrendsResponse carries both summary windows.
type TrendsResponse struct {
	Source  string        `json:"source"`
	Summary trend.Summary `json:"summary"`
}

// EntryFromModel converts a stored entry. Responses that no longer parse are skipped.
func EntryFromModel(row store.DailyEntry) EntryDTO {
	answers := make(report.Answers, len(row.Responses))
	for _, r := range row.Responses {
		answer, err := report.ParseDisplay(report.AnswerType(r.AnswerType), r.AnswerValue)
		if err != nil {
			logrus.WithError(err).WithFields(logrus.Fields{"date": row.EntryDate, "key": r.QuestionKey}).Warn("skipping stored response")
			continue
		}
		answers[r.QuestionKey] = answer
	}
	followUps := row.FollowUps()
	if followUps == nil {
		followUps = []string{}
	}
	return EntryDTO{
		ID:               row.ID,
		Date:             row.EntryDate,
		OverallFeeling:   row.OverallFeeling,
		Answers:          answers,
		FollowUps:        followUps,
		ProcessingTimeMs: row.ProcessingTimeMs,
		CreatedAt:        row.CreatedAt,
		UpdatedAt:        row.UpdatedAt,
	}
}

// EntryFromSubmission builds the row persisted for a submitted report.
func EntryFromSubmission(sub flow.Submission, bank *report.Bank) store.DailyEntry {
	entry := store.DailyEntry{
		EntryDate:        sub.Date,
		ProcessingTimeMs: sub.Elapsed.Milliseconds(),
	}
	if feeling, ok := sub.Answers[report.KeyOverallFeeling].ChoiceValue(); ok {
		entry.OverallFeeling = feeling
	}
	ids := make([]string, 0, len(sub.FollowUps))
	for _, q := range sub.FollowUps {
		ids = append(ids, q.ID)
	}
	entry.SetFollowUps(ids)

	keys := sub.Answers.Keys()
	sort.SliceStable(keys, func(i, j int) bool { return stepOf(bank, keys[i]) < stepOf(bank, keys[j]) })
	for _, key := range keys {
		answer := sub.Answers[key]
		step := string(flow.StepFollowUp)
		if q, ok := bank.Find(key); ok {
			step = string(q.Step)
		}
		entry.Responses = append(entry.Responses, store.QuestionResponse{
			QuestionKey: key,
			Step:        step,
			AnswerType:  string(answer.Type),
			AnswerValue: answer.Display(),
		})
	}
	return entry
}

func stepOf(bank *report.Bank, key string) int {
	if q, ok := bank.Find(key); ok {
		return q.Step.Index()
	}
	return report.StepFollowUp.Index()
}

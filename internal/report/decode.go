package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// DecodeAnswers decodes every answer on its own so one malformed value does not discard the
// rest. Failed keys are returned in skipped; null values count as unanswered. A bare integer
// is read as a slider answer.
func DecodeAnswers(raw map[string]json.RawMessage) (answers Answers, skipped map[string]error) {
	answers = make(Answers, len(raw))
	for _, key := range sortedRawKeys(raw) {
		data := bytes.TrimSpace(raw[key])
		if len(data) == 0 || bytes.Equal(data, []byte("null")) {
			continue
		}
		var answer Answer
		var err error
		if data[0] == '{' {
			err = json.Unmarshal(data, &answer)
		} else {
			var n int
			if err = json.Unmarshal(data, &n); err == nil {
				answer = Slider(n)
			}
		}
		if err != nil {
			skipped = addSkipped(skipped, key, err)
			continue
		}
		answers[key] = answer
	}
	return answers, skipped
}

// DecodeTrends decodes trend flags independently, like DecodeAnswers. The result is nil only
// when raw is nil, so callers can tell an omitted map from an empty one.
func DecodeTrends(raw map[string]json.RawMessage) (trends Trends, skipped map[string]error) {
	if raw == nil {
		return nil, nil
	}
	trends = make(Trends, len(raw))
	for _, key := range sortedRawKeys(raw) {
		var value string
		if err := json.Unmarshal(raw[key], &value); err != nil {
			skipped = addSkipped(skipped, key, fmt.Errorf("trend flag must be a string: %w", err))
			continue
		}
		flag, err := ParseTrendFlag(value)
		if err != nil {
			skipped = addSkipped(skipped, key, err)
			continue
		}
		trends[key] = flag
	}
	return trends, skipped
}

func addSkipped(skipped map[string]error, key string, err error) map[string]error {
	if skipped == nil {
		skipped = make(map[string]error)
	}
	skipped[key] = err
	return skipped
}

func sortedRawKeys(raw map[string]json.RawMessage) []string {
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

package report

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// AnswerType names the shape of a recorded answer.
type AnswerType string

const (
	AnswerSlider      AnswerType = "slider"
	AnswerChoice      AnswerType = "choice"
	AnswerMultiChoice AnswerType = "multi_choice"
	AnswerText        AnswerType = "text"
)

// Answer is a single response to a daily question. Exactly one payload field is meaningful,
// selected by Type.
type Answer struct {
	Type    AnswerType
	Value   int
	Option  string
	Options []string
	Text    string
}

// Answers maps question keys to the answer given today.
type Answers map[string]Answer

// Slider builds a numeric slider answer.
func Slider(value int) Answer {
	return Answer{Type: AnswerSlider, Value: value}
}

// Choice builds a single-choice answer.
func Choice(option string) Answer {
	return Answer{Type: AnswerChoice, Option: option}
}

// MultiChoice builds a multi-choice answer. Options are de-duplicated and sorted.
func MultiChoice(options ...string) Answer {
	return Answer{Type: AnswerMultiChoice, Options: normalizeOptions(options)}
}

// Text builds a free-text note answer.
func Text(text string) Answer {
	return Answer{Type: AnswerText, Text: text}
}

// SliderValue returns the slider value when the answer is a slider.
func (a Answer) SliderValue() (int, bool) {
	if a.Type != AnswerSlider {
		return 0, false
	}
	return a.Value, true
}

// ChoiceValue returns the selected option when the answer is a single choice.
func (a Answer) ChoiceValue() (string, bool) {
	if a.Type != AnswerChoice {
		return "", false
	}
	return a.Option, true
}

// HasOption reports whether a multi-choice answer includes the option.
func (a Answer) HasOption(option string) bool {
	if a.Type != AnswerMultiChoice {
		return false
	}
	for _, o := range a.Options {
		if o == option {
			return true
		}
	}
	return false
}

// Display renders the answer payload as plain text.
func (a Answer) Display() string {
	switch a.Type {
	case AnswerSlider:
		return strconv.Itoa(a.Value)
	case AnswerChoice:
		return a.Option
	case AnswerMultiChoice:
		return strings.Join(a.Options, ",")
	case AnswerText:
		return a.Text
	default:
		return ""
	}
}

// ParseDisplay reverses Display for a known answer type.
func ParseDisplay(t AnswerType, value string) (Answer, error) {
	switch t {
	case AnswerSlider:
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return Answer{}, fmt.Errorf("slider value %q: %w", value, err)
		}
		return Slider(n), nil
	case AnswerChoice:
		return Choice(value), nil
	case AnswerMultiChoice:
		if strings.TrimSpace(value) == "" {
			return MultiChoice(), nil
		}
		return MultiChoice(strings.Split(value, ",")...), nil
	case AnswerText:
		return Text(value), nil
	default:
		return Answer{}, fmt.Errorf("unknown answer type %q", t)
	}
}

// Clone returns a deep copy of the answer map.
func (a Answers) Clone() Answers {
	if a == nil {
		return nil
	}
	out := make(Answers, len(a))
	for k, v := range a {
		if v.Options != nil {
			v.Options = append([]string(nil), v.Options...)
		}
		out[k] = v
	}
	return out
}

// Keys returns the answered keys in sorted order.
func (a Answers) Keys() []string {
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type answerJSON struct {
	Type    AnswerType `json:"type"`
	Value   *int       `json:"value,omitempty"`
	Option  string     `json:"option,omitempty"`
	Options []string   `json:"options,omitempty"`
	Text    string     `json:"text,omitempty"`
}

// MarshalJSON encodes the answer with a type discriminator.
func (a Answer) MarshalJSON() ([]byte, error) {
	out := answerJSON{Type: a.Type}
	switch a.Type {
	case AnswerSlider:
		v := a.Value
		out.Value = &v
	case AnswerChoice:
		out.Option = a.Option
	case AnswerMultiChoice:
		out.Options = a.Options
		if out.Options == nil {
			out.Options = []string{}
		}
	case AnswerText:
		out.Text = a.Text
	default:
		return nil, fmt.Errorf("unknown answer type %q", a.Type)
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes a type-tagged answer.
func (a *Answer) UnmarshalJSON(data []byte) error {
	var raw answerJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch AnswerType(strings.ToLower(strings.TrimSpace(string(raw.Type)))) {
	case AnswerSlider:
		if raw.Value == nil {
			return fmt.Errorf("slider answer missing value")
		}
		*a = Slider(*raw.Value)
	case AnswerChoice:
		if strings.TrimSpace(raw.Option) == "" {
			return fmt.Errorf("choice answer missing option")
		}
		*a = Choice(strings.TrimSpace(raw.Option))
	case AnswerMultiChoice:
		*a = MultiChoice(raw.Options...)
	case AnswerText:
		*a = Text(raw.Text)
	default:
		return fmt.Errorf("unknown answer type %q", raw.Type)
	}
	return nil
}

func normalizeOptions(options []string) []string {
	seen := make(map[string]struct{}, len(options))
	out := make([]string, 0, len(options))
	for _, o := range options {
		o = strings.TrimSpace(o)
		if o == "" {
			continue
		}
		if _, ok := seen[o]; ok {
			continue
		}
		seen[o] = struct{}{}
		out = append(out, o)
	}
	sort.Strings(out)
	return out
}

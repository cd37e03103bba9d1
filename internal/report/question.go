package report

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// Step groups questions into the screens of the daily report.
type Step string

const (
	StepGreeting Step = "greeting"
	StepBaseline Step = "baseline"
	StepFollowUp Step = "follow_up"
)

// Index orders steps inside a report.
func (s Step) Index() int {
	switch s {
	case StepGreeting:
		return 0
	case StepBaseline:
		return 1
	case StepFollowUp:
		return 2
	default:
		return -1
	}
}

// KindType is the answer shape a question expects.
type KindType string

const (
	KindSingleChoice   KindType = "single_choice"
	KindMultipleChoice KindType = "multiple_choice"
	KindSlider         KindType = "slider"
	KindTextInput      KindType = "text_input"
)

// Option is a selectable choice.
type Option struct {
	ID     string `json:"id" yaml:"id"`
	Label  string `json:"label" yaml:"label"`
	Helper string `json:"helper,omitempty" yaml:"helper,omitempty"`
}

// Kind describes the answer shape and its bounds.
type Kind struct {
	Type         KindType `json:"type" yaml:"type"`
	Options      []Option `json:"options,omitempty" yaml:"options,omitempty"`
	MaxSelection int      `json:"max_selection,omitempty" yaml:"max_selection,omitempty"`
	Min          int      `json:"min,omitempty" yaml:"min,omitempty"`
	Max          int      `json:"max,omitempty" yaml:"max,omitempty"`
	Default      int      `json:"default,omitempty" yaml:"default,omitempty"`
	Suffix       string   `json:"suffix,omitempty" yaml:"suffix,omitempty"`
	Hint         string   `json:"hint,omitempty" yaml:"hint,omitempty"`
	MaxLength    int      `json:"max_length,omitempty" yaml:"max_length,omitempty"`
	Helper       string   `json:"helper,omitempty" yaml:"helper,omitempty"`
}

// Question is one item of the daily report.
type Question struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Prompt   string `json:"prompt"`
	Step     Step   `json:"step"`
	Order    int    `json:"order"`
	Required bool   `json:"required"`
	Kind     Kind   `json:"kind"`
}

// ErrShapeMismatch is returned when an answer does not fit the question kind.
var ErrShapeMismatch = errors.New("answer shape does not match question")

// HasOption reports whether the kind lists the option id.
func (k Kind) HasOption(id string) bool {
	for _, o := range k.Options {
		if o.ID == id {
			return true
		}
	}
	return false
}

// Accepts checks an answer against the kind and returns the value to store. Sliders are
// clamped into range rather than rejected.
func (k Kind) Accepts(answer Answer) (Answer, error) {
	switch k.Type {
	case KindSlider:
		v, ok := answer.SliderValue()
		if !ok {
			return Answer{}, ErrShapeMismatch
		}
		return Slider(ClampSlider(v, k.Min, k.Max)), nil
	case KindSingleChoice:
		opt, ok := answer.ChoiceValue()
		if !ok {
			return Answer{}, ErrShapeMismatch
		}
		if !k.HasOption(opt) {
			return Answer{}, fmt.Errorf("unknown option %q", opt)
		}
		return answer, nil
	case KindMultipleChoice:
		if answer.Type != AnswerMultiChoice {
			return Answer{}, ErrShapeMismatch
		}
		for _, opt := range answer.Options {
			if !k.HasOption(opt) {
				return Answer{}, fmt.Errorf("unknown option %q", opt)
			}
		}
		if k.MaxSelection > 0 && len(answer.Options) > k.MaxSelection {
			return Answer{}, fmt.Errorf("at most %d options allowed", k.MaxSelection)
		}
		return answer, nil
	case KindTextInput:
		if answer.Type != AnswerText {
			return Answer{}, ErrShapeMismatch
		}
		if k.MaxLength > 0 && utf8.RuneCountInString(answer.Text) > k.MaxLength {
			return Answer{}, fmt.Errorf("text longer than %d characters", k.MaxLength)
		}
		return answer, nil
	default:
		return Answer{}, fmt.Errorf("unsupported question kind %q", k.Type)
	}
}

// ClampSlider pins a slider value into [min, max].
func ClampSlider(value, min, max int) int {
	if max < min {
		min, max = max, min
	}
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

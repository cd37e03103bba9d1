package advice

import "strings"

// Source tells where a payload came from.
type Source string

const (
	SourceLocal    Source = "local"
	SourceFallback Source = "fallback"
)

const (
	maxObservations = 3
	maxActions      = 3
	maxFocus        = 2
	maxRedFlags     = 3
)

// Payload is the advice shown after a day is logged.
type Payload struct {
	Observations  []string `json:"observations"`
	Actions       []string `json:"actions"`
	TomorrowFocus []string `json:"tomorrow_focus"`
	RedFlags      []string `json:"red_flags"`
	Source        Source   `json:"source"`
}

// Normalize trims every line, drops empty ones and caps each list.
func (p Payload) Normalize() Payload {
	return Payload{
		Observations:  cleanup(p.Observations, maxObservations),
		Actions:       cleanup(p.Actions, maxActions),
		TomorrowFocus: cleanup(p.TomorrowFocus, maxFocus),
		RedFlags:      cleanup(p.RedFlags, maxRedFlags),
		Source:        p.Source,
	}
}

// Empty reports whether the payload has neither observations nor actions.
func (p Payload) Empty() bool {
	return len(p.Observations) == 0 && len(p.Actions) == 0
}

// Fallback is the generic advice used when no rule matches.
func Fallback() Payload {
	return Payload{
		Observations:  []string{"Nothing stood out in today's log. Keep the basics steady."},
		Actions:       []string{"Keep regular meals, drink enough water and fit in 30-60 minutes of light movement."},
		TomorrowFocus: []string{},
		RedFlags:      []string{"Persistent fever, chest pain or a sudden severe headache need a doctor."},
		Source:        SourceFallback,
	}
}

func cleanup(lines []string, limit int) []string {
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		if l = strings.TrimSpace(l); l == "" {
			continue
		}
		out = append(out, l)
		if len(out) == limit {
			break
		}
	}
	return out
}

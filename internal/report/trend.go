package report

import (
	"fmt"
	"strings"
)

// TrendFlag is the direction a tracked metric has been moving.
type TrendFlag string

const (
	TrendRising  TrendFlag = "rising"
	TrendFalling TrendFlag = "falling"
	TrendStable  TrendFlag = "stable"
)

// Trends maps metric keys to their flag. A missing key means no history.
type Trends map[string]TrendFlag

// ParseTrendFlag accepts rising, falling, or stable in any case.
func ParseTrendFlag(value string) (TrendFlag, error) {
	switch TrendFlag(strings.ToLower(strings.TrimSpace(value))) {
	case TrendRising:
		return TrendRising, nil
	case TrendFalling:
		return TrendFalling, nil
	case TrendStable:
		return TrendStable, nil
	default:
		return "", fmt.Errorf("unknown trend flag %q", value)
	}
}

// UnmarshalText lets trend flags decode from JSON strings and map values.
func (f *TrendFlag) UnmarshalText(text []byte) error {
	parsed, err := ParseTrendFlag(string(text))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// Clone returns a copy of the trend map.
func (t Trends) Clone() Trends {
	if t == nil {
		return nil
	}
	out := make(Trends, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

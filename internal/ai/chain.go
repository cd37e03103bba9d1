package ai

import "context"

type suggesterChain struct {
	primary  Suggester
	fallback Suggester
}

// WithFallback returns a suggester that first tries the primary implementation and
// falls back to the provided suggester when the primary is unavailable or returns
// nothing usable.
func WithFallback(primary, fallback Suggester) Suggester {
	if primary == nil {
		return fallback
	}
	if fallback == nil {
		return primary
	}
	return &suggesterChain{primary: primary, fallback: fallback}
}

func (c *suggesterChain) Enabled() bool {
	if c == nil {
		return false
	}
	if c.primary != nil && c.primary.Enabled() {
		return true
	}
	if c.fallback != nil && c.fallback.Enabled() {
		return true
	}
	return false
}

func (c *suggesterChain) Suggest(ctx context.Context, input Input) ([]Suggestion, error) {
	if c == nil {
		return nil, ErrDisabled
	}
	if c.primary != nil && c.primary.Enabled() {
		if out, err := c.primary.Suggest(ctx, input); err == nil && len(out) > 0 {
			return out, nil
		}
	}
	if c.fallback != nil && c.fallback.Enabled() {
		return c.fallback.Suggest(ctx, input)
	}
	return nil, ErrDisabled
}

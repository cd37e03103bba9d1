package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"health-diary/backend/internal/report"
)

const (
	// MaxSuggestions caps how many model follow-ups a report can receive.
	MaxSuggestions = 2

	defaultModel   = "deepseek-chat"
	defaultBaseURL = "https://api.deepseek.com/v1"
	textPreviewLen = 50
	typeSingle     = "single_choice"
)

const systemPrompt = "You are a lifestyle companion helping the user add 1-2 short closed follow-up questions. " +
	"Return a JSON array where every element has text, type and options. Only the single_choice type is allowed. " +
	"Keep questions short and avoid medical diagnoses. Return only JSON, no explanations or Markdown."

// Suggester proposes extra follow-up questions.
type Suggester interface {
	Enabled() bool
	Suggest(ctx context.Context, input Input) ([]Suggestion, error)
}

// Config holds the chat-completions provider settings.
type Config struct {
	Name              string
	APIKey            string
	Model             string
	BaseURL           string
	Temperature       float64
	MaxTokens         int
	Timeout           time.Duration
	RequestsPerMinute int
	Burst             int
}

// StatusError is a non-200 reply from the provider.
type StatusError struct {
	Provider string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s status %d: %s", e.Provider, e.Code, e.Body)
}

// Client implements Suggester against an OpenAI-compatible /chat/completions endpoint.
type Client struct {
	httpClient  *http.Client
	name        string
	apiKey      string
	model       string
	baseURL     string
	temperature float64
	maxTokens   int
	limiter     *rate.Limiter
	breaker     *gobreaker.CircuitBreaker[[]Suggestion]
}

var (
	ErrDisabled      = errors.New("ai suggestions disabled")
	errNoSuggestions = errors.New("ai returned no usable follow-ups")
)

// NewClient constructs a Client if the supplied configuration is valid.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrDisabled
	}
	cfg.Name = strings.TrimSpace(cfg.Name)
	if cfg.Name == "" {
		cfg.Name = "deepseek"
	}
	cfg.Model = strings.TrimSpace(cfg.Model)
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	temp := cfg.Temperature
	if temp <= 0 {
		temp = 0.3
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 600
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Limit(float64(cfg.RequestsPerMinute) / 60.0)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	name := cfg.Name
	breaker := gobreaker.NewCircuitBreaker[[]Suggestion](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			logrus.WithFields(logrus.Fields{"provider": name, "from": from.String(), "to": to.String()}).Warn("ai circuit breaker state change")
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, errNoSuggestions)
		},
	})
	return &Client{
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		name:        name,
		apiKey:      strings.TrimSpace(cfg.APIKey),
		model:       cfg.Model,
		baseURL:     cfg.BaseURL,
		temperature: temp,
		maxTokens:   cfg.MaxTokens,
		limiter:     rate.NewLimiter(limit, cfg.Burst),
		breaker:     breaker,
	}, nil
}

// Enabled reports whether the client can make outbound calls.
func (c *Client) Enabled() bool {
	return c != nil && c.apiKey != ""
}

// Name identifies the provider in logs and metrics.
func (c *Client) Name() string {
	if c == nil {
		return ""
	}
	return c.name
}

// Suggest asks the model for at most MaxSuggestions single-choice follow-ups.
func (c *Client) Suggest(ctx context.Context, input Input) ([]Suggestion, error) {
	if c == nil || !c.Enabled() {
		return nil, ErrDisabled
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%s rate limit: %w", c.name, err)
	}
	return c.breaker.Execute(func() ([]Suggestion, error) {
		return c.call(ctx, input)
	})
}

func (c *Client) call(ctx context.Context, input Input) ([]Suggestion, error) {
	body, err := json.Marshal(c.buildPayload(input))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", c.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return nil, &StatusError{Provider: c.name, Code: resp.StatusCode, Body: fmt.Sprint(apiErr)}
	}

	var decoded chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return nil, fmt.Errorf("%s empty response", c.name)
	}
	return ParseSuggestions(decoded.Choices[0].Message.Content)
}

func (c *Client) buildPayload(input Input) map[string]any {
	messages := []map[string]string{
		{"role": "system", "content": systemPrompt},
		{"role": "user", "content": BuildPrompt(input)},
	}
	payload := map[string]any{
		"model":       c.model,
		"messages":    messages,
		"temperature": c.temperature,
	}
	if c.maxTokens > 0 {
		payload["max_tokens"] = c.maxTokens
	}
	return payload
}

// BuildPrompt renders the user message: answers and trends as key=value lines in key order,
// free text cut to 50 characters.
func BuildPrompt(input Input) string {
	builder := &strings.Builder{}
	builder.WriteString("# Today's answers\n")
	for _, key := range input.Answers.Keys() {
		answer := input.Answers[key]
		value := answer.Display()
		if answer.Type == report.AnswerText {
			value = truncateRunes(value, textPreviewLen)
		}
		fmt.Fprintf(builder, "- %s=%s\n", key, value)
	}
	if len(input.Trends) > 0 {
		builder.WriteString("# Recent trends\n")
		keys := make([]string, 0, len(input.Trends))
		for k := range input.Trends {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(builder, "- %s=%s\n", k, input.Trends[k])
		}
	}
	if len(input.Existing) > 0 {
		builder.WriteString("# Already asked\n")
		for _, q := range input.Existing {
			fmt.Fprintf(builder, "- %s: %s\n", q.ID, q.Title)
		}
	}
	builder.WriteString("# Request\n")
	fmt.Fprintf(builder, "Generate at most %d follow-up questions of type %s that do not repeat the questions above. Return them as a JSON array named questions.\n", MaxSuggestions, typeSingle)
	return builder.String()
}

// ParseSuggestions reads a model reply. It accepts a bare array or an object with a
// questions array, optionally wrapped in a code fence, keeps single-choice entries with
// at least two options, and assigns ai_<n> ids.
func ParseSuggestions(content string) ([]Suggestion, error) {
	block := normalizeJSONBlock(content)
	if block == "" {
		return nil, errNoSuggestions
	}
	var items []Suggestion
	if strings.HasPrefix(block, "[") {
		if err := json.Unmarshal([]byte(block), &items); err != nil {
			return nil, fmt.Errorf("parse ai response: %w", err)
		}
	} else {
		var wrapped struct {
			Questions []Suggestion `json:"questions"`
		}
		if err := json.Unmarshal([]byte(block), &wrapped); err != nil {
			return nil, fmt.Errorf("parse ai response: %w", err)
		}
		items = wrapped.Questions
	}

	out := make([]Suggestion, 0, MaxSuggestions)
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		if len(out) >= MaxSuggestions {
			break
		}
		item.Text = strings.TrimSpace(item.Text)
		item.Type = strings.ToLower(strings.TrimSpace(item.Type))
		if item.Text == "" || item.Type != typeSingle {
			continue
		}
		options := make([]string, 0, len(item.Options))
		for _, o := range item.Options {
			if o = strings.TrimSpace(o); o != "" {
				options = append(options, o)
			}
		}
		if len(options) < 2 {
			continue
		}
		item.Options = options

		id := report.NormalizeKey(item.ID)
		if id != "" && !strings.HasPrefix(id, "ai_") {
			id = "ai_" + id
		}
		if _, dup := seen[id]; id == "" || dup {
			for n := len(out) + 1; ; n++ {
				id = fmt.Sprintf("ai_%d", n)
				if _, taken := seen[id]; !taken {
					break
				}
			}
		}
		seen[id] = struct{}{}
		item.ID = id
		out = append(out, item)
	}
	if len(out) == 0 {
		return nil, errNoSuggestions
	}
	return out, nil
}

func normalizeJSONBlock(input string) string {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return ""
	}
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```")
		if idx := strings.IndexRune(trimmed, '\n'); idx >= 0 {
			trimmed = trimmed[idx+1:]
		}
		if strings.HasSuffix(trimmed, "```") {
			trimmed = trimmed[:len(trimmed)-3]
		}
	}
	trimmed = strings.TrimSpace(trimmed)
	start := strings.IndexAny(trimmed, "[{")
	if start < 0 {
		return ""
	}
	closer := "}"
	if trimmed[start] == '[' {
		closer = "]"
	}
	end := strings.LastIndex(trimmed, closer)
	if end < start {
		return ""
	}
	return strings.TrimSpace(trimmed[start : end+1])
}

func truncateRunes(value string, n int) string {
	if utf8.RuneCountInString(value) <= n {
		return value
	}
	return string([]rune(value)[:n])
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

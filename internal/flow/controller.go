package flow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"health-diary/backend/internal/followup"
	"health-diary/backend/internal/report"
	"health-diary/backend/internal/util"
)

// Step is a stage of the daily report.
type Step string

const (
	StepGreeting  Step = "greeting"
	StepBaseline  Step = "baseline"
	StepFollowUp  Step = "follow_up"
	StepReady     Step = "ready"
	StepSubmitted Step = "submitted"
)

var (
	ErrUnknownQuestion = errors.New("unknown question")
	ErrInvalidAnswer   = errors.New("invalid answer")
	ErrStepIncomplete  = errors.New("step incomplete")
	ErrWrongStep       = errors.New("not allowed in current step")
	ErrClosed          = errors.New("report already submitted")
	ErrSubmitting      = errors.New("report is being submitted")
)

// Evaluator picks follow-ups for a set of answers. followup.Engine satisfies it.
type Evaluator interface {
	Evaluate(answers report.Answers, trends report.Trends) []followup.Question
}

// TrendSource supplies the flags for the days before date.
type TrendSource interface {
	Trends(date string) (report.Trends, error)
}

// Augmenter may append extra follow-ups after the rule engine ran. Failures are logged and
// the report continues with the rule-based follow-ups only.
type Augmenter interface {
	Augment(ctx context.Context, answers report.Answers, trends report.Trends, existing []followup.Question) ([]followup.Question, error)
}

// State is an immutable snapshot of a report in progress.
type State struct {
	ID        string              `json:"id"`
	Date      string              `json:"date"`
	Step      Step                `json:"step"`
	Answers   report.Answers      `json:"answers"`
	Trends    report.Trends       `json:"trends,omitempty"`
	FollowUps []followup.Question `json:"followUps"`
	Pending   []string            `json:"pending"`
	UpdatedAt time.Time           `json:"updatedAt"`
}

// Submission is the final report handed to persistence.
type Submission struct {
	ID          string
	Date        string
	Answers     report.Answers
	Trends      report.Trends
	FollowUps   []followup.Question
	Elapsed     time.Duration
	SubmittedAt time.Time
}

// Option customises a Controller.
type Option func(*Controller)

// WithDate sets the diary day the report is for.
func WithDate(date string) Option {
	return func(c *Controller) {
		if strings.TrimSpace(date) != "" {
			c.date = strings.TrimSpace(date)
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// WithAugmenter adds a follow-up source consulted after the evaluator.
func WithAugmenter(a Augmenter) Option {
	return func(c *Controller) {
		c.augmenter = a
	}
}

type subscriber struct {
	id int
	fn func(State)
}

// Controller sequences one daily report: greeting, baseline, the injected follow-ups, then
// submission. It is safe for concurrent use; subscribers are called outside the lock.
type Controller struct {
	mu sync.Mutex

	id        string
	date      string
	bank      *report.Bank
	evaluator Evaluator
	trends    TrendSource
	augmenter Augmenter
	now       func() time.Time
	timer     util.Timer

	step       Step
	answers    report.Answers
	trendFlags report.Trends
	followUps  []followup.Question
	updatedAt  time.Time
	submitting bool

	subscribers []subscriber
	nextSub     int
}

// New builds a controller. bank and evaluator are required; trends may be nil.
func New(id string, bank *report.Bank, evaluator Evaluator, trends TrendSource, opts ...Option) *Controller {
	c := &Controller{
		id:        id,
		bank:      bank,
		evaluator: evaluator,
		trends:    trends,
		now:       time.Now,
		step:      StepGreeting,
		answers:   report.Answers{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.date == "" {
		c.date = util.FormatDay(c.now())
	}
	c.timer = util.StartTimer()
	c.updatedAt = c.now()
	return c
}

// ID returns the session id.
func (c *Controller) ID() string { return c.id }

// State returns a snapshot.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// LastActivity is the time of the last change.
func (c *Controller) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.updatedAt
}

// Subscribe registers fn for every state change and returns a cancel func.
func (c *Controller) Subscribe(fn func(State)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextSub++
	id := c.nextSub
	c.subscribers = append(c.subscribers, subscriber{id: id, fn: fn})
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, s := range c.subscribers {
			if s.id == id {
				c.subscribers = append(c.subscribers[:i], c.subscribers[i+1:]...)
				return
			}
		}
	}
}

// Answer records the answer for key after validating it against the question.
func (c *Controller) Answer(key string, answer report.Answer) error {
	key = report.NormalizeKey(key)
	c.mu.Lock()
	if c.step == StepSubmitted {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.submitting {
		c.mu.Unlock()
		return ErrSubmitting
	}
	kind, step, err := c.lookupLocked(key)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	if !c.canAnswerLocked(step) {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s belongs to %s, report is at %s", ErrWrongStep, key, step, c.step)
	}
	accepted, err := kind.Accepts(answer)
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s: %v", ErrInvalidAnswer, key, err)
	}
	c.answers[key] = accepted
	c.updatedAt = c.now()
	state, subs := c.publishLocked()
	c.mu.Unlock()

	notify(subs, state)
	return nil
}

// Advance moves to the next step once every required question of the current one is answered.
// Leaving the baseline step runs the evaluator; an empty result goes straight to ready.
func (c *Controller) Advance(ctx context.Context) (State, error) {
	c.mu.Lock()
	switch c.step {
	case StepSubmitted:
		c.mu.Unlock()
		return State{}, ErrClosed
	case StepReady:
		c.mu.Unlock()
		return State{}, fmt.Errorf("%w: report is ready, submit it", ErrWrongStep)
	}
	if pending := c.pendingLocked(); len(pending) > 0 {
		c.mu.Unlock()
		return State{}, fmt.Errorf("%w: %s", ErrStepIncomplete, strings.Join(pending, ", "))
	}

	switch c.step {
	case StepGreeting:
		c.step = StepBaseline
	case StepBaseline:
		answers := c.answers.Clone()
		date := c.date
		c.mu.Unlock()
		trends := c.loadTrends(date)
		followUps := c.evaluator.Evaluate(answers, trends)
		followUps = c.augment(ctx, answers, trends, followUps)
		c.mu.Lock()
		if c.step != StepBaseline {
			// A concurrent Advance won.
			state := c.snapshotLocked()
			c.mu.Unlock()
			return state, nil
		}
		c.trendFlags = trends
		c.followUps = followUps
		if len(followUps) == 0 {
			c.step = StepReady
		} else {
			c.step = StepFollowUp
		}
	case StepFollowUp:
		c.step = StepReady
	}
	c.updatedAt = c.now()
	state, subs := c.publishLocked()
	c.mu.Unlock()

	notify(subs, state)
	return state, nil
}

// Submit hands the ready report to commit and closes it once commit succeeds. A failed
// commit leaves the report ready so it can be submitted again. commit may be nil.
func (c *Controller) Submit(commit func(Submission) error) (Submission, error) {
	c.mu.Lock()
	switch {
	case c.step == StepSubmitted:
		c.mu.Unlock()
		return Submission{}, ErrClosed
	case c.submitting:
		c.mu.Unlock()
		return Submission{}, ErrSubmitting
	case c.step != StepReady:
		c.mu.Unlock()
		return Submission{}, fmt.Errorf("%w: report is at %s", ErrWrongStep, c.step)
	}
	c.submitting = true
	sub := Submission{
		ID:          c.id,
		Date:        c.date,
		Answers:     c.answers.Clone(),
		Trends:      c.trendFlags.Clone(),
		FollowUps:   copyFollowUps(c.followUps),
		Elapsed:     c.timer.Elapsed(),
		SubmittedAt: c.now(),
	}
	c.mu.Unlock()

	var err error
	if commit != nil {
		err = commit(sub)
	}

	c.mu.Lock()
	c.submitting = false
	if err != nil {
		c.mu.Unlock()
		return Submission{}, err
	}
	c.step = StepSubmitted
	c.updatedAt = sub.SubmittedAt
	state, subs := c.publishLocked()
	c.mu.Unlock()

	notify(subs, state)
	return sub, nil
}

func (c *Controller) loadTrends(date string) report.Trends {
	if c.trends == nil {
		return report.Trends{}
	}
	trends, err := c.trends.Trends(date)
	if err != nil {
		logrus.WithError(err).WithField("session", c.id).Warn("trend lookup failed; evaluating without trends")
		return report.Trends{}
	}
	return trends
}

func (c *Controller) augment(ctx context.Context, answers report.Answers, trends report.Trends, base []followup.Question) []followup.Question {
	if c.augmenter == nil {
		return base
	}
	extra, err := c.augmenter.Augment(ctx, answers, trends, copyFollowUps(base))
	if err != nil {
		logrus.WithError(err).WithField("session", c.id).Warn("follow-up suggestions unavailable")
		return base
	}
	seen := make(map[string]struct{}, len(base)+len(extra))
	for _, q := range base {
		seen[q.ID] = struct{}{}
	}
	for _, q := range extra {
		if _, dup := seen[q.ID]; dup {
			continue
		}
		if _, clash := c.bank.Find(q.ID); clash {
			continue
		}
		seen[q.ID] = struct{}{}
		base = append(base, q)
	}
	return base
}

func (c *Controller) lookupLocked(key string) (report.Kind, Step, error) {
	if q, ok := c.bank.Find(key); ok {
		return q.Kind, Step(q.Step), nil
	}
	for _, q := range c.followUps {
		if q.ID == key {
			return q.Kind, StepFollowUp, nil
		}
	}
	return report.Kind{}, "", fmt.Errorf("%w: %s", ErrUnknownQuestion, key)
}

// canAnswerLocked allows the current step, going back to greeting during baseline, and
// revising follow-ups once ready. Greeting and baseline answers freeze after evaluation.
func (c *Controller) canAnswerLocked(step Step) bool {
	switch c.step {
	case StepGreeting:
		return step == StepGreeting
	case StepBaseline:
		return step == StepGreeting || step == StepBaseline
	case StepFollowUp, StepReady:
		return step == StepFollowUp
	default:
		return false
	}
}

func (c *Controller) pendingLocked() []string {
	var pending []string
	switch c.step {
	case StepGreeting, StepBaseline:
		for _, q := range c.bank.ForStep(report.Step(c.step)) {
			if _, ok := c.answers[q.ID]; q.Required && !ok {
				pending = append(pending, q.ID)
			}
		}
	case StepFollowUp:
		for _, q := range c.followUps {
			if _, ok := c.answers[q.ID]; !ok {
				pending = append(pending, q.ID)
			}
		}
	}
	return pending
}

func (c *Controller) snapshotLocked() State {
	pending := c.pendingLocked()
	if pending == nil {
		pending = []string{}
	}
	return State{
		ID:        c.id,
		Date:      c.date,
		Step:      c.step,
		Answers:   c.answers.Clone(),
		Trends:    c.trendFlags.Clone(),
		FollowUps: copyFollowUps(c.followUps),
		Pending:   pending,
		UpdatedAt: c.updatedAt,
	}
}

func (c *Controller) publishLocked() (State, []func(State)) {
	subs := make([]subscriber, len(c.subscribers))
	copy(subs, c.subscribers)
	sort.Slice(subs, func(i, j int) bool { return subs[i].id < subs[j].id })
	fns := make([]func(State), 0, len(subs))
	for _, s := range subs {
		fns = append(fns, s.fn)
	}
	return c.snapshotLocked(), fns
}

func notify(subs []func(State), state State) {
	for _, fn := range subs {
		fn(state)
	}
}

func copyFollowUps(in []followup.Question) []followup.Question {
	if in == nil {
		return []followup.Question{}
	}
	out := make([]followup.Question, len(in))
	for i, q := range in {
		q.Kind.Options = append([]report.Option(nil), q.Kind.Options...)
		out[i] = q
	}
	return out
}

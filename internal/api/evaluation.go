package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"health-diary/backend/internal/ai"
	"health-diary/backend/internal/followup"
	"health-diary/backend/internal/metrics"
	"health-diary/backend/internal/report"
	"health-diary/backend/internal/util"
)

// meteredEvaluator times every engine run. It backs both the stateless endpoint and the
// report sessions.
type meteredEvaluator struct {
	engine  *followup.Engine
	metrics *metrics.Metrics
}

func (m *meteredEvaluator) Evaluate(answers report.Answers, trends report.Trends) []followup.Question {
	timer := util.StartTimer()
	out := m.engine.Evaluate(answers, trends)
	m.metrics.ObserveEvaluation(timer.ElapsedSeconds(), out)
	return out
}

func (s *Server) handleEvaluate(c *gin.Context) {
	timer := util.StartTimer()
	var req EvaluateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.renderError(c, http.StatusBadRequest, err)
		return
	}
	date, err := util.NormalizeDay(req.Date, s.location)
	if err != nil {
		s.renderError(c, http.StatusBadRequest, err)
		return
	}

	answers, trends := s.prepareInput(date, req)
	followUps := s.evaluator.Evaluate(answers, trends)

	logrus.WithFields(logrus.Fields{
		"date":       date,
		"answers":    len(answers),
		"follow_ups": len(followUps),
	}).Debug("evaluated follow-ups")

	c.JSON(http.StatusOK, EvaluateResponse{
		Date:             date,
		FollowUps:        followUps,
		Trends:           trends,
		ProcessingTimeMs: timer.ElapsedMs(),
	})
}

func (s *Server) handleSuggest(c *gin.Context) {
	if s.suggester == nil {
		s.renderError(c, http.StatusServiceUnavailable, ai.ErrDisabled)
		return
	}
	var req EvaluateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.renderError(c, http.StatusBadRequest, err)
		return
	}
	date, err := util.NormalizeDay(req.Date, s.location)
	if err != nil {
		s.renderError(c, http.StatusBadRequest, err)
		return
	}

	answers, trends := s.prepareInput(date, req)
	existing := s.evaluator.Evaluate(answers, trends)
	suggestions, err := s.callAIWithRetry(c.Request.Context(), ai.Input{Answers: answers, Trends: trends, Existing: existing})
	if err != nil {
		logrus.WithError(err).WithField("date", date).Warn("follow-up suggestions failed")
		s.renderError(c, http.StatusServiceUnavailable, err)
		return
	}
	c.JSON(http.StatusOK, SuggestResponse{FollowUps: ai.Questions(suggestions)})
}

// prepareInput decodes and normalizes the request, skipping malformed values, and fills in
// trends from history when the request has none. A failed history lookup evaluates without
// trends.
func (s *Server) prepareInput(date string, req EvaluateRequest) (report.Answers, report.Trends) {
	decoded, skipped := report.DecodeAnswers(req.Answers)
	logSkipped(date, "answer", skipped)
	answers := report.NormalizeAnswers(decoded)

	if req.Trends != nil {
		flags, skipped := report.DecodeTrends(req.Trends)
		logSkipped(date, "trend", skipped)
		return answers, report.NormalizeTrends(flags)
	}
	trends, err := s.tracker.Trends(date)
	if err != nil {
		logrus.WithError(err).WithField("date", date).Warn("trend lookup failed; evaluating without trends")
		return answers, report.Trends{}
	}
	return answers, trends
}

func logSkipped(date, kind string, skipped map[string]error) {
	for key, err := range skipped {
		logrus.WithError(err).WithFields(logrus.Fields{"date": date, "key": key}).Warnf("ignoring malformed %s", kind)
	}
}

func (s *Server) callAIWithRetry(ctx context.Context, input ai.Input) ([]ai.Suggestion, error) {
	if s.suggester == nil || !s.suggester.Enabled() {
		s.metrics.AIRequest("disabled")
		return nil, ai.ErrDisabled
	}

	delay := s.aiBackoff
	var lastErr error
	for attempt := 0; attempt < s.aiRetries; attempt++ {
		suggestions, err := s.suggester.Suggest(ctx, input)
		if err == nil {
			s.metrics.AIRequest("ok")
			return suggestions, nil
		}

		lastErr = err
		if ctx.Err() != nil {
			s.metrics.AIRequest("error")
			return nil, ctx.Err()
		}

		if !shouldRetryAI(err) || attempt == s.aiRetries-1 {
			break
		}

		select {
		case <-ctx.Done():
			s.metrics.AIRequest("error")
			return nil, ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if delay > aiMaxBackoff {
			delay = aiMaxBackoff
		}
	}

	s.metrics.AIRequest("error")
	return nil, lastErr
}

func shouldRetryAI(err error) bool {
	var statusErr *ai.StatusError
	if !errors.As(err, &statusErr) {
		return false
	}
	return statusErr.Code == http.StatusTooManyRequests || statusErr.Code >= http.StatusInternalServerError
}

// retryingSuggester routes session augmentation through the server's retry policy.
type retryingSuggester struct {
	server *Server
}

func (r retryingSuggester) Enabled() bool {
	return r.server.suggester != nil && r.server.suggester.Enabled()
}

func (r retryingSuggester) Suggest(ctx context.Context, input ai.Input) ([]ai.Suggestion, error) {
	return r.server.callAIWithRetry(ctx, input)
}

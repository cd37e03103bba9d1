package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"health-diary/backend/internal/ai"
	"health-diary/backend/internal/flow"
	"health-diary/backend/internal/report"
	"health-diary/backend/internal/store"
	"health-diary/backend/internal/trend"
	"health-diary/backend/internal/util"
)

func (s *Server) buildController(id, date string) *flow.Controller {
	opts := []flow.Option{flow.WithDate(date)}
	// A nil *ai.Augmenter must not reach the flow as a non-nil interface.
	if aug := ai.NewAugmenter(retryingSuggester{server: s}); aug != nil {
		opts = append(opts, flow.WithAugmenter(aug))
	}
	ctrl := flow.New(id, s.bank, s.evaluator, s.tracker, opts...)
	ctrl.Subscribe(func(state flow.State) {
		s.notifier.Broadcast(Event{Type: EventSession, SessionID: state.ID, Date: state.Date, Session: &state})
	})
	return ctrl
}

func (s *Server) handleCreateSession(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		s.renderError(c, http.StatusBadRequest, err)
		return
	}
	date, err := util.NormalizeDay(req.Date, s.location)
	if err != nil {
		s.renderError(c, http.StatusBadRequest, err)
		return
	}
	ctrl := s.sessions.Create(date)
	s.metrics.SetLiveSessions(s.sessions.Len())
	c.JSON(http.StatusCreated, ctrl.State())
}

func (s *Server) handleGetSession(c *gin.Context) {
	ctrl, ok := s.lookupSession(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, ctrl.State())
}

func (s *Server) handleDeleteSession(c *gin.Context) {
	ctrl, ok := s.lookupSession(c)
	if !ok {
		return
	}
	s.sessions.Remove(ctrl.ID())
	s.metrics.SetLiveSessions(s.sessions.Len())
	c.Status(http.StatusNoContent)
}

func (s *Server) handleAnswer(c *gin.Context) {
	ctrl, ok := s.lookupSession(c)
	if !ok {
		return
	}
	var answer report.Answer
	if err := c.ShouldBindJSON(&answer); err != nil {
		s.renderError(c, http.StatusBadRequest, err)
		return
	}
	if err := ctrl.Answer(c.Param("key"), answer); err != nil {
		s.renderFlowError(c, err)
		return
	}
	c.JSON(http.StatusOK, ctrl.State())
}

func (s *Server) handleAdvance(c *gin.Context) {
	ctrl, ok := s.lookupSession(c)
	if !ok {
		return
	}
	state, err := ctrl.Advance(c.Request.Context())
	if err != nil {
		s.renderFlowError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

// handleSubmit persists the day and closes the session, then refreshes the trend snapshots.
// Submitting a day that already has an entry replaces it. A failed save leaves the session
// ready for another attempt.
func (s *Server) handleSubmit(c *gin.Context) {
	ctrl, ok := s.lookupSession(c)
	if !ok {
		return
	}
	var entry store.DailyEntry
	sub, err := ctrl.Submit(func(sub flow.Submission) error {
		entry = EntryFromSubmission(sub, s.bank)
		if err := s.db.SaveEntry(&entry); err != nil {
			logrus.WithError(err).WithFields(logrus.Fields{"session": sub.ID, "date": sub.Date}).Error("persist daily entry")
			return err
		}
		return nil
	})
	if err != nil {
		s.renderFlowError(c, err)
		return
	}
	s.metrics.Submitted()

	_, refreshErr := trend.RefreshSnapshots(s.db, time.Now().UTC())
	s.metrics.TrendRefresh(refreshErr)
	if refreshErr != nil {
		logrus.WithError(refreshErr).Warn("refresh trend snapshots after submit")
	}

	saved, err := s.db.GetEntry(sub.Date)
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}
	dto := EntryFromModel(*saved)
	s.notifier.Broadcast(Event{Type: EventEntry, SessionID: sub.ID, Date: sub.Date, Entry: &dto})

	logrus.WithFields(logrus.Fields{
		"session":    sub.ID,
		"date":       sub.Date,
		"answers":    len(sub.Answers),
		"follow_ups": len(sub.FollowUps),
		"ms":         entry.ProcessingTimeMs,
	}).Info("daily entry submitted")
	c.JSON(http.StatusCreated, dto)
}

func (s *Server) lookupSession(c *gin.Context) (*flow.Controller, bool) {
	id := c.Param("id")
	ctrl, ok := s.sessions.Get(id)
	if !ok {
		s.renderError(c, http.StatusNotFound, fmt.Errorf("session %s not found", id))
		return nil, false
	}
	return ctrl, true
}

func (s *Server) renderFlowError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, flow.ErrUnknownQuestion):
		s.renderError(c, http.StatusNotFound, err)
	case errors.Is(err, flow.ErrInvalidAnswer):
		s.renderError(c, http.StatusBadRequest, err)
	case errors.Is(err, flow.ErrStepIncomplete), errors.Is(err, flow.ErrWrongStep),
		errors.Is(err, flow.ErrClosed), errors.Is(err, flow.ErrSubmitting):
		s.renderError(c, http.StatusConflict, err)
	default:
		s.renderError(c, http.StatusInternalServerError, err)
	}
}

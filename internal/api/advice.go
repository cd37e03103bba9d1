package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"health-diary/backend/internal/advice"
	"health-diary/backend/internal/store"
	"health-diary/backend/internal/trend"
	"health-diary/backend/internal/util"
)

// AdviceResponse is the stored advice of one day.
type AdviceResponse struct {
	Date        string         `json:"date"`
	RuleID      string         `json:"rule_id,omitempty"`
	Category    string         `json:"category,omitempty"`
	Advice      advice.Payload `json:"advice"`
	GeneratedAt time.Time      `json:"generated_at"`
}

// InsightResponse carries the calendar windows ending on Date.
type InsightResponse struct {
	Date    string        `json:"date"`
	Insight trend.Insight `json:"insight"`
}

// AdviceFromModel decodes a stored advice row.
func AdviceFromModel(row store.DailyAdvice) (AdviceResponse, error) {
	var payload advice.Payload
	if err := json.Unmarshal([]byte(row.AdviceJSON), &payload); err != nil {
		return AdviceResponse{}, fmt.Errorf("decode advice %s: %w", row.EntryDate, err)
	}
	return AdviceResponse{
		Date:        row.EntryDate,
		RuleID:      row.RuleID,
		Category:    row.Category,
		Advice:      payload,
		GeneratedAt: row.GeneratedAt,
	}, nil
}

// handleGenerateAdvice runs the local advisor over a stored day and the calendar week ending
// on it, replacing any earlier advice for that day.
func (s *Server) handleGenerateAdvice(c *gin.Context) {
	date, ok := s.dateParam(c)
	if !ok {
		return
	}
	entry, err := s.db.GetEntry(date)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.renderError(c, http.StatusNotFound, fmt.Errorf("no entry for %s", date))
		} else {
			s.renderError(c, http.StatusInternalServerError, err)
		}
		return
	}

	day, _ := util.ParseDay(date)
	var week *trend.InsightWindow
	if insight, err := trend.LoadInsight(s.db, day); err != nil {
		logrus.WithError(err).WithField("date", date).Warn("weekly insight unavailable; advising on today only")
	} else {
		week = insight.Window7
	}

	result := s.advisor.Advise(advice.Input{Answers: EntryFromModel(*entry).Answers, Week: week})
	payload, err := json.Marshal(result.Payload)
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}
	row := store.DailyAdvice{
		EntryID:     entry.ID,
		EntryDate:   date,
		RuleID:      result.RuleID,
		Category:    result.Category,
		Source:      string(result.Payload.Source),
		AdviceJSON:  string(payload),
		GeneratedAt: time.Now().UTC(),
	}
	if err := s.db.SaveAdvice(&row); err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}
	s.metrics.AdviceGenerated(result.RuleID)

	logrus.WithFields(logrus.Fields{"date": date, "rule": result.RuleID, "source": result.Payload.Source}).Info("daily advice generated")
	c.JSON(http.StatusCreated, AdviceResponse{
		Date:        date,
		RuleID:      result.RuleID,
		Category:    result.Category,
		Advice:      result.Payload,
		GeneratedAt: row.GeneratedAt,
	})
}

func (s *Server) handleGetAdvice(c *gin.Context) {
	date, ok := s.dateParam(c)
	if !ok {
		return
	}
	row, err := s.db.GetAdvice(date)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.renderError(c, http.StatusNotFound, fmt.Errorf("no advice for %s", date))
		} else {
			s.renderError(c, http.StatusInternalServerError, err)
		}
		return
	}
	resp, err := AdviceFromModel(*row)
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// handleInsights serves the 7 and 30 day calendar windows ending on the date query, today by
// default.
func (s *Server) handleInsights(c *gin.Context) {
	date, err := util.NormalizeDay(strings.TrimSpace(c.Query("date")), s.location)
	if err != nil {
		s.renderError(c, http.StatusBadRequest, err)
		return
	}
	day, _ := util.ParseDay(date)
	insight, err := trend.LoadInsight(s.db, day)
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, InsightResponse{Date: date, Insight: insight})
}

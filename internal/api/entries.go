package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"health-diary/backend/internal/trend"
	"health-diary/backend/internal/util"
)

const (
	defaultPageSize = 30
	maxPageSize     = 200
)

func (s *Server) handleListEntries(c *gin.Context) {
	offset, err := parseIntQuery(c, "offset", 0, 0)
	if err != nil {
		s.renderError(c, http.StatusBadRequest, err)
		return
	}
	limit, err := parseIntQuery(c, "limit", defaultPageSize, maxPageSize)
	if err != nil {
		s.renderError(c, http.StatusBadRequest, err)
		return
	}
	if limit == 0 {
		limit = defaultPageSize
	}

	rows, total, err := s.db.ListEntries(offset, limit)
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}
	items := make([]EntryDTO, 0, len(rows))
	for _, row := range rows {
		items = append(items, EntryFromModel(row))
	}
	c.JSON(http.StatusOK, EntriesResponse{Items: items, Total: total})
}

func (s *Server) handleGetEntry(c *gin.Context) {
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
	c.JSON(http.StatusOK, EntryFromModel(*entry))
}

func (s *Server) handleDeleteEntry(c *gin.Context) {
	date, ok := s.dateParam(c)
	if !ok {
		return
	}
	if err := s.db.DeleteEntry(date); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.renderError(c, http.StatusNotFound, fmt.Errorf("no entry for %s", date))
		} else {
			s.renderError(c, http.StatusInternalServerError, err)
		}
		return
	}
	_, err := trend.RefreshSnapshots(s.db, time.Now().UTC())
	s.metrics.TrendRefresh(err)
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}
	s.notifier.Broadcast(Event{Type: EventEntryDeleted, Date: date})
	c.Status(http.StatusNoContent)
}

// handleTrends serves the stored snapshots. A date query computes the windows preceding that
// day instead, and an empty snapshot table falls back to computing over all entries.
func (s *Server) handleTrends(c *gin.Context) {
	if raw := strings.TrimSpace(c.Query("date")); raw != "" {
		date, err := util.NormalizeDay(raw, s.location)
		if err != nil {
			s.renderError(c, http.StatusBadRequest, err)
			return
		}
		summary, err := s.tracker.Summary(date)
		if err != nil {
			s.renderError(c, http.StatusInternalServerError, err)
			return
		}
		c.JSON(http.StatusOK, TrendsResponse{Source: "computed", Summary: summary})
		return
	}

	rows, err := s.db.ListTrendSnapshots(0)
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}
	if len(rows) > 0 {
		c.JSON(http.StatusOK, TrendsResponse{Source: "snapshot", Summary: trend.FromSnapshots(rows)})
		return
	}
	summary, err := s.tracker.Summary("")
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, TrendsResponse{Source: "computed", Summary: summary})
}

func (s *Server) handleRefreshTrends(c *gin.Context) {
	timer := util.StartTimer()
	count, err := trend.RefreshSnapshots(s.db, time.Now().UTC())
	s.metrics.TrendRefresh(err)
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"snapshots": count, "processing_time_ms": timer.ElapsedMs()})
}

func (s *Server) dateParam(c *gin.Context) (string, bool) {
	day, err := util.ParseDay(c.Param("date"))
	if err != nil {
		s.renderError(c, http.StatusBadRequest, err)
		return "", false
	}
	return util.FormatDay(day), true
}

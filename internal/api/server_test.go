package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"health-diary/backend/internal/advice"
	"health-diary/backend/internal/ai"
	"health-diary/backend/internal/flow"
	"health-diary/backend/internal/followup"
	"health-diary/backend/internal/metrics"
	"health-diary/backend/internal/report"
	"health-diary/backend/internal/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T, mutate ...func(*Config)) (*Server, *gin.Engine) {
	t.Helper()
	cfg := Config{
		DBPath:    filepath.Join(t.TempDir(), "diary.db"),
		SilentDB:  true,
		AIBackoff: time.Millisecond,
		Metrics:   metrics.New(),
	}
	for _, fn := range mutate {
		fn(&cfg)
	}
	srv, err := NewServer(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })
	router, err := srv.Router()
	require.NoError(t, err)
	return srv, router
}

func doJSON(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func baselineAnswers(headache int) map[string]report.Answer {
	answers := map[string]report.Answer{
		"sleep_duration":        report.Choice("7_8"),
		"nap_duration":          report.Choice("none"),
		"daily_steps":           report.Choice("6_10k"),
		"headache_intensity":    report.Slider(headache),
		report.KeyChillExposure: report.Choice("no"),
		"medication_adherence":  report.Choice("on_time"),
		"menstrual_status":      report.Choice("non_period"),
	}
	for _, key := range []string{"neck_back_intensity", "stomach_intensity", "nasal_intensity", "knee_intensity", report.KeyMood} {
		answers[key] = report.Slider(1)
	}
	return answers
}

func TestHealthConfigAndQuestions(t *testing.T) {
	_, r := newTestServer(t, func(c *Config) { c.Threshold = 7; c.ContextTriggers = true })

	rec := doJSON(t, r, http.MethodGet, "/api/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, r, http.MethodGet, "/api/config", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cfg := decode[ConfigResponse](t, rec)
	assert.Equal(t, 7, cfg.Threshold)
	assert.Equal(t, followup.DefaultMaxQuestions, cfg.MaxQuestions)
	assert.True(t, cfg.ContextTriggers)
	assert.False(t, cfg.AIEnabled)
	assert.Equal(t, "UTC", cfg.Timezone)

	rec = doJSON(t, r, http.MethodGet, "/api/questions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	qs := decode[QuestionsResponse](t, rec)
	assert.Len(t, qs.Questions, len(report.DefaultBank().Questions()))
	assert.Len(t, qs.FollowUps, len(followup.DefaultCatalog().Questions()))
}

func TestEvaluateEndpoint(t *testing.T) {
	_, r := newTestServer(t)

	rec := doJSON(t, r, http.MethodPost, "/api/followups/evaluate", map[string]any{
		"date":    "2024-05-03",
		"answers": map[string]report.Answer{"Headache-Intensity": report.Slider(8), "knee_intensity": report.Slider(2)},
		"trends":  map[string]string{"knee_intensity": "rising"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[EvaluateResponse](t, rec)
	require.Len(t, resp.FollowUps, 2)
	assert.Equal(t, "fu_headache_nature", resp.FollowUps[0].ID)
	assert.Equal(t, "fu_knee_pattern", resp.FollowUps[1].ID)
	assert.Equal(t, "2024-05-03", resp.Date)

	rec = doJSON(t, r, http.MethodPost, "/api/followups/evaluate", map[string]any{"date": "03/05/2024"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, r, http.MethodPost, "/api/followups/evaluate", map[string]any{"answers": []string{"headache_intensity"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEvaluateSkipsMalformedValues(t *testing.T) {
	_, r := newTestServer(t)

	rec := doJSON(t, r, http.MethodPost, "/api/followups/evaluate", map[string]any{
		"date": "2024-05-03",
		"answers": map[string]any{
			"headache_intensity": map[string]any{"type": "slider", "value": 7},
			"nasal_intensity":    map[string]any{"type": "slider", "value": 6.5},
			"mood_irritability":  map[string]any{"type": "emoji"},
			"stomach_intensity":  map[string]any{"type": "slider"},
		},
		"trends": map[string]any{"knee_intensity": "up", "neck_back_intensity": 3},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[EvaluateResponse](t, rec)
	require.Len(t, resp.FollowUps, 1)
	assert.Equal(t, "fu_headache_nature", resp.FollowUps[0].ID)
	assert.Empty(t, resp.Trends)
}

func TestEvaluateReadsTrendsFromHistory(t *testing.T) {
	srv, r := newTestServer(t)
	for date, value := range map[string]string{"2024-05-01": "2", "2024-05-02": "5"} {
		entry := store.DailyEntry{
			EntryDate: date,
			Responses: []store.QuestionResponse{{QuestionKey: "headache_intensity", Step: "baseline", AnswerType: "slider", AnswerValue: value}},
		}
		require.NoError(t, srv.DB().SaveEntry(&entry))
	}

	rec := doJSON(t, r, http.MethodPost, "/api/followups/evaluate", map[string]any{
		"date":    "2024-05-03",
		"answers": map[string]report.Answer{"headache_intensity": report.Slider(3)},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[EvaluateResponse](t, rec)
	assert.Equal(t, report.TrendRising, resp.Trends["headache_intensity"])
	require.Len(t, resp.FollowUps, 1)
	assert.Equal(t, "fu_headache_pattern", resp.FollowUps[0].ID)
	assert.Equal(t, followup.ReasonTrend, resp.FollowUps[0].Reason)
}

type scriptedSuggester struct {
	errs  []error
	out   []ai.Suggestion
	calls int
}

func (s *scriptedSuggester) Enabled() bool { return true }

func (s *scriptedSuggester) Suggest(context.Context, ai.Input) ([]ai.Suggestion, error) {
	s.calls++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return nil, err
	}
	return s.out, nil
}

func TestSuggestEndpoint(t *testing.T) {
	_, r := newTestServer(t)
	rec := doJSON(t, r, http.MethodPost, "/api/followups/suggest", map[string]any{})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	stub := &scriptedSuggester{
		errs: []error{&ai.StatusError{Provider: "stub", Code: http.StatusTooManyRequests}},
		out:  []ai.Suggestion{{ID: "ai_1", Text: "Any caffeine today?", Type: "single_choice", Options: []string{"Yes", "No"}}},
	}
	_, r = newTestServer(t, func(c *Config) { c.Suggester = stub })
	rec = doJSON(t, r, http.MethodPost, "/api/followups/suggest", map[string]any{
		"answers": map[string]report.Answer{"headache_intensity": report.Slider(7)},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[SuggestResponse](t, rec)
	require.Len(t, resp.FollowUps, 1)
	assert.Equal(t, followup.ReasonAI, resp.FollowUps[0].Reason)
	assert.Equal(t, 2, stub.calls)

	failing := &scriptedSuggester{errs: []error{&ai.StatusError{Provider: "stub", Code: http.StatusUnauthorized}}}
	_, r = newTestServer(t, func(c *Config) { c.Suggester = failing })
	rec = doJSON(t, r, http.MethodPost, "/api/followups/suggest", map[string]any{})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, 1, failing.calls)
}

func TestCallAIWithRetryStopsAfterLastAttempt(t *testing.T) {
	unavailable := &ai.StatusError{Provider: "stub", Code: http.StatusServiceUnavailable}
	stub := &scriptedSuggester{errs: []error{unavailable, unavailable}}
	srv, _ := newTestServer(t, func(c *Config) {
		c.Suggester = stub
		c.AIRetries = 2
		c.AIBackoff = 300 * time.Millisecond
	})

	start := time.Now()
	_, err := srv.callAIWithRetry(context.Background(), ai.Input{})
	elapsed := time.Since(start)

	require.ErrorIs(t, err, unavailable)
	assert.Equal(t, 2, stub.calls)
	assert.GreaterOrEqual(t, elapsed, 300*time.Millisecond)
	assert.Less(t, elapsed, 600*time.Millisecond)
}

func TestShouldRetryAI(t *testing.T) {
	assert.True(t, shouldRetryAI(&ai.StatusError{Code: 429}))
	assert.True(t, shouldRetryAI(&ai.StatusError{Code: 503}))
	assert.False(t, shouldRetryAI(&ai.StatusError{Code: 400}))
	assert.False(t, shouldRetryAI(context.DeadlineExceeded))
}

func answerAll(t *testing.T, r http.Handler, id string, answers map[string]report.Answer) {
	t.Helper()
	for key, answer := range answers {
		rec := doJSON(t, r, http.MethodPut, "/api/sessions/"+id+"/answers/"+key, answer)
		require.Equal(t, http.StatusOK, rec.Code, "%s: %s", key, rec.Body.String())
	}
}

func TestSessionLifecycle(t *testing.T) {
	srv, r := newTestServer(t)

	rec := doJSON(t, r, http.MethodPost, "/api/sessions", CreateSessionRequest{Date: "2024-05-09"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	state := decode[flow.State](t, rec)
	assert.Equal(t, flow.StepGreeting, state.Step)
	assert.Equal(t, "2024-05-09", state.Date)
	id := state.ID

	rec = doJSON(t, r, http.MethodPost, "/api/sessions/"+id+"/advance", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = doJSON(t, r, http.MethodPut, "/api/sessions/"+id+"/answers/elbow_intensity", report.Slider(3))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = doJSON(t, r, http.MethodPut, "/api/sessions/"+id+"/answers/overall_feeling", report.Slider(3))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	answerAll(t, r, id, map[string]report.Answer{
		report.KeyOverallFeeling: report.Choice("ok"),
		report.KeyFocusPriority:  report.MultiChoice("head"),
	})
	rec = doJSON(t, r, http.MethodPost, "/api/sessions/"+id+"/advance", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	answerAll(t, r, id, baselineAnswers(8))
	rec = doJSON(t, r, http.MethodPut, "/api/sessions/"+id+"/answers/daily_notes", report.Text("long walk"))
	require.Equal(t, http.StatusOK, rec.Code)
	rec = doJSON(t, r, http.MethodPost, "/api/sessions/"+id+"/advance", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	state = decode[flow.State](t, rec)
	assert.Equal(t, flow.StepFollowUp, state.Step)
	require.Len(t, state.FollowUps, 1)
	assert.Equal(t, "fu_headache_nature", state.FollowUps[0].ID)

	rec = doJSON(t, r, http.MethodPost, "/api/sessions/"+id+"/submit", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	answerAll(t, r, id, map[string]report.Answer{"fu_headache_nature": report.Choice("throbbing")})
	rec = doJSON(t, r, http.MethodPost, "/api/sessions/"+id+"/advance", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, r, http.MethodPost, "/api/sessions/"+id+"/submit", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	entry := decode[EntryDTO](t, rec)
	assert.Equal(t, "2024-05-09", entry.Date)
	assert.Equal(t, "ok", entry.OverallFeeling)
	assert.Equal(t, []string{"fu_headache_nature"}, entry.FollowUps)
	v, _ := entry.Answers["headache_intensity"].SliderValue()
	assert.Equal(t, 8, v)
	assert.Equal(t, report.Text("long walk"), entry.Answers["daily_notes"])
	assert.True(t, entry.Answers[report.KeyFocusPriority].HasOption("head"))

	rec = doJSON(t, r, http.MethodPost, "/api/sessions/"+id+"/submit", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, r, http.MethodGet, "/api/entries/2024-05-09", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "fu_headache_nature", decode[EntryDTO](t, rec).FollowUps[0])

	rec = doJSON(t, r, http.MethodGet, "/api/entries?limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[EntriesResponse](t, rec)
	assert.EqualValues(t, 1, list.Total)
	require.Len(t, list.Items, 1)

	rec = doJSON(t, r, http.MethodGet, "/api/trends", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	trends := decode[TrendsResponse](t, rec)
	assert.Equal(t, "snapshot", trends.Source)
	require.NotNil(t, trends.Summary.Window7)
	assert.Equal(t, 1, trends.Summary.Window7.Entries)

	rec = doJSON(t, r, http.MethodDelete, "/api/sessions/"+id, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = doJSON(t, r, http.MethodGet, "/api/sessions/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, 0, srv.Sessions().Len())
}

func TestSubmitCanRetryAfterSaveFailure(t *testing.T) {
	srv, r := newTestServer(t)

	rec := doJSON(t, r, http.MethodPost, "/api/sessions", CreateSessionRequest{Date: "2024-05-09"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := decode[flow.State](t, rec).ID

	answerAll(t, r, id, map[string]report.Answer{
		report.KeyOverallFeeling: report.Choice("ok"),
		report.KeyFocusPriority:  report.MultiChoice("head"),
	})
	rec = doJSON(t, r, http.MethodPost, "/api/sessions/"+id+"/advance", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	answerAll(t, r, id, baselineAnswers(2))
	rec = doJSON(t, r, http.MethodPost, "/api/sessions/"+id+"/advance", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, flow.StepReady, decode[flow.State](t, rec).Step)

	gdb := srv.DB().GORM()
	require.NoError(t, gdb.Migrator().DropTable(&store.QuestionResponse{}))

	rec = doJSON(t, r, http.MethodPost, "/api/sessions/"+id+"/submit", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	rec = doJSON(t, r, http.MethodGet, "/api/sessions/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, flow.StepReady, decode[flow.State](t, rec).Step)

	require.NoError(t, gdb.AutoMigrate(&store.QuestionResponse{}))
	rec = doJSON(t, r, http.MethodPost, "/api/sessions/"+id+"/submit", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "2024-05-09", decode[EntryDTO](t, rec).Date)
}

func TestAdviceAndInsights(t *testing.T) {
	srv, r := newTestServer(t)

	rec := doJSON(t, r, http.MethodPost, "/api/entries/2024-05-09/advice", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	for _, date := range []string{"2024-05-05", "2024-05-06", "2024-05-07", "2024-05-08", "2024-05-09"} {
		entry := store.DailyEntry{
			EntryDate: date,
			Responses: []store.QuestionResponse{
				{QuestionKey: "daily_steps", Step: "baseline", AnswerType: "choice", AnswerValue: "lt3k"},
				{QuestionKey: "knee_intensity", Step: "baseline", AnswerType: "slider", AnswerValue: "2"},
			},
		}
		require.NoError(t, srv.DB().SaveEntry(&entry))
	}

	rec = doJSON(t, r, http.MethodPost, "/api/entries/2024-05-09/advice", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	generated := decode[AdviceResponse](t, rec)
	assert.Equal(t, "exercise_low", generated.RuleID)
	assert.Equal(t, advice.SourceLocal, generated.Advice.Source)
	assert.NotEmpty(t, generated.Advice.Actions)

	rec = doJSON(t, r, http.MethodGet, "/api/entries/2024-05-09/advice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stored := decode[AdviceResponse](t, rec)
	assert.Equal(t, "exercise", stored.Category)
	assert.Equal(t, generated.Advice, stored.Advice)

	rec = doJSON(t, r, http.MethodPost, "/api/entries/2024-05-05/advice", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, advice.SourceFallback, decode[AdviceResponse](t, rec).Advice.Source)

	rec = doJSON(t, r, http.MethodGet, "/api/entries/2024-05-01/advice", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, r, http.MethodGet, "/api/insights?date=2024-05-09", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	insight := decode[InsightResponse](t, rec)
	require.NotNil(t, insight.Insight.Window7)
	assert.Equal(t, 5, insight.Insight.Window7.Entries)
	assert.Equal(t, 5, insight.Insight.Window7.Steps["lt3k"])
	assert.Equal(t, "2024-05-03", insight.Insight.Window7.Start)

	rec = doJSON(t, r, http.MethodGet, "/api/insights?date=09-05-2024", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, r, http.MethodDelete, "/api/entries/2024-05-09", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = doJSON(t, r, http.MethodGet, "/api/entries/2024-05-09/advice", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEntriesAndTrends(t *testing.T) {
	srv, r := newTestServer(t)

	rec := doJSON(t, r, http.MethodGet, "/api/trends", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	empty := decode[TrendsResponse](t, rec)
	assert.Equal(t, "computed", empty.Source)
	assert.Nil(t, empty.Summary.Window7)

	for _, date := range []string{"2024-05-01", "2024-05-02"} {
		entry := store.DailyEntry{
			EntryDate: date,
			Responses: []store.QuestionResponse{{QuestionKey: "knee_intensity", Step: "baseline", AnswerType: "slider", AnswerValue: "4"}},
		}
		require.NoError(t, srv.DB().SaveEntry(&entry))
	}

	rec = doJSON(t, r, http.MethodPost, "/api/trends/refresh", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, r, http.MethodGet, "/api/trends?date=2024-05-02", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	computed := decode[TrendsResponse](t, rec)
	assert.Equal(t, "computed", computed.Source)
	require.NotNil(t, computed.Summary.Window7)
	assert.Equal(t, 1, computed.Summary.Window7.Entries)

	rec = doJSON(t, r, http.MethodGet, "/api/entries/not-a-date", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = doJSON(t, r, http.MethodGet, "/api/entries?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, r, http.MethodDelete, "/api/entries/2024-05-01", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = doJSON(t, r, http.MethodGet, "/api/entries/2024-05-01", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = doJSON(t, r, http.MethodDelete, "/api/entries/2024-05-01", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, r, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `health_diary_trend_refreshes_total{outcome="ok"} 2`)
}

func TestStreamBroadcastsSessionEvents(t *testing.T) {
	srv, r := newTestServer(t)
	ts := httptest.NewServer(r)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/sessions/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return srv.notifier.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	rec := doJSON(t, r, http.MethodPost, "/api/sessions", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := decode[flow.State](t, rec).ID
	rec = doJSON(t, r, http.MethodPut, "/api/sessions/"+id+"/answers/overall_feeling", report.Choice("great"))
	require.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var event Event
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, EventSession, event.Type)
	assert.Equal(t, id, event.SessionID)
	require.NotNil(t, event.Session)
	opt, _ := event.Session.Answers[report.KeyOverallFeeling].ChoiceValue()
	assert.Equal(t, "great", opt)
}

package jobs

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"health-diary/backend/internal/flow"
	"health-diary/backend/internal/metrics"
	"health-diary/backend/internal/trend"
	"health-diary/backend/internal/util"
)

var ErrRunning = errors.New("scheduler already running")

// Scheduler runs the periodic maintenance jobs. Overlapping runs of the same job are skipped
// and panics are recovered and logged.
type Scheduler struct {
	mu      sync.Mutex
	cron    *cron.Cron
	names   map[cron.EntryID]string
	running bool
}

// NewScheduler creates an idle scheduler.
func NewScheduler() *Scheduler {
	logger := cronLogger{}
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		names: make(map[cron.EntryID]string),
	}
}

// Add registers fn under a standard cron spec or descriptor (@every 1h). An empty spec leaves
// the job disabled.
func (s *Scheduler) Add(name, spec string, fn func()) error {
	if spec == "" {
		logrus.WithField("job", name).Info("job disabled")
		return nil
	}
	id, err := s.cron.AddFunc(spec, fn)
	if err != nil {
		return fmt.Errorf("schedule %s (%q): %w", name, spec, err)
	}
	s.mu.Lock()
	s.names[id] = name
	s.mu.Unlock()
	return nil
}

// Jobs lists the registered job names.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.names))
	for _, name := range s.names {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Start begins running jobs in the background.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrRunning
	}
	s.running = true
	s.cron.Start()
	logrus.WithField("jobs", len(s.names)).Info("scheduler started")
	return nil
}

// Stop halts scheduling and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	logrus.Info("scheduler stopped")
}

// TrendRefresh recomputes the stored trend snapshots.
func TrendRefresh(db trend.SnapshotStore, m *metrics.Metrics) func() {
	return func() {
		timer := util.StartTimer()
		rows, err := trend.RefreshSnapshots(db, time.Now().UTC())
		m.TrendRefresh(err)
		if err != nil {
			logrus.WithError(err).Error("scheduled trend refresh failed")
			return
		}
		logrus.WithFields(logrus.Fields{"snapshots": rows, "ms": timer.ElapsedMs()}).Debug("scheduled trend refresh done")
	}
}

// SessionSweep drops idle report sessions.
func SessionSweep(reg *flow.Registry, m *metrics.Metrics) func() {
	return func() {
		reg.Sweep()
		m.SetLiveSessions(reg.Len())
	}
}

// cronLogger routes cron's own messages to logrus.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logrus.WithFields(fields(keysAndValues)).Debug("cron: " + msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logrus.WithError(err).WithFields(fields(keysAndValues)).Error("cron: " + msg)
}

func fields(keysAndValues []interface{}) logrus.Fields {
	out := logrus.Fields{}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		out[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return out
}

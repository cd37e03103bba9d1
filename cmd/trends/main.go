package main

import (
	"encoding/json"
	"flag"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"health-diary/backend/internal/config"
	"health-diary/backend/internal/store"
	"health-diary/backend/internal/trend"
	"health-diary/backend/internal/util"
)

func main() {
	var (
		configPath = flag.String("config", os.Getenv("HEALTH_DIARY_CONFIG"), "Optional YAML config file")
		dbPath     = flag.String("db", "", "Path to SQLite database (defaults to database.path)")
		outputPath = flag.String("output", "", "Optional path to write the trend summary as JSON")
		date       = flag.String("date", "", "Summarize the entries before this day instead of refreshing snapshots")
	)
	flag.Parse()

	if err := config.LoadDotEnv(); err != nil {
		logrus.WithError(err).Warn("load .env")
	}
	if *dbPath == "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			logrus.Fatalf("load config: %v", err)
		}
		*dbPath = cfg.Database.Path
	}

	db, err := store.Open(*dbPath, true)
	if err != nil {
		logrus.Fatalf("open database: %v", err)
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			logrus.WithError(cerr).Warn("close database")
		}
	}()

	timer := util.StartTimer()
	var summary trend.Summary
	if *date != "" {
		day, err := util.NormalizeDay(*date, time.UTC)
		if err != nil {
			logrus.Fatalf("parse date: %v", err)
		}
		summary, err = trend.NewTracker(db).Summary(day)
		if err != nil {
			logrus.Fatalf("summarize trends: %v", err)
		}
	} else {
		count, err := trend.RefreshSnapshots(db, time.Now().UTC())
		if err != nil {
			logrus.Fatalf("refresh snapshots: %v", err)
		}
		rows, err := db.ListTrendSnapshots(0)
		if err != nil {
			logrus.Fatalf("read snapshots: %v", err)
		}
		summary = trend.FromSnapshots(rows)
		logrus.WithField("snapshots", count).Info("trend snapshots refreshed")
	}

	entries, err := db.CountEntries()
	if err != nil {
		logrus.WithError(err).Warn("count entries")
	}
	logrus.WithFields(logrus.Fields{
		"entries":  entries,
		"duration": timer.Elapsed().Round(time.Millisecond),
	}).Info("trend summary complete")

	if *outputPath != "" {
		if err := writeSummary(*outputPath, summary); err != nil {
			logrus.Fatalf("write summary: %v", err)
		}
		logrus.WithField("path", *outputPath).Info("trend summary written to file")
	}
}

func writeSummary(path string, summary trend.Summary) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(summary)
}

package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/viewlabs/viewband/internal/config"
	"github.com/viewlabs/viewband/internal/scheduler"
	"github.com/viewlabs/viewband/internal/store"
	"github.com/viewlabs/viewband/pkg/alert"
	"github.com/viewlabs/viewband/pkg/envelope"
	"github.com/viewlabs/viewband/pkg/server"
)

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	return config.Load(path)
}

func newLogger(cfg *config.Config) *logrus.Logger {
	log := logrus.New()
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}
	return log
}

// openStores opens the sample source and the envelope store.
func openStores(cfg *config.Config) (*store.SampleStore, *store.BadgerStore, error) {
	samples, err := store.NewSampleStore(cfg.Samples.Driver, cfg.Samples.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open sample store: %w", err)
	}

	env, err := store.NewBadgerStore(cfg.Envelope.Path)
	if err != nil {
		samples.Close()
		return nil, nil, fmt.Errorf("open envelope store: %w", err)
	}

	return samples, env, nil
}

func buildEngine(cfg *config.Config, samples *store.SampleStore, env *store.BadgerStore, log *logrus.Logger) *envelope.Engine {
	return envelope.NewEngine(samples, env, cfg.Engine, log)
}

func buildAlertManager(cfg *config.Config) *alert.Manager {
	var notifiers []alert.Notifier

	if cfg.Alerts.Slack.Enabled && cfg.Alerts.Slack.WebhookURL != "" {
		notifiers = append(notifiers, alert.NewSlack(cfg.Alerts.Slack.WebhookURL))
	}
	if cfg.Alerts.Webhook.Enabled && cfg.Alerts.Webhook.URL != "" {
		notifiers = append(notifiers, alert.NewWebhook(cfg.Alerts.Webhook.URL, cfg.Alerts.Webhook.Secret))
	}

	return alert.NewManager(notifiers)
}

func runRefresh(fromAge, toAge int, resume bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := newLogger(cfg)

	samples, env, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer samples.Close()
	defer env.Close()

	engine := buildEngine(cfg, samples, env, log)
	report, err := engine.Refresh(context.Background(), envelope.RefreshOpts{
		FromAge: fromAge,
		ToAge:   toAge,
		Resume:  resume,
	})
	if err != nil {
		return fmt.Errorf("refresh: %w", err)
	}

	fmt.Printf("committed snapshot %d: %d ages from %d samples (%d buckets, %d clamped) in %s\n",
		report.SnapshotID, report.Ages, report.SamplesRead, report.Buckets,
		report.Violations, report.Duration.Round(time.Millisecond))
	return nil
}

func runBaselines() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := newLogger(cfg)

	samples, env, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer samples.Close()
	defer env.Close()

	engine := buildEngine(cfg, samples, env, log)
	report, err := engine.RefreshBaselines(context.Background())
	if err != nil {
		return fmt.Errorf("refresh baselines: %w", err)
	}

	fmt.Printf("updated %d baselines (%d low-confidence) in %s\n",
		report.Entities, report.LowConfidence, report.Duration.Round(time.Millisecond))
	return nil
}

func runClassify(entity string, age int, value int64, jsonOutput bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := newLogger(cfg)

	samples, env, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer samples.Close()
	defer env.Close()

	engine := buildEngine(cfg, samples, env, log)
	perf, err := engine.Classify(context.Background(), entity, age, value)
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(perf)
	}

	fmt.Printf("%s at day %d: observed %d, expected %.0f -> ratio %.2f (%s)\n",
		perf.EntityID, perf.AgeDays, perf.ObservedValue, perf.ExpectedValue,
		perf.Ratio, perf.Category)
	return nil
}

func runCurve(age, fromAge, toAge int, jsonOutput bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	env, err := store.NewBadgerStore(cfg.Envelope.Path)
	if err != nil {
		return fmt.Errorf("open envelope store: %w", err)
	}
	defer env.Close()

	ctx := context.Background()

	var points []envelope.Point
	if age >= 0 {
		point, err := env.CurvePoint(ctx, age)
		if err != nil {
			return err
		}
		points = []envelope.Point{point}
	} else {
		points, err = env.CurvePoints(ctx, fromAge, toAge)
		if err != nil {
			return err
		}
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(points)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "AGE\tP10\tP25\tP50\tP75\tP90\tP95\tSAMPLES")
	for _, p := range points {
		fmt.Fprintf(w, "%d\t%.0f\t%.0f\t%.0f\t%.0f\t%.0f\t%.0f\t%d\n",
			p.AgeDays,
			p.Bands[envelope.BandP10], p.Bands[envelope.BandP25],
			p.Bands[envelope.BandP50], p.Bands[envelope.BandP75],
			p.Bands[envelope.BandP90], p.Bands[envelope.BandP95],
			p.SampleCount)
	}
	return w.Flush()
}

// runImport loads a CSV of (entity_id, age_days, value) rows into the
// local sample table. A header row is skipped if present.
func runImport(path string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	samples, err := store.NewSampleStore(cfg.Samples.Driver, cfg.Samples.DSN)
	if err != nil {
		return fmt.Errorf("open sample store: %w", err)
	}
	defer samples.Close()

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	ctx := context.Background()

	var batch []envelope.Sample
	total := 0
	line := 0

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		line++

		if len(record) < 3 {
			return fmt.Errorf("%s line %d: expected 3 columns, got %d", path, line, len(record))
		}
		if line == 1 && record[0] == "entity_id" {
			continue
		}

		ageDays, err := strconv.Atoi(record[1])
		if err != nil {
			return fmt.Errorf("%s line %d: bad age %q", path, line, record[1])
		}
		value, err := strconv.ParseInt(record[2], 10, 64)
		if err != nil {
			return fmt.Errorf("%s line %d: bad value %q", path, line, record[2])
		}

		batch = append(batch, envelope.Sample{EntityID: record[0], AgeDays: ageDays, Value: value})
		if len(batch) >= 1000 {
			if err := samples.InsertSamples(ctx, batch); err != nil {
				return err
			}
			total += len(batch)
			batch = batch[:0]
		}
	}

	if len(batch) > 0 {
		if err := samples.InsertSamples(ctx, batch); err != nil {
			return err
		}
		total += len(batch)
	}

	fmt.Printf("imported %d samples from %s\n", total, path)
	return nil
}

func runServe(port int) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := newLogger(cfg)

	if port == 0 {
		port = cfg.Server.Port
	}

	samples, env, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer samples.Close()
	defer env.Close()

	engine := buildEngine(cfg, samples, env, log)
	srv := server.New(engine, env, port, log)
	return srv.ListenAndServe()
}

func runDaemon(port int) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := newLogger(cfg)

	if port == 0 {
		port = cfg.Server.Port
	}

	samples, env, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer samples.Close()
	defer env.Close()

	engine := buildEngine(cfg, samples, env, log)
	alertMgr := buildAlertManager(cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sched := scheduler.New(engine, alertMgr, cfg.Schedule.ParseRefreshInterval(), log)

	// Start scheduler in background.
	go func() {
		if err := sched.Run(ctx); err != nil && ctx.Err() == nil {
			log.WithError(err).Error("scheduler error")
		}
	}()

	srv := server.New(engine, env, port, log)
	go func() {
		<-ctx.Done()
		log.Info("shutting down")
	}()

	return srv.ListenAndServe()
}

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/viewlabs/viewband/pkg/alert"
	"github.com/viewlabs/viewband/pkg/envelope"
)

// Scheduler runs periodic envelope refreshes: curve rebuild first,
// then baselines against the freshly committed curve.
type Scheduler struct {
	engine     *envelope.Engine
	alertMgr   *alert.Manager
	refreshInt time.Duration
	log        *logrus.Logger
}

// New creates a new scheduler.
func New(engine *envelope.Engine, alertMgr *alert.Manager, refreshInt time.Duration, log *logrus.Logger) *Scheduler {
	if refreshInt == 0 {
		refreshInt = 24 * time.Hour
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Scheduler{
		engine:     engine,
		alertMgr:   alertMgr,
		refreshInt: refreshInt,
		log:        log,
	}
}

// Run starts the scheduler loop. Blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.refreshInt)
	defer ticker.Stop()

	// Run immediately on start.
	s.log.Info("scheduler: initial refresh")
	s.refresh(ctx)

	s.log.WithField("interval", s.refreshInt).Info("scheduler: running")

	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler: stopped")
			return ctx.Err()
		case <-ticker.C:
			s.refresh(ctx)
		}
	}
}

// refresh rebuilds curve and baselines. A failed run leaves the
// previous committed snapshot intact; the next tick retries.
func (s *Scheduler) refresh(ctx context.Context) {
	report, err := s.engine.Refresh(ctx, envelope.RefreshOpts{Resume: true})
	if err != nil {
		if errors.Is(err, envelope.ErrNoSamples) {
			s.log.Warn("scheduler: no samples yet, skipping refresh")
			return
		}
		s.log.WithError(err).Error("scheduler: curve refresh failed")
		s.notify(ctx, &alert.Notification{
			Title: "Envelope refresh failed",
			Body:  err.Error(),
		})
		return
	}

	baselines, err := s.engine.RefreshBaselines(ctx)
	if err != nil {
		s.log.WithError(err).Error("scheduler: baseline refresh failed")
		s.notify(ctx, &alert.Notification{
			Title:      "Baseline refresh failed",
			Body:       err.Error(),
			SnapshotID: report.SnapshotID,
		})
		return
	}

	s.notify(ctx, &alert.Notification{
		Title: "Envelope refresh committed",
		Body: fmt.Sprintf("Rebuilt %d ages from %d samples; %d baselines updated",
			report.Ages, report.SamplesRead, baselines.Entities),
		SnapshotID: report.SnapshotID,
		Samples:    report.SamplesRead,
		Violations: report.Violations,
		Entities:   baselines.Entities,
		Duration:   report.Duration.Seconds(),
	})
}

func (s *Scheduler) notify(ctx context.Context, n *alert.Notification) {
	if s.alertMgr == nil || !s.alertMgr.HasNotifiers() {
		return
	}
	if err := s.alertMgr.Broadcast(ctx, n); err != nil {
		s.log.WithError(err).Warn("scheduler: alert delivery failed")
	}
}

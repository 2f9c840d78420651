package scheduler

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"
)

// WindowSyncer re-syncs the rolling data window; implemented by
// *ingest.Syncer.
type WindowSyncer interface {
	SyncWindow(ctx context.Context) error
}

// Refresher periodically re-syncs the rolling date window. A failed
// iteration is logged and the loop carries on at the next interval.
type Refresher struct {
	scheduler *gocron.Scheduler
	syncer    WindowSyncer
	log       *zap.Logger
	interval  time.Duration
	timeout   time.Duration
}

// New creates a Refresher. timeout bounds each individual sync run.
func New(syncer WindowSyncer, log *zap.Logger, interval, timeout time.Duration) *Refresher {
	return &Refresher{
		scheduler: gocron.NewScheduler(time.UTC),
		syncer:    syncer,
		log:       log,
		interval:  interval,
		timeout:   timeout,
	}
}

// Start schedules the periodic job and starts the underlying scheduler.
func (r *Refresher) Start() error {
	_, err := r.scheduler.Every(r.interval).Name("window-refresh").Do(func() {
		r.log.Info("refreshing data window")

		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()

		if err := r.syncer.SyncWindow(ctx); err != nil {
			r.log.Error("window refresh failed; will retry next interval", zap.Error(err))
			return
		}
		r.log.Info("data window refreshed")
	})
	if err != nil {
		return err
	}

	r.scheduler.StartAsync()
	return nil
}

// Stop cancels future iterations. An in-flight sync runs to completion.
func (r *Refresher) Stop() {
	if r.scheduler != nil {
		r.scheduler.Stop()
	}
}

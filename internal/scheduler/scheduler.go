// Package scheduler wires up the optional cron job that periodically syncs
// every brokerage with at least one live connection.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"hayvn/listing-pipeline/internal/ingest"
)

// BrokerageLister finds the brokerages that have work to do.
type BrokerageLister interface {
	BrokeragesWithLiveConnections(ctx context.Context) ([]string, error)
}

// Syncer runs one sync invocation.
type Syncer interface {
	Sync(ctx context.Context, req ingest.Request) (*ingest.Report, error)
}

// Scheduler wraps robfig/cron and manages the sync loop.
type Scheduler struct {
	cron       *cron.Cron
	brokerages BrokerageLister
	syncer     Syncer
	spec       string // cron spec, e.g. "@every 6h"; empty disables
	logger     *slog.Logger
}

// New creates a Scheduler firing on spec.
func New(brokerages BrokerageLister, syncer Syncer, spec string, logger *slog.Logger) *Scheduler {
	cl := cronLogger{logger}
	return &Scheduler{
		cron:       cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		brokerages: brokerages,
		syncer:     syncer,
		spec:       spec,
		logger:     logger,
	}
}

// Enabled reports whether a schedule was configured.
func (s *Scheduler) Enabled() bool { return s.spec != "" }

// Start registers the job and starts the scheduler. Also runs one sync
// immediately so listings are fresh without waiting for the first tick.
// Start is a no-op when no schedule is configured.
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.Enabled() {
		s.logger.Info("sync schedule not configured, cron disabled")
		return nil
	}

	if _, err := s.cron.AddFunc(s.spec, func() { s.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("cron.AddFunc %q: %w", s.spec, err)
	}

	s.cron.Start()
	s.logger.Info("cron started", "spec", s.spec)

	go s.RunOnce(ctx)
	return nil
}

// Stop halts the scheduler and waits for a running sync to finish.
func (s *Scheduler) Stop() {
	if !s.Enabled() {
		return
	}
	<-s.cron.Stop().Done()
	s.logger.Info("cron stopped")
}

// RunOnce syncs every brokerage with live connections. A failing brokerage
// is logged and the cycle continues.
func (s *Scheduler) RunOnce(ctx context.Context) {
	ids, err := s.brokerages.BrokeragesWithLiveConnections(ctx)
	if err != nil {
		s.logger.Error("load brokerages failed", "err", err)
		return
	}
	if len(ids) == 0 {
		s.logger.Info("no live connections, nothing to sync")
		return
	}

	s.logger.Info("sync cycle started", "brokerages", len(ids))
	failed := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		rep, err := s.syncer.Sync(ctx, ingest.Request{BrokerageID: id})
		if err != nil {
			s.logger.Warn("brokerage sync failed", "brokerageId", id, "err", err)
			failed++
			continue
		}
		for _, r := range rep.Results {
			if !r.OK {
				failed++
				break
			}
		}
	}
	s.logger.Info("sync cycle complete", "brokerages", len(ids), "withFailures", failed)
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, kv ...any) { c.l.Debug("cron: "+msg, kv...) }

func (c cronLogger) Error(err error, msg string, kv ...any) {
	c.l.Error("cron: "+msg, append(kv, "err", err)...)
}

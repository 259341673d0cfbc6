// Package scheduler runs the end-of-day equity snapshot on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rustyeddy/riskledger/coordinator"
	"github.com/rustyeddy/riskledger/ledger"
	"github.com/rustyeddy/riskledger/pkg/logger"
)

// Snapshotter is the slice of the coordinator the job needs.
type Snapshotter interface {
	SnapshotAll(ctx context.Context, at time.Time) ([]ledger.EquitySnapshot, error)
	PublishLeaderboard(ctx context.Context, now time.Time) ([]coordinator.Standing, error)
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Scheduler owns a cron runner with a single snapshot job.
type Scheduler struct {
	cron     *cron.Cron
	schedule cron.Schedule
	target   Snapshotter
	log      *logger.Logger
	clock    func() time.Time
}

// New parses spec (5-field cron or a descriptor such as @daily) in UTC.
func New(spec string, target Snapshotter, log *logger.Logger) (*Scheduler, error) {
	sched, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parse cron expression %q: %w", spec, err)
	}
	s := &Scheduler{
		cron:     cron.New(cron.WithLocation(time.UTC), cron.WithParser(parser)),
		schedule: sched,
		target:   target,
		log:      logger.OrNop(log).Named("scheduler"),
		clock:    time.Now,
	}
	s.cron.Schedule(sched, cron.FuncJob(func() { _ = s.RunOnce(context.Background()) }))
	return s, nil
}

// Next reports the next fire time after t.
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.schedule.Next(t.UTC())
}

// RunOnce snapshots every account for today and publishes the leaderboard.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	now := s.clock().UTC()
	snaps, err := s.target.SnapshotAll(ctx, now)
	if err != nil {
		s.log.Error("snapshot job failed", logger.ErrorField(err))
		return err
	}
	if _, err := s.target.PublishLeaderboard(ctx, now); err != nil {
		s.log.Warn("leaderboard after snapshot failed", logger.ErrorField(err))
	}
	s.log.Info("snapshot job finished",
		logger.IntField("accounts", len(snaps)),
		logger.StringField("day", ledger.Day(now).Format("2006-01-02")))
	return nil
}

// Start runs the cron loop until ctx is done, then waits for a running
// job to finish.
func (s *Scheduler) Start(ctx context.Context) {
	s.log.Info("scheduler started", logger.Field("next", s.Next(s.clock())))
	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.log.Info("scheduler stopped")
}

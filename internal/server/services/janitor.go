package services

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/crmkeeper/internal/logging"
	"github.com/robfig/cron/v3"
)

// ExpiredPurger deletes refresh records that can no longer be used.
type ExpiredPurger interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// Janitor purges expired refresh records on a cron schedule.
type Janitor struct {
	purger  ExpiredPurger
	cron    *cron.Cron
	log     logging.Logger
	timeout time.Duration
}

// NewJanitor schedules purges per schedule, a standard cron expression or a
// descriptor such as "@every 30m".
func NewJanitor(purger ExpiredPurger, schedule string, log logging.Logger) (*Janitor, error) {
	j := &Janitor{
		purger:  purger,
		cron:    cron.New(),
		log:     log,
		timeout: time.Minute,
	}
	if _, err := j.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
		defer cancel()
		_, _ = j.RunOnce(ctx)
	}); err != nil {
		return nil, fmt.Errorf("janitor schedule %q: %w", schedule, err)
	}
	return j, nil
}

// RunOnce performs a single purge.
func (j *Janitor) RunOnce(ctx context.Context) (int64, error) {
	n, err := j.purger.DeleteExpired(ctx)
	if err != nil {
		j.log.Error(ctx, "purge expired refresh tokens", "error", err)
		return 0, err
	}
	if n > 0 {
		j.log.Info(ctx, "purged expired refresh tokens", "count", n)
	}
	return n, nil
}

// Run starts the schedule and blocks until ctx is done, then waits for a
// running purge to finish.
func (j *Janitor) Run(ctx context.Context) error {
	j.cron.Start()
	<-ctx.Done()
	<-j.cron.Stop().Done()
	return nil
}

// Package scheduler drives the recurring pickup jobs: order generation,
// renewal payments and the fine sweep. One instance per process; redis
// locking inside the generator keeps replicas from doubling work.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/smallbiznis/washline/internal/billing/domain"
	"github.com/smallbiznis/washline/internal/clock"
	"github.com/smallbiznis/washline/internal/generator"
	obsmetrics "github.com/smallbiznis/washline/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("scheduler: missing dependency")

type Params struct {
	fx.In

	Log          *zap.Logger
	Clock        clock.Clock
	GeneratorSvc generator.Service
	PaymentsSvc  domain.Payments
	FinesSvc     domain.Fines
	Config       Config `optional:"true"`
}

type Scheduler struct {
	log          *zap.Logger
	cfg          Config
	clock        clock.Clock
	generatorSvc generator.Service
	paymentsSvc  domain.Payments
	finesSvc     domain.Fines
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Clock == nil || p.GeneratorSvc == nil || p.PaymentsSvc == nil || p.FinesSvc == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:          p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:          p.Config.withDefaults(),
		clock:        p.Clock,
		generatorSvc: p.GeneratorSvc,
		paymentsSvc:  p.PaymentsSvc,
		finesSvc:     p.FinesSvc,
	}, nil
}

func (s *Scheduler) runJob(parent context.Context, name string, fn func(ctx context.Context) error) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()

	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	err := fn(ctx)
	schedMetrics.ObserveJobDuration(name, time.Since(start))
	if err == nil {
		return nil
	}

	// A deadline is a soft timeout: the next tick picks up where this
	// one left off, nothing was lost.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		schedMetrics.IncJobTimeout(name)
		schedMetrics.IncJobError(name, err)
		s.log.Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", s.cfg.JobTimeout),
			zap.Error(err),
		)
		return nil
	}

	schedMetrics.IncJobError(name, err)
	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name    string
		Enabled bool
		Run     func(context.Context) error
	}{
		{"renewal_payments", s.isJobEnabled("renewal_payments"), func(ctx context.Context) error {
			return s.runJob(ctx, "renewal_payments", s.RenewalPaymentsJob)
		}},
		{"ensure_orders", s.isJobEnabled("ensure_orders"), func(ctx context.Context) error {
			return s.runJob(ctx, "ensure_orders", s.EnsureOrdersJob)
		}},
		{"fine_sweep", s.isJobEnabled("fine_sweep"), func(ctx context.Context) error {
			return s.runJob(ctx, "fine_sweep", s.FineSweepJob)
		}},
	}

	for _, job := range jobs {
		if job.Enabled {
			err = errors.Join(err, job.Run(parent))
		}
	}

	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// An empty EnabledJobs list enables everything (monolith mode).
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// EnsureOrdersJob generates monthly orders for today plus the configured
// lookahead window. Renewal payments run before this in the same tick so
// a freshly-renewed subscription is not skipped as suspended.
func (s *Scheduler) EnsureOrdersJob(ctx context.Context) error {
	today := clock.Day(s.clock.Now())

	var total generator.Result
	var jobErr error
	for offset := 0; offset <= s.cfg.LookaheadDays; offset++ {
		if err := ctx.Err(); err != nil {
			return errors.Join(jobErr, err)
		}
		date := today.AddDate(0, 0, offset)
		result, err := s.generatorSvc.EnsureOrdersForAll(ctx, date)
		jobErr = errors.Join(jobErr, err)
		total.Add(result)
	}
	if total.Created > 0 {
		s.log.Info("orders generated",
			zap.String("from", today.Format(time.DateOnly)),
			zap.Int("days", s.cfg.LookaheadDays+1),
			zap.Int("created", total.Created),
			zap.Int("skipped", total.Skipped),
		)
	}
	return jobErr
}

func (s *Scheduler) RenewalPaymentsJob(ctx context.Context) error {
	created, err := s.paymentsSvc.EnsureRenewalPayments(ctx, s.clock.Now())
	obsmetrics.Scheduler().AddRenewalsCreated(created)
	return err
}

func (s *Scheduler) FineSweepJob(ctx context.Context) error {
	result, err := s.finesSvc.EnsureFinesForAllOverdue(ctx, s.clock.Now())
	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.AddFinesUpserted(result.Upserts)
	schedMetrics.AddFinesCleared(result.Cleared)
	return err
}

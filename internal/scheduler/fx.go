package scheduler

import (
	"context"

	"github.com/smallbiznis/washline/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("scheduler",
	fx.Provide(ProvideConfig),
	fx.Provide(New),
	fx.Invoke(NewScheduler),
)

func ProvideConfig(cfg *config.Config) Config {
	return Config{
		RunInterval:   cfg.Scheduler.RunInterval,
		LookaheadDays: cfg.Scheduler.LookaheadDays,
		JobTimeout:    cfg.Scheduler.JobTimeout,
		EnabledJobs:   cfg.Scheduler.EnabledJobs,
	}.withDefaults()
}

func NewScheduler(lc fx.Lifecycle, cfg *config.Config, sched *Scheduler) {
	if !cfg.Scheduler.Enabled {
		// API-only replicas can still catch up missed days once at boot.
		if cfg.Scheduler.StartupCatchup {
			lc.Append(fx.Hook{
				OnStart: func(context.Context) error {
					go func() {
						_ = sched.RunOnce(context.Background())
					}()
					return nil
				},
			})
		}
		return
	}

	runCtx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go sched.RunForever(runCtx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}

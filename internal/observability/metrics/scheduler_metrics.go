// Package metrics exposes prometheus instruments for the scheduler and
// the order generator.
package metrics

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/washline/pkg/db"
	"gorm.io/gorm"
)

const (
	SchedulerErrorTypeDeadlineExceeded = "deadline_exceeded"
	SchedulerErrorTypeUniqueViolation  = "unique_violation"
	SchedulerErrorTypeDB               = "db"
	SchedulerErrorTypeBusinessRule     = "business_rule"
)

// SchedulerMetrics captures pickup scheduler and generator health signals.
type SchedulerMetrics struct {
	jobRuns         *prometheus.CounterVec
	jobDuration     *prometheus.HistogramVec
	jobTimeouts     *prometheus.CounterVec
	jobErrors       *prometheus.CounterVec
	ordersCreated   prometheus.Counter
	ordersSkipped   *prometheus.CounterVec
	sweepsDeferred  prometheus.Counter
	finesUpserted   prometheus.Counter
	finesCleared    prometheus.Counter
	renewalsCreated prometheus.Counter
}

var (
	schedulerMetricsOnce sync.Once
	schedulerMetrics     *SchedulerMetrics
)

// Scheduler returns the singleton scheduler metrics registry.
func Scheduler() *SchedulerMetrics {
	schedulerMetricsOnce.Do(func() {
		schedulerMetrics = newSchedulerMetrics(prometheus.DefaultRegisterer)
	})
	return schedulerMetrics
}

// ResetSchedulerMetricsForTest resets the scheduler metrics singleton for tests.
func ResetSchedulerMetricsForTest() {
	schedulerMetricsOnce = sync.Once{}
	schedulerMetrics = nil
}

func newSchedulerMetrics(registerer prometheus.Registerer) *SchedulerMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	jobRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "washline_scheduler_job_runs_total",
		Help: "Scheduler job runs by name.",
	}, []string{"job"})
	jobDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "washline_scheduler_job_duration_seconds",
		Help:    "Scheduler job latency to protect pickup batch freshness.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
	}, []string{"job"})
	jobTimeouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "washline_scheduler_job_timeouts_total",
		Help: "Scheduler job timeouts that threaten same-day pickups.",
	}, []string{"job"})
	jobErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "washline_scheduler_job_errors_total",
		Help: "Scheduler job errors by low-cardinality type.",
	}, []string{"job", "error_type"})
	ordersCreated := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "washline_generator_orders_created_total",
		Help: "Monthly pickup orders created by the generator.",
	})
	ordersSkipped := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "washline_generator_orders_skipped_total",
		Help: "Subscription days the generator skipped by reason.",
	}, []string{"reason"})
	sweepsDeferred := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "washline_generator_sweeps_deferred_total",
		Help: "Batch sweeps skipped because another replica held the lock.",
	})
	finesUpserted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "washline_fines_upserted_total",
		Help: "Fine rows created or recalculated by the sweep.",
	})
	finesCleared := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "washline_fines_cleared_total",
		Help: "Fine rows deleted because the payment is no longer overdue.",
	})
	renewalsCreated := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "washline_renewal_payments_created_total",
		Help: "Renewal payments created for completed cycles.",
	})

	registerer.MustRegister(
		jobRuns,
		jobDuration,
		jobTimeouts,
		jobErrors,
		ordersCreated,
		ordersSkipped,
		sweepsDeferred,
		finesUpserted,
		finesCleared,
		renewalsCreated,
	)

	return &SchedulerMetrics{
		jobRuns:         jobRuns,
		jobDuration:     jobDuration,
		jobTimeouts:     jobTimeouts,
		jobErrors:       jobErrors,
		ordersCreated:   ordersCreated,
		ordersSkipped:   ordersSkipped,
		sweepsDeferred:  sweepsDeferred,
		finesUpserted:   finesUpserted,
		finesCleared:    finesCleared,
		renewalsCreated: renewalsCreated,
	}
}

// IncJobRun increments the run counter for a scheduler job.
func (m *SchedulerMetrics) IncJobRun(job string) {
	if m == nil || m.jobRuns == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

// ObserveJobDuration records scheduler job latency in seconds.
func (m *SchedulerMetrics) ObserveJobDuration(job string, duration time.Duration) {
	if m == nil || m.jobDuration == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

// IncJobTimeout increments the timeout counter for the scheduler job.
func (m *SchedulerMetrics) IncJobTimeout(job string) {
	if m == nil || m.jobTimeouts == nil {
		return
	}
	m.jobTimeouts.WithLabelValues(job).Inc()
}

// IncJobError increments the scheduler job error counter with classification.
func (m *SchedulerMetrics) IncJobError(job string, err error) {
	if m == nil || m.jobErrors == nil || err == nil {
		return
	}
	m.jobErrors.WithLabelValues(job, ClassifySchedulerErrorType(err)).Inc()
}

// AddOrdersCreated adds to the generated order counter.
func (m *SchedulerMetrics) AddOrdersCreated(count int) {
	if m == nil || m.ordersCreated == nil || count <= 0 {
		return
	}
	m.ordersCreated.Add(float64(count))
}

// AddOrdersSkipped adds to the skipped counter for a reason.
func (m *SchedulerMetrics) AddOrdersSkipped(reason string, count int) {
	if m == nil || m.ordersSkipped == nil || count <= 0 {
		return
	}
	m.ordersSkipped.WithLabelValues(reason).Add(float64(count))
}

// IncSweepDeferred increments the deferred-sweep counter.
func (m *SchedulerMetrics) IncSweepDeferred() {
	if m == nil || m.sweepsDeferred == nil {
		return
	}
	m.sweepsDeferred.Inc()
}

// AddFinesUpserted adds to the fine upsert counter.
func (m *SchedulerMetrics) AddFinesUpserted(count int) {
	if m == nil || m.finesUpserted == nil || count <= 0 {
		return
	}
	m.finesUpserted.Add(float64(count))
}

// AddFinesCleared adds to the fine clear counter.
func (m *SchedulerMetrics) AddFinesCleared(count int) {
	if m == nil || m.finesCleared == nil || count <= 0 {
		return
	}
	m.finesCleared.Add(float64(count))
}

// AddRenewalsCreated adds to the renewal payment counter.
func (m *SchedulerMetrics) AddRenewalsCreated(count int) {
	if m == nil || m.renewalsCreated == nil || count <= 0 {
		return
	}
	m.renewalsCreated.Add(float64(count))
}

// ClassifySchedulerErrorType returns a low-cardinality error type for
// metrics and logging.
func ClassifySchedulerErrorType(err error) string {
	if err == nil {
		return SchedulerErrorTypeBusinessRule
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return SchedulerErrorTypeDeadlineExceeded
	}
	if db.IsDuplicateKeyErr(err) {
		return SchedulerErrorTypeUniqueViolation
	}
	if isDBError(err) {
		return SchedulerErrorTypeDB
	}
	return SchedulerErrorTypeBusinessRule
}

func isDBError(err error) bool {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false
	}
	return errors.Is(err, gorm.ErrInvalidDB) ||
		errors.Is(err, gorm.ErrInvalidTransaction) ||
		errors.Is(err, gorm.ErrInvalidData) ||
		errors.Is(err, gorm.ErrDuplicatedKey)
}

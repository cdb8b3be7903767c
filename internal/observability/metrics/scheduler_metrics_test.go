package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestClassifySchedulerErrorType(t *testing.T) {
	assert.Equal(t, SchedulerErrorTypeBusinessRule, ClassifySchedulerErrorType(nil))
	assert.Equal(t, SchedulerErrorTypeDeadlineExceeded, ClassifySchedulerErrorType(context.DeadlineExceeded))
	assert.Equal(t, SchedulerErrorTypeDeadlineExceeded,
		ClassifySchedulerErrorType(fmt.Errorf("fine_sweep: %w", context.Canceled)))
	assert.Equal(t, SchedulerErrorTypeUniqueViolation, ClassifySchedulerErrorType(gorm.ErrDuplicatedKey))
	assert.Equal(t, SchedulerErrorTypeDB, ClassifySchedulerErrorType(gorm.ErrInvalidTransaction))
	assert.Equal(t, SchedulerErrorTypeBusinessRule, ClassifySchedulerErrorType(gorm.ErrRecordNotFound))
	assert.Equal(t, SchedulerErrorTypeBusinessRule, ClassifySchedulerErrorType(errors.New("subscription_not_found")))
}

func TestSchedulerMetricsNilSafe(t *testing.T) {
	var m *SchedulerMetrics
	m.IncJobRun("ensure_orders")
	m.ObserveJobDuration("ensure_orders", time.Second)
	m.IncJobTimeout("ensure_orders")
	m.IncJobError("ensure_orders", errors.New("boom"))
	m.AddOrdersCreated(1)
	m.AddOrdersSkipped("skip_day", 1)
	m.IncSweepDeferred()
	m.AddFinesUpserted(1)
	m.AddFinesCleared(1)
	m.AddRenewalsCreated(1)
}

func TestSchedulerSingleton(t *testing.T) {
	ResetSchedulerMetricsForTest()
	t.Cleanup(ResetSchedulerMetricsForTest)

	first := Scheduler()
	second := Scheduler()
	assert.Same(t, first, second)
}

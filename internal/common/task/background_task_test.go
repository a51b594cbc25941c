package task

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
)

func TestRegisterRunsTaskImmediately(t *testing.T) {
	manager := NewBackgroundTaskManager(prometheus.NewRegistry(), "test_")

	var runs int64
	manager.Register(func() { atomic.AddInt64(&runs, 1) }, time.Hour, "immediate_task")

	assert.Eventually(t, func() bool {
		return atomic.LoadInt64(&runs) == 1
	}, time.Second, 10*time.Millisecond)

	timedOut := manager.StopAll(time.Second)
	assert.False(t, timedOut)
}

func TestTaskRunsPeriodically(t *testing.T) {
	manager := NewBackgroundTaskManager(prometheus.NewRegistry(), "test_")

	var runs int64
	manager.Register(func() { atomic.AddInt64(&runs, 1) }, 10*time.Millisecond, "periodic_task")

	assert.Eventually(t, func() bool {
		return atomic.LoadInt64(&runs) >= 3
	}, time.Second, 10*time.Millisecond)

	timedOut := manager.StopAll(time.Second)
	assert.False(t, timedOut)
}

func TestStopAllStopsRegisteredTasks(t *testing.T) {
	manager := NewBackgroundTaskManager(prometheus.NewRegistry(), "test_")

	var runs int64
	manager.Register(func() { atomic.AddInt64(&runs, 1) }, 10*time.Millisecond, "stopping_task")

	timedOut := manager.StopAll(time.Second)
	assert.False(t, timedOut)

	stopped := atomic.LoadInt64(&runs)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, stopped, atomic.LoadInt64(&runs))
}

package task

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type loop struct {
	run      func()
	interval time.Duration
	name     string
	stop     chan bool
}

// BackgroundTaskManager drives the periodic loops of the metrics subsystem,
// one goroutine per registered task. It is not threadsafe, Register and
// StopAll must be called from a single goroutine.
type BackgroundTaskManager struct {
	loops         []*loop
	metricsPrefix string
	registerer    prometheus.Registerer
	wg            *sync.WaitGroup
}

func NewBackgroundTaskManager(registerer prometheus.Registerer, metricsPrefix string) *BackgroundTaskManager {
	return &BackgroundTaskManager{
		loops:         []*loop{},
		metricsPrefix: metricsPrefix,
		registerer:    registerer,
		wg:            &sync.WaitGroup{},
	}
}

// Register starts a goroutine that runs backgroundTask once immediately and
// then every interval until StopAll. Each loop exposes a latency histogram
// named after metricName on the manager's registry.
func (m *BackgroundTaskManager) Register(backgroundTask func(), interval time.Duration, metricName string) {
	l := &loop{
		run:      backgroundTask,
		interval: interval,
		name:     metricName,
		stop:     make(chan bool),
	}
	m.startLoop(l)
	m.loops = append(m.loops, l)
}

// StopAll signals every loop to stop and waits up to timeout for them to
// finish. Returns true if the wait timed out.
func (m *BackgroundTaskManager) StopAll(timeout time.Duration) bool {
	for _, l := range m.loops {
		l.stop <- true
	}
	return m.waitForShutdownCompletion(timeout)
}

func (m *BackgroundTaskManager) startLoop(l *loop) {
	latency := promauto.With(m.registerer).NewHistogram(
		prometheus.HistogramOpts{
			Name:    m.metricsPrefix + l.name + "_latency_seconds",
			Help:    "Background loop " + l.name + " latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 15),
		})

	m.wg.Add(1)
	go func() {
		observe := func() {
			start := time.Now()
			l.run()
			latency.Observe(time.Since(start).Seconds())
		}
		observe()
		for {
			// the interval starts once the previous run completes, a slow
			// run never causes overlapping executions
			select {
			case <-time.After(l.interval):
			case <-l.stop:
				m.wg.Done()
				return
			}
			observe()
		}
	}()
}

func (m *BackgroundTaskManager) waitForShutdownCompletion(timeout time.Duration) bool {
	c := make(chan struct{})
	go func() {
		defer close(c)
		m.wg.Wait()
	}()
	select {
	case <-c:
		return false // completed normally
	case <-time.After(timeout):
		return true // timed out
	}
}

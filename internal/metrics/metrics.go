// Package metrics tracks in-process counters for job throughput and
// worker activity, keyed by queue name rather than a fixed priority
// tier, and exposes a point-in-time snapshot for operator logging.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

var (
	globalCollector *Collector
	once            sync.Once
)

// Collector tracks system-wide metrics in memory.
type Collector struct {
	totalJobsProcessed atomic.Int64
	totalJobsCompleted atomic.Int64
	totalJobsFailed    atomic.Int64

	mu               sync.RWMutex
	jobsByQueue      map[string]int64
	completedByQueue map[string]int64
	failedByQueue    map[string]int64
	queueDepths      map[string]int64
	totalDuration    time.Duration
	startTime        time.Time
	activeWorkers    int64
	totalWorkers     int64
	errorCount       int64
	operationCount   int64
}

// Metrics is a snapshot of current system metrics.
type Metrics struct {
	TotalJobsProcessed int64            `json:"total_jobs_processed"`
	TotalJobsCompleted int64            `json:"total_jobs_completed"`
	TotalJobsFailed    int64            `json:"total_jobs_failed"`
	JobsByQueue        map[string]int64 `json:"jobs_by_queue"`
	CompletedByQueue   map[string]int64 `json:"completed_by_queue"`
	FailedByQueue      map[string]int64 `json:"failed_by_queue"`
	QueueDepths        map[string]int64 `json:"queue_depths"`
	AvgJobDuration     time.Duration    `json:"avg_job_duration"`
	WorkerUtilization  float64          `json:"worker_utilization"`
	ErrorRate          float64          `json:"error_rate"`
	Uptime             time.Duration    `json:"uptime"`
}

// Default returns the global metrics collector instance.
func Default() *Collector {
	once.Do(func() {
		globalCollector = NewCollector()
	})
	return globalCollector
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{
		jobsByQueue:      make(map[string]int64),
		completedByQueue: make(map[string]int64),
		failedByQueue:    make(map[string]int64),
		queueDepths:      make(map[string]int64),
		startTime:        time.Now(),
	}
}

// RecordJobStarted increments the jobs-processed counter for queue.
func (c *Collector) RecordJobStarted(queue string) {
	c.totalJobsProcessed.Add(1)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.jobsByQueue[queue]++
}

// RecordJobCompleted records a successfully completed job on queue.
func (c *Collector) RecordJobCompleted(queue string, duration time.Duration) {
	c.totalJobsCompleted.Add(1)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.completedByQueue[queue]++
	c.totalDuration += duration
	c.operationCount++
}

// RecordJobFailed records a failed job on queue.
func (c *Collector) RecordJobFailed(queue string, duration time.Duration) {
	c.totalJobsFailed.Add(1)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.failedByQueue[queue]++
	c.totalDuration += duration
	c.operationCount++
	c.errorCount++
}

// RecordQueueDepth updates the current live-queue depth for queue.
func (c *Collector) RecordQueueDepth(queue string, depth int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queueDepths[queue] = depth
}

// RecordWorkerActivity updates overall worker utilization metrics.
func (c *Collector) RecordWorkerActivity(active, total int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.activeWorkers = active
	c.totalWorkers = total
}

// GetMetrics returns a snapshot of current metrics.
func (c *Collector) GetMetrics() Metrics {
	c.mu.RLock()
	defer c.mu.RUnlock()

	jobsByQueue := make(map[string]int64, len(c.jobsByQueue))
	for k, v := range c.jobsByQueue {
		jobsByQueue[k] = v
	}
	completedByQueue := make(map[string]int64, len(c.completedByQueue))
	for k, v := range c.completedByQueue {
		completedByQueue[k] = v
	}
	failedByQueue := make(map[string]int64, len(c.failedByQueue))
	for k, v := range c.failedByQueue {
		failedByQueue[k] = v
	}
	queueDepths := make(map[string]int64, len(c.queueDepths))
	for k, v := range c.queueDepths {
		queueDepths[k] = v
	}

	var avgDuration time.Duration
	if c.operationCount > 0 {
		avgDuration = c.totalDuration / time.Duration(c.operationCount)
	}

	var utilization float64
	if c.totalWorkers > 0 {
		utilization = float64(c.activeWorkers) / float64(c.totalWorkers) * 100
	}

	var errorRate float64
	if c.operationCount > 0 {
		errorRate = float64(c.errorCount) / float64(c.operationCount) * 100
	}

	return Metrics{
		TotalJobsProcessed: c.totalJobsProcessed.Load(),
		TotalJobsCompleted: c.totalJobsCompleted.Load(),
		TotalJobsFailed:    c.totalJobsFailed.Load(),
		JobsByQueue:        jobsByQueue,
		CompletedByQueue:   completedByQueue,
		FailedByQueue:      failedByQueue,
		QueueDepths:        queueDepths,
		AvgJobDuration:     avgDuration,
		WorkerUtilization:  utilization,
		ErrorRate:          errorRate,
		Uptime:             time.Since(c.startTime),
	}
}

// Reset clears all metrics (useful for testing).
func (c *Collector) Reset() {
	c.totalJobsProcessed.Store(0)
	c.totalJobsCompleted.Store(0)
	c.totalJobsFailed.Store(0)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.jobsByQueue = make(map[string]int64)
	c.completedByQueue = make(map[string]int64)
	c.failedByQueue = make(map[string]int64)
	c.queueDepths = make(map[string]int64)
	c.totalDuration = 0
	c.startTime = time.Now()
	c.activeWorkers = 0
	c.totalWorkers = 0
	c.errorCount = 0
	c.operationCount = 0
}

// GetMetrics returns metrics from the global collector.
func GetMetrics() Metrics {
	return Default().GetMetrics()
}

// ResetMetrics resets the global collector.
func ResetMetrics() {
	Default().Reset()
}

package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joblift/dispatch/internal/config"
	"github.com/joblift/dispatch/internal/cron"
	"github.com/joblift/dispatch/internal/cronlock"
	"github.com/joblift/dispatch/internal/descriptor"
	"github.com/joblift/dispatch/internal/logger"
	"github.com/joblift/dispatch/internal/metrics"
	"github.com/joblift/dispatch/internal/queue"
	"github.com/redis/go-redis/v9"
)

// queueRunner owns the in-memory hand-off channel and counting
// semaphore for one configured queue.
type queueRunner struct {
	name        string
	concurrency int
	ch          chan descriptor.Descriptor
	sem         chan struct{}
}

// Dispatcher is the two-stage hybrid pipeline: a durable-Redis poller
// per queue hands descriptors off to a bounded in-memory channel,
// which a fixed pool of worker goroutines drains through a counting
// semaphore. A scheduled-promoter runs alongside, moving due entries
// from schedule:<q> onto the live queues, and so does a cron-promoter,
// which runs due cron entries directly through the same per-queue
// semaphore.
type Dispatcher struct {
	cfg          *config.Config
	store        *queue.Store
	cronRegistry *cron.Registry
	executor     *Executor
	lockClient   *redis.Client
	log          logger.Logger

	runners map[string]*queueRunner
	running atomic.Bool
	wg      sync.WaitGroup
	stop    chan struct{}
}

// NewDispatcher builds a dispatcher over the given configuration,
// queue store, cron registry, and execution wrapper.
func NewDispatcher(cfg *config.Config, store *queue.Store, cronRegistry *cron.Registry, executor *Executor) *Dispatcher {
	runners := make(map[string]*queueRunner, len(cfg.Queues))
	for _, q := range cfg.Queues {
		c := cfg.ConcurrencyFor(q)
		runners[q] = &queueRunner{
			name:        q,
			concurrency: c,
			ch:          make(chan descriptor.Descriptor, c),
			sem:         make(chan struct{}, c),
		}
	}

	d := &Dispatcher{
		cfg:          cfg,
		store:        store,
		cronRegistry: cronRegistry,
		executor:     executor,
		runners:      runners,
		log:          logger.Default(),
		stop:         make(chan struct{}),
	}
	if cfg.CronLockEnabled {
		d.lockClient = store.Client()
	}
	return d
}

// Start launches one poller and C[q] worker goroutines per queue,
// plus the scheduled-promoter and cron-promoter tasks, and returns
// immediately; all goroutines run until Stop is called.
func (d *Dispatcher) Start(ctx context.Context) {
	d.running.Store(true)

	for _, r := range d.runners {
		r := r
		d.wg.Add(1)
		go d.pollQueue(ctx, r)

		for i := 0; i < r.concurrency; i++ {
			d.wg.Add(1)
			go d.runWorkers(ctx, r)
		}
	}

	d.wg.Add(1)
	go d.promoteScheduled(ctx)

	d.wg.Add(1)
	go d.promoteCron(ctx)

	d.log.Info("dispatcher started", "queues", d.cfg.Queues)
}

// Stop signals every goroutine to exit, closes the per-queue
// channels so workers drain and exit cleanly, and waits (bounded) for
// everything to finish. In-flight jobs run to completion, subject to
// their own per-job timeout.
func (d *Dispatcher) Stop() {
	d.log.Info("dispatcher stopping")
	d.running.Store(false)
	close(d.stop)

	for _, r := range d.runners {
		close(r.ch)
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.log.Info("dispatcher stopped")
	case <-time.After(30 * time.Second):
		d.log.Warn("dispatcher shutdown timed out", "timeout", "30s")
	}
}

func (d *Dispatcher) isRunning() bool {
	return d.running.Load()
}

// pollQueue is the blocking-pop loop for one queue: on success it
// offers the descriptor to the queue's channel, blocking if full as
// admission back-pressure against Redis.
func (d *Dispatcher) pollQueue(ctx context.Context, r *queueRunner) {
	defer d.wg.Done()

	for d.isRunning() {
		select {
		case <-d.stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		desc, ok, err := d.store.Pop(ctx, r.name, d.cfg.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			d.log.Error("queue poll failed", "queue", r.name, "error", err)
			time.Sleep(time.Second)
			continue
		}
		if !ok {
			continue
		}

		select {
		case r.ch <- desc:
		case <-d.stop:
			return
		}
	}
}

// runWorkers is one worker goroutine's loop: receive from the
// queue's channel, acquire the semaphore, execute, release, exit
// cleanly once the channel closes and drains.
func (d *Dispatcher) runWorkers(ctx context.Context, r *queueRunner) {
	defer d.wg.Done()

	for desc := range r.ch {
		r.sem <- struct{}{}
		active := int64(len(r.sem))
		metrics.Default().RecordWorkerActivity(active, int64(r.concurrency))

		d.executor.ExecuteJob(ctx, r.name, desc)

		<-r.sem
	}
}

// promoteScheduled sweeps schedule:<q> for every configured queue on
// a fixed interval, moving due descriptors onto the live queue.
func (d *Dispatcher) promoteScheduled(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.cfg.ScheduledPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := float64(time.Now().UnixNano()) / 1e9
			for _, q := range d.cfg.Queues {
				if _, err := d.store.PromoteDue(ctx, q, now); err != nil {
					d.log.Error("scheduled promotion failed", "queue", q, "error", err)
				}
			}
		}
	}
}

// promoteCron fetches every cron entry due to fire and dispatches
// execute_cron for each, through the same semaphore used for normal
// work on its queue. When CronLockEnabled, each dispatch is guarded
// by a distributed lock so that a fleet of dispatchers sharing Redis
// does not fire the same cron entry twice.
func (d *Dispatcher) promoteCron(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.cfg.CronPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.dispatchDueCron(ctx)
		}
	}
}

func (d *Dispatcher) dispatchDueCron(ctx context.Context) {
	entries, err := d.cronRegistry.DueJobs(ctx, time.Now())
	if err != nil {
		d.log.Error("cron due-jobs lookup failed", "error", err)
		return
	}

	for _, entry := range entries {
		r, ok := d.runners[entry.Queue]
		if !ok {
			d.log.Warn("cron entry targets unconfigured queue", "class", entry.Class, "queue", entry.Queue)
			d.rescheduleCron(ctx, entry)
			continue
		}

		entry := entry
		go func() {
			if d.cfg.CronLockEnabled {
				lock, err := cronlock.Acquire(ctx, d.lockClient, "cron:lock:"+entry.Class, d.cfg.CronLockTTL)
				if err != nil {
					d.log.Error("cron lock acquire failed, skipping", "class", entry.Class, "error", err)
					return
				}
				if lock == nil {
					d.log.Debug("cron lock held elsewhere, skipping", "class", entry.Class)
					return
				}
				defer lock.Release(ctx)
			}

			r.sem <- struct{}{}
			_ = d.executor.ExecuteCron(ctx, entry.Class)
			<-r.sem

			d.rescheduleCron(ctx, entry)
		}()
	}
}

func (d *Dispatcher) rescheduleCron(ctx context.Context, entry cron.Entry) {
	next, err := cron.NextRun(entry.Expr, time.Now())
	if err != nil {
		d.log.Error("failed to compute next cron run", "class", entry.Class, "error", err)
		return
	}
	if err := d.cronRegistry.ScheduleJob(ctx, entry.Class, next); err != nil {
		d.log.Error("failed to reschedule cron entry", "class", entry.Class, "error", err)
	}
}

// Package scheduler runs deferred distribution jobs and the periodic
// maintenance work: the result cache sweep and analytics retention.
// Deferred jobs sit in a timer-ordered queue; when one comes due it goes
// through the exact same dispatch path as an immediate job.
package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"signalcast/internal/analytics"
	"signalcast/internal/models"
	"signalcast/internal/resultcache"
	"signalcast/pkg/logx"
)

var ErrStopped = errors.New("scheduler: stopped")

// Runner executes a due job. The engine implements it.
type Runner interface {
	DispatchJob(ctx context.Context, job models.DistributionJob) (models.DistributionResult, error)
}

type Config struct {
	// SweepInterval is the cache sweep cadence. Default 1m.
	SweepInterval time.Duration
	// Retention bounds analytics history; records older than this are
	// pruned daily. Zero disables pruning.
	Retention time.Duration
}

func (c Config) withDefaults() Config {
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Minute
	}
	return c
}

type Scheduler struct {
	cfg    Config
	runner Runner
	cache  *resultcache.Cache
	sink   analytics.Sink
	log    logx.Logger

	cron *cron.Cron

	mu      sync.Mutex
	queue   jobQueue
	wake    chan struct{}
	stopped bool

	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup
}

func New(cfg Config, runner Runner, cache *resultcache.Cache, sink analytics.Sink, log logx.Logger) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Scheduler{
		cfg:    cfg.withDefaults(),
		runner: runner,
		cache:  cache,
		sink:   sink,
		log:    log,
		cron:   cron.New(),
		wake:   make(chan struct{}, 1),
	}
}

// Start launches the timer loop and registers the maintenance jobs.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.runCancel != nil {
		s.mu.Unlock()
		return nil
	}
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	s.stopped = false
	s.mu.Unlock()

	if s.cache != nil {
		_, err := s.cron.AddFunc("@every "+s.cfg.SweepInterval.String(), func() {
			if n := s.cache.Sweep(); n > 0 {
				s.log.Debug("cache sweep", logx.Int("evicted", n))
			}
		})
		if err != nil {
			return err
		}
	}
	if s.sink != nil && s.cfg.Retention > 0 {
		_, err := s.cron.AddFunc("@daily", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			cutoff := time.Now().Add(-s.cfg.Retention)
			if err := s.sink.Prune(ctx, cutoff); err != nil {
				s.log.Warn("analytics prune failed", logx.Err(err))
			}
		})
		if err != nil {
			return err
		}
	}
	s.cron.Start()

	s.wg.Add(1)
	go s.loop()
	s.log.Info("scheduler started", logx.Duration("sweep_interval", s.cfg.SweepInterval))
	return nil
}

// Stop halts the cron entries and the timer loop. Queued jobs that have
// not come due are dropped; a deferred job does not survive a restart.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.runCancel
	s.runCancel = nil
	s.stopped = true
	s.mu.Unlock()

	cronCtx := s.cron.Stop()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	<-cronCtx.Done()
	s.log.Info("scheduler stopped")
}

// Defer queues the job to dispatch at the given time.
func (s *Scheduler) Defer(job models.DistributionJob, at time.Time) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	heap.Push(&s.queue, &queuedJob{job: job, at: at})
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	s.log.Info("job queued",
		logx.String("job_id", job.ID),
		logx.Time("at", at),
		logx.Int("channels", len(job.TargetChannels)))
	return nil
}

// Pending reports the number of queued jobs.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len()
}

func (s *Scheduler) loop() {
	defer s.wg.Done()
	ctx := s.runCtx
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		next, ok := s.peek()
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		if ok {
			d := time.Until(next)
			if d < 0 {
				d = 0
			}
			timer.Reset(d)
		} else {
			timer.Reset(time.Hour)
		}

		select {
		case <-ctx.Done():
			return
		case <-s.wake:
			// Queue changed; recompute the next deadline.
		case <-timer.C:
			for _, qj := range s.popDue(time.Now()) {
				job := qj.job
				s.wg.Add(1)
				go func() {
					defer s.wg.Done()
					res, err := s.runner.DispatchJob(ctx, job)
					if err != nil {
						s.log.Warn("deferred job failed",
							logx.String("job_id", job.ID), logx.Err(err))
						return
					}
					s.log.Info("deferred job finished",
						logx.String("job_id", job.ID),
						logx.String("state", string(res.State)))
				}()
			}
		}
	}
}

func (s *Scheduler) peek() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue.Len() == 0 {
		return time.Time{}, false
	}
	return s.queue[0].at, true
}

func (s *Scheduler) popDue(now time.Time) []*queuedJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*queuedJob
	for s.queue.Len() > 0 && !s.queue[0].at.After(now) {
		due = append(due, heap.Pop(&s.queue).(*queuedJob))
	}
	return due
}

type queuedJob struct {
	job models.DistributionJob
	at  time.Time
}

// jobQueue is a min-heap ordered by due time.
type jobQueue []*queuedJob

func (q jobQueue) Len() int           { return len(q) }
func (q jobQueue) Less(i, j int) bool { return q[i].at.Before(q[j].at) }
func (q jobQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }
func (q *jobQueue) Push(x any)        { *q = append(*q, x.(*queuedJob)) }

func (q *jobQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return item
}

// Package dispatch fans a distribution job out to its target channels
// concurrently and reduces the per-channel attempts into a single
// result. One slow or broken channel never sinks the rest of the job:
// every channel ends in exactly one of delivered, failed or skipped.
package dispatch

import (
	"context"
	"errors"
	"math/rand"
	"sort"
	"sync"
	"time"

	"signalcast/internal/adapter"
	"signalcast/internal/eventbus"
	"signalcast/internal/models"
	"signalcast/pkg/logx"
)

// ErrNoTargets is returned for a job with an empty target list.
var ErrNoTargets = errors.New("dispatch: job has no target channels")

// Config tunes the orchestrator. Zero values take the documented defaults.
type Config struct {
	// MaxParallel bounds concurrent channel sends per job. Default 8.
	MaxParallel int
	// ChannelTimeout bounds one send attempt. Default 5s.
	ChannelTimeout time.Duration
	// RetryMax is the number of retries after the first attempt, applied
	// to transient failures only. Default 2; negative disables retries.
	RetryMax int
	// RetryBase is the first backoff delay; it doubles per retry. Default 200ms.
	RetryBase time.Duration
	// RetryMaxDelay caps the backoff, hints included. Default 15s.
	RetryMaxDelay time.Duration
	// RetryJitter is the symmetric jitter fraction applied to every delay.
	// Default 0.2.
	RetryJitter float64
	// JobDeadline bounds the whole job. Default 30s.
	JobDeadline time.Duration
	// BreakerTripFailures opens a channel's circuit after this many
	// consecutive failed jobs. Default 5.
	BreakerTripFailures int
	// BreakerCooldown is how long an open circuit rejects sends. Default 30s.
	BreakerCooldown time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxParallel <= 0 {
		c.MaxParallel = 8
	}
	if c.ChannelTimeout <= 0 {
		c.ChannelTimeout = 5 * time.Second
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	} else if c.RetryMax == 0 {
		c.RetryMax = 2
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 200 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 15 * time.Second
	}
	if c.RetryJitter <= 0 {
		c.RetryJitter = 0.2
	}
	if c.JobDeadline <= 0 {
		c.JobDeadline = 30 * time.Second
	}
	if c.BreakerTripFailures <= 0 {
		c.BreakerTripFailures = 5
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = 30 * time.Second
	}
	return c
}

// Dispatcher owns each job from submission to its terminal state.
// Safe for concurrent use; breaker state is shared across jobs.
type Dispatcher struct {
	cfg      Config
	registry *adapter.Registry
	breakers *breakerStore
	bus      eventbus.Bus
	log      logx.Logger

	now func() time.Time
}

func New(cfg Config, registry *adapter.Registry, bus eventbus.Bus, log logx.Logger) *Dispatcher {
	cfg = cfg.withDefaults()
	return &Dispatcher{
		cfg:      cfg,
		registry: registry,
		breakers: newBreakerStore(cfg.BreakerTripFailures, cfg.BreakerCooldown),
		bus:      bus,
		log:      log,
		now:      time.Now,
	}
}

// BreakerStats reports tracked channels and currently open circuits.
func (d *Dispatcher) BreakerStats() (total, open int) {
	return d.breakers.snapshot(d.now())
}

// Dispatch runs the job to completion and returns its result. The job
// state machine is pending -> dispatching -> one of delivered,
// partially_delivered, failed. Cancelling ctx skips channels not yet
// attempted; channels mid-flight finish their current attempt's timeout.
func (d *Dispatcher) Dispatch(ctx context.Context, job models.DistributionJob) (models.DistributionResult, error) {
	if len(job.TargetChannels) == 0 {
		return models.DistributionResult{}, ErrNoTargets
	}

	// Duplicate targets collapse to one attempt each.
	targets := dedupe(job.TargetChannels)

	start := d.now()
	jobCtx, cancel := context.WithTimeout(ctx, d.cfg.JobDeadline)
	defer cancel()

	d.log.Info("job dispatching",
		logx.String("job_id", job.ID),
		logx.Int("channels", len(targets)))
	d.publish(eventbus.TypeJobDispatched, jobEvent{JobID: job.ID, Channels: targets})

	var (
		mu       sync.Mutex
		outcomes = make(map[string]models.ChannelOutcome, len(targets))
	)

	workers := d.cfg.MaxParallel
	if workers > len(targets) {
		workers = len(targets)
	}
	work := make(chan string)
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			rng := rand.New(rand.NewSource(time.Now().UnixNano()))
			for id := range work {
				out := d.sendChannel(jobCtx, job, id, rng)
				mu.Lock()
				outcomes[id] = out
				mu.Unlock()
			}
		}()
	}
	for _, id := range targets {
		work <- id
	}
	close(work)
	wg.Wait()

	res := models.DistributionResult{
		JobID:    job.ID,
		Outcomes: outcomes,
		Took:     d.now().Sub(start),
	}
	res.Finalize()

	d.log.Info("job finished",
		logx.String("job_id", job.ID),
		logx.String("state", string(res.State)),
		logx.Int("delivered", res.Summary.Delivered),
		logx.Int("failed", res.Summary.Failed),
		logx.Int("skipped", res.Summary.Skipped),
		logx.Duration("took", res.Took))
	d.publish(eventbus.TypeJobFinished, jobEvent{
		JobID: job.ID, State: string(res.State), Summary: &res.Summary, Took: res.Took,
	})
	return res, nil
}

// sendChannel runs one channel to its terminal outcome: breaker gate,
// then up to 1+RetryMax attempts with exponential backoff for transient
// failures. The final result, not individual attempts, feeds the breaker;
// sends cut short by the job deadline or a cancellation feed nothing, so
// only a completed send can reset or close a circuit.
func (d *Dispatcher) sendChannel(ctx context.Context, job models.DistributionJob, channelID string, rng *rand.Rand) models.ChannelOutcome {
	a, ok := d.registry.Get(channelID)
	if !ok {
		d.log.Warn("channel has no adapter", logx.String("job_id", job.ID), logx.String("channel", channelID))
		return d.skipped(job.ID, channelID, models.SkipNoAdapter)
	}

	if allowed, until := d.breakers.allow(channelID, d.now()); !allowed {
		d.log.Warn("circuit open, channel skipped",
			logx.String("job_id", job.ID),
			logx.String("channel", channelID),
			logx.Time("until", until))
		return d.skipped(job.ID, channelID, models.SkipCircuitOpen)
	}

	// Already past the job deadline or cancelled: don't start.
	if err := ctx.Err(); err != nil {
		return d.aborted(job, channelID, err, 0)
	}

	text := job.Content.Text
	if v, ok := job.OptimizedText[channelID]; ok {
		text = v
	}

	maxAttempts := 1 + d.cfg.RetryMax
	var (
		err     error
		receipt models.Receipt
		retries int
	)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		retries = attempt - 1
		sendCtx, cancel := context.WithTimeout(ctx, d.cfg.ChannelTimeout)
		receipt, err = a.Send(sendCtx, text)
		cancel()
		if err == nil {
			break
		}
		// The job deadline and caller cancellation are not channel
		// faults; they leave the breaker state untouched.
		if ctx.Err() != nil {
			return d.aborted(job, channelID, ctx.Err(), retries)
		}
		if !adapter.IsTransient(err) {
			break
		}
		if attempt >= maxAttempts {
			break
		}

		delay := d.backoff(attempt, err, rng)
		d.log.Debug("send retry scheduled",
			logx.String("job_id", job.ID),
			logx.String("channel", channelID),
			logx.Int("attempt", attempt+1),
			logx.Duration("delay", delay),
			logx.Err(err))
		if delay > 0 {
			tmr := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				if !tmr.Stop() {
					<-tmr.C
				}
				return d.aborted(job, channelID, ctx.Err(), retries)
			case <-tmr.C:
			}
		}
	}

	if err == nil {
		d.breakers.record(channelID, d.now(), false)
		d.publish(eventbus.TypeChannelDelivered, channelEvent{JobID: job.ID, ChannelID: channelID, Retries: retries})
		return models.ChannelOutcome{
			ChannelID: channelID,
			Status:    models.OutcomeDelivered,
			Receipt:   &receipt,
			Retries:   retries,
		}
	}

	if tripped := d.breakers.record(channelID, d.now(), true); tripped {
		d.log.Warn("circuit opened", logx.String("channel", channelID))
		d.publish(eventbus.TypeBreakerOpen, channelEvent{JobID: job.ID, ChannelID: channelID})
	}
	kind := failureKind(err)
	d.log.Warn("channel failed",
		logx.String("job_id", job.ID),
		logx.String("channel", channelID),
		logx.String("kind", kind),
		logx.Int("retries", retries),
		logx.Err(err))
	d.publish(eventbus.TypeChannelFailed, channelEvent{JobID: job.ID, ChannelID: channelID, Kind: kind, Retries: retries})
	return models.ChannelOutcome{
		ChannelID: channelID,
		Status:    models.OutcomeFailed,
		ErrorKind: kind,
		Error:     err.Error(),
		Retries:   retries,
	}
}

// aborted maps a dead job context onto the per-channel outcome: the
// deadline expiring is a timeout failure, an explicit cancel is a skip.
func (d *Dispatcher) aborted(job models.DistributionJob, channelID string, ctxErr error, retries int) models.ChannelOutcome {
	if errors.Is(ctxErr, context.DeadlineExceeded) {
		d.publish(eventbus.TypeChannelFailed, channelEvent{JobID: job.ID, ChannelID: channelID, Kind: models.FailTimeout, Retries: retries})
		return models.ChannelOutcome{
			ChannelID: channelID,
			Status:    models.OutcomeFailed,
			ErrorKind: models.FailTimeout,
			Error:     "job deadline exceeded",
			Retries:   retries,
		}
	}
	return d.skipped(job.ID, channelID, models.SkipCancelled)
}

func (d *Dispatcher) skipped(jobID, channelID, reason string) models.ChannelOutcome {
	d.publish(eventbus.TypeChannelSkipped, channelEvent{JobID: jobID, ChannelID: channelID, Reason: reason})
	return models.ChannelOutcome{
		ChannelID:  channelID,
		Status:     models.OutcomeSkipped,
		SkipReason: reason,
	}
}

// backoff computes the delay before the next attempt. An explicit
// retry-after hint wins over the exponential schedule; either way the
// delay is jittered and capped.
func (d *Dispatcher) backoff(retry int, err error, rng *rand.Rand) time.Duration {
	var delay time.Duration
	var ra adapter.RetryAfterError
	if errors.As(err, &ra) && ra.RetryAfter() > 0 {
		delay = ra.RetryAfter()
	} else {
		delay = d.cfg.RetryBase
		for i := 1; i < retry; i++ {
			delay *= 2
			if delay > d.cfg.RetryMaxDelay {
				break
			}
		}
	}
	if delay > d.cfg.RetryMaxDelay {
		delay = d.cfg.RetryMaxDelay
	}
	if d.cfg.RetryJitter > 0 && delay > 0 && rng != nil {
		r := (rng.Float64()*2 - 1) * d.cfg.RetryJitter
		delay = time.Duration(float64(delay) * (1 + r))
		if delay < 0 {
			delay = 0
		}
		if delay > d.cfg.RetryMaxDelay {
			delay = d.cfg.RetryMaxDelay
		}
	}
	return delay
}

func (d *Dispatcher) publish(typ string, data any) {
	if d.bus == nil {
		return
	}
	d.bus.Publish(eventbus.Event{Type: typ, Time: d.now(), Data: data})
}

func failureKind(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return models.FailTimeout
	case adapter.IsTransient(err):
		return models.FailTransient
	default:
		return models.FailPermanent
	}
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// jobEvent and channelEvent are the bus payloads for job lifecycle events.
type jobEvent struct {
	JobID    string                      `json:"job_id"`
	Channels []string                    `json:"channels,omitempty"`
	State    string                      `json:"state,omitempty"`
	Summary  *models.DistributionSummary `json:"summary,omitempty"`
	Took     time.Duration               `json:"took,omitempty"`
}

type channelEvent struct {
	JobID     string `json:"job_id"`
	ChannelID string `json:"channel_id"`
	Kind      string `json:"kind,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Retries   int    `json:"retries,omitempty"`
}

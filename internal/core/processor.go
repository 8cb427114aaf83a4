package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/orrn/kitchenprint/internal/config"
)

// JobStore is what the processor needs from persistence.
type JobStore interface {
	FetchDueJobs(ctx context.Context, q DueQuery) ([]*Job, error)
	UpdateStatus(ctx context.Context, job *Job) error
	// ReclaimStale fails jobs stuck in processing and returns them as stored afterwards.
	ReclaimStale(ctx context.Context, startedBefore time.Time, reason string) ([]*Job, error)
}

type PrinterResolver interface {
	GetPrinter(ctx context.Context, id string) (*Printer, error)
}

type EventSink interface {
	JobEvent(event JobEvent, job *Job)
}

type Metrics interface {
	CycleCompleted(d time.Duration, due int)
	JobSucceeded(t JobType, sendLatency time.Duration)
	JobFailed(kind ErrorKind)
	JobExhausted()
	JobsReclaimed(n int)
}

const abandonedReason = "abandoned: attempt did not finish"

// Processor records every delivery attempt. One goroutine runs poll cycles; jobs within a
// cycle are attempted one at a time in creation order.
type Processor struct {
	store    JobStore
	printers PrinterResolver
	sender   Sender
	signal   *Signal
	events   EventSink
	metrics  Metrics
	limiter  *rate.Limiter
	config   config.QueueConfig
	logger   *zap.SugaredLogger
	now      func() time.Time

	cycleMu sync.Mutex

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

type ProcessorOption func(*Processor)

func WithLogger(l *zap.SugaredLogger) ProcessorOption {
	return func(p *Processor) { p.logger = l }
}

func WithEvents(e EventSink) ProcessorOption {
	return func(p *Processor) { p.events = e }
}

func WithMetrics(m Metrics) ProcessorOption {
	return func(p *Processor) { p.metrics = m }
}

func WithClock(now func() time.Time) ProcessorOption {
	return func(p *Processor) { p.now = now }
}

// NewProcessor builds a processor. A nil cfg uses the built-in queue defaults. In a given cfg a
// zero MaxRetries disables retries and a zero RetryCooldown retries on the next cycle.
func NewProcessor(store JobStore, printers PrinterResolver, sender Sender, signal *Signal, cfg *config.QueueConfig, opts ...ProcessorOption) *Processor {
	if cfg == nil {
		cfg = &config.Default().Queue
	}
	c := *cfg
	if c.BatchSize < 1 {
		c.BatchSize = 10
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.PollFallback <= 0 {
		c.PollFallback = 3 * time.Second
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = 10 * time.Second
	}
	if signal == nil {
		signal = NewSignal()
	}

	p := &Processor{
		store:    store,
		printers: printers,
		sender:   sender,
		signal:   signal,
		events:   nopEvents{},
		metrics:  nopMetrics{},
		config:   c,
		logger:   zap.NewNop().Sugar(),
		now:      time.Now,
	}
	if c.MaxSendsPerSecond > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(c.MaxSendsPerSecond), 1)
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.Named("processor")
	return p
}

// Start runs the poll loop in its own goroutine until Stop or ctx cancellation.
func (p *Processor) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return errors.New("processor already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true

	go func(done chan struct{}) {
		defer close(done)
		p.Run(runCtx)
	}(p.done)

	return nil
}

// Stop cancels the loop and waits for it to exit.
func (p *Processor) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	cancel()
	<-done
}

// Run blocks until ctx is cancelled. Cycle failures never end it.
func (p *Processor) Run(ctx context.Context) {
	p.logger.Infow("Print processor started",
		"batch_size", p.config.BatchSize,
		"max_retries", p.config.MaxRetries,
		"retry_cooldown", p.config.RetryCooldown,
		"poll_fallback", p.config.PollFallback,
	)
	defer p.logger.Infow("Print processor stopped")

	for {
		if err := p.safeCycle(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Errorw("Poll cycle failed, backing off",
				"error", err,
				"backoff", p.config.ErrorBackoff,
			)
			if !sleep(ctx, p.config.ErrorBackoff) {
				return
			}
			continue
		}

		if !p.waitForWork(ctx) {
			return
		}
	}
}

func (p *Processor) waitForWork(ctx context.Context) bool {
	t := time.NewTimer(p.config.PollFallback)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-p.signal.C():
		return true
	case <-t.C:
		return true
	}
}

func (p *Processor) safeCycle(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("poll cycle panicked: %v", r)
		}
	}()
	return p.RunCycle(ctx)
}

// RunCycle performs one poll: reclaim stuck attempts, fetch due jobs, attempt each in order.
// Store failures abort the cycle and are returned.
func (p *Processor) RunCycle(ctx context.Context) error {
	p.cycleMu.Lock()
	defer p.cycleMu.Unlock()

	start := p.now()

	if p.config.StaleAfter > 0 {
		reclaimed, err := p.store.ReclaimStale(ctx, start.Add(-p.config.StaleAfter), abandonedReason)
		if err != nil {
			return errors.Wrap(err, "reclaim stale jobs")
		}
		if len(reclaimed) > 0 {
			p.logger.Warnw("Reclaimed jobs stuck in processing", "count", len(reclaimed))
			p.metrics.JobsReclaimed(len(reclaimed))
			for _, job := range reclaimed {
				p.notifyFailure(job)
			}
		}
	}

	jobs, err := p.store.FetchDueJobs(ctx, DueQuery{
		Limit:           p.config.BatchSize,
		MaxRetries:      p.config.MaxRetries,
		AttemptedBefore: start.Add(-p.config.RetryCooldown),
	})
	if err != nil {
		return errors.Wrap(err, "fetch due jobs")
	}
	if len(jobs) == 0 {
		return nil
	}

	p.logger.Debugw("Processing due jobs", "count", len(jobs))

	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.processJob(ctx, job); err != nil {
			return err
		}
	}

	p.metrics.CycleCompleted(time.Since(start), len(jobs))
	return nil
}

func (p *Processor) processJob(ctx context.Context, job *Job) error {
	// Store failures leave the job untouched and abort the cycle.
	printer, resolveErr := p.printers.GetPrinter(ctx, job.PrinterID)
	if resolveErr != nil && errors.Is(resolveErr, ErrPersistence) {
		return errors.Wrapf(resolveErr, "resolve printer for job %s", job.ID)
	}

	attemptAt := p.now()
	job.Status = JobStatusProcessing
	job.LastAttemptAt = &attemptAt
	if err := p.store.UpdateStatus(ctx, job); err != nil {
		return errors.Wrapf(err, "mark job %s processing", job.ID)
	}

	sendStart := time.Now()
	sendErr := resolveErr
	if sendErr == nil {
		sendErr = p.attempt(ctx, printer, job)
	}
	sendLatency := time.Since(sendStart)

	if sendErr == nil {
		done := p.now()
		job.Status = JobStatusSucceeded
		job.CompletedAt = &done
		job.ErrorMessage = ""
	} else {
		job.Status = JobStatusFailed
		job.RetryCount++
		job.ErrorMessage = JobErrorMessage(sendErr)
	}

	// The outcome is recorded even when shutdown cancelled the attempt.
	if err := p.store.UpdateStatus(context.WithoutCancel(ctx), job); err != nil {
		return errors.Wrapf(err, "record outcome of job %s", job.ID)
	}

	if sendErr == nil {
		p.logger.Infow("Print job delivered",
			"job_id", job.ID,
			"printer_id", job.PrinterID,
			"type", job.Type,
			"attempt", job.RetryCount+1,
			"latency", sendLatency,
		)
		p.metrics.JobSucceeded(job.Type, sendLatency)
		p.events.JobEvent(EventJobSucceeded, job)
		return nil
	}

	p.metrics.JobFailed(KindOf(sendErr))
	p.notifyFailure(job)
	return nil
}

// notifyFailure reports a job that has just been marked failed, exhausted or not.
func (p *Processor) notifyFailure(job *Job) {
	log := p.logger.With("job_id", job.ID, "printer_id", job.PrinterID, "type", job.Type)
	if job.Exhausted(p.config.MaxRetries) {
		log.Warnw("Print job failed permanently",
			"retry_count", job.RetryCount,
			"error", job.ErrorMessage,
		)
		p.metrics.JobExhausted()
		p.events.JobEvent(EventJobExhausted, job)
		return
	}

	log.Warnw("Print job failed, will retry",
		"retry_count", job.RetryCount,
		"max_retries", p.config.MaxRetries,
		"error", job.ErrorMessage,
	)
	p.events.JobEvent(EventJobFailed, job)
}

// attempt sends to a resolved printer. Any failure here, panics included, belongs to the job.
func (p *Processor) attempt(ctx context.Context, printer *Printer, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during send: %v", r)
		}
	}()

	if !printer.Enabled {
		return errors.Wrapf(ErrPrinterDisabled, "printer %s", printer.ID)
	}

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	return p.sender.Send(ctx, printer, job.Content)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

type nopEvents struct{}

func (nopEvents) JobEvent(JobEvent, *Job) {}

type nopMetrics struct{}

func (nopMetrics) CycleCompleted(time.Duration, int)  {}
func (nopMetrics) JobSucceeded(JobType, time.Duration) {}
func (nopMetrics) JobFailed(ErrorKind)                 {}
func (nopMetrics) JobExhausted()                       {}
func (nopMetrics) JobsReclaimed(int)                   {}

package mpc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/rs/zerolog"

	"github.com/aristath/shadowtrade/internal/events"
	"github.com/aristath/shadowtrade/internal/metrics"
	"github.com/aristath/shadowtrade/internal/modules/computation"
)

const (
	// DefaultQueueSize bounds jobs waiting for a worker.
	DefaultQueueSize = 256
	// MaxAttempts is how often a job is tried before it is given up.
	MaxAttempts = 3
	// recoverPageSize is how many undispatched requests are loaded at a time.
	recoverPageSize = 500
	// finishedCacheSize bounds the in-memory set of recently finished jobs.
	finishedCacheSize = 4096
)

var (
	// ErrStopped is returned when enqueueing on a stopped dispatcher.
	ErrStopped = errors.New("dispatcher stopped")
	// ErrQueueFull is returned by Enqueue when no slot is free. The request
	// is picked up again by the next recovery scan.
	ErrQueueFull = errors.New("mpc queue is full")
)

// Config holds the dispatcher collaborators.
type Config struct {
	Executor   Executor
	Inputs     InputSource
	Settler    Settler
	Jobs       JobRecorder // optional; without it finished jobs rerun after a restart
	Keyring    Keyring     // optional; without it nothing is settled automatically
	Metrics    *metrics.Metrics
	Workers    int
	Timeout    time.Duration
	QueueSize  int
	RetryDelay time.Duration
}

// Stats is a point-in-time view of the dispatcher.
type Stats struct {
	Queued    int   `json:"queued"`
	InFlight  int   `json:"in_flight"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Settled   int64 `json:"settled"`
	Recovered int64 `json:"recovered"`
}

// Dispatcher feeds request events to a pool of workers.
type Dispatcher struct {
	cfg Config
	log zerolog.Logger

	queue    chan *computation.Receipt
	stopChan chan struct{}
	rescan   chan struct{}
	// closed after the first recovery scan has queued everything it found
	recovered chan struct{}
	finished  *lru.Cache
	wg        sync.WaitGroup
	once      sync.Once

	mu             sync.Mutex
	inFlight       map[string]bool
	unsub          []func()
	started        bool
	completed      int64
	failed         int64
	settled        int64
	recoveredCount int64
}

// NewDispatcher creates a dispatcher. Call Start to begin processing.
func NewDispatcher(cfg Config, log zerolog.Logger) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	// Only fails for a non-positive size.
	finished, _ := lru.New(finishedCacheSize)
	return &Dispatcher{
		cfg:       cfg,
		log:       log.With().Str("component", "mpc-dispatcher").Logger(),
		queue:     make(chan *computation.Receipt, cfg.QueueSize),
		stopChan:  make(chan struct{}),
		rescan:    make(chan struct{}, 1),
		recovered: make(chan struct{}),
		finished:  finished,
		inFlight:  make(map[string]bool),
	}
}

// Start subscribes to request events on bus, starts the workers and queues
// every request that has no recorded outcome yet. Recovery runs in the
// background and blocks on a full queue instead of dropping requests.
func (d *Dispatcher) Start(ctx context.Context, bus *events.Bus) error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return fmt.Errorf("dispatcher already started")
	}
	d.started = true
	for _, t := range events.AllTypes {
		if t.IsRequest() {
			d.unsub = append(d.unsub, bus.Subscribe(t, d.onEvent))
		}
	}
	d.mu.Unlock()

	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}

	d.wg.Add(1)
	go d.recoverLoop(ctx)

	d.log.Info().
		Int("workers", d.cfg.Workers).
		Int("queue_size", d.cfg.QueueSize).
		Msg("MPC dispatcher started")
	return nil
}

// Stop unsubscribes from the bus and waits for running jobs to finish.
func (d *Dispatcher) Stop() {
	d.once.Do(func() {
		d.mu.Lock()
		for _, u := range d.unsub {
			u()
		}
		d.unsub = nil
		d.mu.Unlock()

		close(d.stopChan)
		d.wg.Wait()
		d.log.Info().Msg("MPC dispatcher stopped")
	})
}

// Stats returns the current counters.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{
		Queued:    len(d.queue),
		InFlight:  len(d.inFlight),
		Completed: d.completed,
		Failed:    d.failed,
		Settled:   d.settled,
		Recovered: d.recoveredCount,
	}
}

// onEvent runs on the publishing goroutine and must not block.
func (d *Dispatcher) onEvent(e *events.Event) {
	if r := computation.ReceiptFromEvent(e); r != nil {
		if errors.Is(d.Enqueue(r), ErrQueueFull) {
			d.requestRescan()
		}
	}
}

// Enqueue schedules r unless it is already queued, running or finished. It
// never blocks; on a full queue it returns ErrQueueFull.
func (d *Dispatcher) Enqueue(r *computation.Receipt) error {
	if !d.claim(r) {
		return d.stoppedErr()
	}
	select {
	case d.queue <- r:
		return nil
	default:
		d.release(r.RequestID)
		d.log.Warn().Str("request_id", r.RequestID).Msg("MPC queue full, deferring job to recovery")
		return ErrQueueFull
	}
}

// enqueueWait is Enqueue that waits for a free slot. It reports whether r
// was queued.
func (d *Dispatcher) enqueueWait(ctx context.Context, r *computation.Receipt) (bool, error) {
	if !d.claim(r) {
		return false, d.stoppedErr()
	}
	select {
	case d.queue <- r:
		return true, nil
	case <-d.stopChan:
		d.release(r.RequestID)
		return false, ErrStopped
	case <-ctx.Done():
		d.release(r.RequestID)
		return false, ctx.Err()
	}
}

// claim marks r in flight. It reports false when r needs no scheduling or
// the dispatcher is stopped.
func (d *Dispatcher) claim(r *computation.Receipt) bool {
	if d.stopped() || d.finished.Contains(r.RequestID) {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.inFlight[r.RequestID] {
		return false
	}
	d.inFlight[r.RequestID] = true
	return true
}

func (d *Dispatcher) stopped() bool {
	select {
	case <-d.stopChan:
		return true
	default:
		return false
	}
}

func (d *Dispatcher) stoppedErr() error {
	if d.stopped() {
		return ErrStopped
	}
	return nil
}

func (d *Dispatcher) requestRescan() {
	select {
	case d.rescan <- struct{}{}:
	default:
	}
}

// recoverLoop queues undispatched requests on start and again whenever a
// live event was deferred because the queue was full.
func (d *Dispatcher) recoverLoop(ctx context.Context) {
	defer d.wg.Done()

	first := true
	for {
		n, err := d.recoverPending(ctx)
		switch {
		case errors.Is(err, ErrStopped), errors.Is(err, context.Canceled):
		case err != nil:
			d.log.Error().Err(err).Msg("Failed to recover undispatched requests")
		case n > 0:
			d.log.Info().Int("recovered", n).Msg("Queued undispatched requests")
		}
		if first {
			close(d.recovered)
			first = false
		}

		select {
		case <-d.stopChan:
			return
		case <-ctx.Done():
			return
		case <-d.rescan:
		}
	}
}

// recoverPending pages through undispatched requests oldest first.
func (d *Dispatcher) recoverPending(ctx context.Context) (int, error) {
	var after int64
	total := 0
	for {
		page, err := d.cfg.Inputs.Undispatched(ctx, after, recoverPageSize)
		if err != nil {
			return total, fmt.Errorf("failed to load undispatched requests: %w", err)
		}
		for _, r := range page {
			after = r.Sequence
			queued, err := d.enqueueWait(ctx, r)
			if err != nil {
				return total, err
			}
			if !queued {
				continue
			}
			total++
			d.mu.Lock()
			d.recoveredCount++
			d.mu.Unlock()
		}
		if len(page) < recoverPageSize {
			return total, nil
		}
	}
}

func (d *Dispatcher) release(requestID string) {
	d.mu.Lock()
	delete(d.inFlight, requestID)
	d.mu.Unlock()
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()
	log := d.log.With().Int("worker", id).Logger()

	for {
		select {
		case <-d.stopChan:
			return
		case r := <-d.queue:
			attempts, err := d.process(r)
			// A job cut short by shutdown runs again on the next start.
			if err == nil || !d.stopped() {
				d.finish(r, attempts, err)
			}
			d.release(r.RequestID)
			d.cfg.Metrics.MPCJob(string(r.Kind), err)

			d.mu.Lock()
			if err != nil {
				d.failed++
			} else {
				d.completed++
			}
			d.mu.Unlock()

			if err != nil {
				log.Error().Err(err).Str("request_id", r.RequestID).Str("kind", string(r.Kind)).Msg("MPC job failed")
			}
		}
	}
}

// finish records the outcome of r so it is not dispatched again.
func (d *Dispatcher) finish(r *computation.Receipt, attempts int, jobErr error) {
	d.finished.Add(r.RequestID, struct{}{})
	if d.cfg.Jobs == nil {
		return
	}

	rec := &JobRecord{
		RequestID: r.RequestID,
		Kind:      r.Kind,
		Status:    JobCompleted,
		Attempts:  attempts,
	}
	if jobErr != nil {
		rec.Status = JobFailed
		rec.LastError = jobErr.Error()
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.Timeout)
	defer cancel()
	if err := d.cfg.Jobs.Record(ctx, rec); err != nil {
		d.log.Error().Err(err).Str("request_id", r.RequestID).Msg("Failed to record job outcome")
	}
}

// process runs one job with retries and settles its summary when possible.
// It returns the number of executions attempted.
func (d *Dispatcher) process(r *computation.Receipt) (int, error) {
	job, err := d.buildJob(r)
	if err != nil {
		return 0, err
	}

	var (
		result  *Result
		attempt int
	)
	for attempt = 1; ; attempt++ {
		result, err = d.execute(job)
		if err == nil {
			break
		}
		if attempt >= MaxAttempts {
			return attempt, fmt.Errorf("giving up after %d attempts: %w", attempt, err)
		}
		d.log.Warn().Err(err).Str("request_id", r.RequestID).Int("attempt", attempt).Msg("MPC job failed, retrying")
		select {
		case <-d.stopChan:
			return attempt, ErrStopped
		case <-time.After(d.cfg.RetryDelay):
		}
	}

	d.log.Info().
		Str("request_id", r.RequestID).
		Str("kind", string(r.Kind)).
		Int("output_size", len(result.Output)).
		Msg("MPC job completed")

	if r.Kind == computation.KindPerformance && result.Summary != nil {
		return attempt, d.settle(r, result)
	}
	return attempt, nil
}

func (d *Dispatcher) buildJob(r *computation.Receipt) (*Job, error) {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.Timeout)
	defer cancel()

	job := &Job{
		RequestID: r.RequestID,
		Kind:      r.Kind,
		Sequence:  r.Sequence,
		Requester: r.Requester,
		Params:    r.Params,
	}
	for _, ref := range r.Inputs {
		data, stored, err := d.cfg.Inputs.Input(ctx, r.RequestID, ref.Slot)
		if err != nil {
			return nil, fmt.Errorf("failed to load input %s: %w", ref.Slot, err)
		}
		if stored.Digest != ref.Digest {
			return nil, fmt.Errorf("input %s digest mismatch", ref.Slot)
		}
		job.Inputs = append(job.Inputs, Input{Slot: ref.Slot, Digest: ref.Digest, Data: data})
	}
	return job, nil
}

func (d *Dispatcher) execute(job *Job) (*Result, error) {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.Timeout)
	defer cancel()
	go func() {
		select {
		case <-d.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()
	return d.cfg.Executor.Execute(ctx, job)
}

func (d *Dispatcher) settle(r *computation.Receipt, result *Result) error {
	if d.cfg.Keyring == nil || d.cfg.Settler == nil {
		return nil
	}
	signer, ok := d.cfg.Keyring.SignerFor(r.Requester)
	if !ok {
		d.log.Debug().Str("request_id", r.RequestID).Str("owner", r.Requester.String()).Msg("No local key for owner, leaving result unsettled")
		return nil
	}

	summary := *result.Summary
	summary.RequestID = r.RequestID

	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.Timeout)
	defer cancel()
	if _, err := d.cfg.Settler.Settle(ctx, signer.Caller(), r.Requester, summary); err != nil {
		return fmt.Errorf("failed to settle result: %w", err)
	}

	d.mu.Lock()
	d.settled++
	d.mu.Unlock()
	d.log.Info().Str("request_id", r.RequestID).Str("owner", r.Requester.String()).Msg("Settled performance result")
	return nil
}

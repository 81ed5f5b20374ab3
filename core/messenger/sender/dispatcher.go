// Package sender runs outbound Send API calls on a bounded worker pool so
// webhook turns and broadcast fan-outs never block on platform latency.
package sender

import (
	"context"
	"errors"
	"net"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/locano/channelbot/core/logger"
	"github.com/locano/channelbot/core/messenger/sendapi"
	"github.com/locano/channelbot/core/netutil"
	"log/slog"
)

var (
	// ErrQueueClosed is returned when enqueue is attempted after Close.
	ErrQueueClosed = errors.New("sender: queue closed")
	// ErrQueueFull indicates the queue is saturated and the job was not
	// accepted.
	ErrQueueFull = errors.New("sender: queue full")
)

// Options controls the behaviour of the outbound dispatcher.
type Options struct {
	QueueSize    int
	Workers      int
	MaxRetries   int
	RetryBackoff time.Duration
	// MaxDuration bounds the time spent retrying a single job.
	MaxDuration time.Duration
}

type job struct {
	ctx    context.Context
	action string
	fbid   string
	run    func() error
}

// Dispatcher executes outbound platform calls asynchronously with retries.
type Dispatcher struct {
	opts Options
	jobs chan job
	stop chan struct{}
	once sync.Once
	wg   sync.WaitGroup
	errs atomic.Uint64
}

// NewDispatcher starts a dispatcher with sane defaults if options are
// zeroed.
func NewDispatcher(opts Options) *Dispatcher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 2 * time.Second
	}
	if opts.MaxDuration <= 0 {
		opts.MaxDuration = 12 * time.Second
	}

	d := &Dispatcher{
		opts: opts,
		jobs: make(chan job, opts.QueueSize),
		stop: make(chan struct{}),
	}

	d.wg.Add(opts.Workers)
	for i := 0; i < opts.Workers; i++ {
		go d.worker()
	}

	return d
}

// Enqueue schedules the provided function for asynchronous execution. The
// run closure must be idempotent if retries are desired.
func (d *Dispatcher) Enqueue(ctx context.Context, action, fbid string, run func() error) error {
	if run == nil {
		return errors.New("sender: nil run function")
	}
	select {
	case <-d.stop:
		return ErrQueueClosed
	default:
	}

	j := job{ctx: ctx, action: action, fbid: fbid, run: run}

	select {
	case d.jobs <- j:
		return nil
	default:
		return ErrQueueFull
	}
}

// ErrorCount returns the number of failed jobs.
func (d *Dispatcher) ErrorCount() uint64 {
	return d.errs.Load()
}

// Close stops workers and waits for them to finish processing queued jobs.
func (d *Dispatcher) Close() {
	d.once.Do(func() {
		close(d.stop)
		close(d.jobs)
		d.wg.Wait()
	})
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for j := range d.jobs {
		d.handleJob(j)
	}
}

func (d *Dispatcher) handleJob(j job) {
	ctx := j.ctx
	if ctx == nil {
		ctx = context.Background()
	}

	deadlineCtx, cancel := context.WithTimeout(ctx, d.opts.MaxDuration)
	defer cancel()

	start := time.Now()

	var lastErr error
	attempts := d.opts.MaxRetries + 1

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := deadlineCtx.Err(); err != nil {
			lastErr = err
			break
		}

		err := j.run()
		if err == nil {
			if attempt > 1 {
				logger.LogEvent(ctx, logger.SEND, slog.LevelInfo, j.action,
					slog.String("status", "ok"),
					slog.String("fbid", j.fbid),
					slog.Int("attempts", attempt),
					slog.Duration("duration", logger.RoundMS(time.Since(start))),
				)
			}
			return
		}
		lastErr = err
		if !retryable(err) || attempt == attempts {
			break
		}

		delay := d.opts.RetryBackoff * time.Duration(attempt)
		timer := time.NewTimer(delay)
		select {
		case <-deadlineCtx.Done():
			timer.Stop()
			lastErr = deadlineCtx.Err()
		case <-timer.C:
			logger.LogEvent(ctx, logger.SEND, slog.LevelDebug, j.action,
				slog.String("status", "retry"),
				slog.String("fbid", j.fbid),
				slog.Int("attempts", attempt),
				slog.Int64("backoff_ms", delay.Milliseconds()),
			)
			continue
		}
		break
	}

	d.errs.Add(1)
	logger.LogEvent(ctx, logger.SEND, slog.LevelError, j.action,
		slog.String("status", "fail"),
		slog.String("fbid", j.fbid),
		slog.Int("attempts", attempts),
		slog.String("cause", classifyError(lastErr)),
		slog.Duration("duration", logger.RoundMS(time.Since(start))),
		slog.String("err", sendapi.Redact(lastErr.Error())),
	)
}

// retryable extends the transport-level check with Send API rate limiting
// and server-side failures.
func retryable(err error) bool {
	if netutil.ShouldRetry(err) {
		return true
	}
	var apiErr *sendapi.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatus == 429 || apiErr.HTTPStatus >= 500
	}
	return false
}

func classifyError(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return "timeout"
		}
		return "dns"
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if opErr.Timeout() {
			return "timeout"
		}
		if opErr.Op == "dial" {
			return "dial"
		}
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return "timeout"
		}
		if urlErr.Err != nil && !errors.Is(urlErr.Err, err) {
			if kind := classifyError(urlErr.Err); kind != "unknown" {
				return kind
			}
		}
	}

	var apiErr *sendapi.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatus == 429:
			return "rate_limited"
		case apiErr.HTTPStatus >= 500:
			return "http_5xx"
		case apiErr.HTTPStatus >= 400:
			return "http_4xx"
		}
	}

	return "unknown"
}

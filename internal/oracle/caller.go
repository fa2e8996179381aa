package oracle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/charmbracelet/log"

	"rolecraft/internal/metrics"
)

const (
	DefaultTimeout         = 30 * time.Second
	DefaultInitialInterval = 500 * time.Millisecond
	DefaultMaxInterval     = 4 * time.Second
)

const strictSuffix = "\n\nYour previous answer could not be parsed. Respond with a single JSON object that matches the requested fields exactly. Do not add prose, markdown or code fences."

type CallerConfig struct {
	// Timeout bounds each attempt; zero disables the per-call deadline.
	Timeout time.Duration
	// MaxRetries is the number of attempts after the first.
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Logger          *log.Logger
}

// Caller wraps an Oracle with per-call timeouts, exponential backoff and
// response decoding. A malformed response is retried with a stricter prompt.
type Caller struct {
	oracle Oracle
	cfg    CallerConfig
	logger *log.Logger
}

func NewCaller(o Oracle, cfg CallerConfig) *Caller {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = DefaultInitialInterval
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = DefaultMaxInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Caller{oracle: o, cfg: cfg, logger: logger}
}

func (c *Caller) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.InitialInterval
	b.MaxInterval = c.cfg.MaxInterval
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.cfg.MaxRetries)), ctx)
}

// Decide asks the oracle for task and decodes the answer into out, which
// must be a pointer. Failures are returned as *Error wrapping ErrTimeout,
// ErrMalformedResponse, the provider error or the context error.
func (c *Caller) Decide(ctx context.Context, task Task, prompt string, out any) error {
	if c == nil || c.oracle == nil {
		return &Error{Task: task, Err: ErrUnavailable}
	}

	schema := SchemaFor(out)
	attempts := 0
	strict := false

	op := func() error {
		attempts++
		p := prompt
		if strict {
			p += strictSuffix
		}

		var callCtx context.Context
		var cancel context.CancelFunc
		if c.cfg.Timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		} else {
			callCtx, cancel = context.WithCancel(ctx)
		}
		raw, err := c.oracle.Decide(callCtx, Request{Task: task, Name: string(task), Prompt: p, Schema: schema})
		deadlineHit := errors.Is(callCtx.Err(), context.DeadlineExceeded)
		cancel()

		if ctxErr := ctx.Err(); ctxErr != nil {
			metrics.OracleCalls.WithLabelValues(string(task), "cancelled").Inc()
			return backoff.Permanent(ctxErr)
		}
		if err != nil {
			if deadlineHit || errors.Is(err, context.DeadlineExceeded) {
				metrics.OracleCalls.WithLabelValues(string(task), "timeout").Inc()
				return fmt.Errorf("%w after %s", ErrTimeout, c.cfg.Timeout)
			}
			metrics.OracleCalls.WithLabelValues(string(task), "error").Inc()
			return err
		}
		if err := Decode(raw, out); err != nil {
			metrics.OracleCalls.WithLabelValues(string(task), "malformed").Inc()
			strict = true
			return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		metrics.OracleCalls.WithLabelValues(string(task), "ok").Inc()
		return nil
	}

	notify := func(err error, wait time.Duration) {
		c.logger.Warn("oracle attempt failed", "task", task, "attempt", attempts, "retry_in", wait, "err", err)
	}

	if err := backoff.RetryNotify(op, c.newBackOff(ctx), notify); err != nil {
		return &Error{Task: task, Attempts: attempts, Err: err}
	}
	return nil
}

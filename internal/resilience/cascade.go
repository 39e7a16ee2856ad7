package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrAllFailed is returned when every stage of a [Cascade] failed or was
// skipped by its circuit breaker.
var ErrAllFailed = errors.New("all strategies failed")

// ErrStagePanicked wraps a panic raised by a stage. The cascade treats it
// like any other stage failure.
var ErrStagePanicked = errors.New("stage panicked")

// CascadeConfig configures a [Cascade].
type CascadeConfig struct {
	// CircuitBreaker is the template for the per-stage breakers. Name is
	// overwritten with the stage name.
	CircuitBreaker CircuitBreakerConfig

	// AttemptTimeout bounds each stage. Zero means no per-stage bound beyond
	// the caller's context.
	AttemptTimeout time.Duration

	// OnAttempt, when set, observes every stage outcome. err is nil on
	// success and [ErrCircuitOpen] for skipped stages.
	OnAttempt func(stage string, err error, elapsed time.Duration)
}

type stage[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// Cascade is an ordered list of named strategies of the same type. [Run]
// tries them in registration order until one succeeds.
//
// Stages must be registered before the first Run.
type Cascade[T any] struct {
	stages []stage[T]
	cfg    CascadeConfig
}

// NewCascade returns an empty cascade.
func NewCascade[T any](cfg CascadeConfig) *Cascade[T] {
	return &Cascade[T]{cfg: cfg}
}

// Add appends a stage. Names should be unique; they identify the winner.
func (c *Cascade[T]) Add(name string, value T) *Cascade[T] {
	cbCfg := c.cfg.CircuitBreaker
	cbCfg.Name = name
	c.stages = append(c.stages, stage[T]{name: name, value: value, breaker: NewCircuitBreaker(cbCfg)})
	return c
}

// Names returns stage names in order.
func (c *Cascade[T]) Names() []string {
	out := make([]string, len(c.stages))
	for i, s := range c.stages {
		out[i] = s.name
	}
	return out
}

// Breaker returns the breaker guarding stage name, or nil.
func (c *Cascade[T]) Breaker(name string) *CircuitBreaker {
	for i := range c.stages {
		if c.stages[i].name == name {
			return c.stages[i].breaker
		}
	}
	return nil
}

// Run calls fn with each stage in order and returns the first successful
// result together with the name of the stage that produced it. If every
// stage fails, the returned error wraps [ErrAllFailed] and each stage error.
// A cancelled ctx stops the cascade immediately. A stage that panics fails
// with [ErrStagePanicked] and the next stage is tried.
//
// Run is a package-level function because Go methods cannot declare type
// parameters.
func Run[T, R any](ctx context.Context, c *Cascade[T], fn func(context.Context, T) (R, error)) (R, string, error) {
	var (
		zero R
		errs []error
	)
	for i := range c.stages {
		st := &c.stages[i]
		if err := ctx.Err(); err != nil {
			return zero, "", err
		}

		var result R
		start := time.Now()
		err := st.breaker.Execute(func() (stageErr error) {
			defer func() {
				if p := recover(); p != nil {
					stageErr = fmt.Errorf("%w: %v", ErrStagePanicked, p)
				}
			}()
			attemptCtx := ctx
			if c.cfg.AttemptTimeout > 0 {
				var cancel context.CancelFunc
				attemptCtx, cancel = context.WithTimeout(ctx, c.cfg.AttemptTimeout)
				defer cancel()
			}
			var innerErr error
			result, innerErr = fn(attemptCtx, st.value)
			return innerErr
		})
		elapsed := time.Since(start)
		if c.cfg.OnAttempt != nil {
			c.cfg.OnAttempt(st.name, err, elapsed)
		}
		if err == nil {
			return result, st.name, nil
		}

		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("cascade: skipping stage (circuit open)", "stage", st.name)
		} else {
			slog.Debug("cascade: stage failed, trying next", "stage", st.name, "elapsed", elapsed, "err", err)
		}
		errs = append(errs, fmt.Errorf("%s: %w", st.name, err))
	}
	return zero, "", fmt.Errorf("%w: %w", ErrAllFailed, errors.Join(errs...))
}

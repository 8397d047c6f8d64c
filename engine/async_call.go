package engine

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/xerrors"
)

// DefaultCallTimeout bounds how long a caller waits for one remote call.
const DefaultCallTimeout = 30 * time.Second

const tracerName = "github.com/VanDung-dev/stellar-gateway/engine"

// Call describes one remote operation against capability C.
type Call[C, T any] func(ctx context.Context, capability C) (T, error)

// CallObserver is notified once per call with its terminal state.
type CallObserver interface {
	ObserveCall(name string, state State, elapsed time.Duration)
}

// CallerConfig configures a Caller.
type CallerConfig struct {
	Timeout  time.Duration
	Logger   *zap.Logger
	Tracer   trace.Tracer
	Observer CallObserver
}

// Caller executes calls against a shared capability on a Pool.
type Caller[C any] struct {
	pool       *Pool
	capability func() C
	timeout    time.Duration
	log        *zap.Logger
	tracer     trace.Tracer
	observer   CallObserver
}

// NewCaller binds a pool to the supplier of the remote capability.
func NewCaller[C any](pool *Pool, capability func() C, cfg CallerConfig) *Caller[C] {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultCallTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer(tracerName)
	}

	return &Caller[C]{
		pool:       pool,
		capability: capability,
		timeout:    cfg.Timeout,
		log:        cfg.Logger,
		tracer:     cfg.Tracer,
		observer:   cfg.Observer,
	}
}

// Timeout returns the default deadline applied by AsyncCall.
func (c *Caller[C]) Timeout() time.Duration { return c.timeout }

// Pool returns the pool the caller dispatches on.
func (c *Caller[C]) Pool() *Pool { return c.pool }

// AsyncCall runs call on the pool with the caller's default timeout.
func AsyncCall[C, T any](ctx context.Context, c *Caller[C], name string, call Call[C, T]) *Future[T] {
	return AsyncCallWithTimeout(ctx, c, name, c.timeout, call)
}

// AsyncCallWithTimeout runs call on the pool and returns a future that resolves
// exactly once: to the value, to a *TimeoutError when timeout elapses first, to
// a *RemoteCallError when call fails, or to a wrapped ErrPoolCapacityExceeded
// when the pool rejects it.
//
// A nil pointer, map or interface returned without an error resolves to a
// *RemoteCallError wrapping ErrEmptyResponse. A timeout <= 0 uses the
// caller's default.
//
// A timed out call is not interrupted. It keeps running with a context that
// ignores the caller's cancellation and its late result is discarded.
func AsyncCallWithTimeout[C, T any](ctx context.Context, c *Caller[C], name string, timeout time.Duration, call Call[C, T]) *Future[T] {
	if timeout <= 0 {
		timeout = c.timeout
	}
	f := newFuture[T]()
	log := c.log.With(zap.String("call", name), zap.String("op_id", f.ID()))

	callCtx, span := c.tracer.Start(context.WithoutCancel(ctx), "rpc."+name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("rpc.op_id", f.ID())),
	)
	start := time.Now()

	finish := func(state State, value T, err error) {
		if !f.resolve(state, value, err) {
			if err != nil {
				log.Debug("late rpc failure discarded", zap.Error(err))
			} else {
				log.Debug("late rpc result discarded", zap.Duration("elapsed", time.Since(start)))
			}
			return
		}

		elapsed := time.Since(start)
		span.SetAttributes(attribute.String("rpc.outcome", state.String()))
		if err != nil {
			log.Error("rpc call failed", zap.Stringer("outcome", state), zap.Duration("elapsed", elapsed), zap.Error(err))
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()

		if c.observer != nil {
			c.observer.ObserveCall(name, state, elapsed)
		}
	}

	var zero T
	timer := time.AfterFunc(timeout, func() {
		finish(StateTimedOut, zero, &TimeoutError{Call: name, After: timeout})
	})

	task := NewTask(name, func() (err error) {
		var value T
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %s", panicToString(r))
			}
			timer.Stop()
			if err != nil {
				finish(StateFailed, zero, &RemoteCallError{Call: name, Err: err})
				return
			}
			finish(StateSucceeded, value, nil)
		}()

		value, err = call(callCtx, c.capability())
		if err == nil && isNil(value) {
			err = ErrEmptyResponse
		}
		return err
	})
	task.ID = f.ID()

	if err := c.pool.Submit(task); err != nil {
		timer.Stop()
		finish(StateFailed, zero, xerrors.Errorf("%s: %w", name, err))
	}
	return f
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

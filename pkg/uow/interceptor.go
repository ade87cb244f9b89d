package uow

import (
	"context"
	"errors"
	"reflect"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/nimburion/unitofwork/pkg/async"
	"github.com/nimburion/unitofwork/pkg/observability/logger"
	"github.com/nimburion/unitofwork/pkg/observability/tracing"
)

// Method describes an intercepted business method. Decorators build one per
// method when they are constructed.
type Method struct {
	Name          string
	Transactional bool
}

// Transactional describes a method that must run inside a transaction.
func Transactional(name string) Method {
	return Method{Name: name, Transactional: true}
}

// Plain describes a method that runs outside the interceptor's transaction handling.
func Plain(name string) Method {
	return Method{Name: name}
}

// Interceptor drives the transaction boundaries of the methods of one session.
type Interceptor struct {
	session *Session
	log     logger.Logger
}

// InterceptorOption configures an Interceptor.
type InterceptorOption func(*Interceptor)

// WithInterceptorLogger overrides the session logger for interception events.
func WithInterceptorLogger(l logger.Logger) InterceptorOption {
	return func(ic *Interceptor) {
		if l != nil {
			ic.log = l
		}
	}
}

// NewInterceptor creates an interceptor bound to s.
func NewInterceptor(s *Session, opts ...InterceptorOption) *Interceptor {
	ic := &Interceptor{session: s, log: s.Logger()}
	for _, opt := range opts {
		opt(ic)
	}
	return ic
}

// Session returns the session the interceptor drives.
func (ic *Interceptor) Session() *Session { return ic.session }

// Invoke calls fn as method m.
//
// A plain method is called as is; its failure is wrapped in a
// *TargetInvocationError and a pending result is returned untouched.
//
// A transactional method begins a transaction when none is active and the
// call that began it owns it. A blocking owner commits on success and rolls
// back on failure. When R is a pending result (see async.Classify) the commit
// or rollback runs as a settle hook, so it has finished before the result
// reports settlement; if the result had already settled, the hook runs before
// Invoke returns and its failure is returned as the error. Calls made while
// another call owns the transaction never close it; a failing one marks the
// session rollback-only.
func Invoke[R any](ctx context.Context, ic *Interceptor, m Method, fn func(ctx context.Context) (R, error)) (R, error) {
	var zero R
	kind := async.Classify[R]()

	if !m.Transactional {
		result, err := call(ContextWithSession(ctx, ic.session), fn)
		if err != nil {
			return zero, &TargetInvocationError{Method: m.Name, Err: err}
		}
		return result, nil
	}

	scope, err := ic.enter(ctx, m)
	if err != nil {
		return zero, err
	}

	result, err := call(scope.ctx, fn)
	if err != nil {
		return zero, scope.fail(err)
	}

	if kind == async.PendingResult {
		pending, ok := awaitable(result)
		if !ok {
			return zero, scope.fail(ErrNilFuture)
		}
		if err := scope.attach(pending); err != nil {
			return zero, err
		}
		return result, nil
	}

	if err := scope.complete(); err != nil {
		return zero, err
	}
	return result, nil
}

// InvokeAsync is Invoke for methods returning a future. Failures that happen
// before a future exists are reported through an already failed future.
func InvokeAsync[T any](ctx context.Context, ic *Interceptor, m Method, fn func(ctx context.Context) *async.Future[T]) *async.Future[T] {
	f, err := Invoke(ctx, ic, m, func(ctx context.Context) (*async.Future[T], error) {
		f := fn(ctx)
		if f == nil {
			return nil, ErrNilFuture
		}
		return f, nil
	})
	if err != nil {
		return async.Failed[T](err)
	}
	return f
}

func call[R any](ctx context.Context, fn func(ctx context.Context) (R, error)) (result R, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &async.PanicError{Value: p, Stack: debug.Stack()}
		}
	}()
	return fn(ctx)
}

func awaitable(v any) (async.Awaitable, bool) {
	a, ok := v.(async.Awaitable)
	if !ok {
		return nil, false
	}
	rv := reflect.ValueOf(a)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		if rv.IsNil() {
			return nil, false
		}
	}
	return a, true
}

// txScope is the state of one transactional interception.
type txScope struct {
	ic      *Interceptor
	method  Method
	owner   bool
	tx      *Transaction
	ctx     context.Context
	span    trace.Span
	started time.Time
}

func (ic *Interceptor) enter(ctx context.Context, m Method) (*txScope, error) {
	tx, owner, err := ic.session.begin(ctx)
	if err != nil {
		return nil, err
	}

	spanCtx, span := tracing.StartDatabaseSpan(ctx, tracing.SpanOperationDBTx,
		tracing.WithDBSystem(ic.session.opts.dialect.System()),
		tracing.WithTransaction(m.Name, tx.ID(), owner),
	)

	callCtx := logger.ContextWithFields(ContextWithSession(spanCtx, ic.session), "tx_id", tx.ID())
	if owner {
		ic.log.WithContext(callCtx).Debug("transactional call opened transaction", "method", m.Name)
	}

	return &txScope{
		ic:      ic,
		method:  m,
		owner:   owner,
		tx:      tx,
		ctx:     callCtx,
		span:    span,
		started: time.Now(),
	}, nil
}

// complete ends a successful call. Only the owner commits.
func (sc *txScope) complete() error {
	defer sc.span.End()
	if !sc.owner {
		tracing.RecordSuccess(sc.span)
		return nil
	}

	err := sc.tx.Commit()
	if errors.Is(err, ErrTransactionClosed) && sc.ic.session.HasCommitted() {
		// the method committed on its own
		err = nil
	}
	if err != nil {
		tracing.RecordError(sc.span, err)
		sc.ic.log.WithContext(sc.ctx).Warn("transactional call could not commit", "method", sc.method.Name, "error", err)
		return err
	}
	tracing.RecordSuccess(sc.span)
	return nil
}

// fail ends a failed call. The owner rolls back; any other call marks the
// transaction rollback-only for its owner.
func (sc *txScope) fail(cause error) error {
	defer sc.span.End()
	tracing.RecordError(sc.span, cause)

	if !sc.owner {
		sc.ic.session.MarkRollbackOnly()
		return &TargetInvocationError{Method: sc.method.Name, Err: cause}
	}

	rbErr := sc.tx.Rollback()
	if errors.Is(rbErr, ErrTransactionClosed) {
		rbErr = nil
	}
	sc.ic.log.WithContext(sc.ctx).Debug("transactional call failed", "method", sc.method.Name,
		"error", cause, "duration", time.Since(sc.started))
	return &TargetInvocationError{Method: sc.method.Name, Err: cause, RollbackErr: rbErr}
}

func (sc *txScope) settle(err error) error {
	if err != nil {
		return sc.fail(err)
	}
	return sc.complete()
}

// attach ties the transaction outcome to a pending result. When settlement
// has already started the hook cannot be registered, so it runs here once
// the result is settled.
func (sc *txScope) attach(p async.Awaitable) error {
	if p.BeforeSettle(sc.settle) {
		return nil
	}
	<-p.Done()
	return sc.settle(p.Err())
}

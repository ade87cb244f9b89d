package async

import (
	"reflect"
	"sync"
)

// Kind is the call shape of an operation's result.
type Kind int

const (
	// Blocking results are complete when the call returns.
	Blocking Kind = iota
	// PendingResult results settle later and can be observed.
	PendingResult
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case PendingResult:
		return "pending"
	default:
		return "blocking"
	}
}

// Awaitable is the capability set a result must expose to be treated as pending:
// a completion signal, completion callback registration, a synchronous completion
// query and result extraction.
type Awaitable interface {
	Done() <-chan struct{}
	BeforeSettle(hook SettleHook) bool
	IsCompleted() bool
	Err() error
}

var (
	awaitableType = reflect.TypeOf((*Awaitable)(nil)).Elem()
	kinds         sync.Map // reflect.Type -> Kind
)

// ClassifyType reports whether values of t are pending results.
// Results are cached per type.
func ClassifyType(t reflect.Type) Kind {
	if t == nil {
		return Blocking
	}
	if cached, ok := kinds.Load(t); ok {
		return cached.(Kind)
	}

	kind := Blocking
	if t.Implements(awaitableType) {
		kind = PendingResult
	}
	actual, _ := kinds.LoadOrStore(t, kind)
	return actual.(Kind)
}

// Classify reports the shape of T, known at compile time from the type parameter.
func Classify[T any]() Kind {
	return ClassifyType(reflect.TypeFor[T]())
}

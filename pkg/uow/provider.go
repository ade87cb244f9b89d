package uow

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nimburion/unitofwork/pkg/repository"
)

// Registry binds a process to one unit-of-work context.
type Registry struct {
	mu       sync.Mutex
	provider *Provider
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// DefaultRegistry is used by the package-level AddUnitOfWork.
var DefaultRegistry = NewRegistry()

// AddUnitOfWork registers the unit-of-work context name backed by connector.
// Registering the same name again returns the existing provider; registering
// a different name fails with *ConfigurationError.
func (r *Registry) AddUnitOfWork(name string, connector Connector, opts ...Option) (*Provider, error) {
	if name == "" {
		return nil, &ConfigurationError{Reason: "context name is required"}
	}
	if connector == nil {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("context %q has no connector", name)}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.provider != nil {
		if r.provider.name == name {
			return r.provider, nil
		}
		return nil, &ConfigurationError{
			Reason: fmt.Sprintf("unit of work already registered for context %q, cannot register %q", r.provider.name, name),
		}
	}

	r.provider = &Provider{
		name:      name,
		connector: connector,
		opts:      append([]Option(nil), opts...),
		model:     NewModel(name),
	}
	return r.provider, nil
}

// Provider returns the registered provider, if any.
func (r *Registry) Provider() (*Provider, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.provider, r.provider != nil
}

// AddUnitOfWork registers a context on DefaultRegistry.
func AddUnitOfWork(name string, connector Connector, opts ...Option) (*Provider, error) {
	return DefaultRegistry.AddUnitOfWork(name, connector, opts...)
}

var _ repository.TransactionManager = (*Provider)(nil)

// Provider creates sessions for a registered context.
type Provider struct {
	name      string
	connector Connector
	opts      []Option
	model     *Model
}

// Name returns the context name.
func (p *Provider) Name() string { return p.name }

// Model returns the model custom repositories are registered on.
func (p *Provider) Model() *Model { return p.model }

// NewSession opens a session bound to the provider's model.
func (p *Provider) NewSession(ctx context.Context) (*Session, error) {
	opts := make([]Option, 0, len(p.opts)+1)
	opts = append(opts, WithModel(p.model))
	opts = append(opts, p.opts...)
	return NewSession(ctx, p.connector, opts...)
}

// Scope runs fn with a new session and disposes it afterwards. The session is
// also reachable from the context passed to fn.
func (p *Provider) Scope(ctx context.Context, fn func(ctx context.Context, s *Session) error) error {
	s, err := p.NewSession(ctx)
	if err != nil {
		return err
	}

	err = fn(ContextWithSession(ctx, s), s)
	if dErr := s.Dispose(); dErr != nil {
		err = errors.Join(err, dErr)
	}
	return err
}

// WithTransaction runs fn as a transactional call. It joins the session found
// in ctx when that session belongs to this provider; otherwise it opens a
// scope of its own.
func (p *Provider) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	method := Transactional("WithTransaction")
	run := func(ctx context.Context, s *Session) error {
		_, err := Invoke(ctx, NewInterceptor(s), method, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, fn(ctx)
		})
		return err
	}

	if s, ok := SessionFromContext(ctx); ok && s.Model() == p.model {
		return run(ctx, s)
	}
	return p.Scope(ctx, run)
}

// AddRepository registers a custom repository for entity on the provider's model.
func AddRepository[T any, ID comparable](p *Provider, entity *Entity[T, ID], factory func(*Session) Repository[T, ID]) error {
	return RegisterRepository(p.model, entity, factory)
}

type sessionKey struct{}

// ContextWithSession returns a copy of ctx carrying s.
func ContextWithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// SessionFromContext returns the session carried by ctx.
func SessionFromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(*Session)
	return s, ok && s != nil
}

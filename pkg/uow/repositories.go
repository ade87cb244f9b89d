package uow

import (
	"errors"
	"fmt"
	"sync"

	"github.com/nimburion/unitofwork/pkg/repository"
)

// EntityKey identifies an entity type within a model.
type EntityKey string

// Entity describes how an entity type is stored. The descriptor is the type
// tag repositories are cached under.
type Entity[T any, ID comparable] struct {
	Key      EntityKey
	Table    string
	IDColumn string
	Mapper   repository.EntityMapper[T, ID]
}

// NewEntity describes an entity stored in table, keyed by the table name.
func NewEntity[T any, ID comparable](table, idColumn string, mapper repository.EntityMapper[T, ID]) *Entity[T, ID] {
	return &Entity[T, ID]{
		Key:      EntityKey(table),
		Table:    table,
		IDColumn: idColumn,
		Mapper:   mapper,
	}
}

// Repository is the data accessor a session hands out: CRUD operations that
// run immediately plus Add, Modify and Remove that are staged until SaveChanges.
type Repository[T any, ID comparable] interface {
	repository.Repository[T, ID]
	Add(entity *T)
	Modify(entity *T)
	Remove(id ID)
}

var _ Repository[struct{}, int] = (*repository.TrackedRepository[struct{}, int])(nil)

// Model holds the custom repositories registered for one unit-of-work context.
type Model struct {
	name string

	mu     sync.RWMutex
	custom map[EntityKey]func(*Session) any
}

// NewModel creates an empty model.
func NewModel(name string) *Model {
	return &Model{name: name, custom: make(map[EntityKey]func(*Session) any)}
}

// Name returns the context name of the model.
func (m *Model) Name() string { return m.name }

func (m *Model) lookup(key EntityKey) (func(*Session) any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	factory, ok := m.custom[key]
	return factory, ok
}

// RegisterRepository registers a custom repository factory for entity on m.
// Sessions asking for the custom repository get a fresh value from factory on
// every call.
func RegisterRepository[T any, ID comparable](m *Model, entity *Entity[T, ID], factory func(*Session) Repository[T, ID]) error {
	if m == nil || entity == nil || factory == nil {
		return &ConfigurationError{Reason: "model, entity and factory are required"}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.custom[entity.Key]; exists {
		return &ConfigurationError{Reason: fmt.Sprintf("repository for %q already registered", entity.Key)}
	}
	m.custom[entity.Key] = func(s *Session) any { return factory(s) }
	return nil
}

// GetRepository returns the repository for entity. With useCustom, a
// repository registered on the session's model takes precedence; it is not
// cached by the session. Otherwise the generic repository is built on first
// use and the same instance is returned for the rest of the session.
func GetRepository[T any, ID comparable](s *Session, entity *Entity[T, ID], useCustom bool) (Repository[T, ID], error) {
	if entity == nil {
		return nil, &ConstructionError{What: "repository", Err: errors.New("nil entity")}
	}
	what := fmt.Sprintf("repository %q", entity.Key)
	if s.isDisposed() {
		return nil, &ConstructionError{What: what, Err: ErrSessionDisposed}
	}

	if useCustom && s.opts.model != nil {
		if factory, ok := s.opts.model.lookup(entity.Key); ok {
			repo, ok := factory(s).(Repository[T, ID])
			if !ok || repo == nil {
				return nil, &ConstructionError{What: what, Err: errors.New("custom factory returned no repository")}
			}
			return repo, nil
		}
	}

	if entity.Mapper == nil {
		return nil, &ConstructionError{What: what, Err: errors.New("entity has no mapper")}
	}

	cached := s.repositories.Get(entity.Key, func() any {
		crud := repository.NewGenericCrudRepository[T, ID](
			s.executor,
			entity.Table,
			entity.IDColumn,
			entity.Mapper,
			repository.WithDialect(s.opts.dialect),
		)
		return repository.NewTrackedRepository(crud, s.changes)
	})

	repo, ok := cached.(*repository.TrackedRepository[T, ID])
	if !ok {
		return nil, &ConstructionError{What: what, Err: fmt.Errorf("key already holds %T", cached)}
	}
	return repo, nil
}

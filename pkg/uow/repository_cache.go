package uow

// RepositoryCache memoizes one repository per entity key for the lifetime of
// a session. It is not safe for concurrent use.
type RepositoryCache struct {
	entries map[EntityKey]any
}

// NewRepositoryCache creates an empty cache.
func NewRepositoryCache() *RepositoryCache {
	return &RepositoryCache{entries: make(map[EntityKey]any)}
}

// Get returns the repository stored under key, calling build to create and
// store it on the first miss.
func (c *RepositoryCache) Get(key EntityKey, build func() any) any {
	if repo, ok := c.entries[key]; ok {
		return repo
	}
	repo := build()
	c.entries[key] = repo
	return repo
}

// Len returns the number of cached repositories.
func (c *RepositoryCache) Len() int {
	return len(c.entries)
}

// Clear drops every cached repository.
func (c *RepositoryCache) Clear() {
	clear(c.entries)
}

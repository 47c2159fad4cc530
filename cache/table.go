package cache

import (
	"time"

	c "github.com/patrickmn/go-cache"
)

// Table is a typed in-process table keyed by id.
type Table[T any] struct {
	cache *c.Cache
}

func NewTable[T any](cleanupInterval time.Duration) *Table[T] {
	return &Table[T]{
		cache: c.New(c.NoExpiration, cleanupInterval),
	}
}

func (t *Table[T]) Put(id string, v T) {
	t.cache.Set(id, v, c.NoExpiration)
}

// PutIfAbsent stores v unless id is present and returns the stored value.
func (t *Table[T]) PutIfAbsent(id string, v T) (T, bool) {
	if err := t.cache.Add(id, v, c.NoExpiration); err != nil {
		if existing, ok := t.Get(id); ok {
			return existing, false
		}
		t.cache.Set(id, v, c.NoExpiration)
	}
	return v, true
}

func (t *Table[T]) Get(id string) (T, bool) {
	var zero T
	v, found := t.cache.Get(id)
	if !found {
		return zero, false
	}
	typed, ok := v.(T)
	if !ok {
		return zero, false
	}
	return typed, true
}

func (t *Table[T]) Delete(id string) {
	t.cache.Delete(id)
}

func (t *Table[T]) Items() map[string]T {
	items := t.cache.Items()
	out := make(map[string]T, len(items))
	for k, item := range items {
		if typed, ok := item.Object.(T); ok {
			out[k] = typed
		}
	}
	return out
}

func (t *Table[T]) Len() int {
	return t.cache.ItemCount()
}

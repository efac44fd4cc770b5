package resolve

import (
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Catalog is an insertion-ordered set of named entries keyed by their display form.
// It is not safe for concurrent use.
type Catalog[T Named] struct {
	entries *orderedmap.OrderedMap[string, T]
}

func NewCatalog[T Named](items ...T) *Catalog[T] {
	c := &Catalog[T]{entries: orderedmap.New[string, T]()}
	for _, item := range items {
		c.Add(item)
	}
	return c
}

// Add appends an entry and returns its display name.
func (c *Catalog[T]) Add(item T) string {
	key := DisplayName(c.entries.Len(), item.Name())
	c.entries.Set(key, item)
	return key
}

func (c *Catalog[T]) Len() int {
	return c.entries.Len()
}

// Items returns the entries in enumeration order.
func (c *Catalog[T]) Items() []T {
	items := make([]T, 0, c.entries.Len())
	for pair := c.entries.Oldest(); pair != nil; pair = pair.Next() {
		items = append(items, pair.Value)
	}
	return items
}

// DisplayNames returns "#NN: Name" for every entry in enumeration order.
func (c *Catalog[T]) DisplayNames() []string {
	names := make([]string, 0, c.entries.Len())
	for pair := c.entries.Oldest(); pair != nil; pair = pair.Next() {
		names = append(names, pair.Key)
	}
	return names
}

// Lookup returns the entry with the exact display name.
func (c *Catalog[T]) Lookup(displayName string) (T, bool) {
	return c.entries.Get(displayName)
}

func (c *Catalog[T]) Resolve(token string) (T, error) {
	return Resolve(c.Items(), token)
}

func (c *Catalog[T]) Clear() {
	c.entries = orderedmap.New[string, T]()
}

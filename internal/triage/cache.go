package triage

import (
	"sync"

	"github.com/evanshaw/triagemail/internal/gmail"
)

// Field names one memoized drafting output per message.
type Field string

const (
	FieldSummary Field = "summary"
	FieldDraft   Field = "draft"
)

type cacheKey struct {
	id    gmail.MessageID
	field Field
}

// Cache memoizes drafting output for one session so re-renders never
// recompute. Keys always include the message id: two messages with
// identical snippets get independent entries, because the user-supplied
// context can differ per message.
type Cache struct {
	mu      sync.Mutex
	entries map[cacheKey]string
}

func NewCache() *Cache {
	return &Cache{entries: map[cacheKey]string{}}
}

// GetOrCompute returns the memoized value for (id, field), computing and
// storing it on first use. At most one computation happens per key until
// the key is invalidated.
func (c *Cache) GetOrCompute(id gmail.MessageID, field Field, compute func() string) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey{id: id, field: field}
	if v, ok := c.entries[key]; ok {
		return v
	}
	v := compute()
	c.entries[key] = v
	return v
}

// Invalidate drops one field for a message.
func (c *Cache) Invalidate(id gmail.MessageID, field Field) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, cacheKey{id: id, field: field})
}

// InvalidateAll drops every field for a message, as after a send.
func (c *Cache) InvalidateAll(id gmail.MessageID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, cacheKey{id: id, field: FieldSummary})
	delete(c.entries, cacheKey{id: id, field: FieldDraft})
}

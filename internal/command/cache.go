package command

import (
	"sync"

	"tremor/pkg/models"
)

// Cache keeps the most recent event per source so the diagnostic command has
// real material to replay. Bounded by the number of sources.
type Cache struct {
	mu     sync.Mutex
	events map[string]models.Event
	order  []string // first-seen order of sources
}

func NewCache() *Cache {
	return &Cache{events: make(map[string]models.Event)}
}

func (c *Cache) Record(source string, ev models.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, seen := c.events[source]; !seen {
		c.order = append(c.order, source)
	}
	c.events[source] = ev
}

// Latest returns up to n cached events, one per source.
func (c *Cache) Latest(n int) []models.Event {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]models.Event, 0, n)
	for _, source := range c.order {
		if len(out) == n {
			break
		}
		out = append(out, c.events[source])
	}
	return out
}

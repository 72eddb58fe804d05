package retrieval

import (
	"container/list"
	"strings"
	"sync"
)

// planCacheCapacity bounds the LRU of LLM-generated query plans.
const planCacheCapacity = 128

// Plan is a cached LLM query plan for a normalized question.
type Plan struct {
	Cypher    string `json:"cypher"`
	QueryType string `json:"query_type"`
}

// PlanCache is a small LRU keyed by normalized question text. Mutations
// are race-tolerant: concurrent writers for the same question simply
// overwrite each other.
type PlanCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // front = most recent
	entries  map[string]*list.Element
}

type planEntry struct {
	key  string
	plan Plan
}

// NewPlanCache creates an LRU plan cache.
func NewPlanCache(capacity int) *PlanCache {
	if capacity <= 0 {
		capacity = planCacheCapacity
	}
	return &PlanCache{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[string]*list.Element, capacity),
	}
}

// normalizeQuestion lowers and squeezes the question so trivial
// rephrasings share a cache slot.
func normalizeQuestion(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}

// Get returns a cached plan and marks it recently used.
func (c *PlanCache) Get(question string) (Plan, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[normalizeQuestion(question)]
	if !ok {
		return Plan{}, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*planEntry).plan, true
}

// Put stores a plan, evicting the least recently used entry at capacity.
func (c *PlanCache) Put(question string, plan Plan) {
	key := normalizeQuestion(question)
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		el.Value.(*planEntry).plan = plan
		c.order.MoveToFront(el)
		return
	}
	c.entries[key] = c.order.PushFront(&planEntry{key: key, plan: plan})
	if c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*planEntry).key)
	}
}

// Len returns the number of cached plans.
func (c *PlanCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

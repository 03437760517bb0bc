package queuex

import (
	"sort"
	"sync"
)

// Registry holds the named queues of one process. It is owned by the
// composition root and passed by reference to producers and consumers; there
// is no ambient global registry.
type Registry struct {
	mu     sync.RWMutex
	queues map[string]*Queue
}

// NewRegistry creates an empty queue registry.
func NewRegistry() *Registry {
	return &Registry{
		queues: make(map[string]*Queue),
	}
}

// Register adds a queue. Names are unique.
func (r *Registry) Register(q *Queue) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.queues[q.Name()]; exists {
		return queuexErrors.New(ErrQueueExists).WithDetail("queue", q.Name())
	}
	r.queues[q.Name()] = q
	return nil
}

// Get returns the queue registered under name.
func (r *Registry) Get(name string) (*Queue, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	q, ok := r.queues[name]
	if !ok {
		return nil, queuexErrors.New(ErrQueueNotFound).WithDetail("queue", name)
	}
	return q, nil
}

// Names returns the registered queue names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.queues))
	for name := range r.queues {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns the registered queues in name order.
func (r *Registry) All() []*Queue {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.queues))
	for name := range r.queues {
		names = append(names, name)
	}
	sort.Strings(names)

	queues := make([]*Queue, 0, len(names))
	for _, name := range names {
		queues = append(queues, r.queues[name])
	}
	return queues
}

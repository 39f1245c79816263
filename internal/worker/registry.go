package worker

import (
	"fmt"
	"sort"
	"sync"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
)

// Registry records which workflow types and activity handlers each task queue serves.
type Registry struct {
	mu     sync.RWMutex
	queues map[string]*registration
}

type registration struct {
	workflowTypes map[string]struct{}
	activities    map[domain.ActivityType]domain.ActivityFunc
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{queues: make(map[string]*registration)}
}

// Register binds workflow types and activity handlers to a queue. Registering
// the same queue again adds to it; an activity type can only be bound once.
func (r *Registry) Register(queue string, workflowTypes []string, activities map[domain.ActivityType]domain.ActivityFunc) error {
	if queue == "" {
		return fmt.Errorf("%w: queue name is required", domain.ErrInvalidInput)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.queues[queue]
	if !ok {
		reg = &registration{
			workflowTypes: make(map[string]struct{}),
			activities:    make(map[domain.ActivityType]domain.ActivityFunc),
		}
	}
	for typ, fn := range activities {
		if fn == nil {
			return fmt.Errorf("%w: nil handler for activity %s", domain.ErrInvalidInput, typ)
		}
		if _, exists := reg.activities[typ]; exists {
			return fmt.Errorf("%w: activity %s already registered on queue %s", domain.ErrInvalidInput, typ, queue)
		}
	}
	for typ, fn := range activities {
		reg.activities[typ] = fn
	}
	for _, wt := range workflowTypes {
		reg.workflowTypes[wt] = struct{}{}
	}
	r.queues[queue] = reg
	return nil
}

// Activity returns the handler of an activity type on a queue
func (r *Registry) Activity(queue string, typ domain.ActivityType) (domain.ActivityFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.queues[queue]
	if !ok {
		return nil, false
	}
	fn, ok := reg.activities[typ]
	return fn, ok
}

// ServesWorkflow reports whether a queue advances workflows of a type
func (r *Registry) ServesWorkflow(queue, workflowType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.queues[queue]
	if !ok {
		return false
	}
	_, ok = reg.workflowTypes[workflowType]
	return ok
}

// Queues returns the registered queue names
func (r *Registry) Queues() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.queues))
	for name := range r.queues {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

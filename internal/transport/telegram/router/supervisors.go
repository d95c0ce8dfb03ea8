package router

import (
	"sort"
	"sync"

	rtsup "giveawaybot/internal/runtime/supervisor"
)

// SupervisorRegistry is a thread-safe set of named subsystem supervisors,
// read by the health endpoint.
type SupervisorRegistry struct {
	mu sync.RWMutex
	m  map[string]*rtsup.Supervisor
}

func NewSupervisorRegistry() *SupervisorRegistry {
	return &SupervisorRegistry{m: map[string]*rtsup.Supervisor{}}
}

// Set registers (or replaces) a supervisor under name. A nil sup deletes it.
func (r *SupervisorRegistry) Set(name string, sup *rtsup.Supervisor) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if sup == nil {
		delete(r.m, name)
		return
	}
	r.m[name] = sup
}

func (r *SupervisorRegistry) Delete(name string) { r.Set(name, nil) }

// Counters returns each registered supervisor's counters by name.
func (r *SupervisorRegistry) Counters() map[string]rtsup.Counters {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]rtsup.Counters, len(r.m))
	for k, v := range r.m {
		out[k] = v.Counters()
	}
	return out
}

func (r *SupervisorRegistry) Names() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	out := make([]string, 0, len(r.m))
	for k := range r.m {
		out = append(out, k)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

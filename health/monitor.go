package health

import (
	"sort"
	"sync"
	"time"
)

// Monitor collects component health reports and computes the aggregate.
// The zero value is not usable; create one with NewMonitor.
type Monitor struct {
	mu       sync.RWMutex
	statuses map[string]Status
}

// NewMonitor creates an empty monitor.
func NewMonitor() *Monitor {
	return &Monitor{statuses: make(map[string]Status)}
}

// UpdateHealthy records a healthy report for the component.
func (m *Monitor) UpdateHealthy(name, message string) {
	m.update(name, newStatus(name, StateHealthy, message))
}

// UpdateDegraded records a degraded report for the component.
func (m *Monitor) UpdateDegraded(name, message string) {
	m.update(name, newStatus(name, StateDegraded, message))
}

// UpdateUnhealthy records an unhealthy report for the component.
func (m *Monitor) UpdateUnhealthy(name, message string) {
	m.update(name, newStatus(name, StateUnhealthy, message))
}

func (m *Monitor) update(name string, status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[name] = status
}

// Get returns the last report for a component.
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.statuses[name]
	return s, ok
}

// Remove drops a component from the monitor.
func (m *Monitor) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.statuses, name)
}

// Aggregate folds every component report into one system status: unhealthy
// if any component is unhealthy, degraded if any is degraded, healthy
// otherwise. Sub-statuses are sorted by component name for stable output.
func (m *Monitor) Aggregate(systemName string) Status {
	m.mu.RLock()
	subs := make([]Status, 0, len(m.statuses))
	for _, s := range m.statuses {
		subs = append(subs, s)
	}
	m.mu.RUnlock()

	sort.Slice(subs, func(i, j int) bool { return subs[i].Component < subs[j].Component })

	state := StateHealthy
	for _, s := range subs {
		switch s.Status {
		case StateUnhealthy:
			state = StateUnhealthy
		case StateDegraded:
			if state == StateHealthy {
				state = StateDegraded
			}
		}
	}

	return Status{
		Component:   systemName,
		Healthy:     state == StateHealthy,
		Status:      state,
		Timestamp:   time.Now(),
		SubStatuses: subs,
	}
}

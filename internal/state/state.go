package state

import (
	"sync"
	"time"
)

// Connectivity is the published network health
type Connectivity string

const (
	NoWifi     Connectivity = "no_wifi"     // Not associated to any access point
	NoInternet Connectivity = "no_internet" // Associated, no usable path out
	Ok         Connectivity = "ok"
)

// Status holds everything the monitor publishes
type Status struct {
	State Connectivity
	SSID  string // Empty when not associated or unknown

	// Set every time Ok is published
	LastConnectedAt time.Time

	// Diagnostics
	Interface  string
	Monitoring bool
}

// Manager manages status with thread-safe access
type Manager struct {
	mu       sync.RWMutex
	status   Status
	onChange func(Status) // Callback when status changes
}

// NewManager creates a manager in the pessimistic initial state
func NewManager() *Manager {
	return &Manager{
		status: Status{
			State: NoWifi,
		},
	}
}

// SetOnChange sets the callback for status changes
func (m *Manager) SetOnChange(fn func(Status)) {
	m.mu.Lock()
	m.onChange = fn
	m.mu.Unlock()
}

// Get returns a copy of current status
func (m *Manager) Get() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// Update atomically updates status and triggers callback
func (m *Manager) Update(fn func(*Status)) {
	m.mu.Lock()
	fn(&m.status)
	statusCopy := m.status
	onChange := m.onChange
	m.mu.Unlock()

	if onChange != nil {
		onChange(statusCopy)
	}
}

// Publish records a connectivity state observed at now
func (m *Manager) Publish(c Connectivity, ssid string, now time.Time) {
	m.Update(func(st *Status) {
		st.State = c
		st.SSID = ssid
		if c == Ok {
			st.LastConnectedAt = now
		}
	})
}

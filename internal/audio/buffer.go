package audio

import (
	"sync"
	"time"
)

type buffer struct {
	mu              sync.Mutex
	data            []byte
	lastAudioAt     time.Time
	lastProcessedAt time.Time
}

// Manager holds one buffer per chunked session. The session map is only
// written on create and destroy; each buffer carries its own lock so
// sessions never contend with each other.
type Manager struct {
	policy *Policy

	mu      sync.RWMutex
	buffers map[string]*buffer
}

func NewManager(policy Policy) (*Manager, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &Manager{
		policy:  &policy,
		buffers: make(map[string]*buffer),
	}, nil
}

func (m *Manager) Policy() Policy {
	if m.policy == nil {
		return Policy{}
	}
	return *m.policy
}

func (m *Manager) CreateSession(id string, now time.Time) error {
	if m.policy == nil {
		return ErrUnknownPolicy
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.buffers == nil {
		m.buffers = make(map[string]*buffer)
	}
	m.buffers[id] = &buffer{
		lastAudioAt:     now,
		lastProcessedAt: now,
	}
	return nil
}

func (m *Manager) get(id string) *buffer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.buffers[id]
}

// Append reports false when id has no buffer; the caller drops the data.
func (m *Manager) Append(id string, data []byte, now time.Time) bool {
	b := m.get(id)
	if b == nil {
		return false
	}

	b.mu.Lock()
	b.data = append(b.data, data...)
	b.lastAudioAt = now
	b.mu.Unlock()
	return true
}

func (m *Manager) ShouldProcess(id string, now time.Time) bool {
	b := m.get(id)
	if b == nil || m.policy == nil {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return m.policy.ready(len(b.data), now.Sub(b.lastProcessedAt))
}

func (m *Manager) Extract(id string, now time.Time) []byte {
	b := m.get(id)
	if b == nil {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.data
	b.data = nil
	b.lastProcessedAt = now
	return out
}

// TryExtract checks the thresholds and extracts under a single lock hold.
func (m *Manager) TryExtract(id string, now time.Time) ([]byte, bool) {
	b := m.get(id)
	if b == nil || m.policy == nil {
		return nil, false
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if !m.policy.ready(len(b.data), now.Sub(b.lastProcessedAt)) {
		return nil, false
	}
	out := b.data
	b.data = nil
	b.lastProcessedAt = now
	return out, true
}

func (m *Manager) FinalFlush(id string) []byte {
	b := m.get(id)
	if b == nil {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.data
	b.data = nil
	return out
}

func (m *Manager) Size(id string) int {
	b := m.get(id)
	if b == nil {
		return 0
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

func (m *Manager) LastAudioAt(id string) (time.Time, bool) {
	b := m.get(id)
	if b == nil {
		return time.Time{}, false
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastAudioAt, true
}

func (m *Manager) DestroySession(id string) {
	m.mu.Lock()
	delete(m.buffers, id)
	m.mu.Unlock()
}

func (m *Manager) SessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.buffers)
}

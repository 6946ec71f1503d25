package store

import (
	"encoding/json"
	"errors"
	"sync"
)

// errInjected is the cause reported while FailWrites is on.
var errInjected = errors.New("injected write failure")

// Memory is a map-backed Store. It does not survive a restart; tests use it
// to inject write failures.
type Memory struct {
	mu         sync.Mutex
	data       map[string]json.RawMessage
	failWrites bool
	writes     int
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]json.RawMessage)}
}

// FailWrites makes every subsequent Set and Remove fail (or succeed again).
func (m *Memory) FailWrites(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWrites = fail
}

// Writes returns the number of successful Set and Remove calls.
func (m *Memory) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// Put stores raw JSON as-is, bypassing marshalling. Used to seed legacy shapes.
func (m *Memory) Put(key, rawJSON string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = json.RawMessage(rawJSON)
}

func (m *Memory) Get(key string) (json.RawMessage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, false
	}
	out := make(json.RawMessage, len(v))
	copy(out, v)
	return out, true
}

func (m *Memory) Set(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return &PersistenceError{Op: "set", Key: key, Err: err}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrites {
		return &PersistenceError{Op: "set", Key: key, Err: errInjected}
	}
	m.data[key] = data
	m.writes++
	return nil
}

func (m *Memory) Remove(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrites {
		return &PersistenceError{Op: "remove", Key: key, Err: errInjected}
	}
	delete(m.data, key)
	m.writes++
	return nil
}

func (m *Memory) GetAll() map[string]json.RawMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := make(map[string]json.RawMessage, len(m.data))
	for k, v := range m.data {
		all[k] = v
	}
	return all
}

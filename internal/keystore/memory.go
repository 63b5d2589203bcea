package keystore

import "sync"

// Memory keeps key material in process memory. Used by tests and by hosts
// that manage persistence themselves.
type Memory struct {
	mu   sync.RWMutex
	keys map[string][]byte
}

// NewMemory constructs an empty in-memory key store.
func NewMemory() *Memory {
	return &Memory{keys: make(map[string][]byte)}
}

func (m *Memory) Save(identifier string, key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf := make([]byte, len(key))
	copy(buf, key)
	m.keys[identifier] = buf
	return nil
}

func (m *Memory) Load(identifier string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	key, ok := m.keys[identifier]
	if !ok {
		return nil, nil
	}
	buf := make([]byte, len(key))
	copy(buf, key)
	return buf, nil
}

func (m *Memory) Delete(identifier string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, identifier)
	return nil
}

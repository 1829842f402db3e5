package dispatch

import "sync"

// MemoryTokens maps drivers to their device push tokens. Tokens arrive with
// presence registration; credential bootstrap itself is an external concern.
type MemoryTokens struct {
	mu     sync.RWMutex
	tokens map[string]string
}

func NewMemoryTokens() *MemoryTokens {
	return &MemoryTokens{tokens: make(map[string]string)}
}

func (m *MemoryTokens) SetToken(driverID, token string) {
	if token == "" {
		return
	}
	m.mu.Lock()
	m.tokens[driverID] = token
	m.mu.Unlock()
}

func (m *MemoryTokens) TokensFor(driverIDs []string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(driverIDs))
	for _, id := range driverIDs {
		if t, ok := m.tokens[id]; ok {
			out = append(out, t)
		}
	}
	return out
}

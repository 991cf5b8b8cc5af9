package alerts

import (
	"context"
	"sync"
	"time"
)

// maxMemoryAlerts bounds the in-memory trail; older entries fall off.
const maxMemoryAlerts = 10000

// MemoryStore is an in-memory implementation of Store for demo/test use.
type MemoryStore struct {
	mu     sync.RWMutex
	alerts []*Alert
	nextID int64
}

// NewMemoryStore creates an in-memory alert store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Record(ctx context.Context, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	p := make([]byte, len(payload))
	copy(p, payload)
	s.alerts = append(s.alerts, &Alert{
		ID:        s.nextID,
		Payload:   p,
		CreatedAt: time.Now(),
	})
	if len(s.alerts) > maxMemoryAlerts {
		s.alerts = s.alerts[len(s.alerts)-maxMemoryAlerts:]
	}
	return nil
}

func (s *MemoryStore) ListRecent(ctx context.Context, limit int) ([]*Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.alerts) == 0 {
		return nil, nil
	}
	start := len(s.alerts) - limit
	if start < 0 {
		start = 0
	}

	// Most recent first.
	result := make([]*Alert, 0, len(s.alerts)-start)
	for i := len(s.alerts) - 1; i >= start; i-- {
		a := *s.alerts[i]
		result = append(result, &a)
	}
	return result, nil
}

package attempt

import (
	"context"
	"sync"
	"time"

	"github.com/jun/sealedletter/internal/model"
)

// MockLimiter implements Limiter using an in-memory map for testing and demo mode.
type MockLimiter struct {
	windows     map[string]*model.AttemptWindow
	mu          sync.Mutex
	maxFailures int
	window      time.Duration
}

// NewMockLimiter creates a new MockLimiter. maxFailures <= 0 disables limiting.
func NewMockLimiter(maxFailures int, window time.Duration) *MockLimiter {
	if window <= 0 {
		window = DefaultWindow
	}
	return &MockLimiter{
		windows:     make(map[string]*model.AttemptWindow),
		maxFailures: maxFailures,
		window:      window,
	}
}

func (m *MockLimiter) live(letterID string, now int64) *model.AttemptWindow {
	w, ok := m.windows[letterID]
	if !ok || w.ExpiresAt <= now {
		return nil
	}
	return w
}

func (m *MockLimiter) Reserve(ctx context.Context, letterID string) (int, error) {
	if m.maxFailures <= 0 {
		return 0, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().Unix()
	w := m.live(letterID, now)
	if w == nil {
		w = &model.AttemptWindow{
			Key:       "letter#" + letterID,
			ExpiresAt: now + int64(m.window.Seconds()),
		}
		m.windows[letterID] = w
	}
	if w.Attempts >= m.maxFailures {
		return w.Attempts, ErrTooManyAttempts
	}
	w.Attempts++
	return w.Attempts, nil
}

func (m *MockLimiter) Reset(ctx context.Context, letterID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.windows, letterID)
	return nil
}

package biz

import (
	"sync"
	"time"
)

// SessionTracker 统计 TTL 窗口内出现过的会话数。
type SessionTracker struct {
	ttl time.Duration
	now func() time.Time

	mu        sync.Mutex
	lastSeen  map[string]time.Time
	lastPrune time.Time
}

// NewSessionTracker 创建会话统计器。
func NewSessionTracker(ttl time.Duration) *SessionTracker {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &SessionTracker{
		ttl:      ttl,
		now:      time.Now,
		lastSeen: make(map[string]time.Time),
	}
}

// Touch 记录会话活动，空 ID 忽略。每个 TTL 周期最多清理一次过期会话。
func (t *SessionTracker) Touch(sessionID string) {
	if t == nil || sessionID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	t.lastSeen[sessionID] = now
	if now.Sub(t.lastPrune) >= t.ttl {
		t.pruneLocked(now)
	}
}

// Active 返回窗口内的会话数，并清理过期会话。
func (t *SessionTracker) Active() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pruneLocked(t.now())
	return len(t.lastSeen)
}

func (t *SessionTracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-t.ttl)
	for id, seen := range t.lastSeen {
		if seen.Before(cutoff) {
			delete(t.lastSeen, id)
		}
	}
	t.lastPrune = now
}

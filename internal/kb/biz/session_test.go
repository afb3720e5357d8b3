package biz

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/knowledge-base/internal/kb/model"
)

func TestSessionTracker_ExpiresAfterTTL(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	tr := NewSessionTracker(10 * time.Minute)
	tr.now = func() time.Time { return now }

	tr.Touch("a")
	tr.Touch("b")
	tr.Touch("")
	assert.Equal(t, 2, tr.Active())

	now = now.Add(6 * time.Minute)
	tr.Touch("b")
	now = now.Add(6 * time.Minute)
	assert.Equal(t, 1, tr.Active())

	now = now.Add(time.Hour)
	assert.Zero(t, tr.Active())
}

func TestSessionTracker_TouchPrunesExpired(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	tr := NewSessionTracker(time.Minute)
	tr.now = func() time.Time { return now }

	for i := 0; i < 100; i++ {
		tr.Touch(fmt.Sprintf("old-%d", i))
	}
	now = now.Add(2 * time.Minute)
	tr.Touch("fresh")

	tr.mu.Lock()
	size := len(tr.lastSeen)
	tr.mu.Unlock()
	assert.Equal(t, 1, size)

	// 同一周期内不重复扫描
	tr.Touch("again")
	tr.mu.Lock()
	assert.Equal(t, now, tr.lastPrune)
	tr.mu.Unlock()
	assert.Equal(t, 2, tr.Active())
}

func TestSessionTracker_NilSafe(t *testing.T) {
	var tr *SessionTracker
	tr.Touch("a")
	assert.Zero(t, tr.Active())
}

func TestStatsAggregator(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	empty := NewStatsAggregator(env.registry, nil, nil).Stats()
	assert.Zero(t, empty.TotalDocuments)
	assert.Zero(t, empty.TotalVectors)
	assert.NotNil(t, empty.Categories)
	assert.Equal(t, []string{}, empty.General.LanguagesSupported)

	seedCategory(t, env, "Health", "hospital funding", "clinic staffing")
	seedCategory(t, env, "Politics", "election reform")
	require.NoError(t, env.registry.Register(ctx, "Tamil Culture", ""))

	sessions := NewSessionTracker(time.Minute)
	sessions.Touch("s1")
	langs := []string{"en", "ta"}
	agg := NewStatsAggregator(env.registry, sessions, langs)
	langs[0] = "xx"

	stats := agg.Stats()
	assert.Equal(t, 2, stats.TotalDocuments)
	assert.Equal(t, int64(3), stats.TotalVectors)
	assert.Equal(t, model.CategoryCount{Documents: 1, Vectors: 2}, stats.Categories["Health"])
	assert.Equal(t, model.CategoryCount{Documents: 1, Vectors: 1}, stats.Categories["Politics"])
	assert.Equal(t, model.CategoryCount{}, stats.Categories["Tamil Culture"])
	assert.Equal(t, 1, stats.General.ActiveSessions)
	assert.Equal(t, []string{"en", "ta"}, stats.General.LanguagesSupported)
}

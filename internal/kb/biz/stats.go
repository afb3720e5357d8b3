package biz

import (
	"slices"

	"github.com/kart-io/knowledge-base/internal/kb/index"
	"github.com/kart-io/knowledge-base/internal/kb/model"
)

// StatsAggregator 只读汇总注册表中各类别活跃代的计数。
type StatsAggregator struct {
	registry  *index.Registry
	sessions  *SessionTracker
	languages []string
}

// NewStatsAggregator 创建统计汇总器。
func NewStatsAggregator(registry *index.Registry, sessions *SessionTracker, languages []string) *StatsAggregator {
	return &StatsAggregator{
		registry:  registry,
		sessions:  sessions,
		languages: slices.Clone(languages),
	}
}

// Stats 返回全局统计。
func (a *StatsAggregator) Stats() *model.Stats {
	counts := a.registry.Counts()
	stats := &model.Stats{
		Categories: make(map[string]model.CategoryCount, len(counts)),
		General: model.GeneralStats{
			ActiveSessions:     a.sessions.Active(),
			LanguagesSupported: slices.Clone(a.languages),
		},
	}
	if stats.General.LanguagesSupported == nil {
		stats.General.LanguagesSupported = []string{}
	}
	for name, c := range counts {
		stats.Categories[name] = c
		stats.TotalDocuments += c.Documents
		stats.TotalVectors += c.Vectors
	}
	return stats
}

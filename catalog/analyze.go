package catalog

import (
	"sort"

	"github.com/RoyXiang/streamgate/common"
	"github.com/RoyXiang/streamgate/store"
)

type Stats struct {
	TotalChannels int      `json:"totalChannels"`
	LiveChannels  int      `json:"liveChannels"`
	Movies        int      `json:"movies"`
	Series        int      `json:"series"`
	Groups        []string `json:"groups"`
	Truncated     int      `json:"truncated,omitempty"`
	Reported      int      `json:"reported"`
}

func (s *Stats) Counts() store.Counts {
	return store.Counts{Live: s.LiveChannels, Movies: s.Movies, Series: s.Series}
}

// Analyze counts entries by type. reported is what the source claimed and
// truncated what the entry cap dropped; the calculated total wins when the
// two disagree.
func Analyze(entries []Entry, reported, truncated int) *Stats {
	stats := &Stats{Groups: []string{}, Reported: reported, Truncated: truncated}
	groups := make(map[string]struct{})
	for _, e := range entries {
		switch e.Type {
		case Live:
			stats.LiveChannels++
		case Movie:
			stats.Movies++
		case Series:
			stats.Series++
		}
		if e.GroupName != "" {
			groups[e.GroupName] = struct{}{}
		}
	}
	for g := range groups {
		stats.Groups = append(stats.Groups, g)
	}
	sort.Strings(stats.Groups)

	stats.TotalChannels = stats.LiveChannels + stats.Movies + stats.Series
	if reported != stats.TotalChannels+truncated {
		common.Log("catalog").WithField("reported", reported).WithField("calculated", stats.TotalChannels).
			WithField("truncated", truncated).
			Warn("reported total disagrees with entry counts, using calculated total")
	}
	return stats
}

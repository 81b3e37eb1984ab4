package rules

import (
	"time"

	"github.com/data-to-insight/csc-validator-be-903-sub000/internal/datastore"
)

// Legal statuses of short-term break placements.
var shortTermStatuses = map[string]bool{"V3": true, "V4": true}

// EpisodeOptions selects which episodes count when finding a child's first
// and last episode. Rules differ here, so each states its own.
type EpisodeOptions struct {
	// SkipShortTerm ignores short-term break episodes (legal status V3/V4).
	SkipShortTerm bool
	// OrderBy is the date column ordering a child's episodes. Defaults to DECOM.
	OrderBy string
	// Where, when set, must return true for an episode to count.
	Where func(row int) bool
}

// EpisodeBounds holds the row positions of a child's first and last episode.
type EpisodeBounds struct {
	First int
	Last  int
}

// FirstLastEpisodes finds each child's first and last episode. Episodes
// without a child id or an ordering date are ignored. Ties on date go to the
// earlier row for First and the later row for Last.
func FirstLastEpisodes(t *datastore.Table, opts EpisodeOptions) map[string]EpisodeBounds {
	order := opts.OrderBy
	if order == "" {
		order = "DECOM"
	}

	type seen struct {
		bounds      EpisodeBounds
		first, last time.Time
	}
	children := make(map[string]*seen)

	for i := 0; i < t.Len(); i++ {
		child := t.Str("CHILD", i)
		if child == "" {
			continue
		}
		if opts.SkipShortTerm && shortTermStatuses[t.Str("LS", i)] {
			continue
		}
		if opts.Where != nil && !opts.Where(i) {
			continue
		}
		d, ok := t.Date(order, i)
		if !ok {
			continue
		}
		s, ok := children[child]
		if !ok {
			children[child] = &seen{bounds: EpisodeBounds{First: i, Last: i}, first: d, last: d}
			continue
		}
		if d.Before(s.first) {
			s.bounds.First, s.first = i, d
		}
		if !d.Before(s.last) {
			s.bounds.Last, s.last = i, d
		}
	}

	out := make(map[string]EpisodeBounds, len(children))
	for c, s := range children {
		out[c] = s.bounds
	}
	return out
}

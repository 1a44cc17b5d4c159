package gamification

import "time"

// Input carries the already-updated counters an evaluation runs against.
type Input struct {
	PagesRead     int
	CurrentStreak int
	SessionPages  int
	Now           time.Time
}

// Ordered threshold rules. Each maps a predicate over the input to a catalog
// id; the order matches the catalog so unlock notifications read naturally.
var rules = []struct {
	id        string
	satisfied func(in Input) bool
}{
	{"first_page", func(in Input) bool { return in.PagesRead >= 1 }},
	{"page_10", func(in Input) bool { return in.PagesRead >= 10 }},
	{"page_50", func(in Input) bool { return in.PagesRead >= 50 }},
	{"page_100", func(in Input) bool { return in.PagesRead >= 100 }},
	{"page_500", func(in Input) bool { return in.PagesRead >= 500 }},
	{"daily_streak_7", func(in Input) bool { return in.CurrentStreak >= 7 }},
	{"daily_streak_30", func(in Input) bool { return in.CurrentStreak >= 30 }},
	{"speed_reader", func(in Input) bool { return in.SessionPages >= 20 }},
	{"night_owl", func(in Input) bool { return in.Now.Hour() >= 22 }},
}

// Evaluate returns the catalog entries newly satisfied by in, excluding any
// id already present in held. Evaluation is pure; the caller is responsible
// for persisting unlocks and awarding points inside its own record write.
func (c *Catalog) Evaluate(in Input, held map[string]bool) []Achievement {
	var unlocked []Achievement
	for _, rule := range rules {
		if held[rule.id] || !rule.satisfied(in) {
			continue
		}
		a, ok := c.byID[rule.id]
		if !ok {
			// Rule references an id missing from the catalog; skip rather
			// than award unknown points.
			continue
		}
		unlocked = append(unlocked, a)
	}
	return unlocked
}

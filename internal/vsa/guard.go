package vsa

import "github.com/sells-group/consultator/internal/model"

// Guard decides whether a mission is new. It is seeded once with the keys
// already persisted and then records every key it admits, so the first
// occurrence of a key in source order wins.
type Guard struct {
	seen map[model.MissionKey]struct{}
}

// NewGuard creates a Guard seeded with existing keys. Keys without a start
// date are ignored.
func NewGuard(existing []model.MissionKey) *Guard {
	g := &Guard{seen: make(map[model.MissionKey]struct{}, len(existing))}
	for _, k := range existing {
		if k.HasDate() {
			g.seen[k] = struct{}{}
		}
	}
	return g
}

// Admit reports whether key is new and, if so, records it. Keys without a
// start date cannot be compared and are always admitted without being recorded.
func (g *Guard) Admit(key model.MissionKey) bool {
	if !key.HasDate() {
		return true
	}
	if _, dup := g.seen[key]; dup {
		return false
	}
	g.seen[key] = struct{}{}
	return true
}

// Forget drops a recorded key. The importer calls it when an admitted
// mission could not be written, so a later row with the same key may still
// be imported.
func (g *Guard) Forget(key model.MissionKey) {
	delete(g.seen, key)
}

// Len returns the number of keys the guard knows.
func (g *Guard) Len() int {
	return len(g.seen)
}

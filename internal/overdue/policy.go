package overdue

import "sort"

// Policy maps a lead state to whether it is tracked for staleness.
type Policy map[string]bool

// IsTracked reports the configured flag. Unknown states are untracked.
func (p Policy) IsTracked(state string) bool {
	return p[state]
}

// TrackedStates returns the tracked states in name order.
func (p Policy) TrackedStates() []string {
	var out []string
	for state, tracked := range p {
		if tracked {
			out = append(out, state)
		}
	}
	sort.Strings(out)
	return out
}

package treesync

import (
	"sort"
	"strconv"
)

// sequenceOf extracts the service-assigned sequence counter from a
// sequential node name (the trailing run of decimal digits).
func sequenceOf(name string) (int64, bool) {
	i := len(name)
	for i > 0 && name[i-1] >= '0' && name[i-1] <= '9' {
		i--
	}
	if i == len(name) {
		return 0, false
	}
	seq, err := strconv.ParseInt(name[i:], 10, 64)
	if err != nil {
		return 0, false
	}
	return seq, true
}

// sortBySequence orders names by their sequence counters, ascending. Names
// without a counter (foreign nodes sharing the directory) are dropped.
func sortBySequence(names []string) []string {
	type entry struct {
		name string
		seq  int64
	}
	entries := make([]entry, 0, len(names))
	for _, name := range names {
		if seq, ok := sequenceOf(name); ok {
			entries = append(entries, entry{name: name, seq: seq})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].seq != entries[j].seq {
			return entries[i].seq < entries[j].seq
		}
		return entries[i].name < entries[j].name
	})
	sorted := make([]string, len(entries))
	for i, e := range entries {
		sorted[i] = e.name
	}
	return sorted
}

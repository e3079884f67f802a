package treesync

import (
	"reflect"
	"testing"
)

func TestSequenceOf(t *testing.T) {
	cases := []struct {
		name string
		seq  int64
		ok   bool
	}{
		{"entry-0000000007", 7, true},
		{"lock-0000000123", 123, true},
		{"entry-", 0, false},
		{"plain", 0, false},
		{"0000000001", 1, true},
	}
	for _, c := range cases {
		seq, ok := sequenceOf(c.name)
		if ok != c.ok || seq != c.seq {
			t.Fatalf("sequenceOf(%q) = %d, %v; want %d, %v", c.name, seq, ok, c.seq, c.ok)
		}
	}
}

func TestSortBySequenceOrdersAndFilters(t *testing.T) {
	names := []string{
		"entry-0000000010",
		"_meta",
		"entry-0000000002",
		"entry-0000000001",
	}
	got := sortBySequence(names)
	want := []string{
		"entry-0000000001",
		"entry-0000000002",
		"entry-0000000010",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected order: %v", got)
	}
}

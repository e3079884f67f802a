package zk

import (
	"errors"
	"testing"
	"time"

	gozk "github.com/go-zookeeper/zk"

	"github.com/suyash-sneo/treesync/coord"
)

func TestErrMapping(t *testing.T) {
	cases := []struct {
		in   error
		want error
	}{
		{gozk.ErrNoNode, coord.ErrNoNode},
		{gozk.ErrNodeExists, coord.ErrNodeExists},
		{gozk.ErrBadVersion, coord.ErrBadVersion},
		{gozk.ErrNotEmpty, coord.ErrNotEmpty},
		{nil, nil},
	}
	for _, c := range cases {
		if got := mapErr(c.in); !errors.Is(got, c.want) {
			t.Fatalf("mapErr(%v) = %v, want %v", c.in, got, c.want)
		}
	}
	opaque := errors.New("connection refused")
	if got := mapErr(opaque); got != opaque {
		t.Fatalf("unmapped error rewritten: %v", got)
	}
}

func TestFlagMapping(t *testing.T) {
	if zkFlags(0) != 0 {
		t.Fatalf("expected no flags")
	}
	if zkFlags(coord.FlagEphemeral) != gozk.FlagEphemeral {
		t.Fatalf("ephemeral flag mismatch")
	}
	if zkFlags(coord.FlagSequential) != gozk.FlagSequence {
		t.Fatalf("sequential flag mismatch")
	}
	both := zkFlags(coord.FlagEphemeral | coord.FlagSequential)
	if both != gozk.FlagEphemeral|gozk.FlagSequence {
		t.Fatalf("combined flag mismatch: %d", both)
	}
}

func TestEventTypeMapping(t *testing.T) {
	cases := map[gozk.EventType]coord.EventType{
		gozk.EventNodeCreated:         coord.EventCreated,
		gozk.EventNodeDeleted:         coord.EventDeleted,
		gozk.EventNodeDataChanged:     coord.EventDataChanged,
		gozk.EventNodeChildrenChanged: coord.EventChildrenChanged,
	}
	for in, want := range cases {
		if got := eventType(in); got != want {
			t.Fatalf("eventType(%v) = %v, want %v", in, got, want)
		}
	}
}

func TestACLConversionDefaultsToOpen(t *testing.T) {
	if got := zkACL(nil); len(got) != 1 || got[0].Scheme != "world" || got[0].Perms != gozk.PermAll {
		t.Fatalf("unexpected default acl %+v", got)
	}
	in := []coord.ACL{{Perms: coord.PermRead, Scheme: "digest", ID: "user:hash"}}
	out := zkACL(in)
	if len(out) != 1 || out[0].Scheme != "digest" || out[0].ID != "user:hash" {
		t.Fatalf("unexpected converted acl %+v", out)
	}
	back := coordACL(out)
	if back[0] != in[0] {
		t.Fatalf("round trip mismatch %+v", back)
	}
}

func TestAdaptWatchForwardsOnce(t *testing.T) {
	src := make(chan gozk.Event, 1)
	out := adaptWatch(src)
	src <- gozk.Event{Type: gozk.EventNodeCreated, Path: "/x"}
	select {
	case ev := <-out:
		if ev.Type != coord.EventCreated || ev.Path != "/x" {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatalf("adapted watch did not forward")
	}
	if _, ok := <-out; ok {
		t.Fatalf("adapted watch delivered a second event")
	}
}

func TestStatConversion(t *testing.T) {
	if coordStat(nil) != nil {
		t.Fatalf("expected nil stat to stay nil")
	}
	stat := coordStat(&gozk.Stat{Version: 3, Cversion: 5, Aversion: 1, NumChildren: 2, EphemeralOwner: 9})
	if stat.Version != 3 || stat.Cversion != 5 || stat.Aversion != 1 || stat.NumChildren != 2 || stat.EphemeralOwner != 9 {
		t.Fatalf("unexpected stat %+v", stat)
	}
}

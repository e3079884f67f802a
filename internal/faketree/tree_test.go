package faketree

import (
	"context"
	"errors"
	"testing"

	"github.com/suyash-sneo/treesync/coord"
)

func TestCreateGetSetDelete(t *testing.T) {
	s := New().NewSession()
	ctx := context.Background()

	created, err := s.Create(ctx, "/a", []byte("one"), nil, 0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created != "/a" {
		t.Fatalf("unexpected created path %s", created)
	}
	if _, err := s.Create(ctx, "/a", nil, nil, 0); !errors.Is(err, coord.ErrNodeExists) {
		t.Fatalf("expected ErrNodeExists, got %v", err)
	}
	if _, err := s.Create(ctx, "/missing/child", nil, nil, 0); !errors.Is(err, coord.ErrNoNode) {
		t.Fatalf("expected ErrNoNode for missing parent, got %v", err)
	}

	data, stat, err := s.Get(ctx, "/a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(data) != "one" || stat.Version != 0 {
		t.Fatalf("unexpected get result %q v%d", data, stat.Version)
	}

	if _, err := s.Set(ctx, "/a", []byte("two"), 5); !errors.Is(err, coord.ErrBadVersion) {
		t.Fatalf("expected ErrBadVersion, got %v", err)
	}
	stat, err = s.Set(ctx, "/a", []byte("two"), 0)
	if err != nil {
		t.Fatalf("set: %v", err)
	}
	if stat.Version != 1 {
		t.Fatalf("expected version 1, got %d", stat.Version)
	}

	if err := s.Delete(ctx, "/a", 0); !errors.Is(err, coord.ErrBadVersion) {
		t.Fatalf("expected ErrBadVersion on stale delete, got %v", err)
	}
	if err := s.Delete(ctx, "/a", 1); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.Delete(ctx, "/a", coord.AnyVersion); !errors.Is(err, coord.ErrNoNode) {
		t.Fatalf("expected ErrNoNode, got %v", err)
	}
}

func TestDeleteNonEmpty(t *testing.T) {
	s := New().NewSession()
	ctx := context.Background()

	if _, err := s.Create(ctx, "/dir", nil, nil, 0); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.Create(ctx, "/dir/child", nil, nil, 0); err != nil {
		t.Fatalf("create child: %v", err)
	}
	if err := s.Delete(ctx, "/dir", coord.AnyVersion); !errors.Is(err, coord.ErrNotEmpty) {
		t.Fatalf("expected ErrNotEmpty, got %v", err)
	}
}

func TestSequentialNaming(t *testing.T) {
	s := New().NewSession()
	ctx := context.Background()

	if _, err := s.Create(ctx, "/dir", nil, nil, 0); err != nil {
		t.Fatalf("create: %v", err)
	}
	first, err := s.Create(ctx, "/dir/entry-", nil, nil, coord.FlagSequential)
	if err != nil {
		t.Fatalf("create sequential: %v", err)
	}
	second, err := s.Create(ctx, "/dir/entry-", nil, nil, coord.FlagSequential)
	if err != nil {
		t.Fatalf("create sequential: %v", err)
	}
	if first != "/dir/entry-0000000000" || second != "/dir/entry-0000000001" {
		t.Fatalf("unexpected sequential names %s, %s", first, second)
	}
	// The counter never reuses a value, even after deletion.
	if err := s.Delete(ctx, second, coord.AnyVersion); err != nil {
		t.Fatalf("delete: %v", err)
	}
	third, err := s.Create(ctx, "/dir/entry-", nil, nil, coord.FlagSequential)
	if err != nil {
		t.Fatalf("create sequential: %v", err)
	}
	if third != "/dir/entry-0000000002" {
		t.Fatalf("counter reused a value: %s", third)
	}
}

func TestEphemeralsRemovedOnSessionClose(t *testing.T) {
	tree := New()
	owner := tree.NewSession()
	observer := tree.NewSession()
	ctx := context.Background()

	if _, err := owner.Create(ctx, "/dir", nil, nil, 0); err != nil {
		t.Fatalf("create dir: %v", err)
	}
	if _, err := owner.Create(ctx, "/dir/eph", nil, nil, coord.FlagEphemeral); err != nil {
		t.Fatalf("create ephemeral: %v", err)
	}
	if _, err := owner.Create(ctx, "/dir/durable", nil, nil, 0); err != nil {
		t.Fatalf("create durable: %v", err)
	}

	_, watch, err := observer.ExistsW(ctx, "/dir/eph")
	if err != nil {
		t.Fatalf("existsw: %v", err)
	}

	owner.Close()

	select {
	case ev := <-watch:
		if ev.Type != coord.EventDeleted {
			t.Fatalf("unexpected event %+v", ev)
		}
	default:
		t.Fatalf("expected deletion watch to fire on session close")
	}

	names, _, err := observer.Children(ctx, "/dir")
	if err != nil {
		t.Fatalf("children: %v", err)
	}
	if len(names) != 1 || names[0] != "durable" {
		t.Fatalf("unexpected survivors %v", names)
	}

	if _, err := owner.Exists(ctx, "/dir"); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}
}

func TestChildWatchFiresOnAddAndRemove(t *testing.T) {
	tree := New()
	s := tree.NewSession()
	peer := tree.NewSession()
	ctx := context.Background()

	if _, err := s.Create(ctx, "/dir", nil, nil, 0); err != nil {
		t.Fatalf("create: %v", err)
	}
	names, _, watch, err := s.ChildrenW(ctx, "/dir")
	if err != nil {
		t.Fatalf("childrenw: %v", err)
	}
	if len(names) != 0 {
		t.Fatalf("expected no children, got %v", names)
	}

	if _, err := peer.Create(ctx, "/dir/a", nil, nil, 0); err != nil {
		t.Fatalf("peer create: %v", err)
	}
	ev, ok := <-watch
	if !ok || ev.Type != coord.EventChildrenChanged {
		t.Fatalf("unexpected firing %+v ok=%v", ev, ok)
	}

	// One-shot: the removal needs a fresh registration to be observed.
	names, _, watch, err = s.ChildrenW(ctx, "/dir")
	if err != nil {
		t.Fatalf("childrenw again: %v", err)
	}
	if len(names) != 1 {
		t.Fatalf("expected one child, got %v", names)
	}
	if err := peer.Delete(ctx, "/dir/a", coord.AnyVersion); err != nil {
		t.Fatalf("peer delete: %v", err)
	}
	ev, ok = <-watch
	if !ok || ev.Type != coord.EventChildrenChanged {
		t.Fatalf("unexpected firing %+v ok=%v", ev, ok)
	}
}

func TestChildWatchFiresOnDirectoryDeletion(t *testing.T) {
	tree := New()
	s := tree.NewSession()
	peer := tree.NewSession()
	ctx := context.Background()

	if _, err := s.Create(ctx, "/dir", nil, nil, 0); err != nil {
		t.Fatalf("create: %v", err)
	}
	_, _, watch, err := s.ChildrenW(ctx, "/dir")
	if err != nil {
		t.Fatalf("childrenw: %v", err)
	}
	if err := peer.Delete(ctx, "/dir", coord.AnyVersion); err != nil {
		t.Fatalf("delete dir: %v", err)
	}
	ev, ok := <-watch
	if !ok || ev.Type != coord.EventDeleted {
		t.Fatalf("expected deletion event, got %+v ok=%v", ev, ok)
	}
}

func TestACLVersioning(t *testing.T) {
	s := New().NewSession()
	ctx := context.Background()

	if _, err := s.Create(ctx, "/n", nil, nil, 0); err != nil {
		t.Fatalf("create: %v", err)
	}
	acl, stat, err := s.GetACL(ctx, "/n")
	if err != nil {
		t.Fatalf("get acl: %v", err)
	}
	if len(acl) != 1 || stat.Aversion != 0 {
		t.Fatalf("unexpected acl %v aversion %d", acl, stat.Aversion)
	}
	if _, err := s.SetACL(ctx, "/n", coord.WorldACL(coord.PermRead), 3); !errors.Is(err, coord.ErrBadVersion) {
		t.Fatalf("expected ErrBadVersion, got %v", err)
	}
	if _, err := s.SetACL(ctx, "/n", coord.WorldACL(coord.PermRead), 0); err != nil {
		t.Fatalf("set acl: %v", err)
	}
	_, stat, err = s.GetACL(ctx, "/n")
	if err != nil {
		t.Fatalf("get acl: %v", err)
	}
	if stat.Aversion != 1 {
		t.Fatalf("expected aversion 1, got %d", stat.Aversion)
	}
}

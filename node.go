package treesync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/suyash-sneo/treesync/coord"
)

// Node is a handle on a single coordination-tree path. It tracks the last
// stat observed from the service and uses its version as the optimistic
// token on writes. The tracking is purely advisory and local: it lets one
// logical writer avoid read-modify-write races with itself, not serialize
// multiple writers. A version conflict always clears the cached stat and is
// surfaced to the caller; this layer never retries it.
//
// The service-side node may be created, deleted, and recreated by other
// peers during the handle's lifetime; the handle re-derives its view lazily
// on the next access.
//
// A Node is owned by a single goroutine and is not safe for concurrent use.
type Node struct {
	client coord.Client
	path   string
	name   string
	stat   *coord.Stat
}

// NewNode returns a handle for path. No service call is made; the path need
// not exist yet.
func NewNode(client coord.Client, path string) *Node {
	return &Node{
		client: client,
		path:   path,
		name:   path[strings.LastIndex(path, "/")+1:],
	}
}

// Path returns the node's path from the tree root.
func (n *Node) Path() string { return n.path }

// Name returns the node's name within its container.
func (n *Node) Name() string { return n.name }

func (n *Node) version() int32 {
	if n.stat == nil {
		return coord.AnyVersion
	}
	return n.stat.Version
}

func (n *Node) aclVersion() int32 {
	if n.stat == nil {
		return coord.AnyVersion
	}
	return n.stat.Aversion
}

// Create makes the backing node with the given data, ACL, and flags. A nil
// acl means the open/unsafe default.
func (n *Node) Create(ctx context.Context, data []byte, acl []coord.ACL, flags coord.CreateFlags) error {
	if acl == nil {
		acl = coord.WorldACL(coord.PermAll)
	}
	_, err := n.client.Create(ctx, n.path, data, acl, flags)
	if err != nil {
		return fmt.Errorf("create %s: %w", n.path, err)
	}
	return nil
}

// Exists reports whether the node currently exists, recording its metadata
// when present and clearing it when absent.
func (n *Node) Exists(ctx context.Context) (bool, error) {
	stat, err := n.client.Exists(ctx, n.path)
	if err != nil {
		return false, fmt.Errorf("exists %s: %w", n.path, err)
	}
	n.stat = stat
	return stat != nil, nil
}

// ExistsW is Exists plus a one-shot notification channel that fires on the
// node's next creation, deletion, or data change.
func (n *Node) ExistsW(ctx context.Context) (bool, <-chan coord.Event, error) {
	stat, ch, err := n.client.ExistsW(ctx, n.path)
	if err != nil {
		return false, nil, fmt.Errorf("exists %s: %w", n.path, err)
	}
	n.stat = stat
	return stat != nil, ch, nil
}

// Data returns the node's payload. On ErrNoNode the cached version state is
// cleared before the error is surfaced.
func (n *Node) Data(ctx context.Context) ([]byte, error) {
	data, stat, err := n.client.Get(ctx, n.path)
	if err != nil {
		if errors.Is(err, coord.ErrNoNode) {
			n.stat = nil
		}
		return nil, fmt.Errorf("get %s: %w", n.path, err)
	}
	n.stat = stat
	return data, nil
}

// DataW is Data plus a one-shot notification channel that fires on the
// node's next data change or deletion.
func (n *Node) DataW(ctx context.Context) ([]byte, <-chan coord.Event, error) {
	data, stat, ch, err := n.client.GetW(ctx, n.path)
	if err != nil {
		if errors.Is(err, coord.ErrNoNode) {
			n.stat = nil
		}
		return nil, nil, fmt.Errorf("get %s: %w", n.path, err)
	}
	n.stat = stat
	return data, ch, nil
}

// SetData writes the node's payload conditioned on the last observed
// version, or unconditioned when none was observed. A version conflict
// clears the cached state and propagates; the caller decides whether to
// reread and retry.
func (n *Node) SetData(ctx context.Context, data []byte) error {
	stat, err := n.client.Set(ctx, n.path, data, n.version())
	if err != nil {
		if errors.Is(err, coord.ErrBadVersion) {
			n.stat = nil
		}
		return fmt.Errorf("set %s: %w", n.path, err)
	}
	n.stat = stat
	return nil
}

// ACL returns the node's access-control list.
func (n *Node) ACL(ctx context.Context) ([]coord.ACL, error) {
	acl, stat, err := n.client.GetACL(ctx, n.path)
	if err != nil {
		return nil, fmt.Errorf("get acl %s: %w", n.path, err)
	}
	n.stat = stat
	return acl, nil
}

// SetACL writes the node's access-control list, version-conditioned the
// same way as SetData.
func (n *Node) SetACL(ctx context.Context, acl []coord.ACL) error {
	stat, err := n.client.SetACL(ctx, n.path, acl, n.aclVersion())
	if err != nil {
		if errors.Is(err, coord.ErrBadVersion) {
			n.stat = nil
		}
		return fmt.Errorf("set acl %s: %w", n.path, err)
	}
	n.stat = stat
	return nil
}

// Children returns handles for the node's children, ordered by name and
// sharing this handle's client. A non-empty prefix filters to children whose
// name starts with it.
func (n *Node) Children(ctx context.Context, prefix string) ([]*Node, error) {
	names, _, err := n.client.Children(ctx, n.path)
	if err != nil {
		return nil, fmt.Errorf("children %s: %w", n.path, err)
	}
	return n.wrapChildren(names, prefix), nil
}

// ChildrenW is Children plus a one-shot notification channel that fires on
// the next child added or removed under this node (not on the children's own
// data).
func (n *Node) ChildrenW(ctx context.Context, prefix string) ([]*Node, <-chan coord.Event, error) {
	names, _, ch, err := n.client.ChildrenW(ctx, n.path)
	if err != nil {
		return nil, nil, fmt.Errorf("children %s: %w", n.path, err)
	}
	return n.wrapChildren(names, prefix), ch, nil
}

func (n *Node) wrapChildren(names []string, prefix string) []*Node {
	sort.Strings(names)
	children := make([]*Node, 0, len(names))
	for _, name := range names {
		if prefix != "" && !strings.HasPrefix(name, prefix) {
			continue
		}
		children = append(children, NewNode(n.client, joinPath(n.path, name)))
	}
	return children
}

func joinPath(dir, name string) string {
	if dir == "/" {
		return "/" + name
	}
	return dir + "/" + name
}

// Package faketree is an in-memory coordination service for tests. It
// implements coord.Client with real sequential-suffix, ephemeral-node, and
// one-shot watch semantics, and supports multiple sessions so tests can
// exercise genuine cross-peer races.
package faketree

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/suyash-sneo/treesync/coord"
)

// ErrSessionClosed is returned for operations on a closed session.
var ErrSessionClosed = errors.New("faketree: session closed")

// Tree is the shared in-memory namespace. Sessions created from the same
// Tree see each other's writes and watch firings.
type Tree struct {
	mu       sync.Mutex
	root     *node
	nextSess int64

	nodeWatches  map[string][]chan coord.Event
	childWatches map[string][]chan coord.Event
}

type node struct {
	data     []byte
	version  int32
	cversion int32
	aversion int32
	acl      []coord.ACL
	children map[string]*node
	nextSeq  int64
	owner    int64 // ephemeral owner session id, 0 for persistent
}

// New returns an empty tree.
func New() *Tree {
	return &Tree{
		root:         newNode(nil, nil, 0),
		nodeWatches:  map[string][]chan coord.Event{},
		childWatches: map[string][]chan coord.Event{},
	}
}

func newNode(data []byte, acl []coord.ACL, owner int64) *node {
	if acl == nil {
		acl = coord.WorldACL(coord.PermAll)
	}
	return &node{
		data:     append([]byte(nil), data...),
		acl:      acl,
		children: map[string]*node{},
		owner:    owner,
	}
}

// Session is one client connection to the tree. It implements coord.Client.
// Closing it removes every ephemeral node it created, as session expiry
// would on the real service.
type Session struct {
	tree *Tree
	id   int64

	mu     sync.Mutex
	closed bool
}

// NewSession opens a session against the tree.
func (t *Tree) NewSession() *Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextSess++
	return &Session{tree: t, id: t.nextSess}
}

// Close expires the session: all its ephemeral nodes are deleted and the
// relevant watches fire.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	t := s.tree
	t.mu.Lock()
	defer t.mu.Unlock()
	for {
		path, ok := t.findEphemeral(t.root, "", s.id)
		if !ok {
			return
		}
		// Ephemerals cannot have children, removal is always legal.
		t.removeLocked(path)
	}
}

func (t *Tree) findEphemeral(n *node, prefix string, owner int64) (string, bool) {
	for name, child := range n.children {
		path := prefix + "/" + name
		if child.owner == owner {
			return path, true
		}
		if p, ok := t.findEphemeral(child, path, owner); ok {
			return p, true
		}
	}
	return "", false
}

func (s *Session) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	return nil
}

func (s *Session) Create(ctx context.Context, path string, data []byte, acl []coord.ACL, flags coord.CreateFlags) (string, error) {
	if err := s.check(ctx); err != nil {
		return "", err
	}
	dir, name, err := splitPath(path)
	if err != nil {
		return "", err
	}

	t := s.tree
	t.mu.Lock()
	defer t.mu.Unlock()

	parent := t.lookup(dir)
	if parent == nil {
		return "", coord.ErrNoNode
	}
	if flags&coord.FlagSequential != 0 {
		name = fmt.Sprintf("%s%010d", name, parent.nextSeq)
		parent.nextSeq++
	} else if _, ok := parent.children[name]; ok {
		return "", coord.ErrNodeExists
	}

	var owner int64
	if flags&coord.FlagEphemeral != 0 {
		owner = s.id
	}
	parent.children[name] = newNode(data, acl, owner)
	parent.cversion++

	created := joinPath(dir, name)
	t.fireNode(created, coord.EventCreated)
	t.fireChildren(dir, coord.EventChildrenChanged)
	return created, nil
}

func (s *Session) Exists(ctx context.Context, path string) (*coord.Stat, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	t := s.tree
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.lookup(path)
	if n == nil {
		return nil, nil
	}
	return statOf(n), nil
}

func (s *Session) ExistsW(ctx context.Context, path string) (*coord.Stat, <-chan coord.Event, error) {
	if err := s.check(ctx); err != nil {
		return nil, nil, err
	}
	t := s.tree
	t.mu.Lock()
	defer t.mu.Unlock()
	ch := make(chan coord.Event, 1)
	t.nodeWatches[path] = append(t.nodeWatches[path], ch)
	n := t.lookup(path)
	if n == nil {
		return nil, ch, nil
	}
	return statOf(n), ch, nil
}

func (s *Session) Get(ctx context.Context, path string) ([]byte, *coord.Stat, error) {
	if err := s.check(ctx); err != nil {
		return nil, nil, err
	}
	t := s.tree
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.lookup(path)
	if n == nil {
		return nil, nil, coord.ErrNoNode
	}
	return append([]byte(nil), n.data...), statOf(n), nil
}

func (s *Session) GetW(ctx context.Context, path string) ([]byte, *coord.Stat, <-chan coord.Event, error) {
	if err := s.check(ctx); err != nil {
		return nil, nil, nil, err
	}
	t := s.tree
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.lookup(path)
	if n == nil {
		return nil, nil, nil, coord.ErrNoNode
	}
	ch := make(chan coord.Event, 1)
	t.nodeWatches[path] = append(t.nodeWatches[path], ch)
	return append([]byte(nil), n.data...), statOf(n), ch, nil
}

func (s *Session) Set(ctx context.Context, path string, data []byte, version int32) (*coord.Stat, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	t := s.tree
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.lookup(path)
	if n == nil {
		return nil, coord.ErrNoNode
	}
	if version != coord.AnyVersion && version != n.version {
		return nil, coord.ErrBadVersion
	}
	n.data = append([]byte(nil), data...)
	n.version++
	t.fireNode(path, coord.EventDataChanged)
	return statOf(n), nil
}

func (s *Session) Delete(ctx context.Context, path string, version int32) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	t := s.tree
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.lookup(path)
	if n == nil {
		return coord.ErrNoNode
	}
	if version != coord.AnyVersion && version != n.version {
		return coord.ErrBadVersion
	}
	if len(n.children) > 0 {
		return coord.ErrNotEmpty
	}
	t.removeLocked(path)
	return nil
}

func (s *Session) Children(ctx context.Context, path string) ([]string, *coord.Stat, error) {
	if err := s.check(ctx); err != nil {
		return nil, nil, err
	}
	t := s.tree
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.lookup(path)
	if n == nil {
		return nil, nil, coord.ErrNoNode
	}
	return childNames(n), statOf(n), nil
}

func (s *Session) ChildrenW(ctx context.Context, path string) ([]string, *coord.Stat, <-chan coord.Event, error) {
	if err := s.check(ctx); err != nil {
		return nil, nil, nil, err
	}
	t := s.tree
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.lookup(path)
	if n == nil {
		return nil, nil, nil, coord.ErrNoNode
	}
	ch := make(chan coord.Event, 1)
	t.childWatches[path] = append(t.childWatches[path], ch)
	return childNames(n), statOf(n), ch, nil
}

func (s *Session) GetACL(ctx context.Context, path string) ([]coord.ACL, *coord.Stat, error) {
	if err := s.check(ctx); err != nil {
		return nil, nil, err
	}
	t := s.tree
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.lookup(path)
	if n == nil {
		return nil, nil, coord.ErrNoNode
	}
	return append([]coord.ACL(nil), n.acl...), statOf(n), nil
}

func (s *Session) SetACL(ctx context.Context, path string, acl []coord.ACL, version int32) (*coord.Stat, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	t := s.tree
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.lookup(path)
	if n == nil {
		return nil, coord.ErrNoNode
	}
	if version != coord.AnyVersion && version != n.aversion {
		return nil, coord.ErrBadVersion
	}
	n.acl = append([]coord.ACL(nil), acl...)
	n.aversion++
	return statOf(n), nil
}

// removeLocked unlinks the node at path and fires everything the removal
// affects: the node's own watches, child watches registered on it, and the
// parent's child watches.
func (t *Tree) removeLocked(path string) {
	dir, name, err := splitPath(path)
	if err != nil {
		return
	}
	parent := t.lookup(dir)
	if parent == nil {
		return
	}
	delete(parent.children, name)
	parent.cversion++
	t.fireNode(path, coord.EventDeleted)
	t.fireChildrenEvent(path, coord.Event{Type: coord.EventDeleted, Path: path})
	t.fireChildren(dir, coord.EventChildrenChanged)
}

func (t *Tree) lookup(path string) *node {
	if path == "/" || path == "" {
		return t.root
	}
	n := t.root
	for _, part := range strings.Split(strings.TrimPrefix(path, "/"), "/") {
		child, ok := n.children[part]
		if !ok {
			return nil
		}
		n = child
	}
	return n
}

func (t *Tree) fireNode(path string, typ coord.EventType) {
	watches := t.nodeWatches[path]
	delete(t.nodeWatches, path)
	for _, ch := range watches {
		ch <- coord.Event{Type: typ, Path: path}
		close(ch)
	}
}

func (t *Tree) fireChildren(path string, typ coord.EventType) {
	t.fireChildrenEvent(path, coord.Event{Type: typ, Path: path})
}

func (t *Tree) fireChildrenEvent(path string, ev coord.Event) {
	watches := t.childWatches[path]
	delete(t.childWatches, path)
	for _, ch := range watches {
		ch <- ev
		close(ch)
	}
}

func statOf(n *node) *coord.Stat {
	return &coord.Stat{
		Version:        n.version,
		Cversion:       n.cversion,
		Aversion:       n.aversion,
		NumChildren:    int32(len(n.children)),
		EphemeralOwner: n.owner,
	}
}

func childNames(n *node) []string {
	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func splitPath(path string) (dir, name string, err error) {
	if !strings.HasPrefix(path, "/") || strings.HasSuffix(path, "/") {
		return "", "", fmt.Errorf("faketree: invalid path %q", path)
	}
	i := strings.LastIndex(path, "/")
	dir, name = path[:i], path[i+1:]
	if name == "" || strings.Contains(name, "/") {
		return "", "", fmt.Errorf("faketree: invalid path %q", path)
	}
	if dir == "" {
		dir = "/"
	}
	return dir, name, nil
}

func joinPath(dir, name string) string {
	if dir == "/" {
		return "/" + name
	}
	return dir + "/" + name
}

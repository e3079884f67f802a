// Package coord defines the coordination-service contract the treesync
// primitives are built on: a hierarchical namespace of versioned nodes with
// atomic operations and one-shot change notifications.
package coord

import (
	"context"
	"errors"
)

// AnyVersion disables the optimistic version check on Set, Delete, and SetACL.
const AnyVersion int32 = -1

// CreateFlags select node lifecycle and naming behavior on Create.
type CreateFlags int32

const (
	// FlagEphemeral marks the node for automatic removal when the creating
	// session ends.
	FlagEphemeral CreateFlags = 1 << iota
	// FlagSequential asks the service to append a strictly increasing,
	// zero-padded counter to the requested path.
	FlagSequential
)

// Service error sentinels. Backends must map their native errors onto these
// so callers can test with errors.Is.
var (
	ErrNoNode     = errors.New("coord: node does not exist")
	ErrNodeExists = errors.New("coord: node already exists")
	ErrBadVersion = errors.New("coord: version conflict")
	ErrNotEmpty   = errors.New("coord: node has children")
)

// Stat is the node metadata returned by read and write acknowledgments.
type Stat struct {
	Version        int32
	Cversion       int32
	Aversion       int32
	NumChildren    int32
	EphemeralOwner int64
}

// ACL is a single access-control entry.
type ACL struct {
	Perms  int32
	Scheme string
	ID     string
}

// Permission bits for ACL entries.
const (
	PermRead int32 = 1 << iota
	PermWrite
	PermCreate
	PermDelete
	PermAdmin
	PermAll = PermRead | PermWrite | PermCreate | PermDelete | PermAdmin
)

// WorldACL returns the open/unsafe ACL granting perms to everyone. It is the
// default used throughout treesync when the caller supplies none.
func WorldACL(perms int32) []ACL {
	return []ACL{{Perms: perms, Scheme: "world", ID: "anyone"}}
}

// EventType describes what changed at a watched path.
type EventType int32

const (
	EventCreated EventType = iota + 1
	EventDeleted
	EventDataChanged
	EventChildrenChanged
)

// Event is a one-shot watch firing. It only signals that something changed;
// the receiver must re-read to learn the current state.
type Event struct {
	Type EventType
	Path string
	Err  error
}

// Client is the narrow operation set the primitives consume. Implementations
// must provide linearizable single-node operations; watches fire at most once
// per registration and reflect a state at least as new as the registration
// point. The *W variants return a channel that receives exactly one Event and
// is then closed.
type Client interface {
	// Create makes a new node and returns the actual path, which differs
	// from the requested one when FlagSequential is set.
	Create(ctx context.Context, path string, data []byte, acl []ACL, flags CreateFlags) (string, error)

	// Exists reports node metadata, or a nil Stat when the path is absent.
	Exists(ctx context.Context, path string) (*Stat, error)
	// ExistsW is Exists plus a watch on the path's next creation, deletion,
	// or data change. The watch is registered whether or not the node exists.
	ExistsW(ctx context.Context, path string) (*Stat, <-chan Event, error)

	// Get returns node data; ErrNoNode when absent.
	Get(ctx context.Context, path string) ([]byte, *Stat, error)
	// GetW is Get plus a watch on the node's next data change or deletion.
	GetW(ctx context.Context, path string) ([]byte, *Stat, <-chan Event, error)

	// Set writes node data conditioned on version (AnyVersion to skip the
	// check); ErrBadVersion on mismatch.
	Set(ctx context.Context, path string, data []byte, version int32) (*Stat, error)

	// Delete removes a node; ErrNoNode when absent, ErrBadVersion on
	// mismatch, ErrNotEmpty when it still has children.
	Delete(ctx context.Context, path string, version int32) error

	// Children lists direct child names in lexical order.
	Children(ctx context.Context, path string) ([]string, *Stat, error)
	// ChildrenW is Children plus a watch on the next child add or remove
	// under path (not on grandchildren).
	ChildrenW(ctx context.Context, path string) ([]string, *Stat, <-chan Event, error)

	// GetACL and SetACL follow the same version-conditioning as Get/Set.
	GetACL(ctx context.Context, path string) ([]ACL, *Stat, error)
	SetACL(ctx context.Context, path string, acl []ACL, version int32) (*Stat, error)
}

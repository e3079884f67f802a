// Package zk adapts the go-zookeeper client to the coord.Client contract.
package zk

import (
	"context"
	"errors"
	"time"

	gozk "github.com/go-zookeeper/zk"

	"github.com/suyash-sneo/treesync/coord"
)

// Client implements coord.Client against a live ZooKeeper ensemble.
type Client struct {
	conn *gozk.Conn
}

// Dial connects to the ensemble and returns a Client. Session management
// (reconnects, expiry) is handled by the underlying connection.
func Dial(servers []string, sessionTimeout time.Duration) (*Client, error) {
	conn, _, err := gozk.Connect(servers, sessionTimeout)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

// New wraps an existing connection.
func New(conn *gozk.Conn) *Client {
	return &Client{conn: conn}
}

// Close releases the underlying connection, expiring its ephemeral nodes.
func (c *Client) Close() {
	c.conn.Close()
}

func (c *Client) Create(ctx context.Context, path string, data []byte, acl []coord.ACL, flags coord.CreateFlags) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	created, err := c.conn.Create(path, data, zkFlags(flags), zkACL(acl))
	if err != nil {
		return "", mapErr(err)
	}
	return created, nil
}

func (c *Client) Exists(ctx context.Context, path string) (*coord.Stat, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	exists, stat, err := c.conn.Exists(path)
	if err != nil {
		return nil, mapErr(err)
	}
	if !exists {
		return nil, nil
	}
	return coordStat(stat), nil
}

func (c *Client) ExistsW(ctx context.Context, path string) (*coord.Stat, <-chan coord.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	exists, stat, watch, err := c.conn.ExistsW(path)
	if err != nil {
		return nil, nil, mapErr(err)
	}
	if !exists {
		return nil, adaptWatch(watch), nil
	}
	return coordStat(stat), adaptWatch(watch), nil
}

func (c *Client) Get(ctx context.Context, path string) ([]byte, *coord.Stat, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	data, stat, err := c.conn.Get(path)
	if err != nil {
		return nil, nil, mapErr(err)
	}
	return data, coordStat(stat), nil
}

func (c *Client) GetW(ctx context.Context, path string) ([]byte, *coord.Stat, <-chan coord.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, nil, err
	}
	data, stat, watch, err := c.conn.GetW(path)
	if err != nil {
		return nil, nil, nil, mapErr(err)
	}
	return data, coordStat(stat), adaptWatch(watch), nil
}

func (c *Client) Set(ctx context.Context, path string, data []byte, version int32) (*coord.Stat, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stat, err := c.conn.Set(path, data, version)
	if err != nil {
		return nil, mapErr(err)
	}
	return coordStat(stat), nil
}

func (c *Client) Delete(ctx context.Context, path string, version int32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return mapErr(c.conn.Delete(path, version))
}

func (c *Client) Children(ctx context.Context, path string) ([]string, *coord.Stat, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	names, stat, err := c.conn.Children(path)
	if err != nil {
		return nil, nil, mapErr(err)
	}
	return names, coordStat(stat), nil
}

func (c *Client) ChildrenW(ctx context.Context, path string) ([]string, *coord.Stat, <-chan coord.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, nil, err
	}
	names, stat, watch, err := c.conn.ChildrenW(path)
	if err != nil {
		return nil, nil, nil, mapErr(err)
	}
	return names, coordStat(stat), adaptWatch(watch), nil
}

func (c *Client) GetACL(ctx context.Context, path string) ([]coord.ACL, *coord.Stat, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	acl, stat, err := c.conn.GetACL(path)
	if err != nil {
		return nil, nil, mapErr(err)
	}
	return coordACL(acl), coordStat(stat), nil
}

func (c *Client) SetACL(ctx context.Context, path string, acl []coord.ACL, version int32) (*coord.Stat, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stat, err := c.conn.SetACL(path, zkACL(acl), version)
	if err != nil {
		return nil, mapErr(err)
	}
	return coordStat(stat), nil
}

// adaptWatch bridges the library's one-shot event channel to the coord form.
// The forwarding goroutine lives until the watch fires, matching the
// registration's own lifetime on the server.
func adaptWatch(watch <-chan gozk.Event) <-chan coord.Event {
	ch := make(chan coord.Event, 1)
	go func() {
		ev := <-watch
		ch <- coord.Event{Type: eventType(ev.Type), Path: ev.Path, Err: ev.Err}
		close(ch)
	}()
	return ch
}

func eventType(t gozk.EventType) coord.EventType {
	switch t {
	case gozk.EventNodeCreated:
		return coord.EventCreated
	case gozk.EventNodeDeleted:
		return coord.EventDeleted
	case gozk.EventNodeDataChanged:
		return coord.EventDataChanged
	case gozk.EventNodeChildrenChanged:
		return coord.EventChildrenChanged
	default:
		return coord.EventType(t)
	}
}

func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gozk.ErrNoNode):
		return coord.ErrNoNode
	case errors.Is(err, gozk.ErrNodeExists):
		return coord.ErrNodeExists
	case errors.Is(err, gozk.ErrBadVersion):
		return coord.ErrBadVersion
	case errors.Is(err, gozk.ErrNotEmpty):
		return coord.ErrNotEmpty
	default:
		return err
	}
}

func zkFlags(flags coord.CreateFlags) int32 {
	var out int32
	if flags&coord.FlagEphemeral != 0 {
		out |= gozk.FlagEphemeral
	}
	if flags&coord.FlagSequential != 0 {
		out |= gozk.FlagSequence
	}
	return out
}

func zkACL(acl []coord.ACL) []gozk.ACL {
	if acl == nil {
		return gozk.WorldACL(gozk.PermAll)
	}
	out := make([]gozk.ACL, len(acl))
	for i, a := range acl {
		out[i] = gozk.ACL{Perms: a.Perms, Scheme: a.Scheme, ID: a.ID}
	}
	return out
}

func coordACL(acl []gozk.ACL) []coord.ACL {
	out := make([]coord.ACL, len(acl))
	for i, a := range acl {
		out[i] = coord.ACL{Perms: a.Perms, Scheme: a.Scheme, ID: a.ID}
	}
	return out
}

func coordStat(stat *gozk.Stat) *coord.Stat {
	if stat == nil {
		return nil
	}
	return &coord.Stat{
		Version:        stat.Version,
		Cversion:       stat.Cversion,
		Aversion:       stat.Aversion,
		NumChildren:    stat.NumChildren,
		EphemeralOwner: stat.EphemeralOwner,
	}
}

package treesync

import (
	"context"
	"errors"
	"fmt"

	"github.com/suyash-sneo/treesync/coord"
)

const (
	queueEntryPrefix = "entry-"

	// MaxItemSize bounds queue payloads to what the service stores in a
	// single node.
	MaxItemSize = 1 << 20

	defaultMaxAttempts = 64
)

// Queue is a distributed FIFO queue over a directory of sequential child
// nodes. Entries are ordered by the sequence counter the service assigns at
// creation, which is strictly increasing across all producers; that, not
// wall-clock Put order, is the serialization point.
//
// The directory node itself must already exist; this layer does not create
// it. Entry nodes are ephemeral (dropped with the producer's session) unless
// WithPersistentEntries is set.
//
// A Queue keeps a soft local cache of known entry names. Entries may vanish
// concurrently as peers consume them; the cache tolerates that by skipping.
// A Queue is owned by a single goroutine and is not safe for concurrent use;
// cross-process concurrency comes from independent handles.
type Queue struct {
	client      coord.Client
	path        string
	acl         []coord.ACL
	persistent  bool
	maxAttempts int
	logger      Logger
	cached      []string
}

// QueueOption mutates Queue construction.
type QueueOption func(*Queue)

// WithPersistentEntries makes entries durable instead of bound to the
// producer's session.
func WithPersistentEntries() QueueOption {
	return func(q *Queue) { q.persistent = true }
}

// WithQueueACL sets the ACL applied to created entries.
func WithQueueACL(acl []coord.ACL) QueueOption {
	return func(q *Queue) { q.acl = acl }
}

// WithQueueLogger sets the logger used for race and retry events.
func WithQueueLogger(logger Logger) QueueOption {
	return func(q *Queue) { q.logger = logger }
}

// WithQueueMaxAttempts overrides the defensive bound on refill-and-retry
// cycles.
func WithQueueMaxAttempts(n int) QueueOption {
	return func(q *Queue) { q.maxAttempts = n }
}

// NewQueue returns a queue handle over the directory at path.
func NewQueue(client coord.Client, path string, opts ...QueueOption) *Queue {
	q := &Queue{
		client:      client,
		path:        path,
		acl:         coord.WorldACL(coord.PermAll),
		maxAttempts: defaultMaxAttempts,
		logger:      NopLogger(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Path returns the queue's directory path.
func (q *Queue) Path() string { return q.path }

// Put appends item to the queue. The service acknowledges creation before
// Put returns; the assigned sequence suffix is the entry's FIFO position.
func (q *Queue) Put(ctx context.Context, item []byte) error {
	if len(item) > MaxItemSize {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrInvalidItem, len(item), MaxItemSize)
	}
	flags := coord.FlagSequential
	if !q.persistent {
		flags |= coord.FlagEphemeral
	}
	_, err := q.client.Create(ctx, joinPath(q.path, queueEntryPrefix), item, q.acl, flags)
	if errors.Is(err, coord.ErrNoNode) {
		return fmt.Errorf("%w: %s", ErrQueueGone, q.path)
	}
	if err != nil {
		return fmt.Errorf("put %s: %w", q.path, err)
	}
	return nil
}

// Len returns the queue's current entry count. The value is an immediately
// stale snapshot, never exact accounting.
func (q *Queue) Len(ctx context.Context) (int, error) {
	stat, err := q.client.Exists(ctx, q.path)
	if err != nil {
		return 0, fmt.Errorf("qsize %s: %w", q.path, err)
	}
	if stat == nil {
		return 0, fmt.Errorf("%w: %s", ErrQueueGone, q.path)
	}
	return int(stat.NumChildren), nil
}

// Get removes and returns the oldest available entry, or ErrEmpty when the
// queue has none. It never blocks waiting for entries.
func (q *Queue) Get(ctx context.Context) ([]byte, error) {
	return q.retrieve(ctx, false)
}

// GetWait removes and returns the oldest available entry, suspending on a
// child watch while the queue is empty. A watch firing only means the
// directory changed, not that an entry survived for this caller; the
// retrieval re-lists and retries until it actually claims one. Bounded
// waiting is layered by the caller through ctx.
func (q *Queue) GetWait(ctx context.Context) ([]byte, error) {
	return q.retrieve(ctx, true)
}

// retrieve runs the claim loop: refill the cache from the directory, then
// walk cached names oldest-first, claiming an entry by reading and deleting
// its node. Delete is the claim point; an entry that vanishes before our
// delete was taken by a peer and is skipped, never surfaced. When the cache
// drains without a claim the whole cycle repeats, up to the defensive bound.
func (q *Queue) retrieve(ctx context.Context, wait bool) ([]byte, error) {
	for attempt := 0; attempt < q.maxAttempts; attempt++ {
		if len(q.cached) == 0 {
			watch, err := q.refill(ctx)
			if err != nil {
				return nil, err
			}
			if len(q.cached) == 0 {
				if !wait {
					return nil, ErrEmpty
				}
				q.logger.Debug("queue empty, waiting on child watch",
					Field{Key: "path", Value: q.path})
				select {
				case ev := <-watch:
					if ev.Err != nil {
						return nil, fmt.Errorf("queue watch %s: %w", q.path, ev.Err)
					}
					continue
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}
		}

		for len(q.cached) > 0 {
			name := q.cached[0]
			q.cached = q.cached[1:]
			entry := joinPath(q.path, name)

			data, _, err := q.client.Get(ctx, entry)
			if errors.Is(err, coord.ErrNoNode) {
				q.logger.Debug("entry gone before read, skipping",
					Field{Key: "entry", Value: entry})
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("get %s: %w", entry, err)
			}

			err = q.client.Delete(ctx, entry, coord.AnyVersion)
			if errors.Is(err, coord.ErrNoNode) {
				q.logger.Debug("entry claimed by peer, skipping",
					Field{Key: "entry", Value: entry})
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("delete %s: %w", entry, err)
			}
			return data, nil
		}
	}
	return nil, fmt.Errorf("%w: %d refill cycles on %s", ErrTooManyAttempts, q.maxAttempts, q.path)
}

// refill replaces the local cache with a fresh listing of the directory,
// ordered by sequence suffix, and registers a child watch so a pending
// waiter is woken by the next add or remove.
func (q *Queue) refill(ctx context.Context) (<-chan coord.Event, error) {
	names, _, watch, err := q.client.ChildrenW(ctx, q.path)
	if errors.Is(err, coord.ErrNoNode) {
		return nil, fmt.Errorf("%w: %s", ErrQueueGone, q.path)
	}
	if err != nil {
		return nil, fmt.Errorf("refill %s: %w", q.path, err)
	}
	q.cached = sortBySequence(names)
	return watch, nil
}

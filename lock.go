package treesync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/suyash-sneo/treesync/coord"
)

const (
	lockCandidatePrefix = "lock-"

	abandonTimeout = 5 * time.Second
)

// Lock is a distributed mutex over a directory of sequential ephemeral
// candidate nodes. Each Acquire creates a candidate; the candidate with the
// lowest sequence number holds the lock, and every other candidate watches
// its immediate predecessor rather than the head, so a release wakes exactly
// one waiter. Fairness is strict FIFO by candidate sequence number.
//
// Liveness under crashes comes from ephemerality: when a holder's session
// ends, the service removes its candidate and the next waiter's watch fires.
// How promptly that happens is the coordination client's concern.
//
// A Lock is owned by a single goroutine and is not safe for concurrent use;
// mutual exclusion across goroutines or processes is exercised through
// independent handles.
type Lock struct {
	client      coord.Client
	path        string
	acl         []coord.ACL
	maxAttempts int
	logger      Logger
	id          string
	candidate   string
	locked      bool
}

// LockOption mutates Lock construction.
type LockOption func(*Lock)

// WithLockACL sets the ACL applied to candidate nodes.
func WithLockACL(acl []coord.ACL) LockOption {
	return func(l *Lock) { l.acl = acl }
}

// WithLockLogger sets the logger used for wait and retry events.
func WithLockLogger(logger Logger) LockOption {
	return func(l *Lock) { l.logger = logger }
}

// WithLockMaxAttempts overrides the defensive bound on re-list cycles.
func WithLockMaxAttempts(n int) LockOption {
	return func(l *Lock) { l.maxAttempts = n }
}

// NewLock returns a lock handle over the directory at path. The directory
// must already exist.
func NewLock(client coord.Client, path string, opts ...LockOption) *Lock {
	l := &Lock{
		client:      client,
		path:        path,
		acl:         coord.WorldACL(coord.PermAll),
		maxAttempts: defaultMaxAttempts,
		logger:      NopLogger(),
		id:          uuid.NewString(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Path returns the lock's directory path.
func (l *Lock) Path() string { return l.path }

// Locked reports whether this handle currently holds the lock.
func (l *Lock) Locked() bool { return l.locked }

// Acquire blocks until this handle holds the lock. ErrAlreadyHeld is
// returned immediately if it already does. On ctx cancellation the pending
// candidate is withdrawn before the error is returned, so a timed-out
// acquire leaves nothing queued.
func (l *Lock) Acquire(ctx context.Context) error {
	if l.locked {
		return ErrAlreadyHeld
	}

	created, err := l.client.Create(ctx, joinPath(l.path, lockCandidatePrefix),
		[]byte(l.id), l.acl, coord.FlagEphemeral|coord.FlagSequential)
	if err != nil {
		return fmt.Errorf("create candidate under %s: %w", l.path, err)
	}
	l.candidate = created
	base := created[strings.LastIndex(created, "/")+1:]

	for attempt := 0; attempt < l.maxAttempts; attempt++ {
		names, _, err := l.client.Children(ctx, l.path)
		if err != nil {
			l.abandon()
			return fmt.Errorf("list candidates %s: %w", l.path, err)
		}
		names = sortBySequence(names)

		rank := indexOf(names, base)
		if rank < 0 {
			// Our candidate vanished, which only the service expiring our
			// session can cause.
			l.candidate = ""
			return fmt.Errorf("candidate %s no longer listed under %s", base, l.path)
		}
		if rank == 0 {
			l.locked = true
			return nil
		}

		// Any deletion among the lower-ranked siblings can change our rank,
		// so after the watch fires we re-list and recompute from scratch
		// rather than assume we advanced by one.
		predecessor := joinPath(l.path, names[rank-1])
		stat, watch, err := l.client.ExistsW(ctx, predecessor)
		if err != nil {
			l.abandon()
			return fmt.Errorf("watch predecessor %s: %w", predecessor, err)
		}
		if stat == nil {
			// Predecessor vanished between the listing and the watch.
			continue
		}

		l.logger.Debug("waiting on predecessor",
			Field{Key: "candidate", Value: base},
			Field{Key: "predecessor", Value: predecessor})
		select {
		case ev := <-watch:
			if ev.Err != nil {
				l.abandon()
				return fmt.Errorf("predecessor watch %s: %w", predecessor, ev.Err)
			}
		case <-ctx.Done():
			l.abandon()
			return ctx.Err()
		}
	}

	l.abandon()
	return fmt.Errorf("%w: %d re-list cycles on %s", ErrTooManyAttempts, l.maxAttempts, l.path)
}

// Release gives up the lock and makes the handle reusable for a subsequent
// Acquire. ErrNotHeld is returned if the lock is not held.
func (l *Lock) Release(ctx context.Context) error {
	if !l.locked {
		return ErrNotHeld
	}
	err := l.client.Delete(ctx, l.candidate, coord.AnyVersion)
	if err != nil && !errors.Is(err, coord.ErrNoNode) {
		return fmt.Errorf("delete candidate %s: %w", l.candidate, err)
	}
	l.locked = false
	l.candidate = ""
	return nil
}

// abandon withdraws a candidate that will not become the holder. Best
// effort on a fresh context, since the caller's may already be cancelled.
func (l *Lock) abandon() {
	if l.candidate == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), abandonTimeout)
	defer cancel()
	if err := l.client.Delete(ctx, l.candidate, coord.AnyVersion); err != nil && !errors.Is(err, coord.ErrNoNode) {
		l.logger.Warn("abandon candidate failed",
			Field{Key: "candidate", Value: l.candidate},
			Field{Key: "err", Value: err})
	}
	l.candidate = ""
}

func indexOf(names []string, name string) int {
	for i, n := range names {
		if n == name {
			return i
		}
	}
	return -1
}

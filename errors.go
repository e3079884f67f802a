package treesync

import "errors"

var (
	// ErrEmpty reports a non-waiting Get on a queue with no entries. This is
	// an expected condition, not a failure.
	ErrEmpty = errors.New("treesync: queue is empty")

	// ErrQueueGone reports that the queue's backing directory node does not
	// exist (destroyed, or never created).
	ErrQueueGone = errors.New("treesync: queue node does not exist")

	// ErrInvalidItem reports a Put payload the service cannot store.
	ErrInvalidItem = errors.New("treesync: invalid queue item")

	// ErrAlreadyHeld reports Acquire on a handle that already holds the lock.
	ErrAlreadyHeld = errors.New("treesync: lock already held")

	// ErrNotHeld reports Release on a handle that does not hold the lock.
	ErrNotHeld = errors.New("treesync: lock not held")

	// ErrTooManyAttempts reports that a race-retry loop hit its defensive
	// bound without making progress.
	ErrTooManyAttempts = errors.New("treesync: too many retry attempts")
)

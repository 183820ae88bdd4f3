// Package storage implements the named-collection store behind all engine
// state. Collections are JSON documents replaced wholesale under a
// per-collection lock, which is what makes the engine's invariant checks
// (one open discussion per sector, serial execution) atomic: the check and
// the write happen inside one UpdateCollection mutation.
package storage

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/ayushsreejith06/MAX-sub002/internal/apperrors"
)

// Collection names every document the engine persists.
type Collection string

const (
	CollectionSectors       Collection = "sectors"
	CollectionAgents        Collection = "agents"
	CollectionDiscussions   Collection = "discussions"
	CollectionExecutionLogs Collection = "executionLogs"
	CollectionUserAccount   Collection = "userAccount"
	CollectionRules         Collection = "simulationRules"
)

// Collections lists every known collection, in boot order.
var Collections = []Collection{
	CollectionSectors,
	CollectionAgents,
	CollectionDiscussions,
	CollectionExecutionLogs,
	CollectionUserAccount,
	CollectionRules,
}

// MutateFunc receives the current JSON snapshot of a collection (nil when
// the collection does not exist yet) and returns the full replacement.
// Returning an error aborts the update and leaves the collection
// untouched; the error is surfaced to the caller unchanged.
type MutateFunc func(current []byte) ([]byte, error)

// Store is the backend contract. Implementations must make
// UpdateCollection atomic per collection: concurrent updates to the same
// collection serialize, and a mutation never observes a torn snapshot.
type Store interface {
	ReadCollection(ctx context.Context, col Collection) ([]byte, error)
	UpdateCollection(ctx context.Context, col Collection, fn MutateFunc) error
	Ping(ctx context.Context) error
	Close() error
}

const (
	updateRetries      = 3
	updateRetryBackoff = 50 * time.Millisecond
)

// UpdateWithRetry runs store.UpdateCollection, retrying on storage
// conflicts (lock starvation, serialization failures) with linear backoff
// plus jitter. Domain errors from the mutation abort immediately.
func UpdateWithRetry(ctx context.Context, store Store, col Collection, fn MutateFunc) error {
	var lastErr error
	for attempt := 0; attempt <= updateRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * updateRetryBackoff
			backoff += time.Duration(rand.Int63n(int64(updateRetryBackoff)))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = store.UpdateCollection(ctx, col, fn)
		if lastErr == nil {
			return nil
		}
		if !errors.Is(lastErr, apperrors.ErrStorageConflict) {
			return lastErr
		}
	}
	return lastErr
}

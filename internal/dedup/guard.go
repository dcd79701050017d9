// Package dedup keeps redelivered webhook events from starting the same
// stabilization job twice.
package dedup

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/vidstab-bot/messenger-webhook-go/internal/observability"
	"github.com/vidstab-bot/messenger-webhook-go/pkg/logger"
)

// KeySeparator joins the timestamp and sender id of a dedup key.
const KeySeparator = "_"

// Marker is the placeholder body stored under a dedup key. Only the key's
// existence carries meaning.
const Marker = "*"

// KeyStore is a durable key space with an existence check and a write.
type KeyStore interface {
	Exists(ctx context.Context, key string) (bool, error)
	Put(ctx context.Context, key string) error
}

// ConditionalStore is a KeyStore that can write a key only when it is absent,
// atomically. PutIfAbsent returns false when the key already existed.
type ConditionalStore interface {
	KeyStore
	PutIfAbsent(ctx context.Context, key string) (bool, error)
}

// Key builds the dedup key of a messaging event. Redeliveries of the same
// event carry the same timestamp and sender, so they produce the same key.
func Key(timestamp int64, senderID string) string {
	return strconv.FormatInt(timestamp, 10) + KeySeparator + senderID
}

// Guard decides whether an event may start processing. Markers it writes
// are never removed.
type Guard struct {
	store KeyStore
}

// NewGuard creates a Guard backed by store.
func NewGuard(store KeyStore) *Guard {
	return &Guard{store: store}
}

// Atomic reports whether the guard serializes concurrent callers through a
// conditional write.
func (g *Guard) Atomic() bool {
	_, ok := g.store.(ConditionalStore)
	return ok
}

// ShouldProcess returns true when key has not been seen before and marks it
// as seen. The marker is written before returning, so a job started after a
// true result is covered even if it runs for minutes.
//
// With a ConditionalStore the write itself is the only serialization point.
// With a plain KeyStore the check and the write are separate calls, so two
// concurrent callers can both observe the key as absent and both get true;
// sequential redeliveries are still rejected.
func (g *Guard) ShouldProcess(ctx context.Context, key string) (bool, error) {
	var (
		created bool
		err     error
	)

	if cs, ok := g.store.(ConditionalStore); ok {
		created, err = cs.PutIfAbsent(ctx, key)
		if err != nil {
			err = fmt.Errorf("write dedup marker: %w", err)
		}
	} else {
		created, err = g.checkThenWrite(ctx, key)
	}

	if err != nil {
		observability.DedupChecks.WithLabelValues("error").Inc()
		return false, err
	}

	if !created {
		observability.DedupChecks.WithLabelValues("duplicate").Inc()
		logger.Log.Info("Dedup marker exists", zap.String("dedupKey", key))
		return false, nil
	}

	observability.DedupChecks.WithLabelValues("new").Inc()
	logger.Log.Debug("Dedup marker written", zap.String("dedupKey", key))
	return true, nil
}

func (g *Guard) checkThenWrite(ctx context.Context, key string) (bool, error) {
	exists, err := g.store.Exists(ctx, key)
	if err != nil {
		return false, fmt.Errorf("check dedup marker: %w", err)
	}
	if exists {
		return false, nil
	}

	if err := g.store.Put(ctx, key); err != nil {
		return false, fmt.Errorf("write dedup marker: %w", err)
	}
	return true, nil
}

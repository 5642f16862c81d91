package authz

import (
	"context"
	"log/slog"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"
)

// InvalidateChannel carries principal ids whose snapshots must be dropped.
// The payload "0" clears every snapshot.
const InvalidateChannel = "authz.invalidate"

// Broadcaster fans cache invalidations out to every process sharing Redis.
type Broadcaster struct {
	client    *redis.Client
	cache     *Cache
	logger    *slog.Logger
	channel   string
	ready     chan struct{}
	readyOnce sync.Once
}

// NewBroadcaster constructs a Broadcaster. cache may be nil for publish-only use (the worker).
func NewBroadcaster(client *redis.Client, cache *Cache, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		client:  client,
		cache:   cache,
		logger:  logger,
		channel: InvalidateChannel,
		ready:   make(chan struct{}),
	}
}

// Publish announces that principalID's snapshots are stale. 0 means everyone.
func (b *Broadcaster) Publish(ctx context.Context, principalID int64) error {
	if b == nil || b.client == nil {
		return nil
	}
	return b.client.Publish(ctx, b.channel, strconv.FormatInt(principalID, 10)).Err()
}

// InvalidatePrincipal publishes an invalidation for principalID.
func (b *Broadcaster) InvalidatePrincipal(ctx context.Context, principalID int64) {
	if err := b.Publish(ctx, principalID); err != nil && b.logger != nil {
		b.logger.Warn("authz publish invalidation", slog.Int64("principal_id", principalID), slog.Any("error", err))
	}
}

// InvalidateEveryone publishes an invalidation for every principal.
func (b *Broadcaster) InvalidateEveryone(ctx context.Context) {
	b.InvalidatePrincipal(ctx, 0)
}

// Ready is closed once Run has subscribed.
func (b *Broadcaster) Ready() <-chan struct{} {
	return b.ready
}

// Run applies invalidations received from other processes until ctx ends.
func (b *Broadcaster) Run(ctx context.Context) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer func() {
		_ = sub.Close()
	}()
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	b.readyOnce.Do(func() { close(b.ready) })

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.apply(msg.Payload)
		}
	}
}

func (b *Broadcaster) apply(payload string) {
	if b.cache == nil {
		return
	}
	id, err := strconv.ParseInt(payload, 10, 64)
	if err != nil {
		if b.logger != nil {
			b.logger.Warn("authz invalid invalidation payload", slog.String("payload", payload))
		}
		return
	}
	if id == 0 {
		b.cache.Purge()
		return
	}
	b.cache.InvalidatePrincipal(id)
}

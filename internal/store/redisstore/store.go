// Package redisstore keeps the token blacklist in Redis with per-entry expiry.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"worknest.io/internal/auth"
)

const keyPrefix = "worknest:blacklist:"

var _ auth.BlacklistStore = (*Blacklist)(nil)

// Blacklist implements auth.BlacklistStore. Entries expire with the token they revoke,
// so no pruning is needed.
type Blacklist struct {
	client *redis.Client
	now    func() time.Time
}

// New wraps an existing client.
func New(client *redis.Client) *Blacklist {
	return &Blacklist{client: client, now: time.Now}
}

// NewFromURL parses a redis:// URL, connects and pings.
func NewFromURL(ctx context.Context, url string) (*Blacklist, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return New(client), nil
}

func (b *Blacklist) Close() error { return b.client.Close() }

// Ping reports whether Redis is reachable.
func (b *Blacklist) Ping(ctx context.Context) error { return b.client.Ping(ctx).Err() }

// InsertBlacklistEntry stores the entry until its token expires. Existing keys are
// kept and report false, as do entries that have already expired.
func (b *Blacklist) InsertBlacklistEntry(ctx context.Context, entry auth.BlacklistEntry) (bool, error) {
	ttl := entry.ExpiresAt.Sub(b.now())
	if ttl <= 0 {
		return false, nil
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return false, fmt.Errorf("encode blacklist entry: %w", err)
	}
	created, err := b.client.SetNX(ctx, keyPrefix+entry.TokenHash, payload, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("store blacklist entry: %w", err)
	}
	return created, nil
}

func (b *Blacklist) IsBlacklisted(ctx context.Context, tokenHash string) (bool, error) {
	n, err := b.client.Exists(ctx, keyPrefix+tokenHash).Result()
	if err != nil {
		return false, fmt.Errorf("lookup blacklist entry: %w", err)
	}
	return n > 0, nil
}

// Entry returns the stored record for tokenHash.
func (b *Blacklist) Entry(ctx context.Context, tokenHash string) (auth.BlacklistEntry, error) {
	raw, err := b.client.Get(ctx, keyPrefix+tokenHash).Bytes()
	if errors.Is(err, redis.Nil) {
		return auth.BlacklistEntry{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.BlacklistEntry{}, err
	}
	var entry auth.BlacklistEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return auth.BlacklistEntry{}, fmt.Errorf("decode blacklist entry: %w", err)
	}
	return entry, nil
}

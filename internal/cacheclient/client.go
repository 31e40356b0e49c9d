// Package cacheclient wraps a Redis connection with a tolerant,
// never-crash contract: every method returns a best-effort result, and
// callers fall back to a no-op rather than propagate a fatal error.
package cacheclient

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Client is a best-effort key/value + list store.
type Client struct {
	rdb    *redis.Client
	prefix string
	log    zerolog.Logger
}

// New builds a Client against addr (host:port), namespacing every key
// under prefix (e.g. "mev:"); the prefix is used exactly as given.
func New(addr, prefix string, log zerolog.Logger) *Client {
	return &Client{
		rdb: redis.NewClient(&redis.Options{
			Addr:         addr,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  2 * time.Second,
			WriteTimeout: 2 * time.Second,
		}),
		prefix: prefix,
		log:    log.With().Str("component", "cacheclient").Logger(),
	}
}

func (c *Client) key(k string) string { return c.prefix + k }

// Connected reports whether the cache answers a PING right now. It is a
// cheap check, itself tolerant of failure: an unreachable cache yields false.
func (c *Client) Connected(ctx context.Context) bool {
	if c.rdb == nil {
		return false
	}
	return c.rdb.Ping(ctx).Err() == nil
}

// SetWithTTL writes value under key with the given TTL. Errors are
// logged and swallowed, never returned as fatal — the caller treats a
// false result as "cache unavailable, continue".
func (c *Client) SetWithTTL(ctx context.Context, key string, value string, ttl time.Duration) bool {
	if err := c.rdb.Set(ctx, c.key(key), value, ttl).Err(); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("cache set failed")
		return false
	}
	return true
}

// Get returns the stored value and whether it was present. A
// disconnected cache returns ("", false) rather than an error.
func (c *Client) Get(ctx context.Context, key string) (string, bool) {
	v, err := c.rdb.Get(ctx, c.key(key)).Result()
	if err == redis.Nil {
		return "", false
	}
	if err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("cache get failed")
		return "", false
	}
	return v, true
}

// Delete removes key, best-effort.
func (c *Client) Delete(ctx context.Context, key string) {
	if err := c.rdb.Del(ctx, c.key(key)).Err(); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("cache delete failed")
	}
}

// TTL returns the remaining time-to-live, or -1 if unknown/disconnected.
func (c *Client) TTL(ctx context.Context, key string) time.Duration {
	d, err := c.rdb.TTL(ctx, c.key(key)).Result()
	if err != nil {
		return -1
	}
	return d
}

// KeysByPrefix scans (not KEYS — non-blocking on a live server) for keys
// matching prefix and returns them with the namespace prefix stripped.
func (c *Client) KeysByPrefix(ctx context.Context, prefix string) []string {
	var out []string
	iter := c.rdb.Scan(ctx, 0, c.key(prefix)+"*", 0).Iterator()
	for iter.Next(ctx) {
		out = append(out, iter.Val()[len(c.prefix):])
	}
	if err := iter.Err(); err != nil {
		c.log.Warn().Err(err).Str("prefix", prefix).Msg("cache scan failed")
		return nil
	}
	return out
}

// ListPushLeft left-pushes value onto the list at key.
func (c *Client) ListPushLeft(ctx context.Context, key, value string) bool {
	if err := c.rdb.LPush(ctx, c.key(key), value).Err(); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("cache lpush failed")
		return false
	}
	return true
}

// ListTrim trims the list at key to [start, stop].
func (c *Client) ListTrim(ctx context.Context, key string, start, stop int64) {
	if err := c.rdb.LTrim(ctx, c.key(key), start, stop).Err(); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("cache ltrim failed")
	}
}

// ListRange returns the list elements in [start, stop], or nil if the
// cache is unreachable.
func (c *Client) ListRange(ctx context.Context, key string, start, stop int64) []string {
	vals, err := c.rdb.LRange(ctx, c.key(key), start, stop).Result()
	if err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("cache lrange failed")
		return nil
	}
	return vals
}

// Close releases the underlying connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

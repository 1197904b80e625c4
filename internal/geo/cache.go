package geo

import (
	"context"
	"errors"
	"time"

	"github.com/dvloznov/securepath/internal/ingest"
	"github.com/dvloznov/securepath/internal/logger"
	"github.com/redis/go-redis/v9"
)

// DefaultTTL is how long a lookup stays cached.
const DefaultTTL = 24 * time.Hour

const keyPrefix = "geo:"

// Cache puts a Redis read-through cache in front of another resolver. Unknown
// addresses are cached as "" so misses are not retried on every row.
type Cache struct {
	client redis.UniversalClient
	next   ingest.CountryResolver
	ttl    time.Duration
}

// NewCache wraps next. A non-positive ttl uses DefaultTTL.
func NewCache(client redis.UniversalClient, next ingest.CountryResolver, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{client: client, next: next, ttl: ttl}
}

// Country implements ingest.CountryResolver. Redis failures fall through to
// the wrapped resolver.
func (c *Cache) Country(ctx context.Context, ip string) (string, error) {
	log := logger.FromContext(ctx)

	country, err := c.client.Get(ctx, keyPrefix+ip).Result()
	switch {
	case err == nil:
		return country, nil
	case !errors.Is(err, redis.Nil):
		log.Warn().Err(err).Str("ip", ip).Msg("Geo cache read failed")
	}

	country, err = c.next.Country(ctx, ip)
	if err != nil {
		return "", err
	}
	if err := c.client.Set(ctx, keyPrefix+ip, country, c.ttl).Err(); err != nil {
		log.Warn().Err(err).Str("ip", ip).Msg("Geo cache write failed")
	}
	return country, nil
}

var (
	_ ingest.CountryResolver = (*Cache)(nil)
	_ ingest.CountryResolver = (*MaxMind)(nil)
)

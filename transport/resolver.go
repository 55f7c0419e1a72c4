package transport

import (
	"context"
	"fmt"
	"net"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"
)

// Resolver turns a hostname into addresses. Client construction calls it
// synchronously on the I/O loop, so implementations should be quick or
// cached; the system resolver is wrapped in a CachingResolver by default.
type Resolver interface {
	LookupIP(ctx context.Context, host string) ([]net.IP, error)
}

// systemResolver delegates to the process resolver.
type systemResolver struct {
	r *net.Resolver
}

// NewSystemResolver returns a Resolver backed by net.DefaultResolver.
func NewSystemResolver() Resolver {
	return &systemResolver{r: net.DefaultResolver}
}

func (s *systemResolver) LookupIP(ctx context.Context, host string) ([]net.IP, error) {
	addrs, err := s.r.LookupIP(ctx, "ip", host)
	if err != nil {
		return nil, fmt.Errorf("resolving %q: %w", host, err)
	}
	return addrs, nil
}

// CachingResolver memoizes successful lookups in an expiring LRU, so repeated
// client constructions against the same host do not stall the I/O loop on the
// network. Failures are not cached.
type CachingResolver struct {
	inner Resolver
	cache *lru.LRU[string, []net.IP]
}

// NewCachingResolver wraps inner with an LRU of the given capacity whose
// entries expire after ttl.
func NewCachingResolver(inner Resolver, size int, ttl time.Duration) *CachingResolver {
	return &CachingResolver{
		inner: inner,
		cache: lru.NewLRU[string, []net.IP](size, nil, ttl),
	}
}

func (c *CachingResolver) LookupIP(ctx context.Context, host string) ([]net.IP, error) {
	if addrs, ok := c.cache.Get(host); ok {
		logrus.WithFields(logrus.Fields{
			"function": "CachingResolver.LookupIP",
			"host":     host,
		}).Debug("Resolver cache hit")
		return addrs, nil
	}

	addrs, err := c.inner.LookupIP(ctx, host)
	if err != nil {
		return nil, err
	}
	c.cache.Add(host, addrs)
	return addrs, nil
}

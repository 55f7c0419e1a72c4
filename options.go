package quictransport

import (
	"os"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

// Validation bounds for environment overrides.
const (
	// MinResolverTTLSeconds is the minimum resolver cache TTL.
	MinResolverTTLSeconds = 1
	// MaxResolverTTLSeconds is the maximum resolver cache TTL (one day).
	MaxResolverTTLSeconds = 86400
)

// Options is the runtime configuration passed to New. All fields have
// sensible defaults; use NewOptions and override what you need.
type Options struct {
	// ALPN is the application protocol negotiated on every handshake.
	ALPN string

	// LogLevel sets the process log level the first time a runtime is
	// created ("debug", "info", "warn", "error").
	LogLevel string

	// EnableDatagrams negotiates unreliable datagram support.
	EnableDatagrams bool

	// HandshakeTimeout bounds a single handshake; MaxIdleTimeout tears
	// down sessions with no activity.
	HandshakeTimeout time.Duration
	MaxIdleTimeout   time.Duration

	// ReceiveBufferSize and SendBufferSize configure server socket kernel
	// buffers. Zero selects defaults sized for a few peers.
	ReceiveBufferSize int
	SendBufferSize    int

	// ResolverCacheSize and ResolverCacheTTL tune the hostname cache used
	// by client construction.
	ResolverCacheSize int
	ResolverCacheTTL  time.Duration
}

// NewOptions returns the default configuration with environment overrides
// applied.
func NewOptions() *Options {
	o := &Options{
		ALPN:              "quictransport",
		LogLevel:          "info",
		HandshakeTimeout:  10 * time.Second,
		MaxIdleTimeout:    30 * time.Second,
		ResolverCacheSize: 128,
		ResolverCacheTTL:  5 * time.Minute,
	}
	applyEnvironmentOverrides(o)
	return o
}

// applyEnvironmentOverrides updates o from the process environment:
//   - QUICTRANSPORT_LOG_LEVEL: logrus level name
//   - QUICTRANSPORT_RESOLVER_TTL: resolver cache TTL in seconds
//
// Invalid values are logged and ignored.
func applyEnvironmentOverrides(o *Options) {
	if lvl := os.Getenv("QUICTRANSPORT_LOG_LEVEL"); lvl != "" {
		if _, err := logrus.ParseLevel(lvl); err != nil {
			logrus.WithFields(logrus.Fields{
				"function":    "applyEnvironmentOverrides",
				"env_var":     "QUICTRANSPORT_LOG_LEVEL",
				"value":       lvl,
				"using_value": o.LogLevel,
			}).Warn("Invalid QUICTRANSPORT_LOG_LEVEL, using default")
		} else {
			o.LogLevel = lvl
		}
	}

	if ttlStr := os.Getenv("QUICTRANSPORT_RESOLVER_TTL"); ttlStr != "" {
		ttl, err := strconv.Atoi(ttlStr)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function":    "applyEnvironmentOverrides",
				"env_var":     "QUICTRANSPORT_RESOLVER_TTL",
				"value":       ttlStr,
				"error":       err.Error(),
				"using_value": o.ResolverCacheTTL,
			}).Warn("Failed to parse QUICTRANSPORT_RESOLVER_TTL, using default")
			return
		}
		if ttl < MinResolverTTLSeconds || ttl > MaxResolverTTLSeconds {
			logrus.WithFields(logrus.Fields{
				"function":    "applyEnvironmentOverrides",
				"env_var":     "QUICTRANSPORT_RESOLVER_TTL",
				"value":       ttl,
				"min":         MinResolverTTLSeconds,
				"max":         MaxResolverTTLSeconds,
				"using_value": o.ResolverCacheTTL,
			}).Warn("QUICTRANSPORT_RESOLVER_TTL out of bounds, using default")
			return
		}
		o.ResolverCacheTTL = time.Duration(ttl) * time.Second
	}
}

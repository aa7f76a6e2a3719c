// Package kv connects to the Valkey/Redis instance that backs a Room's durable collaborators: the log bucket store
// (internal/logstore) and the usage counters (internal/usage). Rooms themselves are held in memory only; this client
// is the one piece of state that survives a Room's hibernation.
package kv

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Connect parses the store URL, connects, and pings to verify reachability. The valkey:// scheme is rewritten to
// redis:// for go-redis compatibility since the driver only recognises the latter. dialTimeout bounds how long the
// client waits when establishing new connections.
func Connect(ctx context.Context, rawURL string, dialTimeout time.Duration) (*redis.Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse store URL: %w", err)
	}
	if strings.EqualFold(parsed.Scheme, "valkey") {
		parsed.Scheme = "redis"
	}

	opts, err := redis.ParseURL(parsed.String())
	if err != nil {
		return nil, fmt.Errorf("parse store URL: %w", err)
	}
	opts.DialTimeout = dialTimeout

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping store: %w", err)
	}

	return client, nil
}

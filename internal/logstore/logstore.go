// Package logstore implements the hour-keyed log bucket store a Room uses to retain recent traffic for newly
// connected admin observers. It is the Room's single durable collaborator for message history, backed by the same
// Valkey/Redis client the usage counters use (internal/kv), following the append/trim/expire pipeline the teacher
// uses for its own session replay buffer.
package logstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

const hourKeyLayout = "2006-01-02-15"

// StoredLog is a single archived message envelope.
type StoredLog struct {
	ID           string          `json:"id"`
	Timestamp    int64           `json:"timestamp"`
	MessageType  string          `json:"messageType"`
	Direction    Direction       `json:"direction"`
	Envelope     json.RawMessage `json:"envelope"`
	ClientID     string          `json:"clientId,omitempty"`
	ClientRole   string          `json:"clientRole,omitempty"`
	ProjectID    string          `json:"projectId"`
	FromClientID string          `json:"fromClientId,omitempty"`
}

// Direction classifies a StoredLog relative to the Room.
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// HourKey returns the UTC floor-to-hour bucket key for t, e.g. "2025-03-04-17".
func HourKey(t time.Time) string {
	return t.UTC().Format(hourKeyLayout)
}

func bucketKey(hourKey string) string { return "logs:" + hourKey }

// Store reads and writes LogBucket entries in Valkey/Redis.
type Store struct {
	rdb       *redis.Client
	maxPerHour int
	retention  time.Duration
}

// New returns a Store bounding each hourly bucket at maxPerHour entries and expiring buckets after retention.
func New(rdb *redis.Client, maxPerHour int, retention time.Duration) *Store {
	return &Store{rdb: rdb, maxPerHour: maxPerHour, retention: retention}
}

// Append inserts log at the head of its hour's bucket (newest-first), trims the bucket to maxPerHour entries, and
// refreshes the bucket's TTL to the retention window. Refreshing TTL on every write means Valkey's own expiry acts
// as a defense-in-depth backstop alongside the explicit compaction pass Compact performs on idle-alarm fire.
func (s *Store) Append(ctx context.Context, log StoredLog) (hourKey string, err error) {
	hourKey = HourKey(time.UnixMilli(log.Timestamp))
	key := bucketKey(hourKey)

	entry, err := json.Marshal(log)
	if err != nil {
		return hourKey, fmt.Errorf("marshal stored log: %w", err)
	}

	pipe := s.rdb.Pipeline()
	pipe.LPush(ctx, key, entry)
	pipe.LTrim(ctx, key, 0, int64(s.maxPerHour-1))
	pipe.Expire(ctx, key, s.retention)
	if _, err := pipe.Exec(ctx); err != nil {
		return hourKey, fmt.Errorf("append log: %w", err)
	}
	return hourKey, nil
}

// Replay reads up to limit of the most recent logs across the last hourCount hourly buckets (including the current
// hour), dropping anything older than the retention window and sorted newest-first.
func (s *Store) Replay(ctx context.Context, now time.Time, hourCount, limit int) ([]StoredLog, error) {
	cutoff := now.Add(-s.retention).UnixMilli()

	var all []StoredLog
	for i := 0; i < hourCount; i++ {
		hourKey := HourKey(now.Add(-time.Duration(i) * time.Hour))
		raw, err := s.rdb.LRange(ctx, bucketKey(hourKey), 0, -1).Result()
		if err != nil {
			return nil, fmt.Errorf("read bucket %s: %w", hourKey, err)
		}
		for _, item := range raw {
			var log StoredLog
			if err := json.Unmarshal([]byte(item), &log); err != nil {
				continue
			}
			if log.Timestamp < cutoff {
				continue
			}
			all = append(all, log)
		}
	}

	sort.Slice(all, func(i, j int) bool { return all[i].Timestamp > all[j].Timestamp })

	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// Compact deletes any of the given hour-key buckets whose hour began before the retention cutoff (now minus the
// retention period); a bucket straddling the cutoff is deleted whole, including its entries still inside the window. The
// Room tracks which hour keys it has actually written to (it is the bucket store's only writer) and passes that set
// here on idle-alarm fire; TTL already expires individual buckets, so this is a belt-and-braces pass rather than the
// only mechanism preventing unbounded growth.
func (s *Store) Compact(ctx context.Context, now time.Time, hourKeys []string) error {
	cutoff := now.Add(-s.retention)

	var stale []string
	for _, hk := range hourKeys {
		t, err := time.ParseInLocation(hourKeyLayout, hk, time.UTC)
		if err != nil {
			continue
		}
		if t.Before(cutoff) {
			stale = append(stale, bucketKey(hk))
		}
	}
	if len(stale) == 0 {
		return nil
	}
	if err := s.rdb.Del(ctx, stale...).Err(); err != nil {
		return fmt.Errorf("compact log buckets: %w", err)
	}
	return nil
}

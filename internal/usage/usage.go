// Package usage tracks monotonic per-project request counters in Valkey/Redis: a lifetime total and a per-day
// bucket, incremented once for every inbound application message a Room successfully parses.
package usage

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

const dateLayout = "2006-01-02"

func totalKey(projectID string) string { return "usage:project:" + projectID + ":total" }
func dayKey(projectID, date string) string {
	return "usage:project:" + projectID + ":day:" + date
}

// Counter increments and reports per-project usage counters.
type Counter struct {
	rdb *redis.Client
}

// New returns a Counter backed by rdb.
func New(rdb *redis.Client) *Counter {
	return &Counter{rdb: rdb}
}

// Record increments the total and today's per-day counter for projectID. Called once per successfully parsed
// inbound application message; failures are the caller's to log, matching the spec's "best-effort, never fatal"
// storage error policy.
func (c *Counter) Record(ctx context.Context, projectID string, at time.Time) error {
	pipe := c.rdb.Pipeline()
	pipe.Incr(ctx, totalKey(projectID))
	pipe.Incr(ctx, dayKey(projectID, at.UTC().Format(dateLayout)))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

// DailyCount is one day's entry in a usage Report.
type DailyCount struct {
	Date  string `json:"date"`
	Count int64  `json:"count"`
}

// Report is the payload returned by GET /usage.
type Report struct {
	ProjectID     string       `json:"projectId"`
	TotalRequests int64        `json:"totalRequests"`
	DailyRequests []DailyCount `json:"dailyRequests"`
}

const maxDailyEntries = 30

// Report assembles the usage report for projectID, scanning back dayLookback days for non-zero buckets and
// returning at most the newest 30 entries, newest-first.
func (c *Counter) Report(ctx context.Context, projectID string, now time.Time, dayLookback int) (Report, error) {
	total, err := c.rdb.Get(ctx, totalKey(projectID)).Int64()
	if err != nil && err != redis.Nil {
		return Report{}, fmt.Errorf("read total: %w", err)
	}

	var daily []DailyCount
	for i := 0; i < dayLookback; i++ {
		date := now.UTC().AddDate(0, 0, -i).Format(dateLayout)
		count, err := c.rdb.Get(ctx, dayKey(projectID, date)).Int64()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			return Report{}, fmt.Errorf("read day %s: %w", date, err)
		}
		daily = append(daily, DailyCount{Date: date, Count: count})
	}

	sort.Slice(daily, func(i, j int) bool { return daily[i].Date > daily[j].Date })
	if len(daily) > maxDailyEntries {
		daily = daily[:maxDailyEntries]
	}

	return Report{ProjectID: projectID, TotalRequests: total, DailyRequests: daily}, nil
}

package room

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/roombus/roombus-server/internal/logstore"
	"github.com/roombus/roombus-server/internal/usage"
	"github.com/roombus/roombus-server/internal/wire"
)

func newIdleTestRoom(t *testing.T, idleDelay time.Duration) *Room {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	logs := logstore.New(rdb, 1000, 24*time.Hour)
	usageCounter := usage.New(rdb)
	r := New("proj-x", logs, usageCounter, Options{IdleDelay: idleDelay}, zerolog.Nop())
	t.Cleanup(r.Shutdown)
	return r
}

func TestIdleAlarmCancelsPendingOnFire(t *testing.T) {
	r := newIdleTestRoom(t, 30*time.Millisecond)
	runtime, _ := connect(t, r, string(wire.RoleRuntime))
	agent, _ := connect(t, r, string(wire.RoleAgent))

	raw, _ := wire.Encode(wire.Envelope{Type: wire.TypeGraphQLQuery, Timestamp: 1, RequestID: "req-1", Query: "q"})
	r.HandleMessage(runtime, raw)

	r.HandleClose(runtime)
	r.HandleClose(agent)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if r.Status().PendingCount == 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if r.Status().PendingCount != 0 {
		t.Error("expected pending requests to be cancelled once the idle alarm fires")
	}
}

func TestActivityCancelsIdleAlarm(t *testing.T) {
	r := newIdleTestRoom(t, 30*time.Millisecond)
	runtime, _ := connect(t, r, string(wire.RoleRuntime))
	r.HandleClose(runtime)

	// Reconnecting before the alarm fires should cancel it; Register itself counts as activity.
	second, _ := connect(t, r, string(wire.RoleRuntime))
	time.Sleep(100 * time.Millisecond)

	if second.State != StateOpen {
		t.Error("expected the reconnected runtime to remain open past the original idle delay")
	}
}

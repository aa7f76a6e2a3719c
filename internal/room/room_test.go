package room

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/roombus/roombus-server/internal/wire"
)

// fakeTransport records sent frames in memory, standing in for a real WebSocket connection.
type fakeTransport struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func (f *fakeTransport) Send(payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errClosedTransport
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)
	f.frames = append(f.frames, cp)
	return nil
}

func (f *fakeTransport) Close(code int, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) last() wire.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.frames) == 0 {
		return wire.Envelope{}
	}
	var env wire.Envelope
	_ = json.Unmarshal(f.frames[len(f.frames)-1], &env)
	return env
}

func (f *fakeTransport) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

type transportError string

func (e transportError) Error() string { return string(e) }

const errClosedTransport = transportError("transport closed")

func newTestRoom(t *testing.T) *Room {
	t.Helper()
	r := New("proj-x", nil, nil, Options{RequestTimeout: 50 * time.Millisecond, IdleDelay: time.Hour}, zerolog.Nop())
	t.Cleanup(r.Shutdown)
	return r
}

func connect(t *testing.T, r *Room, role string) (*Connection, *fakeTransport) {
	t.Helper()
	tr := &fakeTransport{}
	conn, err := r.Register(role, tr, Metadata{})
	if err != nil {
		t.Fatalf("Register(%s) error = %v", role, err)
	}
	return conn, tr
}

func TestRegisterSendsConnectedEnvelope(t *testing.T) {
	r := newTestRoom(t)
	_, tr := connect(t, r, string(wire.RoleRuntime))

	env := tr.last()
	if env.Type != wire.TypeConnected {
		t.Fatalf("type = %q, want connected", env.Type)
	}
	if env.ProjectID != "proj-x" {
		t.Errorf("projectId = %q, want proj-x", env.ProjectID)
	}
}

func TestRuntimeSingletonRejectsSecondOpenRuntime(t *testing.T) {
	r := newTestRoom(t)
	connect(t, r, string(wire.RoleRuntime))

	tr2 := &fakeTransport{}
	_, err := r.Register(string(wire.RoleRuntime), tr2, Metadata{})
	if err != wire.ErrRuntimeSingleton {
		t.Fatalf("second Register() error = %v, want ErrRuntimeSingleton", err)
	}
}

func TestRuntimeReplacedWhenPriorIsClosed(t *testing.T) {
	r := newTestRoom(t)
	first, _ := connect(t, r, string(wire.RoleRuntime))
	r.HandleClose(first)

	second, err := r.Register(string(wire.RoleRuntime), &fakeTransport{}, Metadata{})
	if err != nil {
		t.Fatalf("Register() after close error = %v", err)
	}
	if second.ID == first.ID {
		t.Error("expected a distinct connection id for the replacement runtime")
	}
}

func TestGraphQLQueryForwardsToAgentWithRuntimeID(t *testing.T) {
	r := newTestRoom(t)
	runtime, _ := connect(t, r, string(wire.RoleRuntime))
	_, agentTr := connect(t, r, string(wire.RoleAgent))

	raw, _ := wire.Encode(wire.Envelope{Type: wire.TypeGraphQLQuery, Timestamp: 1, RequestID: "req-1", Query: "{ users }"})
	r.HandleMessage(runtime, raw)

	env := agentTr.last()
	if env.Type != wire.TypeGraphQLQuery {
		t.Fatalf("agent received type = %q, want graphql_query", env.Type)
	}
	if env.RuntimeID != runtime.ID {
		t.Errorf("runtimeId = %q, want %q", env.RuntimeID, runtime.ID)
	}
}

func TestGraphQLQueryFallsBackToFixtureWithNoAgent(t *testing.T) {
	r := newTestRoom(t)
	runtime, runtimeTr := connect(t, r, string(wire.RoleRuntime))

	raw, _ := wire.Encode(wire.Envelope{Type: wire.TypeGraphQLQuery, Timestamp: 1, RequestID: "req-1", Query: "{ users }"})
	r.HandleMessage(runtime, raw)

	env := runtimeTr.last()
	if env.Type != wire.TypeQueryResponse {
		t.Fatalf("type = %q, want query_response", env.Type)
	}
	if env.RequestID != "req-1" {
		t.Errorf("requestId = %q, want req-1", env.RequestID)
	}
	if len(env.Data) == 0 {
		t.Error("expected non-empty fixture data")
	}
}

func TestQueryResponseDeliveredToRuntimeAndClearsPending(t *testing.T) {
	r := newTestRoom(t)
	runtime, runtimeTr := connect(t, r, string(wire.RoleRuntime))
	agent, _ := connect(t, r, string(wire.RoleAgent))

	queryRaw, _ := wire.Encode(wire.Envelope{Type: wire.TypeGraphQLQuery, Timestamp: 1, RequestID: "req-1", Query: "q"})
	r.HandleMessage(runtime, queryRaw)

	replyRaw, _ := wire.Encode(wire.Envelope{Type: wire.TypeQueryResponse, Timestamp: 2, RequestID: "req-1", Data: json.RawMessage(`{"ok":true}`)})
	r.HandleMessage(agent, replyRaw)

	env := runtimeTr.last()
	if env.Type != wire.TypeQueryResponse {
		t.Fatalf("runtime received type = %q, want query_response", env.Type)
	}
	if string(env.Data) != `{"ok":true}` {
		t.Errorf("data = %s, want {\"ok\":true}", env.Data)
	}

	// A duplicate reply for the same requestId is dropped without affecting the runtime's last frame.
	before := runtimeTr.count()
	r.HandleMessage(agent, replyRaw)
	if runtimeTr.count() != before {
		t.Error("duplicate reply should be dropped silently")
	}
}

func TestPendingRequestTimesOut(t *testing.T) {
	r := newTestRoom(t)
	runtime, runtimeTr := connect(t, r, string(wire.RoleRuntime))
	connect(t, r, string(wire.RoleAgent))

	raw, _ := wire.Encode(wire.Envelope{Type: wire.TypeGraphQLQuery, Timestamp: 1, RequestID: "req-1", Query: "q"})
	r.HandleMessage(runtime, raw)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if runtimeTr.last().Type == wire.TypeError {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	env := runtimeTr.last()
	if env.Type != wire.TypeError {
		t.Fatalf("type = %q, want error after timeout", env.Type)
	}
	if env.RequestID != "req-1" {
		t.Errorf("requestId = %q, want req-1", env.RequestID)
	}
}

func TestPingRepliesWithPong(t *testing.T) {
	r := newTestRoom(t)
	conn, tr := connect(t, r, string(wire.RoleAdmin))

	raw, _ := wire.Encode(wire.Envelope{Type: wire.TypePing, Timestamp: 1})
	r.HandleMessage(conn, raw)

	if tr.last().Type != wire.TypePong {
		t.Fatalf("type = %q, want pong", tr.last().Type)
	}
}

func TestCheckAgentsListsOpenAgents(t *testing.T) {
	r := newTestRoom(t)
	agent, _ := connect(t, r, string(wire.RoleAgent))
	conn, tr := connect(t, r, string(wire.RoleAdmin))

	raw, _ := wire.Encode(wire.Envelope{Type: wire.TypeCheckAgents, Timestamp: 1})
	r.HandleMessage(conn, raw)

	env := tr.last()
	if env.Type != wire.TypeAgentStatusResponse {
		t.Fatalf("type = %q, want agent_status_response", env.Type)
	}
	var agents []agentStatus
	if err := json.Unmarshal(env.Agents, &agents); err != nil {
		t.Fatalf("unmarshal agents: %v", err)
	}
	if len(agents) != 1 || agents[0].ID != agent.ID {
		t.Fatalf("agents = %+v, want single entry for %s", agents, agent.ID)
	}
}

func TestAdminFanOutDecoratesWithMeta(t *testing.T) {
	r := newTestRoom(t)
	runtime, _ := connect(t, r, string(wire.RoleRuntime))
	_, adminTr := connect(t, r, string(wire.RoleAdmin))

	raw, _ := wire.Encode(wire.Envelope{Type: wire.TypePing, Timestamp: 1})
	r.HandleMessage(runtime, raw)

	env := adminTr.last()
	if env.Meta == nil {
		t.Fatal("expected _meta on admin fan-out copy")
	}
	if env.Meta.From != runtime.ID {
		t.Errorf("_meta.from = %q, want %q", env.Meta.From, runtime.ID)
	}
}

func TestProdRequestErrorsWithNoRuntime(t *testing.T) {
	r := newTestRoom(t)
	conn, tr := connect(t, r, string(wire.RoleProd))

	raw, _ := wire.Encode(wire.Envelope{Type: wire.TypeGetProdUI, Timestamp: 1})
	r.HandleMessage(conn, raw)

	if tr.last().Type != wire.TypeError {
		t.Fatalf("type = %q, want error", tr.last().Type)
	}
}

func TestParseFailureRepliesWithSingleErrorEnvelope(t *testing.T) {
	r := newTestRoom(t)
	conn, tr := connect(t, r, string(wire.RoleAdmin))

	r.HandleMessage(conn, []byte("not json"))

	if tr.count() != 2 { // connected + error
		t.Fatalf("frame count = %d, want 2", tr.count())
	}
	if tr.last().Type != wire.TypeError {
		t.Fatalf("type = %q, want error", tr.last().Type)
	}
}

func TestStatusReflectsConnections(t *testing.T) {
	r := newTestRoom(t)
	connect(t, r, string(wire.RoleRuntime))
	connect(t, r, string(wire.RoleAgent))

	snap := r.Status()
	if !snap.RuntimeOpen {
		t.Error("RuntimeOpen = false, want true")
	}
	if snap.AgentCount != 1 {
		t.Errorf("AgentCount = %d, want 1", snap.AgentCount)
	}
}

// Package wire defines the JSON wire format exchanged between the bus and its WebSocket clients. Unlike an
// opcode-framed protocol, every frame is a single flat JSON object distinguished by its "type" field — there is no
// binary opcode byte and no separate control-frame layer.
package wire

import "encoding/json"

// Type is a reserved envelope discriminator value.
type Type string

const (
	TypeConnected           Type = "connected"
	TypeGraphQLQuery        Type = "graphql_query"
	TypeQueryResponse       Type = "query_response"
	TypeGetDocs             Type = "get_docs"
	TypeDocs                Type = "docs"
	TypeGetProdUI           Type = "get_prod_ui"
	TypeProdUIResponse      Type = "prod_ui_response"
	TypeCheckAgents         Type = "check_agents"
	TypeAgentStatusResponse Type = "agent_status_response"
	TypePing                Type = "ping"
	TypePong                Type = "pong"
	TypeError               Type = "error"
	TypeHistoricalLogs      Type = "historical_logs"
)

// Role identifies which kind of client a Connection belongs to.
type Role string

const (
	RoleRuntime Role = "runtime"
	RoleAgent   Role = "agent"
	RoleProd    Role = "prod"
	RoleAdmin   Role = "admin"
)

// ValidRole reports whether r is one of the four accepted connection roles.
func ValidRole(r string) bool {
	switch Role(r) {
	case RoleRuntime, RoleAgent, RoleProd, RoleAdmin:
		return true
	default:
		return false
	}
}

// Meta decorates an admin fan-out copy of a routed envelope. It is carried as the envelope's top-level "_meta"
// field, alongside the routed envelope's own fields.
type Meta struct {
	From        string `json:"from"`
	ProjectID   string `json:"projectId"`
	ForwardedAt int64  `json:"forwardedAt"`
}

// Envelope is the single JSON shape every frame exchanged with a client takes. Every dispatch-table entry reads and
// writes against this same struct rather than a family of per-type structs, since the envelope fields are a fixed,
// small, union-style set (see spec §6: "type, timestamp... projectId, requestId, runtimeId, prodId, query, variables,
// data, error, message").
type Envelope struct {
	Type      Type            `json:"type"`
	Timestamp int64           `json:"timestamp"`
	RequestID string          `json:"requestId,omitempty"`
	ProjectID string          `json:"projectId,omitempty"`
	RuntimeID string          `json:"runtimeId,omitempty"`
	ProdID    string          `json:"prodId,omitempty"`
	ClientID  string          `json:"clientId,omitempty"`
	ClientType Role           `json:"clientType,omitempty"`
	Query     string          `json:"query,omitempty"`
	Variables json.RawMessage `json:"variables,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
	Message   string          `json:"message,omitempty"`
	Count     int             `json:"count,omitempty"`
	Logs      json.RawMessage `json:"logs,omitempty"`
	Agents    json.RawMessage `json:"agents,omitempty"`

	Meta *Meta `json:"_meta,omitempty"`
}

// Decode parses a single inbound frame. Extra/unknown fields are ignored rather than rejected, matching the spec's
// instruction that payload schema validation beyond envelope fields is a non-goal.
func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// Encode serialises an outbound envelope.
func Encode(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}

package room

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/roombus/roombus-server/internal/fixture"
	"github.com/roombus/roombus-server/internal/wire"
)

// dispatch routes a parsed envelope according to the routing engine's type table. It runs on the Room's own
// goroutine, called only from handleMessage.
func (r *Room) dispatch(sender *Connection, env wire.Envelope) {
	switch env.Type {
	case wire.TypeGraphQLQuery:
		if !hasRole(sender, wire.RoleRuntime) {
			r.log.Warn().Str("conn_id", sender.ID).Str("role", sender.Role).Msg("graphql_query from non-runtime sender")
			return
		}
		r.routeRuntimeRequest(sender, env, KindQuery)

	case wire.TypeQueryResponse:
		if !hasRole(sender, wire.RoleAgent) {
			r.log.Warn().Str("conn_id", sender.ID).Str("role", sender.Role).Msg("query_response from non-agent sender")
			return
		}
		r.routeAgentReply(env)

	case wire.TypeGetDocs:
		if !hasRole(sender, wire.RoleRuntime) {
			r.log.Warn().Str("conn_id", sender.ID).Str("role", sender.Role).Msg("get_docs from non-runtime sender")
			return
		}
		r.routeRuntimeRequest(sender, env, KindDocs)

	case wire.TypeDocs:
		if !hasRole(sender, wire.RoleAgent) {
			r.log.Warn().Str("conn_id", sender.ID).Str("role", sender.Role).Msg("docs from non-agent sender")
			return
		}
		r.routeAgentReply(env)

	case wire.TypeGetProdUI:
		if !hasRole(sender, wire.RoleProd) {
			r.log.Warn().Str("conn_id", sender.ID).Str("role", sender.Role).Msg("get_prod_ui from non-prod sender")
			return
		}
		r.routeProdRequest(sender, env)

	case wire.TypeProdUIResponse:
		if !hasRole(sender, wire.RoleRuntime) {
			r.log.Warn().Str("conn_id", sender.ID).Str("role", sender.Role).Msg("prod_ui_response from non-runtime sender")
			return
		}
		r.routeRuntimeToProd(env)

	case wire.TypeCheckAgents:
		r.replyAgentStatus(sender)

	case wire.TypePing:
		r.sendTo(sender, wire.Envelope{Type: wire.TypePong, Timestamp: nowMillis(), ProjectID: r.ProjectID})

	case wire.TypeError:
		r.log.Warn().Str("conn_id", sender.ID).Str("message", env.Message).Msg("client reported error")

	default:
		r.log.Warn().Str("conn_id", sender.ID).Str("type", string(env.Type)).Msg("unknown envelope type")
	}
}

func hasRole(conn *Connection, role wire.Role) bool {
	return wire.Role(conn.Role) == role
}

// routeRuntimeRequest handles graphql_query and get_docs: forward to the first OPEN agent with runtimeId annotated,
// or synthesize a fixture response immediately when no agent is available.
func (r *Room) routeRuntimeRequest(sender *Connection, env wire.Envelope, kind Kind) {
	if env.RequestID == "" {
		r.sendTo(sender, wire.Envelope{
			Type: wire.TypeError, Timestamp: nowMillis(), ProjectID: r.ProjectID,
			Message: "missing requestId",
		})
		return
	}

	agent := r.pickOpenAgent()
	if agent == nil {
		r.sendTo(sender, wire.Envelope{
			Type:      responseTypeFor(kind),
			Timestamp: nowMillis(),
			RequestID: env.RequestID,
			ProjectID: r.ProjectID,
			Data:      fixtureFor(kind, env.Query),
		})
		return
	}

	pending := &PendingRequest{RequestID: env.RequestID, RuntimeID: sender.ID, CreatedAt: time.Now(), Kind: kind}
	requestID := env.RequestID
	pending.timer = time.AfterFunc(r.requestTimeout, func() {
		r.call(func() { r.firePendingTimeout(requestID) })
	})
	r.pending[env.RequestID] = pending

	forward := env
	forward.RuntimeID = sender.ID
	r.sendTo(agent, forward)
}

// routeAgentReply handles query_response and docs: deliver to the runtime that issued the original request, unless
// it has since reconnected (pending.RuntimeID no longer matches the live runtime) or the request already timed out.
func (r *Room) routeAgentReply(env wire.Envelope) {
	pending, ok := r.pending[env.RequestID]
	if !ok {
		return
	}
	if r.runtime == nil || r.runtime.ID != pending.RuntimeID {
		r.cancelPending(env.RequestID)
		return
	}
	pending.cancel()
	delete(r.pending, env.RequestID)
	r.sendTo(r.runtime, env)
}

func (r *Room) routeProdRequest(sender *Connection, env wire.Envelope) {
	if r.runtime == nil || r.runtime.State != StateOpen {
		r.sendTo(sender, wire.Envelope{
			Type: wire.TypeError, Timestamp: nowMillis(), ProjectID: r.ProjectID,
			Message: "no runtime connected",
		})
		return
	}
	forward := env
	forward.ProdID = sender.ID
	r.sendTo(r.runtime, forward)
}

func (r *Room) routeRuntimeToProd(env wire.Envelope) {
	prod, ok := r.prods[env.ProdID]
	if !ok || prod.State != StateOpen {
		return
	}
	r.sendTo(prod, env)
}

type agentStatus struct {
	ID          string `json:"id"`
	ConnectedAt int64  `json:"connectedAt"`
	ProjectID   string `json:"projectId"`
}

// replyAgentStatus answers check_agents synchronously with the list of currently OPEN agents, evicting any agent
// found to be stale along the way.
func (r *Room) replyAgentStatus(sender *Connection) {
	var list []agentStatus
	for id, a := range r.agents {
		if a.State != StateOpen {
			delete(r.agents, id)
			continue
		}
		list = append(list, agentStatus{ID: a.ID, ConnectedAt: a.ConnectedAt.UnixMilli(), ProjectID: r.ProjectID})
	}
	agentsJSON, err := json.Marshal(list)
	if err != nil {
		return
	}
	r.sendTo(sender, wire.Envelope{
		Type: wire.TypeAgentStatusResponse, Timestamp: nowMillis(), ProjectID: r.ProjectID, Agents: agentsJSON,
	})
}

// pickOpenAgent returns the first OPEN agent found during iteration, evicting any stale entries it encounters.
func (r *Room) pickOpenAgent() *Connection {
	for id, a := range r.agents {
		if a.State != StateOpen {
			delete(r.agents, id)
			continue
		}
		return a
	}
	return nil
}

func (r *Room) firePendingTimeout(requestID string) {
	pending, ok := r.pending[requestID]
	if !ok {
		return
	}
	delete(r.pending, requestID)
	if r.runtime != nil && r.runtime.ID == pending.RuntimeID {
		r.sendTo(r.runtime, wire.Envelope{
			Type: wire.TypeError, Timestamp: nowMillis(), ProjectID: r.ProjectID,
			RequestID: requestID, Message: fmt.Sprintf("timeout after %dms", r.requestTimeout.Milliseconds()),
		})
	}
}

func (r *Room) cancelPending(requestID string) {
	pending, ok := r.pending[requestID]
	if !ok {
		return
	}
	pending.cancel()
	delete(r.pending, requestID)
}

func (r *Room) cancelPendingForRuntime(runtimeID string) {
	for id, pending := range r.pending {
		if pending.RuntimeID == runtimeID {
			pending.cancel()
			delete(r.pending, id)
		}
	}
}

func responseTypeFor(kind Kind) wire.Type {
	if kind == KindDocs {
		return wire.TypeDocs
	}
	return wire.TypeQueryResponse
}

func fixtureFor(kind Kind, query string) json.RawMessage {
	if kind == KindDocs {
		return fixture.DocsResponse(query)
	}
	return fixture.QueryResponse(query)
}

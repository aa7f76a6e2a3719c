package room

import "time"

// Kind distinguishes what a PendingRequest is waiting on, since graphql_query/query_response and get_docs/docs
// share the same correlation and timeout machinery.
type Kind string

const (
	KindQuery Kind = "query"
	KindDocs  Kind = "docs"
)

// PendingRequest tracks an in-flight runtime-originated request awaiting an agent's reply.
type PendingRequest struct {
	RequestID string
	RuntimeID string
	CreatedAt time.Time
	Kind      Kind
	timer     *time.Timer
}

// cancel stops the pending request's timeout timer. Safe to call more than once.
func (p *PendingRequest) cancel() {
	if p.timer != nil {
		p.timer.Stop()
	}
}

// Package fixture generates deterministic placeholder payloads for graphql_query and get_docs requests when no agent
// is connected to service them. It replaces the large dummy-data payload generator in the source system with a small
// substring-keyed function, per the spec's design note on fixture generation.
package fixture

import (
	"encoding/json"
	"strings"
)

// QueryResponse returns a deterministic data payload for a graphql_query with no available agent, keyed by substring
// matches against the query text. Unmatched queries fall back to a generic empty-ish payload rather than an error,
// since the spec requires a synthesized query_response for this path regardless of query shape.
func QueryResponse(query string) json.RawMessage {
	q := strings.ToLower(query)

	switch {
	case strings.Contains(q, "users"):
		return mustMarshal(map[string]any{
			"users": []map[string]any{
				{"id": "u1", "name": "Ada Lovelace"},
				{"id": "u2", "name": "Grace Hopper"},
			},
		})
	case strings.Contains(q, "ping"):
		return mustMarshal(map[string]any{"ok": true})
	case strings.Contains(q, "project"):
		return mustMarshal(map[string]any{
			"project": map[string]any{"id": "demo", "name": "Demo Project"},
		})
	default:
		return mustMarshal(map[string]any{"result": nil})
	}
}

// DocsResponse returns a deterministic docs payload for a get_docs request with no available agent.
func DocsResponse(query string) json.RawMessage {
	q := strings.ToLower(query)

	switch {
	case strings.Contains(q, "api"):
		return mustMarshal(map[string]any{
			"docs": []map[string]any{
				{"title": "API Reference", "url": "https://docs.example.com/api"},
			},
		})
	case strings.Contains(q, "schema"):
		return mustMarshal(map[string]any{
			"docs": []map[string]any{
				{"title": "Schema Guide", "url": "https://docs.example.com/schema"},
			},
		})
	default:
		return mustMarshal(map[string]any{"docs": []map[string]any{}})
	}
}

func mustMarshal(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		// v is always a literal built above; a marshal failure here means a programming error.
		panic(err)
	}
	return raw
}

// Package record holds the data shapes that flow between resolvers, the query
// runner and the event/webhook side effects.
package record

// Record is an opaque field -> value map. Composite fields are nested maps,
// one-to-many relations are nested Connections.
type Record map[string]any

// ID returns the record id when it is a string.
func (r Record) ID() string {
	id, _ := r["id"].(string)
	return id
}

// Clone returns a deep copy of r.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	return cloneValue(map[string]any(r)).(map[string]any)
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case Record:
		return Record(cloneValue(map[string]any(val)).(map[string]any))
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = cloneValue(inner)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = cloneValue(inner)
		}
		return out
	case []Record:
		out := make([]Record, len(val))
		for i, inner := range val {
			out[i] = inner.Clone()
		}
		return out
	default:
		return v
	}
}

// Filter is a pg_graphql-style filter tree, e.g. {"id": {"eq": "..."}}.
type Filter map[string]any

// OrderBy lists sort keys, e.g. [{"createdAt": "DescNullsLast"}].
type OrderBy []map[string]any

// PageInfo is the relay page metadata of a Connection.
type PageInfo struct {
	HasNextPage     bool    `json:"hasNextPage" mapstructure:"hasNextPage"`
	HasPreviousPage bool    `json:"hasPreviousPage" mapstructure:"hasPreviousPage"`
	StartCursor     *string `json:"startCursor" mapstructure:"startCursor"`
	EndCursor       *string `json:"endCursor" mapstructure:"endCursor"`
}

// Edge wraps one node of a Connection.
type Edge struct {
	Node   Record `json:"node" mapstructure:"node"`
	Cursor string `json:"cursor" mapstructure:"cursor"`
}

// Connection is a paginated result of a query.
type Connection struct {
	Edges      []Edge   `json:"edges" mapstructure:"edges"`
	PageInfo   PageInfo `json:"pageInfo" mapstructure:"pageInfo"`
	TotalCount int      `json:"totalCount" mapstructure:"totalCount"`
}

// Nodes flattens the edges of c.
func (c *Connection) Nodes() []Record {
	if c == nil {
		return nil
	}
	nodes := make([]Record, 0, len(c.Edges))
	for _, e := range c.Edges {
		nodes = append(nodes, e.Node)
	}
	return nodes
}

// MutationResult is the payload of pg_graphql insert/update/delete.
type MutationResult struct {
	AffectedCount int      `json:"affectedCount" mapstructure:"affectedCount"`
	Records       []Record `json:"records" mapstructure:"records"`
}

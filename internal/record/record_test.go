package record

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecord_CloneIsDeep(t *testing.T) {
	orig := Record{
		"id":   "1",
		"name": map[string]any{"firstName": "Ada"},
		"tags": []any{"a", map[string]any{"k": "v"}},
	}
	cp := orig.Clone()
	cp["name"].(map[string]any)["firstName"] = "Grace"
	cp["tags"].([]any)[1].(map[string]any)["k"] = "changed"

	assert.Equal(t, "Ada", orig["name"].(map[string]any)["firstName"])
	assert.Equal(t, "v", orig["tags"].([]any)[1].(map[string]any)["k"])
	assert.Equal(t, "1", cp.ID())
	assert.Nil(t, Record(nil).Clone())
}

func TestConnection_Nodes(t *testing.T) {
	c := &Connection{Edges: []Edge{{Node: Record{"id": "a"}}, {Node: Record{"id": "b"}}}}
	nodes := c.Nodes()
	assert.Len(t, nodes, 2)
	assert.Equal(t, "b", nodes[1].ID())

	var nilConn *Connection
	assert.Nil(t, nilConn.Nodes())
}

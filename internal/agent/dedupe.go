package agent

import (
	"bytes"
	"encoding/json"

	"github.com/haasonsaas/conduit/pkg/models"
)

// callSignature returns a stable key for a tool call: the tool name plus the
// arguments re-encoded with sorted keys. Arguments that fail to decode fall
// back to their raw bytes.
func callSignature(name string, args json.RawMessage) string {
	return name + "\x00" + string(canonicalJSON(args))
}

func canonicalJSON(raw json.RawMessage) []byte {
	if len(bytes.TrimSpace(raw)) == 0 {
		return []byte("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return raw
	}
	// encoding/json writes map keys in sorted order.
	out, err := json.Marshal(v)
	if err != nil {
		return raw
	}
	return out
}

// dedupeCache holds tool results for the lifetime of one run. Error results
// are cached too, so a repeated failing call is not re-sent in the same turn.
type dedupeCache struct {
	entries map[string]models.ToolInvocation
	hits    int
}

func newDedupeCache() *dedupeCache {
	return &dedupeCache{entries: make(map[string]models.ToolInvocation)}
}

func (c *dedupeCache) Get(sig string) (models.ToolInvocation, bool) {
	inv, ok := c.entries[sig]
	if ok {
		c.hits++
	}
	return inv, ok
}

func (c *dedupeCache) Put(sig string, inv models.ToolInvocation) {
	c.entries[sig] = inv
}

package agent

import (
	"sort"
	"strings"

	"github.com/google/uuid"
)

// toolCallBuffer accumulates the fragments of one streamed tool call.
type toolCallBuffer struct {
	index int
	id    string
	name  string
	args  strings.Builder

	// nameFromID is set when the name arrived on the fragment carrying the
	// call ID, which providers send with the whole name.
	nameFromID bool
	order int
}

// pendingCall is a fully accumulated tool call ready for execution.
type pendingCall struct {
	ID      string
	Name    string
	RawArgs string
}

// toolCallAccumulator groups tool-call fragments by the positional index the
// provider assigns. IDs may arrive late or never, so they are not used as keys.
type toolCallAccumulator struct {
	buffers map[int]*toolCallBuffer
	seen    int
}

func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{buffers: make(map[int]*toolCallBuffer)}
}

// Add merges one fragment into its buffer.
func (a *toolCallAccumulator) Add(delta ToolCallDelta) {
	buf, ok := a.buffers[delta.Index]
	if !ok {
		buf = &toolCallBuffer{index: delta.Index, order: a.seen}
		a.seen++
		a.buffers[delta.Index] = buf
	}
	if delta.ID != "" && buf.id == "" {
		buf.id = delta.ID
	}
	buf.addName(delta)
	buf.args.WriteString(delta.Arguments)
}

// addName merges a name fragment. A fragment carrying the call ID holds the
// whole name and replaces a partial one; later fragments equal to that name
// are repeats. Everything else is appended.
func (b *toolCallBuffer) addName(delta ToolCallDelta) {
	switch {
	case delta.Name == "":
	case delta.ID != "" && strings.HasPrefix(delta.Name, b.name):
		b.name = delta.Name
		b.nameFromID = true
	case b.nameFromID && delta.Name == b.name:
	default:
		b.name += delta.Name
	}
}

// Len returns the number of buffered calls.
func (a *toolCallAccumulator) Len() int {
	return len(a.buffers)
}

// Calls returns well-formed calls ordered by stream index. Buffers without a
// tool name are dropped. Missing IDs are synthesized.
func (a *toolCallAccumulator) Calls() []pendingCall {
	buffers := make([]*toolCallBuffer, 0, len(a.buffers))
	for _, buf := range a.buffers {
		buffers = append(buffers, buf)
	}
	sort.Slice(buffers, func(i, j int) bool {
		if buffers[i].index != buffers[j].index {
			return buffers[i].index < buffers[j].index
		}
		return buffers[i].order < buffers[j].order
	})

	calls := make([]pendingCall, 0, len(buffers))
	for _, buf := range buffers {
		name := strings.TrimSpace(buf.name)
		if name == "" {
			continue
		}
		id := buf.id
		if id == "" {
			id = "call_" + uuid.NewString()
		}
		calls = append(calls, pendingCall{ID: id, Name: name, RawArgs: buf.args.String()})
	}
	return calls
}

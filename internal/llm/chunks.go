package llm

// Chunk is one unit of an upstream completion stream, modeled as a closed
// variant set so consumers get exhaustive dispatch instead of loosely-typed
// delta objects.
type Chunk interface {
	chunk()
}

// TextDelta carries a piece of assistant text to forward verbatim.
type TextDelta struct {
	Text string
}

// ToolCallFragment carries part of a streamed tool invocation. The call id and
// function name are present only on the first fragment of a call; Arguments is
// a partial JSON string split at arbitrary byte boundaries.
type ToolCallFragment struct {
	ID        string
	Name      string
	Arguments string
}

// StreamEnd marks normal completion of the upstream stream. It is always the
// last chunk delivered.
type StreamEnd struct{}

func (TextDelta) chunk()        {}
func (ToolCallFragment) chunk() {}
func (StreamEnd) chunk()        {}

package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToolCallAssembler_SplitInvariance(t *testing.T) {
	// The same JSON payload must assemble identically no matter where the
	// upstream protocol split it.
	splits := [][]string{
		{`{"prompt":"a cat"}`},
		{`{"pro`, `mpt":"a c`, `at"}`},
		{`{`, `"`, `p`, `r`, `o`, `m`, `p`, `t`, `"`, `:`, `"`, `a cat`, `"`, `}`},
	}

	for _, fragments := range splits {
		var asm ToolCallAssembler
		for i, part := range fragments {
			frag := ToolCallFragment{Arguments: part}
			if i == 0 {
				frag.ID = "call_1"
				frag.Name = "generate_image"
			}
			asm.Observe(frag)
		}

		call, err := asm.Finalize()
		require.NoError(t, err)
		require.NotNil(t, call)
		assert.Equal(t, "generate_image", call.Name)
		assert.Equal(t, map[string]any{"prompt": "a cat"}, call.Args)

		prompt, ok := call.Prompt()
		assert.True(t, ok)
		assert.Equal(t, "a cat", prompt)
	}
}

func TestToolCallAssembler_InvalidJSON(t *testing.T) {
	var asm ToolCallAssembler
	asm.Observe(ToolCallFragment{ID: "call_1", Name: "generate_image", Arguments: `{"prompt":`})
	asm.Observe(ToolCallFragment{Arguments: `"a cat"`}) // missing closing brace

	call, err := asm.Finalize()
	assert.Error(t, err)
	assert.Nil(t, call)
}

func TestToolCallAssembler_NoFragments(t *testing.T) {
	var asm ToolCallAssembler
	call, err := asm.Finalize()
	assert.NoError(t, err)
	assert.Nil(t, call)
}

func TestToolCallAssembler_MissingName(t *testing.T) {
	var asm ToolCallAssembler
	asm.Observe(ToolCallFragment{ID: "call_1", Arguments: `{"prompt":"x"}`})

	call, err := asm.Finalize()
	assert.Error(t, err)
	assert.Nil(t, call)
}

func TestToolCallAssembler_NewCallIDResets(t *testing.T) {
	var asm ToolCallAssembler
	asm.Observe(ToolCallFragment{ID: "call_1", Name: "generate_image", Arguments: `{"prompt":"first"`})
	asm.Observe(ToolCallFragment{ID: "call_2", Name: "generate_video", Arguments: `{"prompt":"second"}`})

	call, err := asm.Finalize()
	require.NoError(t, err)
	require.NotNil(t, call)
	assert.Equal(t, "generate_video", call.Name)
	assert.Equal(t, "second", call.Args["prompt"])
}

func TestToolCallAssembler_EmptyArguments(t *testing.T) {
	var asm ToolCallAssembler
	asm.Observe(ToolCallFragment{ID: "call_1", Name: "generate_image"})

	call, err := asm.Finalize()
	require.NoError(t, err)
	require.NotNil(t, call)

	_, ok := call.Prompt()
	assert.False(t, ok)
}

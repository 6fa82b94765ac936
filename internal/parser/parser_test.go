package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtract_Invalid(t *testing.T) {
	cases := map[string]string{
		"no block":           "no tool call at all",
		"unterminated":       `<tool_call>{"name": "calc"}`,
		"bad json":           `<tool_call>{"name": calc}</tool_call>`,
		"missing name":       `<tool_call>{"arguments": {"x": 1}}</tool_call>`,
		"null name":          `<tool_call>{"name": null}</tool_call>`,
		"numeric name":       `<tool_call>{"name": 5}</tool_call>`,
		"array body":         `<tool_call>["calc"]</tool_call>`,
		"non-object args":    `<tool_call>{"name": "calc", "arguments": "1+1"}</tool_call>`,
		"wrong delimiters":   `<tool>{"name": "calc"}</tool>`,
		"reversed delimiter": `</tool_call>{"name": "calc"}<tool_call>`,
	}

	for name, text := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, Invalid, Extract(text))
		})
	}
}

func TestExtract_Call(t *testing.T) {
	action := Extract(`thinking... <tool_call>{"name": "calculator", "arguments": {"expression": "1+2"}}</tool_call>`)

	require.True(t, action.IsCall())
	assert.Equal(t, "calculator", action.Name)
	assert.Equal(t, map[string]any{"expression": "1+2"}, action.Args)
}

func TestExtract_MissingArgumentsDefaultsToEmpty(t *testing.T) {
	for _, text := range []string{
		`<tool_call>{"name": "noop"}</tool_call>`,
		`<tool_call>{"name": "noop", "arguments": null}</tool_call>`,
	} {
		action := Extract(text)
		require.True(t, action.IsCall())
		assert.NotNil(t, action.Args)
		assert.Empty(t, action.Args)
	}
}

func TestExtract_MultilineAndFirstMatchWins(t *testing.T) {
	text := "<tool_call>\n{\n  \"name\": \"lua\",\n  \"arguments\": {\"code\": \"x = 1\\nprint(x)\"}\n}\n</tool_call>\n" +
		`<tool_call>{"name": "second"}</tool_call>`

	action := Extract(text)

	require.True(t, action.IsCall())
	assert.Equal(t, "lua", action.Name)
	assert.Equal(t, "x = 1\nprint(x)", action.Args["code"])
}

func TestExtract_FirstBlockMalformedIsInvalid(t *testing.T) {
	text := `<tool_call>oops</tool_call> <tool_call>{"name": "calc"}</tool_call>`

	assert.Equal(t, Invalid, Extract(text))
}

func TestExtract_Deterministic(t *testing.T) {
	text := `<tool_call>{"name": "search", "arguments": {"query": "go", "limit": 3}}</tool_call>`

	first := Extract(text)
	second := Extract(text)

	assert.Equal(t, first, second)
}

func TestParser_CustomDelimiters(t *testing.T) {
	p := New("[[call]]", "[[/call]]")

	action := p.Extract(`[[call]]{"name": "calc", "arguments": {}}[[/call]]`)
	require.True(t, action.IsCall())
	assert.Equal(t, "calc", action.Name)

	assert.True(t, p.HasCall("a [[call]]x[[/call]] b"))
	assert.False(t, p.HasCall(`<tool_call>{"name": "calc"}</tool_call>`))
	assert.Equal(t, "[[call]]", p.Start())
	assert.Equal(t, "[[/call]]", p.End())
}

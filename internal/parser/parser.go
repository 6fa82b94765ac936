package parser

import (
	"regexp"
	"strings"

	"toolenv/internal/jsonx"
)

const (
	// ToolCallStart and ToolCallEnd delimit a tool-call block in model output.
	ToolCallStart = "<tool_call>"
	ToolCallEnd   = "</tool_call>"
)

// Kind tags an Action as either a tool call or an unparseable turn.
type Kind int

const (
	KindInvalid Kind = iota
	KindCall
)

func (k Kind) String() string {
	if k == KindCall {
		return "call"
	}
	return "invalid"
}

// Action is the structured form of one model turn.
type Action struct {
	Kind Kind           `json:"kind"`
	Name string         `json:"name,omitempty"`
	Args map[string]any `json:"args,omitempty"`
}

// Invalid is returned for any text that does not hold a well-formed tool call.
var Invalid = Action{Kind: KindInvalid}

// IsCall reports whether the action names a tool.
func (a Action) IsCall() bool {
	return a.Kind == KindCall
}

// Parser extracts tool calls enclosed by a fixed pair of delimiters.
type Parser struct {
	start   string
	end     string
	pattern *regexp.Regexp
}

// Default parses the <tool_call>...</tool_call> protocol.
var Default = New(ToolCallStart, ToolCallEnd)

// New builds a parser for the given delimiters.
func New(start, end string) *Parser {
	return &Parser{
		start:   start,
		end:     end,
		pattern: regexp.MustCompile(`(?s)` + regexp.QuoteMeta(start) + `(.*?)` + regexp.QuoteMeta(end)),
	}
}

// Extract parses text with the default delimiters.
func Extract(text string) Action {
	return Default.Extract(text)
}

// Start returns the opening delimiter.
func (p *Parser) Start() string { return p.start }

// End returns the closing delimiter.
func (p *Parser) End() string { return p.end }

// HasCall reports whether text contains a complete delimited block, well-formed or not.
func (p *Parser) HasCall(text string) bool {
	return p.pattern.MatchString(text)
}

// Extract returns the first tool call found in text, or Invalid.
// Every failure (no block, bad JSON, missing name) collapses to Invalid.
func (p *Parser) Extract(text string) Action {
	match := p.pattern.FindStringSubmatch(text)
	if match == nil {
		return Invalid
	}

	var call struct {
		Name      *string        `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}
	if err := jsonx.Unmarshal([]byte(strings.TrimSpace(match[1])), &call); err != nil {
		return Invalid
	}
	if call.Name == nil {
		return Invalid
	}

	args := call.Arguments
	if args == nil {
		args = map[string]any{}
	}

	return Action{Kind: KindCall, Name: *call.Name, Args: args}
}

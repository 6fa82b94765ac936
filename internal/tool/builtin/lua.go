package builtin

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/mitchellh/mapstructure"
	lua "github.com/yuin/gopher-lua"

	"toolenv/internal/jsonx"
	"toolenv/internal/tool"
)

const (
	luaErrorReward    = 0.05
	luaBaseReward     = 0.3
	luaNodeReward     = 0.001
	luaMaxBonus       = 0.1
	luaMaxReward      = 0.4
	luaNoCodeProvided = "No code provided"
)

type luaArgs struct {
	Code string `mapstructure:"code"`
}

// LuaTool executes Lua code in an interpreter that persists between calls,
// so globals defined by one call are visible to the next call on the same
// instance. Each instance owns its interpreter.
type LuaTool struct {
	opts SandboxOptions

	mu     sync.Mutex
	state  *lua.LState
	stdout bytes.Buffer
	stderr bytes.Buffer
}

func NewLuaTool(opts SandboxOptions) *LuaTool {
	t := &LuaTool{opts: opts}
	t.state = newSandbox(opts, &t.stdout, &t.stderr)
	return t
}

func (t *LuaTool) Name() string {
	return "lua"
}

func (t *LuaTool) Description() string {
	return `Execute Lua code and return what it printed.

The interpreter keeps its state between calls: variables and functions
defined by earlier calls remain available. Use print() to produce output.
The base, string, table and math libraries are available; file and OS
access are not.`
}

var luaParameters = tool.Object(map[string]*jsonschema.Schema{
	"code": tool.String("The Lua code to execute"),
}, "code")

func (t *LuaTool) Parameters() *jsonschema.Schema {
	return luaParameters
}

// NewInstance returns a LuaTool with an empty interpreter and the same limits.
func (t *LuaTool) NewInstance() tool.Tool {
	return NewLuaTool(t.opts)
}

func (t *LuaTool) Execute(ctx context.Context, args map[string]any) (*tool.Result, error) {
	var p luaArgs
	if err := mapstructure.Decode(args, &p); err != nil {
		return nil, fmt.Errorf("decode arguments: %w", err)
	}

	if strings.TrimSpace(p.Code) == "" {
		output, err := jsonx.MarshalString(map[string]string{"error": luaNoCodeProvided})
		if err != nil {
			return nil, err
		}
		return &tool.Result{
			Success: false,
			Output:  output,
			Error:   luaNoCodeProvided,
			Data:    map[string]any{"tool": t.Name(), "error": luaNoCodeProvided},
		}, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == nil {
		return nil, errors.New("lua interpreter is closed")
	}

	t.stdout.Reset()
	t.stderr.Reset()

	t.state.SetContext(ctx)
	runErr := t.state.DoString(p.Code)
	t.state.RemoveContext()
	t.state.SetTop(0)

	stdout := t.stdout.String()
	stderr := t.stderr.String()

	if runErr != nil {
		message, traceback := describeLuaError(runErr)
		if ctxErr := ctx.Err(); ctxErr != nil {
			message = ctxErr.Error()
		}
		output, err := jsonx.MarshalString(map[string]any{
			"error":     message,
			"traceback": traceback,
			"stdout":    stdout,
			"stderr":    stderr,
		})
		if err != nil {
			return nil, err
		}
		return &tool.Result{
			Success: false,
			Output:  output,
			Error:   message,
			Data: map[string]any{
				"tool":      t.Name(),
				"error":     message,
				"traceback": traceback,
			},
		}, nil
	}

	output, err := jsonx.MarshalString(map[string]any{
		"stdout": stdout,
		"stderr": stderr,
	})
	if err != nil {
		return nil, err
	}
	return &tool.Result{
		Success: true,
		Output:  output,
		Data: map[string]any{
			"tool":   t.Name(),
			"stdout": stdout,
			"stderr": stderr,
		},
	}, nil
}

// Reward favors code that ran, with a small bonus that grows with the size
// of the program. Calls that failed still earn a little for trying.
func (t *LuaTool) Reward(args map[string]any, result *tool.Result) float64 {
	if result == nil {
		return 0
	}
	if !result.Success {
		return luaErrorReward
	}

	code, ok := args["code"].(string)
	if !ok {
		return 0
	}
	nodes, err := countNodes(code)
	if err != nil {
		return 0
	}
	reward := luaBaseReward + math.Min(luaMaxBonus, luaNodeReward*float64(nodes))
	return math.Min(luaMaxReward, reward)
}

// Close releases the interpreter. Later calls fail.
func (t *LuaTool) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != nil {
		t.state.Close()
		t.state = nil
	}
	return nil
}

func describeLuaError(err error) (message, traceback string) {
	var apiErr *lua.ApiError
	if errors.As(err, &apiErr) {
		if apiErr.Object != nil {
			message = apiErr.Object.String()
		} else if apiErr.Cause != nil {
			message = apiErr.Cause.Error()
		}
		return message, apiErr.StackTrace
	}
	return err.Error(), ""
}

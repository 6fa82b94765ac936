package builtin

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/mitchellh/mapstructure"
	lua "github.com/yuin/gopher-lua"

	"toolenv/internal/jsonx"
	"toolenv/internal/tool"
)

const calculatorReward = 0.1

// CalculatorTool evaluates arithmetic expressions. Every call gets a fresh
// sandbox, so the tool keeps no state and is safe to share across episodes.
type CalculatorTool struct {
	opts SandboxOptions
}

func NewCalculatorTool(opts SandboxOptions) *CalculatorTool {
	return &CalculatorTool{opts: opts}
}

func (t *CalculatorTool) Name() string {
	return "calculator"
}

func (t *CalculatorTool) Description() string {
	return "Evaluate a mathematical expression such as \"(2 + 3) * 4\" or \"math.sqrt(16)\" and return the numeric result."
}

var calculatorParameters = tool.Object(map[string]*jsonschema.Schema{
	"expression": tool.String("The expression to evaluate"),
}, "expression")

func (t *CalculatorTool) Parameters() *jsonschema.Schema {
	return calculatorParameters
}

func (t *CalculatorTool) Execute(ctx context.Context, args map[string]any) (*tool.Result, error) {
	var p struct {
		Expression string `mapstructure:"expression"`
	}
	if err := mapstructure.Decode(args, &p); err != nil {
		return nil, fmt.Errorf("decode arguments: %w", err)
	}

	expr := strings.TrimSpace(p.Expression)
	if expr == "" {
		return calculatorError("empty expression")
	}

	L := newSandbox(t.opts, io.Discard, io.Discard)
	defer L.Close()

	L.SetContext(ctx)
	if err := L.DoString("return (" + expr + ")"); err != nil {
		message, _ := describeLuaError(err)
		if ctxErr := ctx.Err(); ctxErr != nil {
			message = ctxErr.Error()
		}
		return calculatorError(message)
	}

	value := L.Get(-1)
	num, ok := value.(lua.LNumber)
	if !ok {
		return calculatorError(fmt.Sprintf("expression evaluated to %s, not a number", value.Type()))
	}

	output, err := jsonx.MarshalString(map[string]string{"result": num.String()})
	if err != nil {
		return nil, err
	}
	return &tool.Result{
		Success: true,
		Output:  output,
		Data:    map[string]any{"result": float64(num)},
	}, nil
}

func (t *CalculatorTool) Reward(_ map[string]any, result *tool.Result) float64 {
	if result != nil && result.Success {
		return calculatorReward
	}
	return 0
}

func calculatorError(message string) (*tool.Result, error) {
	output, err := jsonx.MarshalString(map[string]string{"error": message})
	if err != nil {
		return nil, err
	}
	return &tool.Result{Success: false, Output: output, Error: message}, nil
}

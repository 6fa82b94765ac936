package builtin

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/mitchellh/mapstructure"

	"toolenv/internal/tool"
)

const (
	readReward       = 0.05
	defaultReadLimit = 200
)

// ReadTool reads documents from the corpus. Paths are resolved inside the
// corpus root and cannot escape it.
type ReadTool struct {
	root string
}

func NewReadTool(root string) *ReadTool {
	if root == "" {
		root = "."
	}
	return &ReadTool{root: root}
}

func (t *ReadTool) Name() string {
	return "read"
}

func (t *ReadTool) Description() string {
	return "Read a document from the corpus. Use offset and limit to page through long documents."
}

var readParameters = tool.Object(map[string]*jsonschema.Schema{
	"path":   tool.String("Corpus-relative path of the document to read"),
	"offset": tool.Integer("Line number to start reading from, starting at 1 (default: 1)"),
	"limit":  tool.Integer(fmt.Sprintf("Maximum number of lines to return (default: %d)", defaultReadLimit)),
}, "path")

func (t *ReadTool) Parameters() *jsonschema.Schema {
	return readParameters
}

func (t *ReadTool) Execute(ctx context.Context, args map[string]any) (*tool.Result, error) {
	var p struct {
		Path   string `mapstructure:"path"`
		Offset int    `mapstructure:"offset"`
		Limit  int    `mapstructure:"limit"`
	}
	if err := mapstructure.Decode(args, &p); err != nil {
		return &tool.Result{
			Success: false,
			Error:   fmt.Sprintf("invalid parameters: %v", err),
		}, nil
	}
	if p.Offset < 1 {
		p.Offset = 1
	}
	if p.Limit < 1 {
		p.Limit = defaultReadLimit
	}

	root, err := os.OpenRoot(t.root)
	if err != nil {
		return nil, fmt.Errorf("open corpus: %w", err)
	}
	defer root.Close()

	file, err := root.Open(p.Path)
	if err != nil {
		return &tool.Result{
			Success: false,
			Error:   fmt.Sprintf("failed to read file: %v", err),
		}, nil
	}
	defer file.Close()

	var (
		lines   []string
		lineNum int
		more    bool
	)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		lineNum++
		if lineNum < p.Offset {
			continue
		}
		if len(lines) == p.Limit {
			more = true
			break
		}
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return &tool.Result{
			Success: false,
			Error:   fmt.Sprintf("failed to read file: %v", err),
		}, nil
	}

	return &tool.Result{
		Success: true,
		Output:  strings.Join(lines, "\n"),
		Data: map[string]any{
			"path":      p.Path,
			"offset":    p.Offset,
			"lines":     len(lines),
			"truncated": more,
		},
	}, nil
}

func (t *ReadTool) Reward(_ map[string]any, result *tool.Result) float64 {
	if result != nil && result.Success {
		return readReward
	}
	return 0
}

package builtin

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/mitchellh/mapstructure"

	"toolenv/internal/tool"
)

const (
	searchHitReward  = 0.1
	searchMissReward = 0.02

	defaultMaxMatches = 50
	noMatchesFound    = "No matches found"
)

type searchArgs struct {
	Pattern         string `mapstructure:"pattern"`
	CaseInsensitive bool   `mapstructure:"case_insensitive"`
	FilePattern     string `mapstructure:"file_pattern"`
}

type searchQuery struct {
	index   int
	re      *regexp.Regexp
	glob    string
	matches []string
}

// SearchTool searches a read-only document corpus with regular expressions.
// A batch of queries shares one walk over the corpus.
type SearchTool struct {
	root       string
	maxMatches int
}

// NewSearchTool searches the files under root. maxMatches caps the lines
// returned per query; values below one use the default.
func NewSearchTool(root string, maxMatches int) *SearchTool {
	if root == "" {
		root = "."
	}
	if maxMatches < 1 {
		maxMatches = defaultMaxMatches
	}
	return &SearchTool{root: root, maxMatches: maxMatches}
}

func (t *SearchTool) Name() string {
	return "search"
}

func (t *SearchTool) Description() string {
	return "Search the document corpus for lines matching a regular expression. Returns matches as path:line:text."
}

var searchParameters = tool.Object(map[string]*jsonschema.Schema{
	"pattern":          tool.String("Regular expression pattern to search for"),
	"case_insensitive": tool.Boolean("Case-insensitive search (default: false)"),
	"file_pattern":     tool.String("Only search files whose name matches this glob (e.g., '*.md')"),
}, "pattern")

func (t *SearchTool) Parameters() *jsonschema.Schema {
	return searchParameters
}

func (t *SearchTool) Execute(ctx context.Context, args map[string]any) (*tool.Result, error) {
	results, err := t.BatchExecute(ctx, []map[string]any{args})
	if err != nil {
		return nil, err
	}
	return results[0], nil
}

// BatchExecute answers every query with a single pass over the corpus.
// Queries that do not compile get an error result; the rest still run.
func (t *SearchTool) BatchExecute(ctx context.Context, argsList []map[string]any) ([]*tool.Result, error) {
	results := make([]*tool.Result, len(argsList))
	queries := make([]*searchQuery, 0, len(argsList))

	for i, args := range argsList {
		q, err := compileQuery(args)
		if err != nil {
			results[i] = &tool.Result{Success: false, Error: err.Error()}
			continue
		}
		q.index = i
		queries = append(queries, q)
	}

	if len(queries) > 0 {
		if err := t.walk(ctx, queries); err != nil {
			return nil, err
		}
	}

	for _, q := range queries {
		if len(q.matches) == 0 {
			results[q.index] = &tool.Result{
				Success: true,
				Output:  noMatchesFound,
				Data:    map[string]any{"count": 0},
			}
			continue
		}
		results[q.index] = &tool.Result{
			Success: true,
			Output:  strings.Join(q.matches, "\n"),
			Data:    map[string]any{"count": len(q.matches)},
		}
	}
	return results, nil
}

func (t *SearchTool) Reward(_ map[string]any, result *tool.Result) float64 {
	if result == nil || !result.Success {
		return 0
	}
	if count, ok := result.Data["count"].(int); ok && count > 0 {
		return searchHitReward
	}
	return searchMissReward
}

func compileQuery(args map[string]any) (*searchQuery, error) {
	var p searchArgs
	if err := mapstructure.Decode(args, &p); err != nil {
		return nil, fmt.Errorf("invalid parameters: %v", err)
	}
	if p.Pattern == "" {
		return nil, fmt.Errorf("pattern cannot be empty")
	}

	pattern := p.Pattern
	if p.CaseInsensitive {
		pattern = "(?i)" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regex pattern: %v", err)
	}
	if p.FilePattern != "" {
		if _, err := filepath.Match(p.FilePattern, ""); err != nil {
			return nil, fmt.Errorf("invalid file pattern: %v", err)
		}
	}
	return &searchQuery{re: re, glob: p.FilePattern}, nil
}

func (t *SearchTool) walk(ctx context.Context, queries []*searchQuery) error {
	err := filepath.WalkDir(t.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // Skip unreadable entries
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		var interested []*searchQuery
		for _, q := range queries {
			if len(q.matches) >= t.maxMatches {
				continue
			}
			if q.glob != "" {
				if ok, _ := filepath.Match(q.glob, d.Name()); !ok {
					continue
				}
			}
			interested = append(interested, q)
		}
		if len(interested) == 0 {
			return nil
		}

		rel, err := filepath.Rel(t.root, path)
		if err != nil {
			rel = path
		}
		t.searchFile(path, filepath.ToSlash(rel), interested)
		return nil
	})
	if err != nil {
		return fmt.Errorf("search corpus: %w", err)
	}
	return nil
}

func (t *SearchTool) searchFile(path, name string, queries []*searchQuery) {
	data, err := os.ReadFile(path)
	if err != nil || isBinary(data) {
		return
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	// the whole file is in memory, so allow a line as long as the file
	scanner.Buffer(make([]byte, 0, 64*1024), len(data)+1)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		for _, q := range queries {
			if len(q.matches) < t.maxMatches && q.re.MatchString(line) {
				q.matches = append(q.matches, fmt.Sprintf("%s:%d:%s", name, lineNum, line))
			}
		}
	}
}

// isBinary reports whether the first 512 bytes contain a NUL byte.
func isBinary(data []byte) bool {
	if len(data) > 512 {
		data = data[:512]
	}
	return bytes.IndexByte(data, 0) >= 0
}

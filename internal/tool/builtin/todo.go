package builtin

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/mitchellh/mapstructure"

	"toolenv/internal/tool"
)

const todoReward = 0.1

// TodoStatus represents the state of a todo item
type TodoStatus string

const (
	StatusPending    TodoStatus = "pending"
	StatusInProgress TodoStatus = "in_progress"
	StatusCompleted  TodoStatus = "completed"
)

// TodoItem represents a single todo task
type TodoItem struct {
	Content    string     `mapstructure:"content" json:"content"`
	Status     TodoStatus `mapstructure:"status" json:"status"`
	ActiveForm string     `mapstructure:"activeForm" json:"activeForm"`
}

// TodoStore holds one episode's todo list
type TodoStore struct {
	todos []TodoItem
	mu    sync.RWMutex
}

// Todos returns a copy of the current todo list
func (s *TodoStore) Todos() []TodoItem {
	s.mu.RLock()
	defer s.mu.RUnlock()

	todos := make([]TodoItem, len(s.todos))
	copy(todos, s.todos)
	return todos
}

// Set replaces the entire todo list
func (s *TodoStore) Set(todos []TodoItem) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.todos = todos
}

// Clear removes all todos
func (s *TodoStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.todos = nil
}

// TodoTool lets the model keep a task list across the turns of an episode.
// Every instance has its own store.
type TodoTool struct {
	store *TodoStore
}

func NewTodoTool() *TodoTool {
	return &TodoTool{store: &TodoStore{}}
}

func (t *TodoTool) Name() string {
	return "todo"
}

func (t *TodoTool) Description() string {
	return `Manage a todo list for tracking progress on a multi-step task.

Pass the whole list on every call. Keep at most ONE task in_progress.
Each todo requires:
- content: Imperative form ("Run tests", "Fix bug")
- status: "pending" | "in_progress" | "completed"
- activeForm: Present continuous form ("Running tests", "Fixing bug")

Pass an empty array to clear the list.`
}

var todoParameters = tool.Object(map[string]*jsonschema.Schema{
	"todos": {
		Type:        "array",
		Description: "Array of todo items. Pass empty array [] to clear all todos.",
		Items: tool.Object(map[string]*jsonschema.Schema{
			"content": tool.String("Task description in imperative form"),
			"status": {
				Type:        "string",
				Enum:        []any{string(StatusPending), string(StatusInProgress), string(StatusCompleted)},
				Description: "Current status of the task",
			},
			"activeForm": tool.String("Present continuous form of the task"),
		}, "content", "status", "activeForm"),
	},
}, "todos")

func (t *TodoTool) Parameters() *jsonschema.Schema {
	return todoParameters
}

// NewInstance returns a TodoTool with an empty list.
func (t *TodoTool) NewInstance() tool.Tool {
	return NewTodoTool()
}

// Store exposes the instance's list.
func (t *TodoTool) Store() *TodoStore {
	return t.store
}

func (t *TodoTool) Execute(ctx context.Context, args map[string]any) (*tool.Result, error) {
	var p struct {
		Todos []TodoItem `mapstructure:"todos"`
	}
	if err := mapstructure.Decode(args, &p); err != nil {
		return rejected(fmt.Sprintf("invalid parameters: %v", err)), nil
	}

	inProgress := 0
	for i, todo := range p.Todos {
		if strings.TrimSpace(todo.Content) == "" {
			return rejected(fmt.Sprintf("todo #%d: content cannot be empty", i+1)), nil
		}
		if strings.TrimSpace(todo.ActiveForm) == "" {
			return rejected(fmt.Sprintf("todo #%d: activeForm cannot be empty", i+1)), nil
		}
		switch todo.Status {
		case StatusPending, StatusCompleted:
		case StatusInProgress:
			inProgress++
		default:
			return rejected(fmt.Sprintf("todo #%d: invalid status '%s' (must be 'pending', 'in_progress', or 'completed')", i+1, todo.Status)), nil
		}
	}
	if inProgress > 1 {
		return rejected(fmt.Sprintf("only ONE task can be 'in_progress' at a time, found %d", inProgress)), nil
	}

	if len(p.Todos) == 0 {
		t.store.Clear()
		return &tool.Result{
			Success: true,
			Output:  "Todo list cleared",
			Data:    map[string]any{"total": 0},
		}, nil
	}

	t.store.Set(p.Todos)

	return &tool.Result{
		Success: true,
		Output:  formatTodoList(p.Todos),
		Data: map[string]any{
			"total":       len(p.Todos),
			"pending":     countByStatus(p.Todos, StatusPending),
			"in_progress": countByStatus(p.Todos, StatusInProgress),
			"completed":   countByStatus(p.Todos, StatusCompleted),
		},
	}, nil
}

func (t *TodoTool) Reward(_ map[string]any, result *tool.Result) float64 {
	if result != nil && result.Success {
		return todoReward
	}
	return 0
}

func rejected(message string) *tool.Result {
	return &tool.Result{Success: false, Error: message}
}

func formatTodoList(todos []TodoItem) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Todo List: %d/%d completed\n", countByStatus(todos, StatusCompleted), len(todos))
	for i, todo := range todos {
		switch todo.Status {
		case StatusCompleted:
			fmt.Fprintf(&sb, "%d. [x] %s\n", i+1, todo.Content)
		case StatusInProgress:
			fmt.Fprintf(&sb, "%d. [>] %s\n", i+1, todo.ActiveForm)
		default:
			fmt.Fprintf(&sb, "%d. [ ] %s\n", i+1, todo.Content)
		}
	}
	return sb.String()
}

func countByStatus(todos []TodoItem, status TodoStatus) int {
	count := 0
	for _, todo := range todos {
		if todo.Status == status {
			count++
		}
	}
	return count
}

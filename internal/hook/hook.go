package hook

import (
	"context"
	"time"
)

// HookPoint names a moment in an episode's life where handlers run
type HookPoint string

const (
	// BeforeToolExecution runs after a call passed validation; a denial
	// turns the call into a failed execution.
	BeforeToolExecution HookPoint = "before_tool_execution"
	// AfterToolExecution observes a finished call and its reward.
	AfterToolExecution HookPoint = "after_tool_execution"

	OnEpisodeStart HookPoint = "on_episode_start"
	OnEpisodeEnd   HookPoint = "on_episode_end"
)

// HookData keys
const (
	KeyArgs    = "args"
	KeyResult  = "result"
	KeyEpisode = "episode"
	KeyReward  = "reward"
	KeyFinish  = "finish"
)

// HookData carries the event a handler sees. ToolName is empty for episode
// lifecycle points.
type HookData struct {
	Point     HookPoint
	Timestamp time.Time
	ToolName  string
	Data      map[string]any
}

// NewHookData creates a new HookData instance
func NewHookData(point HookPoint, toolName string) *HookData {
	return &HookData{
		Point:     point,
		Timestamp: time.Now(),
		ToolName:  toolName,
		Data:      make(map[string]any),
	}
}

// Set sets a data field and returns d for chaining
func (d *HookData) Set(key string, value any) *HookData {
	d.Data[key] = value
	return d
}

// Get retrieves a data field
func (d *HookData) Get(key string) any {
	return d.Data[key]
}

// GetString retrieves a string data field
func (d *HookData) GetString(key string) string {
	s, _ := d.Data[key].(string)
	return s
}

// Episode returns the episode id, or -1 when unset.
func (d *HookData) Episode() int {
	if id, ok := d.Data[KeyEpisode].(int); ok {
		return id
	}
	return -1
}

// Reward returns the reward carried by the event.
func (d *HookData) Reward() float64 {
	r, _ := d.Data[KeyReward].(float64)
	return r
}

// Args returns the tool-call arguments carried by the event.
func (d *HookData) Args() map[string]any {
	args, _ := d.Data[KeyArgs].(map[string]any)
	return args
}

// Feedback is returned by handlers to control execution flow
type Feedback struct {
	Allow    bool   // Whether to allow the operation to continue
	Message  string // Reason shown as the observation when denied
	Modified any    // Exposed to later handlers under KeyModified
}

// AllowFeedback creates an allow feedback
func AllowFeedback() *Feedback {
	return &Feedback{Allow: true}
}

// DenyFeedback creates a deny feedback with message
func DenyFeedback(message string) *Feedback {
	return &Feedback{Allow: false, Message: message}
}

// Handler is the interface for hook handlers
type Handler interface {
	// Name identifies the handler for listing and removal
	Name() string

	// Points returns which hook points this handler listens to
	Points() []HookPoint

	// Handle processes the hook event and returns feedback
	Handle(ctx context.Context, data *HookData) (*Feedback, error)

	// Priority orders handlers; higher runs first
	Priority() int
}

// Func adapts a function into a Handler.
type Func struct {
	ID    string
	On    []HookPoint
	Order int
	Fn    func(ctx context.Context, data *HookData) (*Feedback, error)
}

func (f *Func) Name() string        { return f.ID }
func (f *Func) Points() []HookPoint { return f.On }
func (f *Func) Priority() int       { return f.Order }

func (f *Func) Handle(ctx context.Context, data *HookData) (*Feedback, error) {
	return f.Fn(ctx, data)
}

// Observer wraps fn as a handler that never denies.
func Observer(name string, fn func(ctx context.Context, data *HookData), points ...HookPoint) *Func {
	return &Func{
		ID: name,
		On: points,
		Fn: func(ctx context.Context, data *HookData) (*Feedback, error) {
			fn(ctx, data)
			return AllowFeedback(), nil
		},
	}
}

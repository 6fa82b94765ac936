package rollout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"toolenv/internal/env"
	"toolenv/internal/hook"
	"toolenv/internal/llm"
	"toolenv/internal/logger"
	"toolenv/internal/parser"
	"toolenv/internal/trace"
)

// Config controls a rollout.
type Config struct {
	// Samples is the number of episodes cloned from the template
	Samples int
	// MaxRounds bounds the model turns per episode; 0 uses the template's MaxTurns
	MaxRounds     int
	SystemPrompt  string
	ResponseStart string
	ResponseEnd   string
	Temperature   float32
	MaxTokens     int
	// Concurrency caps model requests in flight; 0 means one per episode
	Concurrency int
	// Batch routes each round through the batch dispatcher
	Batch bool
	// Retries bounds extra attempts for requests failing with llm.ErrRetryable
	Retries int
	// RetryBackoff is the wait before the first retry, doubled for each next one
	RetryBackoff time.Duration
	// Seed, when set, is offset by the sample index
	Seed *int
}

// Episode is one sampled conversation.
type Episode struct {
	Sample   int
	Env      *env.Env
	Messages []llm.Message
	Usage    llm.Usage
	Finish   string
	Err      error
}

func (e *Episode) active() bool { return e.Finish == "" }

// Output holds the finished episodes of one Run.
type Output struct {
	Records  []*trace.Record
	Duration time.Duration
}

// Runner drives episodes with a language model until each one answers,
// reaches its turn limit or runs out of rounds.
type Runner struct {
	client     llm.Client
	template   *env.Env
	dispatcher *env.Dispatcher
	cfg        Config
	log        *logger.Logger
	store      *trace.Storage
	hooks      *hook.Manager
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(r *Runner) { r.log = l }
}

// WithStorage persists finished episodes.
func WithStorage(s *trace.Storage) Option {
	return func(r *Runner) { r.store = s }
}

// WithDispatcher sets the dispatcher used when Config.Batch is on.
func WithDispatcher(d *env.Dispatcher) Option {
	return func(r *Runner) { r.dispatcher = d }
}

// WithHooks triggers episode lifecycle hooks.
func WithHooks(m *hook.Manager) Option {
	return func(r *Runner) { r.hooks = m }
}

// New creates a Runner. Every episode is a clone of template, which is
// never stepped itself.
func New(client llm.Client, template *env.Env, cfg Config, opts ...Option) *Runner {
	if cfg.Samples < 1 {
		cfg.Samples = 1
	}
	if cfg.MaxRounds < 1 {
		cfg.MaxRounds = template.Config().MaxTurns
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}
	if cfg.ResponseStart == "" {
		cfg.ResponseStart = "<tool_response>"
	}
	if cfg.ResponseEnd == "" {
		cfg.ResponseEnd = "</tool_response>"
	}

	r := &Runner{
		client:     client,
		template:   template,
		dispatcher: &env.Dispatcher{},
		cfg:        cfg,
		log:        logger.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run samples cfg.Samples episodes for task. A model failure ends only the
// affected episode; a batch dispatch failure aborts the run.
func (r *Runner) Run(ctx context.Context, task string) (*Output, error) {
	start := time.Now()
	r.log.SessionStart(task)

	system, err := r.systemPrompt()
	if err != nil {
		return nil, err
	}

	episodes := make([]*Episode, r.cfg.Samples)
	for i := range episodes {
		e := r.template.Clone()
		e.SetID(i)
		episodes[i] = &Episode{
			Sample: i,
			Env:    e,
			Messages: []llm.Message{
				{Role: llm.RoleSystem, Content: system, Timestamp: start},
				{Role: llm.RoleUser, Content: task, Timestamp: start},
			},
		}
		r.trigger(ctx, hook.OnEpisodeStart, episodes[i])
	}
	defer func() {
		for _, ep := range episodes {
			if err := ep.Env.Close(); err != nil {
				r.log.Warn("episode %d: close: %v", ep.Sample, err)
			}
		}
	}()

	for round := 1; round <= r.cfg.MaxRounds; round++ {
		active := activeEpisodes(episodes)
		if len(active) == 0 {
			break
		}
		r.log.Info("Round %d: %d active episode(s)", round, len(active))

		if err := r.generate(ctx, active); err != nil {
			return nil, err
		}

		var stepping []*Episode
		for _, ep := range active {
			if !ep.active() {
				continue
			}
			if !parser.Default.HasCall(lastContent(ep)) {
				r.finish(ctx, ep, trace.FinishAnswer)
				continue
			}
			stepping = append(stepping, ep)
		}

		if err := r.step(ctx, stepping); err != nil {
			return nil, err
		}
		r.log.Round(round, r.cfg.MaxRounds, len(episodes)-len(activeEpisodes(episodes)), len(episodes))
	}

	for _, ep := range activeEpisodes(episodes) {
		r.finish(ctx, ep, trace.FinishMaxRounds)
	}

	out := &Output{Duration: time.Since(start)}
	runID := start.UTC().Format("20060102T150405.000")
	var toolCalls int
	var totalReward float64
	for _, ep := range episodes {
		tracking := ep.Env.Tracking()
		toolCalls += len(tracking.History)
		totalReward += tracking.TotalReward
		out.Records = append(out.Records, &trace.Record{
			ID:         fmt.Sprintf("%s-%d", runID, ep.Sample),
			Task:       task,
			Sample:     ep.Sample,
			Finish:     ep.Finish,
			Messages:   ep.Messages,
			Tracking:   tracking,
			Usage:      ep.Usage,
			Error:      errString(ep.Err),
			FinishedAt: time.Now(),
		})
	}

	if r.store != nil {
		if err := r.store.AppendBatch(out.Records); err != nil {
			return out, fmt.Errorf("store traces: %w", err)
		}
	}

	r.log.SessionEnd(out.Duration, toolCalls, totalReward)
	return out, nil
}

func (r *Runner) systemPrompt() (string, error) {
	prompt, err := r.template.ToolsPrompt()
	if err != nil {
		return "", fmt.Errorf("render tool prompt: %w", err)
	}
	if r.cfg.SystemPrompt == "" {
		return prompt, nil
	}
	return r.cfg.SystemPrompt + "\n\n" + prompt, nil
}

// generate asks the model for the next turn of every episode concurrently.
func (r *Runner) generate(ctx context.Context, episodes []*Episode) error {
	g, gctx := errgroup.WithContext(ctx)
	if r.cfg.Concurrency > 0 {
		g.SetLimit(r.cfg.Concurrency)
	}

	for _, ep := range episodes {
		g.Go(func() error {
			resp, err := r.chat(gctx, ep)
			if err != nil {
				if errors.Is(err, context.Canceled) && ctx.Err() != nil {
					return err
				}
				r.log.Error("episode %d: LLM call failed: %v", ep.Sample, err)
				ep.Err = err
				return nil
			}

			ep.Usage.PromptTokens += resp.Usage.PromptTokens
			ep.Usage.CompletionTokens += resp.Usage.CompletionTokens
			ep.Usage.TotalTokens += resp.Usage.TotalTokens

			msg := resp.Message
			msg.Role = llm.RoleAssistant
			if msg.Timestamp.IsZero() {
				msg.Timestamp = time.Now()
			}
			ep.Messages = append(ep.Messages, msg)
			r.log.ModelResponse(ep.Sample, msg.Content)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, ep := range episodes {
		if ep.Err != nil {
			r.finish(ctx, ep, trace.FinishError)
		}
	}
	return nil
}

// step applies the latest model turn of each episode.
func (r *Runner) step(ctx context.Context, episodes []*Episode) error {
	if len(episodes) == 0 {
		return nil
	}

	texts := make([]string, len(episodes))
	envs := make([]*env.Env, len(episodes))
	for i, ep := range episodes {
		texts[i] = lastContent(ep)
		envs[i] = ep.Env
	}

	var results []env.StepResult
	if r.cfg.Batch {
		var err error
		results, err = r.dispatcher.StepBatch(ctx, envs, texts)
		if err != nil {
			return fmt.Errorf("batch step: %w", err)
		}
	} else {
		results = make([]env.StepResult, len(episodes))
		var g errgroup.Group
		for i := range episodes {
			g.Go(func() error {
				results[i] = envs[i].Step(ctx, texts[i])
				return nil
			})
		}
		_ = g.Wait()
	}

	for i, ep := range episodes {
		res := results[i]
		ep.Messages = append(ep.Messages, llm.Message{
			Role:      llm.RoleUser,
			Content:   r.wrapObservation(res.Observation),
			Timestamp: time.Now(),
		})
		if res.Done {
			r.finish(ctx, ep, trace.FinishDone)
		}
	}
	return nil
}

// chat requests the next turn for ep, stopping generation once a tool call
// closes so the model cannot answer its own call.
func (r *Runner) chat(ctx context.Context, ep *Episode) (*llm.ChatResponse, error) {
	req := &llm.ChatRequest{
		Messages:    ep.Messages,
		Temperature: r.cfg.Temperature,
		MaxTokens:   r.cfg.MaxTokens,
		Stop:        []string{parser.Default.End()},
	}
	if r.cfg.Seed != nil {
		seed := *r.cfg.Seed + ep.Sample
		req.Seed = &seed
	}

	backoff := r.cfg.RetryBackoff
	for attempt := 0; ; attempt++ {
		resp, err := r.client.Chat(ctx, req)
		if err == nil || attempt >= r.cfg.Retries || !errors.Is(err, llm.ErrRetryable) {
			return resp, err
		}

		r.log.Warn("episode %d: %v (retry %d/%d in %s)", ep.Sample, err, attempt+1, r.cfg.Retries, backoff)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

func (r *Runner) wrapObservation(observation string) string {
	return strings.Join([]string{r.cfg.ResponseStart, observation, r.cfg.ResponseEnd}, "\n")
}

func (r *Runner) finish(ctx context.Context, ep *Episode, reason string) {
	ep.Finish = reason
	r.log.Debug("episode %d finished: %s", ep.Sample, reason)
	r.trigger(ctx, hook.OnEpisodeEnd, ep)
}

func (r *Runner) trigger(ctx context.Context, point hook.HookPoint, ep *Episode) {
	if !r.hooks.HasHandlers(point) {
		return
	}
	data := hook.NewHookData(point, "").
		Set(hook.KeyEpisode, ep.Sample).
		Set(hook.KeyReward, ep.Env.Tracking().TotalReward)
	if ep.Finish != "" {
		data.Set(hook.KeyFinish, ep.Finish)
	}
	if _, err := r.hooks.Trigger(ctx, data); err != nil {
		r.log.Warn("episode %d: %s hook failed: %v", ep.Sample, point, err)
	}
}

func activeEpisodes(episodes []*Episode) []*Episode {
	var active []*Episode
	for _, ep := range episodes {
		if ep.active() {
			active = append(active, ep)
		}
	}
	return active
}

func lastContent(ep *Episode) string {
	if len(ep.Messages) == 0 {
		return ""
	}
	return ep.Messages[len(ep.Messages)-1].Content
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

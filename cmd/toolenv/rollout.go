package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"toolenv/internal/config"
	"toolenv/internal/hook"
	"toolenv/internal/llm/openai"
	"toolenv/internal/logger"
	"toolenv/internal/metrics"
	"toolenv/internal/rollout"
	"toolenv/internal/trace"
)

func newRolloutCmd() *cobra.Command {
	var (
		samples     int
		metricsAddr string
		traceDir    string
		batch       bool
	)

	cmd := &cobra.Command{
		Use:   "rollout [task]",
		Short: "Sample LLM-driven episodes for a task and store their traces",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("samples") {
				cfg.Rollout.Samples = samples
			}
			if cmd.Flags().Changed("metrics-addr") {
				cfg.Metrics.Addr = metricsAddr
			}
			if cmd.Flags().Changed("trace-dir") {
				cfg.Trace.Dir = traceDir
			}
			if cmd.Flags().Changed("batch") {
				cfg.Batch.Enabled = batch
			}

			apiKey := cfg.LLM.ResolvedAPIKey()
			if apiKey == "" {
				return fmt.Errorf("OpenAI API key required (set OPENAI_API_KEY or llm.api_key)")
			}

			log, err := newLogger(cfg.Log)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			m := metrics.MustNewMetrics(reg)
			if cfg.Metrics.Addr != "" {
				stop := serveMetrics(cfg.Metrics.Addr, reg, log)
				defer stop()
			}

			s, err := newSession(ctx, cfg, log, m)
			if err != nil {
				return err
			}
			defer s.Close()

			lifecycle := hook.NewManager()
			lifecycle.Register(hook.Observer("episode_summary", func(ctx context.Context, data *hook.HookData) {
				log.Info("Episode %d finished: %s (reward %.3f)", data.Episode(), data.GetString(hook.KeyFinish), data.Reward())
			}, hook.OnEpisodeEnd))

			opts := []rollout.Option{
				rollout.WithLogger(log),
				rollout.WithDispatcher(cfg.Dispatcher()),
				rollout.WithHooks(lifecycle),
			}
			if cfg.Trace.Dir != "" {
				store, err := trace.NewStorage(config.ExpandEnv(cfg.Trace.Dir))
				if err != nil {
					return err
				}
				opts = append(opts, rollout.WithStorage(store))
			}

			log.Debug("Creating LLM client (model: %s)", cfg.LLM.Model)
			client := openai.NewClient(apiKey, cfg.LLM.Model, config.ExpandEnv(cfg.LLM.BaseURL))

			runner := rollout.New(client, s.template, rollout.Config{
				Samples:       cfg.Rollout.Samples,
				MaxRounds:     cfg.Env.MaxTurns,
				SystemPrompt:  cfg.Rollout.SystemPrompt,
				ResponseStart: cfg.Rollout.ResponseStart,
				ResponseEnd:   cfg.Rollout.ResponseEnd,
				Temperature:   cfg.LLM.Temperature,
				MaxTokens:     cfg.LLM.MaxTokens,
				Concurrency:   cfg.Rollout.Concurrency,
				Batch:         cfg.Batch.Enabled,
				Retries:       cfg.Rollout.Retries,
				Seed:          cfg.LLM.Seed,
			}, opts...)

			out, err := runner.Run(ctx, strings.Join(args, " "))
			if err != nil {
				log.Error("Rollout failed: %v", err)
				return err
			}

			for _, rec := range out.Records {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\tfinish=%s\tsteps=%d\treward=%.3f\n",
					rec.ID, rec.Finish, rec.Tracking.StepsTaken, rec.Tracking.TotalReward)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&samples, "samples", 1, "Episodes to sample for the task")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	cmd.Flags().StringVar(&traceDir, "trace-dir", "", "Directory for JSONL episode traces")
	cmd.Flags().BoolVar(&batch, "batch", false, "Dispatch each round's tool calls through the batch dispatcher")
	return cmd
}

// serveMetrics exposes reg on addr/metrics until the returned stop is called.
func serveMetrics(addr string, reg *prometheus.Registry, log *logger.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server: %v", err)
		}
	}()
	log.Info("Serving metrics on %s/metrics", addr)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"toolenv/internal/env"
	"toolenv/internal/jsonx"
)

const maxLineSize = 4 << 20

func newPlayCmd() *cobra.Command {
	var episodes int

	cmd := &cobra.Command{
		Use:   "play",
		Short: "Step episodes with model outputs read from stdin, one per line",
		Long: `Each input line is one raw model output. A line that starts with a double
quote is decoded as a JSON string, so multi-line outputs can be written as
"...\n...". Every step result is printed as one JSON line. With --episodes N
the same text is stepped in N cloned episodes through the batch dispatcher
and the line holds an array of N results.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log, err := newLogger(cfg.Log)
			if err != nil {
				return err
			}

			s, err := newSession(cmd.Context(), cfg, log, nil)
			if err != nil {
				return err
			}
			defer s.Close()

			envs, err := s.episodes(episodes)
			if err != nil {
				return err
			}
			defer func() {
				for _, e := range envs {
					_ = e.Close()
				}
			}()

			return play(cmd.Context(), envs, cfg.Dispatcher(), cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().IntVarP(&episodes, "episodes", "n", 1, "Number of cloned episodes stepped per line")
	return cmd
}

// play steps envs with every line of in. A single episode is stepped
// directly; several go through d.
func play(ctx context.Context, envs []*env.Env, d *env.Dispatcher, in io.Reader, out io.Writer) error {
	enc := jsonx.NewEncoder(out)
	enc.SetEscapeHTML(false)

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		text, ok, err := decodeLine(scanner.Text())
		if err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
		if !ok {
			continue
		}

		if len(envs) == 1 {
			if err := enc.Encode(envs[0].Step(ctx, text)); err != nil {
				return err
			}
			continue
		}

		texts := make([]string, len(envs))
		for i := range texts {
			texts[i] = text
		}
		results, err := d.StepBatch(ctx, envs, texts)
		if err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
		if err := enc.Encode(results); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// decodeLine returns the model output held by line. Blank lines report false.
func decodeLine(line string) (string, bool, error) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return "", false, nil
	}
	if !strings.HasPrefix(trimmed, `"`) {
		return line, true, nil
	}

	var text string
	if err := jsonx.Unmarshal([]byte(trimmed), &text); err != nil {
		return "", false, fmt.Errorf("decode JSON string: %w", err)
	}
	return text, true, nil
}

package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"toolenv/internal/jsonx"
)

// Level represents the log level
type Level int

const (
	LevelDebug Level = iota // Debug information (only shown with --verbose)
	LevelInfo               // Important steps
	LevelTool               // Tool call related
	LevelModel              // Model response
	LevelWarn               // Recoverable problems
	LevelError              // Error messages
)

// ParseLevel maps a configuration name to a Level
func ParseLevel(name string) (Level, error) {
	switch strings.ToLower(name) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "tool":
		return LevelTool, nil
	case "model":
		return LevelModel, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", name)
	}
}

// ANSI color codes for terminal output
const (
	ColorReset   = "\033[0m"
	ColorRed     = "\033[31m"
	ColorGreen   = "\033[32m"
	ColorYellow  = "\033[33m"
	ColorBlue    = "\033[34m"
	ColorMagenta = "\033[35m"
	ColorCyan    = "\033[36m"
	ColorGray    = "\033[90m"
	ColorBold    = "\033[1m"
)

const (
	resultMaxLines  = 2
	resultMaxLength = 500
)

// Logger provides structured logging for the environment. It is safe for
// concurrent use; each record is written in one piece.
type Logger struct {
	mu        sync.Mutex
	writer    io.Writer
	level     Level
	showTime  bool
	colorMode bool
}

// NewLogger creates a new Logger instance
func NewLogger(w io.Writer, level Level) *Logger {
	if w == nil {
		w = os.Stdout
	}
	return &Logger{
		writer:    w,
		level:     level,
		showTime:  true,
		colorMode: true,
	}
}

// Nop returns a Logger that discards everything
func Nop() *Logger {
	return NewLogger(io.Discard, LevelError+1)
}

// SetColorMode enables or disables colored output
func (l *Logger) SetColorMode(enabled bool) {
	l.colorMode = enabled
}

// SetShowTime enables or disables timestamp display
func (l *Logger) SetShowTime(enabled bool) {
	l.showTime = enabled
}

// Debug logs debug information (only shown in verbose mode)
func (l *Logger) Debug(format string, args ...any) {
	if l.level <= LevelDebug {
		l.log(ColorGray, "DEBUG", format, args...)
	}
}

// Info logs general information
func (l *Logger) Info(format string, args ...any) {
	if l.level <= LevelInfo {
		l.log(ColorBlue, "INFO", format, args...)
	}
}

// Warn logs problems the caller recovered from
func (l *Logger) Warn(format string, args ...any) {
	if l.level <= LevelWarn {
		l.log(ColorYellow, "WARNING", format, args...)
	}
}

// Error logs error messages
func (l *Logger) Error(format string, args ...any) {
	if l.level <= LevelError {
		l.log(ColorRed, "ERROR", format, args...)
	}
}

// ModelResponse logs one model turn with structured formatting
func (l *Logger) ModelResponse(episode int, content string) {
	if l.level <= LevelModel {
		l.printSection(ColorGreen, fmt.Sprintf("💬 Model Response (episode %d)", episode), content)
	}
}

// Step logs the outcome of one transition
func (l *Logger) Step(episode, step int, reward float64, valid, effective, done bool) {
	if l.level > LevelTool {
		return
	}
	color := ColorGreen
	switch {
	case !valid:
		color = ColorRed
	case !effective:
		color = ColorYellow
	}
	l.log(color, "STEP", "episode=%d step=%d reward=%.3f valid=%t effective=%t done=%t",
		episode, step, reward, valid, effective, done)
}

// ToolCall logs the arguments an episode passes to a tool
func (l *Logger) ToolCall(episode int, toolName string, args map[string]any) {
	if l.level <= LevelTool {
		l.printSection(ColorCyan, fmt.Sprintf("🔧 Tool Call: %s (episode %d)", toolName, episode), formatArgs(args))
	}
}

// ToolResult logs the observation of a finished call, clipped to a few lines
func (l *Logger) ToolResult(episode int, toolName string, success bool, output string, duration time.Duration) {
	if l.level > LevelTool {
		return
	}
	status := "✅ Success"
	color := ColorGreen
	if !success {
		status = "❌ Failed"
		color = ColorRed
	}
	header := fmt.Sprintf("📊 Tool Result: %s (episode %d) [%s] (%s)", toolName, episode, status, duration)
	l.printSection(color, header, clip(output, resultMaxLines, resultMaxLength))
}

// Batch logs one grouped execution spanning several episodes
func (l *Logger) Batch(toolName string, calls int, duration time.Duration) {
	if l.level <= LevelTool {
		l.log(ColorMagenta, "BATCH", "tool=%s calls=%d duration=%s", toolName, calls, duration.Round(time.Microsecond))
	}
}

// SessionStart logs the beginning of a rollout session
func (l *Logger) SessionStart(task string) {
	if l.level > LevelError {
		return
	}
	l.printBanner(ColorCyan, "🚀 Session Started", task)
}

// SessionEnd logs the completion of a rollout session with statistics
func (l *Logger) SessionEnd(duration time.Duration, toolCallCount int, totalReward float64) {
	if l.level > LevelError {
		return
	}
	summary := fmt.Sprintf("Duration: %s | Tool Calls: %d | Total Reward: %.3f",
		duration.Round(time.Millisecond), toolCallCount, totalReward)
	l.printBanner(ColorGreen, "✨ Session Completed", summary)
}

// Round logs rollout progress after a round
func (l *Logger) Round(round, maxRounds, finished, episodes int) {
	if l.level <= LevelInfo {
		l.log(ColorCyan, "ROUND", "%s %d/%d | %d/%d episodes finished",
			l.progressBar(round, maxRounds, 20), round, maxRounds, finished, episodes)
	}
}

// log is the core logging method
func (l *Logger) log(color, level, format string, args ...any) {
	timestamp := ""
	if l.showTime {
		timestamp = time.Now().Format("15:04:05") + " "
	}

	msg := fmt.Sprintf(format, args...)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.colorMode {
		fmt.Fprintf(l.writer, "%s%s[%s]%s %s\n",
			color, timestamp, level, ColorReset, msg)
	} else {
		fmt.Fprintf(l.writer, "%s[%s] %s\n", timestamp, level, msg)
	}
}

// printSection prints a formatted section with header and content
func (l *Logger) printSection(color, header, content string) {
	separator := strings.Repeat("─", 60)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.colorMode {
		fmt.Fprintf(l.writer, "\n%s%s%s%s\n", ColorBold, color, header, ColorReset)
		fmt.Fprintf(l.writer, "%s%s%s\n", color, separator, ColorReset)
		fmt.Fprintf(l.writer, "%s\n", content)
		fmt.Fprintf(l.writer, "%s%s%s\n\n", color, separator, ColorReset)
	} else {
		fmt.Fprintf(l.writer, "\n%s\n%s\n%s\n%s\n\n", header, separator, content, separator)
	}
}

// printBanner prints a prominent banner for session start/end
func (l *Logger) printBanner(color, title, subtitle string) {
	separator := strings.Repeat("═", 70)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.colorMode {
		fmt.Fprintf(l.writer, "\n%s%s%s%s\n", ColorBold, color, separator, ColorReset)
		fmt.Fprintf(l.writer, "%s%s  %s%s\n", ColorBold, color, title, ColorReset)
		if subtitle != "" {
			fmt.Fprintf(l.writer, "%s  %s%s\n", color, subtitle, ColorReset)
		}
		fmt.Fprintf(l.writer, "%s%s%s%s\n\n", ColorBold, color, separator, ColorReset)
	} else {
		fmt.Fprintf(l.writer, "\n%s\n  %s\n", separator, title)
		if subtitle != "" {
			fmt.Fprintf(l.writer, "  %s\n", subtitle)
		}
		fmt.Fprintf(l.writer, "%s\n\n", separator)
	}
}

// progressBar generates a progress bar string
func (l *Logger) progressBar(current, total, width int) string {
	if total == 0 {
		return ""
	}

	percent := float64(current) / float64(total)
	filled := int(percent * float64(width))

	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)

	if l.colorMode {
		return fmt.Sprintf("%s%s%s %.0f%%", ColorCyan, bar, ColorReset, percent*100)
	}
	return fmt.Sprintf("%s %.0f%%", bar, percent*100)
}

// formatArgs keeps short argument objects on one line and indents long ones
func formatArgs(args map[string]any) string {
	compact, err := jsonx.MarshalString(args)
	if err != nil {
		return fmt.Sprintf("%v", args)
	}
	if len(compact) < 80 {
		return compact
	}

	pretty, err := jsonx.MarshalIndent(args, "", "  ")
	if err != nil {
		return compact
	}
	return string(pretty)
}

// clip limits output to maxLines lines and maxLength bytes
func clip(output string, maxLines, maxLength int) string {
	lines := strings.Split(strings.TrimRight(output, "\n"), "\n")
	clipped := output
	droppedLines := len(lines) > maxLines
	if droppedLines {
		clipped = strings.Join(lines[:maxLines], "\n")
	}

	switch {
	case len(clipped) > maxLength:
		return clipped[:maxLength] + "..."
	case droppedLines:
		return clipped + "\n..."
	default:
		return clipped
	}
}

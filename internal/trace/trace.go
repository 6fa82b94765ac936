package trace

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"toolenv/internal/env"
	"toolenv/internal/jsonx"
	"toolenv/internal/llm"
)

const dateLayout = "2006-01-02"

// Finish reasons for a stored episode.
const (
	FinishDone      = "done"       // turn limit reached on a successful call
	FinishAnswer    = "answer"     // model replied without a tool call
	FinishMaxRounds = "max_rounds" // rollout stopped the episode
	FinishError     = "error"      // model request failed
)

// Record is one finished episode.
type Record struct {
	ID         string        `json:"id"`
	Task       string        `json:"task"`
	Sample     int           `json:"sample"`
	Finish     string        `json:"finish"`
	Messages   []llm.Message `json:"messages"`
	Tracking   env.Tracking  `json:"tracking"`
	Usage      llm.Usage     `json:"usage"`
	Error      string        `json:"error,omitempty"`
	FinishedAt time.Time     `json:"finished_at"`
}

// Storage persists Records as JSONL, one file per day.
type Storage struct {
	dir string
	mu  sync.Mutex
}

// NewStorage creates a Storage rooted at dir.
func NewStorage(dir string) (*Storage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create trace dir: %w", err)
	}
	return &Storage{dir: dir}, nil
}

// Append writes rec to the file for its UTC finish date.
func (s *Storage) Append(rec *Record) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.FinishedAt.IsZero() {
		rec.FinishedAt = time.Now()
	}
	path := filepath.Join(s.dir, rec.FinishedAt.UTC().Format(dateLayout)+".jsonl")

	data, err := jsonx.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal trace: %w", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", path, cerr)
		}
	}()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write trace: %w", err)
	}
	return nil
}

// AppendBatch writes multiple records.
func (s *Storage) AppendBatch(recs []*Record) error {
	for _, rec := range recs {
		if err := s.Append(rec); err != nil {
			return err
		}
	}
	return nil
}

// Read returns records from files whose UTC date lies within the UTC days
// of after and before. Zero times leave that side open. Malformed lines are
// skipped.
func (s *Storage) Read(after, before time.Time) ([]*Record, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read trace dir: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".jsonl" {
			continue
		}
		day, err := time.Parse(dateLayout, strings.TrimSuffix(entry.Name(), ".jsonl"))
		if err != nil {
			continue
		}
		if !after.IsZero() && day.Before(utcDay(after)) {
			continue
		}
		if !before.IsZero() && day.After(utcDay(before)) {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	var results []*Record
	for _, name := range names {
		recs, err := readFile(filepath.Join(s.dir, name))
		if err != nil {
			return nil, err
		}
		results = append(results, recs...)
	}
	return results, nil
}

func utcDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func readFile(path string) ([]*Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var results []*Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1024*1024), 10*1024*1024) // 10MB max line
	for scanner.Scan() {
		var rec Record
		if err := jsonx.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue // skip malformed lines
		}
		results = append(results, &rec)
	}
	return results, scanner.Err()
}

package analytics

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"signalcast/pkg/logx"
)

// fileSink is the dependency-free backend: one append-only JSON Lines
// file, one record per line, flushed on every write. It never reads the
// file back; pruning is left to logrotate or the operator.
type fileSink struct {
	log logx.Logger

	mu sync.Mutex
	f  *os.File
	w  *bufio.Writer
}

// line is the on-disk envelope. Exactly one of Analysis / Outcome is set.
type line struct {
	Kind     string          `json:"kind"`
	Analysis *AnalysisRecord `json:"analysis,omitempty"`
	Outcome  *OutcomeRecord  `json:"outcome,omitempty"`
}

func openFile(cfg Config, log logx.Logger) (Sink, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("analytics.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &fileSink{log: log, f: f, w: bufio.NewWriter(f)}, nil
}

func (s *fileSink) RecordAnalysis(ctx context.Context, r AnalysisRecord) error {
	if r.At.IsZero() {
		r.At = time.Now()
	}
	return s.append(line{Kind: "analysis", Analysis: &r})
}

func (s *fileSink) RecordOutcome(ctx context.Context, r OutcomeRecord) error {
	if r.At.IsZero() {
		r.At = time.Now()
	}
	return s.append(line{Kind: "outcome", Outcome: &r})
}

func (s *fileSink) Prune(ctx context.Context, olderThan time.Time) error {
	return nil
}

func (s *fileSink) append(l line) error {
	b, err := json.Marshal(l)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return ErrDisabled
	}
	if _, err := s.w.Write(b); err != nil {
		return err
	}
	if err := s.w.WriteByte('\n'); err != nil {
		return err
	}
	return s.w.Flush()
}

func (s *fileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	_ = s.w.Flush()
	err := s.f.Close()
	s.f = nil
	return err
}

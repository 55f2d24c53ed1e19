// Package analytics is the write-only historical sink. Recording is
// best-effort: the engine never blocks or fails an operation because the
// sink is slow or broken.
package analytics

import (
	"context"
	"errors"
	"strings"
	"time"

	"signalcast/pkg/logx"
)

var ErrDisabled = errors.New("analytics disabled")

// Config configures the sink.
//
// Driver values:
//   - "file":   append-only JSON Lines file
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", analytics is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// AnalysisRecord is one analysis event. Keep it compact and schema-stable.
type AnalysisRecord struct {
	At             time.Time `json:"at"`
	Fingerprint    string    `json:"fingerprint"`
	LanguageTag    string    `json:"language_tag"`
	SentimentScore float64   `json:"sentiment_score"`
	DominantTone   string    `json:"dominant_tone"`
	Intensity      float64   `json:"intensity"`
	CacheHit       bool      `json:"cache_hit"`
}

// OutcomeRecord is one terminal per-channel delivery outcome.
type OutcomeRecord struct {
	At        time.Time `json:"at"`
	JobID     string    `json:"job_id"`
	ChannelID string    `json:"channel_id"`
	Status    string    `json:"status"`
	ErrorKind string    `json:"error_kind,omitempty"`
	Retries   int       `json:"retries"`
	TookMS    int64     `json:"took_ms"`
}

// Sink is the persistence API used by the engine and the dispatcher's
// event tail.
type Sink interface {
	RecordAnalysis(ctx context.Context, r AnalysisRecord) error
	RecordOutcome(ctx context.Context, r OutcomeRecord) error
	// Prune drops records older than the cutoff. The file driver treats
	// this as a no-op.
	Prune(ctx context.Context, olderThan time.Time) error
	Close() error
}

// Open initializes the configured sink.
// It returns (nil, nil) if analytics is disabled.
func Open(cfg Config, log logx.Logger) (Sink, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown analytics driver: " + driver)
	}
}

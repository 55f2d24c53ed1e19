package analytics

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalcast/pkg/logx"
)

func TestOpenDisabled(t *testing.T) {
	for _, driver := range []string{"", "none", "  NONE  "} {
		s, err := Open(Config{Driver: driver}, logx.Nop())
		require.NoError(t, err)
		assert.Nil(t, s)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "postgres"}, logx.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown analytics driver")
}

func TestFileSinkAppendsJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "analytics.jsonl")
	s, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	at := time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.RecordAnalysis(ctx, AnalysisRecord{
		At: at, Fingerprint: "fp-1", LanguageTag: "en",
		SentimentScore: 0.4, DominantTone: "informative", Intensity: 0.2,
	}))
	require.NoError(t, s.RecordOutcome(ctx, OutcomeRecord{
		At: at, JobID: "job-1", ChannelID: "slack", Status: "delivered", Retries: 1, TookMS: 42,
	}))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []line
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var l line
		require.NoError(t, json.Unmarshal(sc.Bytes(), &l))
		lines = append(lines, l)
	}
	require.NoError(t, sc.Err())
	require.Len(t, lines, 2)

	assert.Equal(t, "analysis", lines[0].Kind)
	require.NotNil(t, lines[0].Analysis)
	assert.Equal(t, "fp-1", lines[0].Analysis.Fingerprint)

	assert.Equal(t, "outcome", lines[1].Kind)
	require.NotNil(t, lines[1].Outcome)
	assert.Equal(t, "slack", lines[1].Outcome.ChannelID)
	assert.Equal(t, int64(42), lines[1].Outcome.TookMS)
}

func TestFileSinkClosedWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "analytics.jsonl")
	s, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	err = s.RecordAnalysis(context.Background(), AnalysisRecord{Fingerprint: "x"})
	assert.ErrorIs(t, err, ErrDisabled)
	assert.NoError(t, s.Close())
}

func TestSQLiteSinkRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "analytics.db")
	s, err := Open(Config{Driver: "sqlite", Path: path, BusyTimeout: time.Second}, logx.Nop())
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	old := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	recent := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.RecordAnalysis(ctx, AnalysisRecord{
		At: old, Fingerprint: "fp-old", LanguageTag: "en",
		SentimentScore: -0.5, DominantTone: "venting", Intensity: 0.8, CacheHit: true,
	}))
	require.NoError(t, s.RecordAnalysis(ctx, AnalysisRecord{
		At: recent, Fingerprint: "fp-new", LanguageTag: "en",
		SentimentScore: 0.5, DominantTone: "celebratory", Intensity: 0.3,
	}))
	require.NoError(t, s.RecordOutcome(ctx, OutcomeRecord{
		At: recent, JobID: "job-1", ChannelID: "telegram", Status: "failed", ErrorKind: "timeout",
	}))

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM analyses`).Scan(&n))
	assert.Equal(t, 2, n)
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM outcomes WHERE error_kind = 'timeout'`).Scan(&n))
	assert.Equal(t, 1, n)

	require.NoError(t, s.Prune(ctx, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM analyses`).Scan(&n))
	assert.Equal(t, 1, n)
	var fp string
	require.NoError(t, db.QueryRow(`SELECT fingerprint FROM analyses`).Scan(&fp))
	assert.Equal(t, "fp-new", fp)
}

package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalcast/internal/adapter"
	"signalcast/internal/analyzer"
	"signalcast/internal/dispatch"
	"signalcast/internal/engine"
	"signalcast/internal/eventbus"
	"signalcast/internal/lexicon"
	"signalcast/internal/models"
	"signalcast/internal/resultcache"
	"signalcast/internal/scorer"
	"signalcast/pkg/logx"
)

const testLexicon = `
version: "lex-1"
language: en
sentiment:
  good: 0.6
  great: 0.8
  worst: -0.9
tone:
  venting:
    worst: 0.5
  informative:
    update: 0.4
    released: 0.5
negations: [not, no]
stopwords: [the, a, we]
`

const testProfiles = `
version: "pv-1"
profiles:
  - channel_id: slack
    max_length: 4000
    preferred_tones:
      informative: 0.8
  - channel_id: microblog
    max_length: 120
    formatting:
      continuation_marker: "…"
`

type okAdapter struct{ id string }

func (a okAdapter) ChannelID() string { return a.id }
func (a okAdapter) Send(ctx context.Context, text string) (models.Receipt, error) {
	return models.Receipt{MessageID: a.id + "-1", DeliveredAt: time.Now()}, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "en.yaml"), []byte(testLexicon), 0o644))
	profilesPath := filepath.Join(t.TempDir(), "profiles.yaml")
	require.NoError(t, os.WriteFile(profilesPath, []byte(testProfiles), 0o644))

	lexStore := lexicon.NewStore(logx.Nop())
	require.NoError(t, lexStore.Reload(dir))
	profStore := scorer.NewProfileStore(logx.Nop())
	require.NoError(t, profStore.Reload(profilesPath))

	reg := adapter.NewRegistry(okAdapter{id: "slack"}, okAdapter{id: "microblog"})
	disp := dispatch.New(dispatch.Config{
		ChannelTimeout: 100 * time.Millisecond,
		RetryBase:      time.Millisecond,
		JobDeadline:    2 * time.Second,
	}, reg, eventbus.New(), logx.Nop())

	eng := engine.New(
		engine.Config{},
		lexStore,
		profStore,
		analyzer.New(lexStore, analyzer.Config{}),
		scorer.New(scorer.Weights{}),
		resultcache.New(resultcache.Config{}, logx.Nop()),
		disp,
		eventbus.New(),
		logx.Nop(),
	)
	return New(Config{}, eng, logx.Nop())
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAnalyzeEndpoint(t *testing.T) {
	h := newTestServer(t).Routes()

	rec := doJSON(t, h, http.MethodPost, "/v1/analyze", map[string]string{
		"text": "We released the worst update",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var res models.AnalysisResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	assert.Equal(t, "lex-1", res.LexiconVersion)
	assert.Negative(t, res.SentimentScore)
}

func TestAnalyzeEndpointInputErrors(t *testing.T) {
	h := newTestServer(t).Routes()

	rec := doJSON(t, h, http.MethodPost, "/v1/analyze", map[string]string{"text": "   "})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var body errorBody
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, engine.CodeEmptyContent, body.Code)

	rec = doJSON(t, h, http.MethodPost, "/v1/analyze", map[string]string{
		"text": "hello", "language_tag": "xx",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, engine.CodeUnsupportedLanguage, body.Code)
}

func TestAnalyzeEndpointRejectsUnknownFields(t *testing.T) {
	h := newTestServer(t).Routes()
	rec := doJSON(t, h, http.MethodPost, "/v1/analyze", map[string]string{
		"text": "hello", "bogus": "field",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var body errorBody
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "bad_request", body.Code)
}

func TestRecommendEndpoint(t *testing.T) {
	h := newTestServer(t).Routes()

	rec := doJSON(t, h, http.MethodPost, "/v1/recommend-channels", map[string]any{
		"text": "We released a great update",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var res struct {
		Channels []models.ScoredPlatform `json:"channels"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	require.Len(t, res.Channels, 2)
	assert.Equal(t, 1, res.Channels[0].Rank)
	assert.GreaterOrEqual(t, res.Channels[0].Score, res.Channels[1].Score)
}

func TestRecommendEndpointCandidateFilter(t *testing.T) {
	h := newTestServer(t).Routes()

	rec := doJSON(t, h, http.MethodPost, "/v1/recommend-channels", map[string]any{
		"text":               "We released a great update",
		"candidate_channels": []string{"ghost"},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var body errorBody
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, engine.CodeEmptyProfileSet, body.Code)
}

func TestDistributeEndpoint(t *testing.T) {
	h := newTestServer(t).Routes()

	rec := doJSON(t, h, http.MethodPost, "/v1/distribute", map[string]any{
		"text":     "We released a great update",
		"channels": []string{"slack", "microblog"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp engine.DistributeResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, models.JobDelivered, resp.Result.State)
	assert.Len(t, resp.Result.Outcomes, 2)
	assert.Equal(t, 2, resp.Result.Summary.Delivered)
}

func TestDistributeEndpointNoChannels(t *testing.T) {
	h := newTestServer(t).Routes()

	rec := doJSON(t, h, http.MethodPost, "/v1/distribute", map[string]any{
		"text": "We released a great update",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var body errorBody
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, engine.CodeNoChannels, body.Code)
}

func TestHealthz(t *testing.T) {
	h := newTestServer(t).Routes()
	rec := doJSON(t, h, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthzNotReady(t *testing.T) {
	eng := engine.New(
		engine.Config{},
		lexicon.NewStore(logx.Nop()),
		scorer.NewProfileStore(logx.Nop()),
		analyzer.New(lexicon.NewStore(logx.Nop()), analyzer.Config{}),
		scorer.New(scorer.Weights{}),
		resultcache.New(resultcache.Config{}, logx.Nop()),
		nil,
		nil,
		logx.Nop(),
	)
	h := New(Config{}, eng, logx.Nop()).Routes()
	rec := doJSON(t, h, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsz(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Routes()

	doJSON(t, h, http.MethodPost, "/v1/analyze", map[string]string{"text": "great update"})
	rec := doJSON(t, h, http.MethodGet, "/metricsz", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var snap engine.Snapshot
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&snap))
	assert.Equal(t, 1, snap.Cache.Size)
	assert.Equal(t, "pv-1", snap.ProfileVersion)
}

func TestMethodNotAllowed(t *testing.T) {
	h := newTestServer(t).Routes()
	rec := doJSON(t, h, http.MethodGet, "/v1/analyze", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

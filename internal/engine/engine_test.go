package engine

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalcast/internal/adapter"
	"signalcast/internal/analyzer"
	"signalcast/internal/dispatch"
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
  bad: -0.6
  worst: -0.9
tone:
  venting:
    worst: 0.5
    ever: 0.2
  celebratory:
    shipped: 0.3
    launched: 0.4
  informative:
    update: 0.4
    released: 0.5
intensity:
  very: 0.3
negations: [not, no, never]
stopwords: [the, a, an, we, to, of, is, it]
`

const testProfiles = `
version: "pv-1"
profiles:
  - channel_id: microblog
    max_length: 80
    preferred_tones:
      celebratory: 0.7
    formatting:
      continuation_marker: "…"
  - channel_id: slack
    max_length: 4000
    preferred_tones:
      informative: 0.8
    topic_affinities: [update, release]
  - channel_id: telegram
    max_length: 4096
    preferred_tones:
      informative: 0.5
`

type captureAdapter struct {
	id    string
	calls int32
	last  atomic.Value
}

func (c *captureAdapter) ChannelID() string { return c.id }

func (c *captureAdapter) Send(ctx context.Context, text string) (models.Receipt, error) {
	atomic.AddInt32(&c.calls, 1)
	c.last.Store(text)
	return models.Receipt{MessageID: c.id + "-1", DeliveredAt: time.Now()}, nil
}

func (c *captureAdapter) lastText() string {
	v, _ := c.last.Load().(string)
	return v
}

type fakeDeferrer struct {
	jobs []models.DistributionJob
	at   []time.Time
}

func (f *fakeDeferrer) Defer(job models.DistributionJob, at time.Time) error {
	f.jobs = append(f.jobs, job)
	f.at = append(f.at, at)
	return nil
}

type testEnv struct {
	engine   *Engine
	cache    *resultcache.Cache
	adapters map[string]*captureAdapter
	deferrer *fakeDeferrer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "en.yaml"), []byte(testLexicon), 0o644))
	profilesPath := filepath.Join(t.TempDir(), "profiles.yaml")
	require.NoError(t, os.WriteFile(profilesPath, []byte(testProfiles), 0o644))

	lexStore := lexicon.NewStore(logx.Nop())
	require.NoError(t, lexStore.Reload(dir))
	profStore := scorer.NewProfileStore(logx.Nop())
	require.NoError(t, profStore.Reload(profilesPath))

	adapters := map[string]*captureAdapter{
		"microblog": {id: "microblog"},
		"slack":     {id: "slack"},
		"telegram":  {id: "telegram"},
	}
	reg := adapter.NewRegistry()
	for _, a := range adapters {
		reg.Register(a)
	}

	cache := resultcache.New(resultcache.Config{}, logx.Nop())
	disp := dispatch.New(dispatch.Config{
		ChannelTimeout: 100 * time.Millisecond,
		RetryBase:      time.Millisecond,
		JobDeadline:    2 * time.Second,
	}, reg, eventbus.New(), logx.Nop())

	eng := New(
		Config{},
		lexStore,
		profStore,
		analyzer.New(lexStore, analyzer.Config{}),
		scorer.New(scorer.Weights{}),
		cache,
		disp,
		eventbus.New(),
		logx.Nop(),
	)
	def := &fakeDeferrer{}
	eng.SetDeferrer(def)
	return &testEnv{engine: eng, cache: cache, adapters: adapters, deferrer: def}
}

func TestAnalyzeServedFromCache(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	req := AnalyzeRequest{Text: "We shipped the worst update ever"}
	r1, err := env.engine.Analyze(ctx, req)
	require.NoError(t, err)
	r2, err := env.engine.Analyze(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, r1, r2)

	stats := env.cache.Stats()
	assert.Equal(t, 1, stats.Size)
	assert.GreaterOrEqual(t, stats.Hits, uint64(1))
}

func TestAnalyzeVentingExample(t *testing.T) {
	env := newTestEnv(t)

	res, err := env.engine.Analyze(context.Background(), AnalyzeRequest{
		Text: "We just shipped the worst update ever",
	})
	require.NoError(t, err)
	assert.Equal(t, models.ToneVenting, res.DominantTone)
	assert.Negative(t, res.SentimentScore)
	assert.Equal(t, "lex-1", res.LexiconVersion)
}

func TestAnalyzeInputErrors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.engine.Analyze(ctx, AnalyzeRequest{Text: "   "})
	ie, ok := AsInputError(err)
	require.True(t, ok)
	assert.Equal(t, CodeEmptyContent, ie.Code)

	_, err = env.engine.Analyze(ctx, AnalyzeRequest{Text: "hello", LanguageTag: "xx"})
	ie, ok = AsInputError(err)
	require.True(t, ok)
	assert.Equal(t, CodeUnsupportedLanguage, ie.Code)
}

func TestAnalyzeWithoutLexicons(t *testing.T) {
	env := newTestEnv(t)
	eng := New(
		Config{},
		lexicon.NewStore(logx.Nop()),
		scorer.NewProfileStore(logx.Nop()),
		analyzer.New(lexicon.NewStore(logx.Nop()), analyzer.Config{}),
		scorer.New(scorer.Weights{}),
		env.cache,
		nil,
		nil,
		logx.Nop(),
	)
	_, err := eng.Analyze(context.Background(), AnalyzeRequest{Text: "hello"})
	ce, ok := AsConfigurationError(err)
	require.True(t, ok)
	assert.Equal(t, CodeLexiconNotLoaded, ce.Code)
	assert.False(t, eng.Ready())
	assert.True(t, env.engine.Ready())
}

func TestRecommendAllProfiles(t *testing.T) {
	env := newTestEnv(t)

	scored, err := env.engine.RecommendChannels(context.Background(), RecommendRequest{
		Text: "We launched a great update",
	})
	require.NoError(t, err)
	require.Len(t, scored, 3)
	for i, sp := range scored {
		assert.Equal(t, i+1, sp.Rank)
		if i > 0 {
			assert.LessOrEqual(t, sp.Score, scored[i-1].Score)
		}
	}
}

func TestRecommendCandidateFilter(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	scored, err := env.engine.RecommendChannels(ctx, RecommendRequest{
		Text:              "We launched a great update",
		CandidateChannels: []string{"slack", "telegram"},
	})
	require.NoError(t, err)
	require.Len(t, scored, 2)
	assert.Equal(t, 1, scored[0].Rank)
	assert.Equal(t, 2, scored[1].Rank)
	for _, sp := range scored {
		assert.NotEqual(t, "microblog", sp.ChannelID)
	}

	_, err = env.engine.RecommendChannels(ctx, RecommendRequest{
		Text:              "We launched a great update",
		CandidateChannels: []string{"ghost"},
	})
	ie, ok := AsInputError(err)
	require.True(t, ok)
	assert.Equal(t, CodeEmptyProfileSet, ie.Code)
}

func TestDistributeSynchronous(t *testing.T) {
	env := newTestEnv(t)

	resp, err := env.engine.Distribute(context.Background(), DistributeRequest{
		Text:     "We launched a great update. More details follow tomorrow in the changelog.",
		Channels: []string{"slack", "microblog"},
	})
	require.NoError(t, err)
	assert.False(t, resp.Deferred)
	assert.Equal(t, models.JobDelivered, resp.Result.State)
	assert.NotEmpty(t, resp.Result.JobID)
	assert.Equal(t, 2, resp.Result.Summary.Delivered)

	// The microblog profile caps length at 80; its copy must be optimized.
	short := env.adapters["microblog"].lastText()
	assert.LessOrEqual(t, len([]rune(short)), 80)
	assert.Equal(t,
		"We launched a great update. More details follow tomorrow in the changelog.",
		env.adapters["slack"].lastText())
}

func TestDistributeNoChannels(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.engine.Distribute(context.Background(), DistributeRequest{Text: "hello update"})
	ie, ok := AsInputError(err)
	require.True(t, ok)
	assert.Equal(t, CodeNoChannels, ie.Code)
}

func TestDistributeDeferred(t *testing.T) {
	env := newTestEnv(t)

	at := time.Now().Add(time.Hour)
	resp, err := env.engine.Distribute(context.Background(), DistributeRequest{
		Text:       "We launched a great update",
		Channels:   []string{"slack"},
		ScheduleAt: &at,
	})
	require.NoError(t, err)
	assert.True(t, resp.Deferred)
	assert.Equal(t, models.JobPending, resp.Result.State)
	require.Len(t, env.deferrer.jobs, 1)
	assert.Equal(t, resp.Result.JobID, env.deferrer.jobs[0].ID)
	assert.Equal(t, at, env.deferrer.at[0])
	// Nothing was sent yet.
	assert.Equal(t, int32(0), atomic.LoadInt32(&env.adapters["slack"].calls))
}

func TestDistributePastScheduleRunsNow(t *testing.T) {
	env := newTestEnv(t)

	at := time.Now().Add(-time.Minute)
	resp, err := env.engine.Distribute(context.Background(), DistributeRequest{
		Text:       "We launched a great update",
		Channels:   []string{"slack"},
		ScheduleAt: &at,
	})
	require.NoError(t, err)
	assert.False(t, resp.Deferred)
	assert.Equal(t, models.JobDelivered, resp.Result.State)
	assert.Empty(t, env.deferrer.jobs)
}

func TestSnapshot(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.engine.Analyze(context.Background(), AnalyzeRequest{Text: "great update"})
	require.NoError(t, err)

	s := env.engine.Snapshot()
	assert.Equal(t, 1, s.Cache.Size)
	assert.Equal(t, "lex-1", s.LexiconVersion)
	assert.Equal(t, "pv-1", s.ProfileVersion)
	assert.Equal(t, 3, s.ProfileCount)
	assert.Contains(t, s.Languages, "en")
}

// Package engine ties the analyzer, scorer, optimizer, result cache and
// dispatcher into the three operations the API exposes. It owns the
// request-level error taxonomy: input and configuration errors fail the
// whole request, channel errors stay inside the distribution result.
package engine

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"signalcast/internal/analytics"
	"signalcast/internal/analyzer"
	"signalcast/internal/dispatch"
	"signalcast/internal/eventbus"
	"signalcast/internal/lexicon"
	"signalcast/internal/models"
	"signalcast/internal/optimizer"
	"signalcast/internal/resultcache"
	"signalcast/internal/scorer"
	"signalcast/pkg/logx"
)

// Deferrer queues a job for later dispatch. The scheduler implements it;
// the engine only decides whether a job runs now or later.
type Deferrer interface {
	Defer(job models.DistributionJob, at time.Time) error
}

type AnalyzeRequest struct {
	Text        string `json:"text"`
	LanguageTag string `json:"language_tag,omitempty"`
}

type RecommendRequest struct {
	Text              string   `json:"text"`
	LanguageTag       string   `json:"language_tag,omitempty"`
	CandidateChannels []string `json:"candidate_channels,omitempty"`
}

type DistributeRequest struct {
	Text        string     `json:"text"`
	LanguageTag string     `json:"language_tag,omitempty"`
	Channels    []string   `json:"channels"`
	ScheduleAt  *time.Time `json:"schedule_at,omitempty"`
}

// DistributeResponse carries either a finished result or, for a future
// schedule_at, the pending job handle.
type DistributeResponse struct {
	Result   models.DistributionResult `json:"result"`
	Deferred bool                      `json:"deferred,omitempty"`
}

type Config struct {
	DefaultLanguage string
	CacheTTL        time.Duration
}

func (c Config) withDefaults() Config {
	if c.DefaultLanguage == "" {
		c.DefaultLanguage = "en"
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = time.Hour
	}
	return c
}

type Engine struct {
	cfg        Config
	lexicons   *lexicon.Store
	profiles   *scorer.ProfileStore
	analyzer   *analyzer.Analyzer
	scorer     *scorer.Scorer
	cache      *resultcache.Cache
	dispatcher *dispatch.Dispatcher
	deferrer   Deferrer
	sink       analytics.Sink
	bus        eventbus.Bus
	log        logx.Logger
}

func New(
	cfg Config,
	lexicons *lexicon.Store,
	profiles *scorer.ProfileStore,
	an *analyzer.Analyzer,
	sc *scorer.Scorer,
	cache *resultcache.Cache,
	dispatcher *dispatch.Dispatcher,
	bus eventbus.Bus,
	log logx.Logger,
) *Engine {
	return &Engine{
		cfg:        cfg.withDefaults(),
		lexicons:   lexicons,
		profiles:   profiles,
		analyzer:   an,
		scorer:     sc,
		cache:      cache,
		dispatcher: dispatcher,
		bus:        bus,
		log:        log,
	}
}

// SetDeferrer wires the scheduler in after construction; the scheduler
// itself needs the dispatcher, so the two are built in sequence.
func (e *Engine) SetDeferrer(d Deferrer) { e.deferrer = d }

// SetSink wires in the optional analytics sink. Recording stays
// fire-and-forget; a nil sink disables it.
func (e *Engine) SetSink(s analytics.Sink) { e.sink = s }

// Analyze returns the analysis for the text, served from cache when the
// fingerprint matches a previous run against the same lexicon and
// profile versions.
func (e *Engine) Analyze(ctx context.Context, req AnalyzeRequest) (models.AnalysisResult, error) {
	val, _, err := e.analyzed(ctx, req.Text, req.LanguageTag)
	if err != nil {
		return models.AnalysisResult{}, err
	}
	return val.Analysis, nil
}

// RecommendChannels returns the ranked candidates for the text. With an
// explicit candidate list only those channels are returned, re-ranked;
// candidates without a profile are ignored.
func (e *Engine) RecommendChannels(ctx context.Context, req RecommendRequest) ([]models.ScoredPlatform, error) {
	val, _, err := e.analyzed(ctx, req.Text, req.LanguageTag)
	if err != nil {
		return nil, err
	}
	if len(req.CandidateChannels) == 0 {
		return val.Scored, nil
	}

	want := make(map[string]bool, len(req.CandidateChannels))
	for _, id := range req.CandidateChannels {
		want[id] = true
	}
	out := make([]models.ScoredPlatform, 0, len(req.CandidateChannels))
	for _, sp := range val.Scored {
		if want[sp.ChannelID] {
			sp.Rank = len(out) + 1
			out = append(out, sp)
		}
	}
	if len(out) == 0 {
		return nil, inputErr(CodeEmptyProfileSet, errors.New("no candidate channel has a profile"))
	}
	return out, nil
}

// Distribute runs the full pipeline: analyze (cached), verify targets,
// optimize per channel, then dispatch now or hand the job to the
// scheduler when schedule_at lies in the future.
func (e *Engine) Distribute(ctx context.Context, req DistributeRequest) (DistributeResponse, error) {
	if len(req.Channels) == 0 {
		return DistributeResponse{}, inputErr(CodeNoChannels, errors.New("channels list is empty"))
	}
	_, ps, err := e.analyzed(ctx, req.Text, req.LanguageTag)
	if err != nil {
		return DistributeResponse{}, err
	}

	job := models.DistributionJob{
		ID: uuid.NewString(),
		Content: models.ContentItem{
			ID:          uuid.NewString(),
			Text:        req.Text,
			LanguageTag: e.language(req.LanguageTag),
			CreatedAt:   time.Now().UTC(),
		},
		TargetChannels: req.Channels,
		OptimizedText:  e.optimize(req.Text, req.Channels, ps),
		SubmittedAt:    time.Now().UTC(),
	}

	if req.ScheduleAt != nil && req.ScheduleAt.After(time.Now()) {
		if e.deferrer == nil {
			return DistributeResponse{}, configErr(CodeNoScheduler, errors.New("no scheduler is wired in"))
		}
		if err := e.deferrer.Defer(job, *req.ScheduleAt); err != nil {
			return DistributeResponse{}, err
		}
		e.log.Info("job deferred",
			logx.String("job_id", job.ID),
			logx.Time("at", *req.ScheduleAt))
		return DistributeResponse{
			Result:   models.DistributionResult{JobID: job.ID, State: models.JobPending},
			Deferred: true,
		}, nil
	}

	res, err := e.dispatcher.Dispatch(ctx, job)
	if err != nil {
		return DistributeResponse{}, err
	}
	e.recordOutcomes(res)
	return DistributeResponse{Result: res}, nil
}

// DispatchJob runs a previously deferred job. The scheduler calls back
// through here so deferred and immediate jobs share one code path.
func (e *Engine) DispatchJob(ctx context.Context, job models.DistributionJob) (models.DistributionResult, error) {
	res, err := e.dispatcher.Dispatch(ctx, job)
	if err != nil {
		return res, err
	}
	e.recordOutcomes(res)
	return res, nil
}

// Snapshot is the operational state exposed on the metrics endpoint.
type Snapshot struct {
	Cache           resultcache.Stats `json:"cache"`
	BreakersTracked int               `json:"breakers_tracked"`
	BreakersOpen    int               `json:"breakers_open"`
	Languages       []string          `json:"languages,omitempty"`
	LexiconVersion  string            `json:"lexicon_version,omitempty"`
	ProfileVersion  string            `json:"profile_version,omitempty"`
	ProfileCount    int               `json:"profile_count"`
}

func (e *Engine) Snapshot() Snapshot {
	s := Snapshot{Cache: e.cache.Stats()}
	s.BreakersTracked, s.BreakersOpen = e.dispatcher.BreakerStats()
	if snap, err := e.lexicons.Current(); err == nil {
		s.Languages = snap.Languages()
		s.LexiconVersion = snap.Version()
	}
	if ps, err := e.profiles.Current(); err == nil {
		s.ProfileVersion = ps.Version()
		s.ProfileCount = ps.Len()
	}
	return s
}

// Ready reports whether both stores hold a loaded snapshot.
func (e *Engine) Ready() bool {
	if _, err := e.lexicons.Current(); err != nil {
		return false
	}
	if _, err := e.profiles.Current(); err != nil {
		return false
	}
	return true
}

// analyzed resolves the cached analysis+scores for the text, computing
// once per fingerprint. At most one computation per fingerprint is in
// flight; concurrent requests for the same text wait for its result.
func (e *Engine) analyzed(ctx context.Context, text, languageTag string) (resultcache.Value, *scorer.ProfileSet, error) {
	snap, err := e.lexicons.Current()
	if err != nil {
		return resultcache.Value{}, nil, configErr(CodeLexiconNotLoaded, err)
	}
	ps, err := e.profiles.Current()
	if err != nil {
		return resultcache.Value{}, nil, configErr(CodeProfilesNotLoaded, err)
	}
	lang := e.language(languageTag)

	normalized := analyzer.Normalize(text)
	if normalized == "" {
		return resultcache.Value{}, nil, inputErr(CodeEmptyContent, analyzer.ErrEmptyContent)
	}
	fp := resultcache.Fingerprint(normalized, lang, snap.Version(), ps.Version())

	if val, ok := e.cache.Get(fp); ok {
		e.recordAnalysis(fp, lang, val.Analysis, true)
		return val, ps, nil
	}

	val, err := e.cache.Do(fp, func() (resultcache.Value, error) {
		analysis, err := e.analyzer.AnalyzeWith(snap, text, lang)
		if err != nil {
			return resultcache.Value{}, mapAnalyzerErr(err)
		}
		scored, err := e.scorer.Score(analysis, utf8.RuneCountInString(text), ps.All())
		if err != nil {
			if errors.Is(err, scorer.ErrEmptyProfileSet) {
				return resultcache.Value{}, inputErr(CodeEmptyProfileSet, err)
			}
			return resultcache.Value{}, err
		}
		return resultcache.Value{Analysis: analysis, Scored: scored}, nil
	})
	if err != nil {
		return resultcache.Value{}, nil, err
	}

	e.publish(eventbus.TypeAnalysisCompleted, analysisEvent{
		Fingerprint: fp,
		LanguageTag: lang,
		Tone:        val.Analysis.DominantTone.String(),
		Sentiment:   val.Analysis.SentimentScore,
	})
	e.recordAnalysis(fp, lang, val.Analysis, false)
	return val, ps, nil
}

// optimize transforms the text once per target channel that has a
// profile. Channels without a profile dispatch the raw text.
func (e *Engine) optimize(text string, channels []string, ps *scorer.ProfileSet) map[string]string {
	out := make(map[string]string, len(channels))
	for _, id := range channels {
		p, ok := ps.Get(id)
		if !ok {
			continue
		}
		out[id] = optimizer.Optimize(text, p)
	}
	return out
}

func (e *Engine) language(tag string) string {
	if tag == "" {
		return e.cfg.DefaultLanguage
	}
	return tag
}

func mapAnalyzerErr(err error) error {
	switch {
	case errors.Is(err, analyzer.ErrUnsupportedLanguage):
		return inputErr(CodeUnsupportedLanguage, err)
	case errors.Is(err, analyzer.ErrEmptyContent):
		return inputErr(CodeEmptyContent, err)
	default:
		return err
	}
}

// recordAnalysis and recordOutcomes write to the analytics sink without
// ever blocking or failing the request.
func (e *Engine) recordAnalysis(fp, lang string, a models.AnalysisResult, cacheHit bool) {
	if e.sink == nil {
		return
	}
	rec := analytics.AnalysisRecord{
		At:             time.Now().UTC(),
		Fingerprint:    fp,
		LanguageTag:    lang,
		SentimentScore: a.SentimentScore,
		DominantTone:   a.DominantTone.String(),
		Intensity:      a.Intensity,
		CacheHit:       cacheHit,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := e.sink.RecordAnalysis(ctx, rec); err != nil {
			e.log.Warn("analytics record failed", logx.Err(err))
		}
	}()
}

func (e *Engine) recordOutcomes(res models.DistributionResult) {
	if e.sink == nil {
		return
	}
	now := time.Now().UTC()
	recs := make([]analytics.OutcomeRecord, 0, len(res.Outcomes))
	for _, o := range res.Outcomes {
		kind := o.ErrorKind
		if o.Status == models.OutcomeSkipped {
			kind = o.SkipReason
		}
		recs = append(recs, analytics.OutcomeRecord{
			At:        now,
			JobID:     res.JobID,
			ChannelID: o.ChannelID,
			Status:    string(o.Status),
			ErrorKind: kind,
			Retries:   o.Retries,
			TookMS:    res.Took.Milliseconds(),
		})
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		for _, rec := range recs {
			if err := e.sink.RecordOutcome(ctx, rec); err != nil {
				e.log.Warn("analytics record failed", logx.Err(err))
				return
			}
		}
	}()
}

func (e *Engine) publish(typ string, data any) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: data})
}

type analysisEvent struct {
	Fingerprint string  `json:"fingerprint"`
	LanguageTag string  `json:"language_tag"`
	Tone        string  `json:"tone"`
	Sentiment   float64 `json:"sentiment"`
}

// Package scorer ranks candidate distribution channels for an analysis
// result. There is exactly one scoring path, parameterized by profile
// data: adding or tuning a channel is a configuration change, never code.
package scorer

import (
	"errors"
	"sort"

	"signalcast/internal/models"
)

// ErrEmptyProfileSet means Score was called with no candidate profiles.
var ErrEmptyProfileSet = errors.New("scorer: empty profile set")

// Weights are the relative factor weights of the scoring sum. They come
// from configuration; a zero value means equal weighting.
type Weights struct {
	ToneAffinity      float64
	SentimentFit      float64
	LengthFeasibility float64
	KeywordRelevance  float64
}

func (w Weights) normalized() Weights {
	sum := w.ToneAffinity + w.SentimentFit + w.LengthFeasibility + w.KeywordRelevance
	if sum <= 0 {
		return Weights{ToneAffinity: 0.25, SentimentFit: 0.25, LengthFeasibility: 0.25, KeywordRelevance: 0.25}
	}
	return Weights{
		ToneAffinity:      w.ToneAffinity / sum,
		SentimentFit:      w.SentimentFit / sum,
		LengthFeasibility: w.LengthFeasibility / sum,
		KeywordRelevance:  w.KeywordRelevance / sum,
	}
}

type Scorer struct {
	w Weights
}

func New(w Weights) *Scorer {
	return &Scorer{w: w.normalized()}
}

// Score ranks the given profiles for one analysis result. contentLength is
// the rune length of the raw content, used for length feasibility.
//
// Output ordering: score descending, then channel id ascending, so equal
// scores always rank deterministically.
func (s *Scorer) Score(analysis models.AnalysisResult, contentLength int, profiles []models.PlatformProfile) ([]models.ScoredPlatform, error) {
	if len(profiles) == 0 {
		return nil, ErrEmptyProfileSet
	}

	out := make([]models.ScoredPlatform, 0, len(profiles))
	for _, p := range profiles {
		bd := models.ScoreBreakdown{
			ToneAffinity:      s.w.ToneAffinity * toneAffinity(analysis.DominantTone, p),
			SentimentFit:      s.w.SentimentFit * sentimentFit(analysis.SentimentScore, p.SentimentBand),
			LengthFeasibility: s.w.LengthFeasibility * lengthFeasibility(contentLength, p.MaxLength),
			KeywordRelevance:  s.w.KeywordRelevance * keywordRelevance(analysis.Keywords, p.TopicAffinities),
		}
		score := bd.ToneAffinity + bd.SentimentFit + bd.LengthFeasibility + bd.KeywordRelevance
		out = append(out, models.ScoredPlatform{
			ChannelID: p.ChannelID,
			Score:     clamp01(score),
			Breakdown: bd,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ChannelID < out[j].ChannelID
	})
	for i := range out {
		out[i].Rank = i + 1
	}
	return out, nil
}

// toneAffinity is the profile's preferred weight for the dominant tone
// minus its aversion penalty. The raw factor may go negative; the final
// score clamp handles it.
func toneAffinity(tone models.Tone, p models.PlatformProfile) float64 {
	f := p.PreferredTones[tone]
	f -= p.ToneAversions[tone]
	return f
}

// sentimentFit is 1 inside the profile's preferred band and decays
// linearly with distance outside it. Profiles without a band accept any
// sentiment.
func sentimentFit(score float64, band *models.SentimentBand) float64 {
	if band == nil {
		return 1
	}
	var dist float64
	switch {
	case score < band.Min:
		dist = band.Min - score
	case score > band.Max:
		dist = score - band.Max
	default:
		return 1
	}
	// Sentiment spans [-1,1], so distance is at most 2.
	f := 1 - dist
	if f < 0 {
		return 0
	}
	return f
}

// lengthFeasibility is 1 when the content fits and shrinks with the
// overflow ratio when it doesn't, floor 0.
func lengthFeasibility(contentLength, maxLength int) float64 {
	if maxLength <= 0 || contentLength <= maxLength {
		return 1
	}
	overflow := float64(contentLength-maxLength) / float64(maxLength)
	f := 1 - overflow
	if f < 0 {
		return 0
	}
	return f
}

// keywordRelevance is the share of the profile's topic affinities covered
// by the extracted keywords. Profiles without affinities are unconstrained.
func keywordRelevance(keywords, affinities []string) float64 {
	if len(affinities) == 0 {
		return 1
	}
	if len(keywords) == 0 {
		return 0
	}
	kw := make(map[string]struct{}, len(keywords))
	for _, k := range keywords {
		kw[k] = struct{}{}
	}
	hits := 0
	for _, a := range affinities {
		if _, ok := kw[a]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(affinities))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

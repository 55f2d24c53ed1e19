// Package analyzer produces sentiment/tone/emotion signals from raw text.
//
// The implementation is a deterministic lexicon analyzer: one normalization
// pass, then a single token walk accumulating all four axes (sentiment,
// tone, emotion, intensity) against one immutable lexicon snapshot.
// Sarcasm is a known blind spot of lexicon scoring: "We just shipped the
// worst update ever 😅" reads as negative venting, which is the documented
// behavior, not a bug to guess around.
package analyzer

import (
	"errors"
	"sort"
	"strings"

	"signalcast/internal/lexicon"
	"signalcast/internal/models"
)

var (
	// ErrUnsupportedLanguage means no lexicon exists for the requested tag.
	ErrUnsupportedLanguage = errors.New("analyzer: unsupported language")
	// ErrEmptyContent means the text was blank after normalization.
	ErrEmptyContent = errors.New("analyzer: empty content")
)

// Config tunes the analyzer. Zero values fall back to defaults.
type Config struct {
	// NegationWindow is how many tokens before a sentiment-bearing token a
	// negation marker still inverts it. Default 3.
	NegationWindow int
	// MaxKeywords caps extracted keywords. Default 8.
	MaxKeywords int
	// MinKeywordLength drops short tokens from keyword extraction. Default 3.
	MinKeywordLength int
}

func (c Config) withDefaults() Config {
	if c.NegationWindow <= 0 {
		c.NegationWindow = 3
	}
	if c.MaxKeywords <= 0 {
		c.MaxKeywords = 8
	}
	if c.MinKeywordLength <= 0 {
		c.MinKeywordLength = 3
	}
	return c
}

type Analyzer struct {
	store *lexicon.Store
	cfg   Config
}

func New(store *lexicon.Store, cfg Config) *Analyzer {
	return &Analyzer{store: store, cfg: cfg.withDefaults()}
}

// Analyze runs against the store's current snapshot.
func (a *Analyzer) Analyze(text, languageTag string) (models.AnalysisResult, error) {
	snap, err := a.store.Current()
	if err != nil {
		return models.AnalysisResult{}, err
	}
	return a.AnalyzeWith(snap, text, languageTag)
}

// AnalyzeWith runs against an explicit snapshot. Callers that also compute
// cache fingerprints use this so the fingerprint and the analysis see the
// same lexicon version.
func (a *Analyzer) AnalyzeWith(snap *lexicon.Snapshot, text, languageTag string) (models.AnalysisResult, error) {
	lang, ok := snap.Language(languageTag)
	if !ok {
		return models.AnalysisResult{}, ErrUnsupportedLanguage
	}

	toks := Tokenize(text)
	if len(toks) == 0 {
		return models.AnalysisResult{}, ErrEmptyContent
	}

	var (
		sentimentSum   float64
		sentimentHits  int
		toneSum        [numTones]float64
		emotionSum     = map[string]float64{}
		intensitySum   float64
		lastNegation   = -1 << 30
		keywordCounts  = map[string]int{}
		keywordFirstAt = map[string]int{}
	)

	// Single pass: every token is looked up in all four axis tables at once.
	for i, tok := range toks {
		if lang.HasNegation(tok) {
			lastNegation = i
		}

		if w, ok := lang.Sentiment[tok]; ok {
			if i-lastNegation <= a.cfg.NegationWindow && lastNegation < i {
				w = -w
			}
			sentimentSum += w
			sentimentHits++
		}
		for tone, terms := range lang.Tone {
			if w, ok := terms[tok]; ok {
				toneSum[int(tone)] += w
			}
		}
		for label, terms := range lang.Emotion {
			if w, ok := terms[tok]; ok {
				emotionSum[label] += w
			}
		}
		if w, ok := lang.Intensity[tok]; ok {
			intensitySum += w
		}

		if len(tok) >= a.cfg.MinKeywordLength && !lang.IsStopword(tok) && !isNumeric(tok) {
			keywordCounts[tok]++
			if _, seen := keywordFirstAt[tok]; !seen {
				keywordFirstAt[tok] = i
			}
		}
	}

	res := models.AnalysisResult{
		SentimentScore: clamp(avg(sentimentSum, sentimentHits), -1, 1),
		DominantTone:   dominantTone(toneSum),
		Emotions:       rankEmotions(emotionSum),
		Intensity:      clamp(intensitySum, 0, 1),
		Keywords:       rankKeywords(keywordCounts, keywordFirstAt, a.cfg.MaxKeywords),
		LexiconVersion: snap.Version(),
	}
	return res, nil
}

const numTones = int(models.ToneUrgent) + 1

// dominantTone picks the highest accumulated weight; exact ties resolve to
// the tone declared first, so results stay deterministic.
func dominantTone(sum [numTones]float64) models.Tone {
	best := models.ToneNeutral
	bestW := 0.0
	for i, w := range sum {
		if w > bestW {
			best = models.Tone(i)
			bestW = w
		}
	}
	return best
}

// rankEmotions orders labels by weight descending (label ascending on
// ties) and rescales so the weights sum to at most 1.
func rankEmotions(sum map[string]float64) []models.EmotionWeight {
	if len(sum) == 0 {
		return nil
	}
	out := make([]models.EmotionWeight, 0, len(sum))
	total := 0.0
	for label, w := range sum {
		if w <= 0 {
			continue
		}
		out = append(out, models.EmotionWeight{Label: label, Weight: w})
		total += w
	}
	if total > 1 {
		for i := range out {
			out[i].Weight /= total
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Weight != out[j].Weight {
			return out[i].Weight > out[j].Weight
		}
		return out[i].Label < out[j].Label
	})
	return out
}

// rankKeywords orders by frequency descending, then first occurrence.
func rankKeywords(counts map[string]int, firstAt map[string]int, limit int) []string {
	if len(counts) == 0 {
		return nil
	}
	terms := make([]string, 0, len(counts))
	for t := range counts {
		terms = append(terms, t)
	}
	sort.Slice(terms, func(i, j int) bool {
		a, b := terms[i], terms[j]
		if counts[a] != counts[b] {
			return counts[a] > counts[b]
		}
		return firstAt[a] < firstAt[b]
	})
	if len(terms) > limit {
		terms = terms[:limit]
	}
	return terms
}

func avg(sum float64, n int) float64 {
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func isNumeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

// Normalize returns the canonical text form used for cache fingerprints:
// the lowercase token stream joined by single spaces.
func Normalize(text string) string {
	return strings.Join(Tokenize(text), " ")
}

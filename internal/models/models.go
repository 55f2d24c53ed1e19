package models

import (
	"fmt"
	"time"
)

// Tone is the communicative intent of a piece of content, drawn from a
// fixed closed set. Declaration order doubles as the tie-break priority
// when two tones accumulate exactly the same weight.
type Tone int

const (
	ToneNeutral Tone = iota
	ToneVenting
	ToneCelebratory
	ToneInformative
	TonePromotional
	ToneUrgent
)

var toneNames = [...]string{"neutral", "venting", "celebratory", "informative", "promotional", "urgent"}

func (t Tone) String() string {
	if t < 0 || int(t) >= len(toneNames) {
		return fmt.Sprintf("tone(%d)", int(t))
	}
	return toneNames[t]
}

// Tones lists all tones in priority order.
func Tones() []Tone {
	out := make([]Tone, len(toneNames))
	for i := range out {
		out[i] = Tone(i)
	}
	return out
}

// ParseTone maps a config/lexicon string to a Tone.
func ParseTone(s string) (Tone, error) {
	for i, n := range toneNames {
		if n == s {
			return Tone(i), nil
		}
	}
	return ToneNeutral, fmt.Errorf("unknown tone %q", s)
}

func (t Tone) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *Tone) UnmarshalText(b []byte) error {
	v, err := ParseTone(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// ContentItem is an immutable unit of authored content. Identity is the
// analysis fingerprint, not a database key.
type ContentItem struct {
	ID          string    `json:"id"`
	Text        string    `json:"text"`
	LanguageTag string    `json:"language_tag"`
	CreatedAt   time.Time `json:"created_at"`
}

// EmotionWeight is one labeled emotion contribution. Weights across the
// list sum to at most 1.
type EmotionWeight struct {
	Label  string  `json:"label"`
	Weight float64 `json:"weight"`
}

// AnalysisResult is the output of one analyzer pass. It is a pure function
// of (text, language tag, lexicon version); identical inputs against the
// same lexicon snapshot yield an identical result.
type AnalysisResult struct {
	SentimentScore float64         `json:"sentiment_score"` // [-1,1]
	DominantTone   Tone            `json:"dominant_tone"`
	Emotions       []EmotionWeight `json:"emotions,omitempty"`
	Intensity      float64         `json:"intensity"` // [0,1]
	Keywords       []string        `json:"keywords,omitempty"`
	LexiconVersion string          `json:"lexicon_version"`
}

// SentimentBand is a profile's preferred sentiment range. Scores decay
// linearly with distance outside the band.
type SentimentBand struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// FormattingRules are per-channel optimizer hints.
type FormattingRules struct {
	// ContinuationMarker is appended when content was truncated. Empty
	// means truncate silently.
	ContinuationMarker string `json:"continuation_marker,omitempty"`
	// StripHashtags removes #tags before length fitting.
	StripHashtags bool `json:"strip_hashtags,omitempty"`
	// CollapseWhitespace folds runs of whitespace into single spaces.
	CollapseWhitespace bool `json:"collapse_whitespace,omitempty"`
	// SentenceCase uppercases the first letter of the output.
	SentenceCase bool `json:"sentence_case,omitempty"`
}

// PlatformProfile is static per-channel configuration. Profiles are data:
// adding a channel never requires code changes.
type PlatformProfile struct {
	ChannelID       string           `json:"channel_id"`
	MaxLength       int              `json:"max_length"`
	PreferredTones  map[Tone]float64 `json:"preferred_tones,omitempty"`
	ToneAversions   map[Tone]float64 `json:"tone_aversions,omitempty"`
	SentimentBand   *SentimentBand   `json:"sentiment_band,omitempty"`
	TopicAffinities []string         `json:"topic_affinities,omitempty"`
	Formatting      FormattingRules  `json:"formatting,omitempty"`
}

// ScoreBreakdown records the per-factor contributions behind a score so a
// ranking is explainable after the fact.
type ScoreBreakdown struct {
	ToneAffinity      float64 `json:"tone_affinity"`
	SentimentFit      float64 `json:"sentiment_fit"`
	LengthFeasibility float64 `json:"length_feasibility"`
	KeywordRelevance  float64 `json:"keyword_relevance"`
}

// ScoredPlatform is one ranked candidate destination.
type ScoredPlatform struct {
	ChannelID string         `json:"channel_id"`
	Score     float64        `json:"score"` // [0,1]
	Breakdown ScoreBreakdown `json:"breakdown"`
	Rank      int            `json:"rank"` // 1-based
}

// JobState is the lifecycle state of a distribution job.
type JobState string

const (
	JobPending            JobState = "pending"
	JobDispatching        JobState = "dispatching"
	JobDelivered          JobState = "delivered"
	JobPartiallyDelivered JobState = "partially_delivered"
	JobFailed             JobState = "failed"
)

// DistributionJob is owned by the orchestrator for its lifetime.
type DistributionJob struct {
	ID             string            `json:"id"`
	Content        ContentItem       `json:"content"`
	TargetChannels []string          `json:"target_channels"`
	OptimizedText  map[string]string `json:"optimized_text,omitempty"` // by channel
	SubmittedAt    time.Time         `json:"submitted_at"`
}

// OutcomeStatus is the terminal per-channel result kind.
type OutcomeStatus string

const (
	OutcomeDelivered OutcomeStatus = "delivered"
	OutcomeFailed    OutcomeStatus = "failed"
	OutcomeSkipped   OutcomeStatus = "skipped"
)

// Skip reasons.
const (
	SkipCircuitOpen = "circuit_open"
	SkipCancelled   = "cancelled"
	SkipNoAdapter   = "no_adapter"
)

// Failure kinds.
const (
	FailTimeout   = "timeout"
	FailTransient = "transient"
	FailPermanent = "permanent"
)

// Receipt is the proof of delivery returned by a channel adapter.
type Receipt struct {
	MessageID   string    `json:"message_id,omitempty"`
	DeliveredAt time.Time `json:"delivered_at"`
}

// ChannelOutcome is the terminal result for one channel within a job.
// Exactly one of Receipt / ErrorKind / SkipReason is meaningful, selected
// by Status.
type ChannelOutcome struct {
	ChannelID  string        `json:"channel_id"`
	Status     OutcomeStatus `json:"status"`
	Receipt    *Receipt      `json:"receipt,omitempty"`
	ErrorKind  string        `json:"error_kind,omitempty"`
	Error      string        `json:"error,omitempty"`
	Retries    int           `json:"retries"`
	SkipReason string        `json:"skip_reason,omitempty"`
}

// DistributionSummary are the aggregate counts of a finished job.
type DistributionSummary struct {
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// DistributionResult is never a single pass/fail: it always carries the
// per-channel map plus summary counts. Partial failure is a success path.
type DistributionResult struct {
	JobID    string                    `json:"job_id"`
	State    JobState                  `json:"state"`
	Outcomes map[string]ChannelOutcome `json:"outcomes"`
	Summary  DistributionSummary       `json:"summary"`
	Took     time.Duration             `json:"took"`
}

// Finalize computes the summary counts and terminal state from the
// per-channel outcomes: delivered iff all delivered, failed iff none
// delivered, partially delivered otherwise.
func (r *DistributionResult) Finalize() {
	var s DistributionSummary
	for _, o := range r.Outcomes {
		switch o.Status {
		case OutcomeDelivered:
			s.Delivered++
		case OutcomeFailed:
			s.Failed++
		case OutcomeSkipped:
			s.Skipped++
		}
	}
	r.Summary = s
	switch {
	case s.Delivered > 0 && s.Failed == 0 && s.Skipped == 0:
		r.State = JobDelivered
	case s.Delivered == 0:
		r.State = JobFailed
	default:
		r.State = JobPartiallyDelivered
	}
}

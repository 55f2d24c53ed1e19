package scorer

import (
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"sort"
	"strings"
	"sync/atomic"

	yaml "go.yaml.in/yaml/v3"

	"signalcast/internal/models"
	logx "signalcast/pkg/logx"
)

var ErrNoProfiles = errors.New("scorer: no profile set loaded")

// ProfileSet is one immutable snapshot of the configured platform
// profiles. Every scoring pass uses exactly one snapshot; reloads swap the
// whole set so a pass never sees a half-updated profile.
type ProfileSet struct {
	version  string
	profiles []models.PlatformProfile // sorted by ChannelID
	byID     map[string]int
}

// Version identifies this profile set; it feeds the cache fingerprint.
func (ps *ProfileSet) Version() string { return ps.version }

// All returns the profiles sorted by channel id. Callers must not mutate.
func (ps *ProfileSet) All() []models.PlatformProfile { return ps.profiles }

func (ps *ProfileSet) Get(channelID string) (models.PlatformProfile, bool) {
	i, ok := ps.byID[channelID]
	if !ok {
		return models.PlatformProfile{}, false
	}
	return ps.profiles[i], true
}

func (ps *ProfileSet) Len() int { return len(ps.profiles) }

// ProfileStore owns the active ProfileSet, swapped atomically on reload.
type ProfileStore struct {
	cur atomic.Value // *ProfileSet
	log logx.Logger
}

func NewProfileStore(log logx.Logger) *ProfileStore {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &ProfileStore{log: log}
}

func (st *ProfileStore) Current() (*ProfileSet, error) {
	v := st.cur.Load()
	if v == nil {
		return nil, ErrNoProfiles
	}
	return v.(*ProfileSet), nil
}

// Reload parses the profile file and atomically replaces the active set.
// On error the previous set stays active.
func (st *ProfileStore) Reload(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("profiles: %w", err)
	}
	ps, err := ParseProfiles(b)
	if err != nil {
		return fmt.Errorf("profiles: %s: %w", path, err)
	}
	st.cur.Store(ps)
	st.log.Info("profiles loaded",
		logx.String("version", ps.Version()),
		logx.Int("channels", ps.Len()),
	)
	return nil
}

// profileFile is the on-disk YAML shape.
type profileFile struct {
	Version  string           `yaml:"version"`
	Profiles []profileSection `yaml:"profiles"`
}

type profileSection struct {
	ChannelID       string             `yaml:"channel_id"`
	MaxLength       int                `yaml:"max_length"`
	PreferredTones  map[string]float64 `yaml:"preferred_tones"`
	ToneAversions   map[string]float64 `yaml:"tone_aversions"`
	SentimentBand   *bandSection       `yaml:"sentiment_band"`
	TopicAffinities []string           `yaml:"topic_affinities"`
	Formatting      formattingSection  `yaml:"formatting"`
}

type bandSection struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

type formattingSection struct {
	ContinuationMarker string `yaml:"continuation_marker"`
	StripHashtags      bool   `yaml:"strip_hashtags"`
	CollapseWhitespace bool   `yaml:"collapse_whitespace"`
	SentenceCase       bool   `yaml:"sentence_case"`
}

// ParseProfiles builds an immutable ProfileSet from YAML bytes.
func ParseProfiles(b []byte) (*ProfileSet, error) {
	var f profileFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, err
	}
	if len(f.Profiles) == 0 {
		return nil, errors.New("profiles list is empty")
	}

	out := make([]models.PlatformProfile, 0, len(f.Profiles))
	seen := map[string]bool{}
	for i, sec := range f.Profiles {
		id := strings.TrimSpace(sec.ChannelID)
		if id == "" {
			return nil, fmt.Errorf("profiles[%d]: channel_id is required", i)
		}
		if seen[id] {
			return nil, fmt.Errorf("profiles: duplicate channel_id %q", id)
		}
		seen[id] = true
		if sec.MaxLength <= 0 {
			return nil, fmt.Errorf("profiles[%s]: max_length must be > 0", id)
		}

		p := models.PlatformProfile{
			ChannelID: id,
			MaxLength: sec.MaxLength,
			Formatting: models.FormattingRules{
				ContinuationMarker: sec.Formatting.ContinuationMarker,
				StripHashtags:      sec.Formatting.StripHashtags,
				CollapseWhitespace: sec.Formatting.CollapseWhitespace,
				SentenceCase:       sec.Formatting.SentenceCase,
			},
		}
		var err error
		if p.PreferredTones, err = toneWeights(sec.PreferredTones); err != nil {
			return nil, fmt.Errorf("profiles[%s].preferred_tones: %w", id, err)
		}
		if p.ToneAversions, err = toneWeights(sec.ToneAversions); err != nil {
			return nil, fmt.Errorf("profiles[%s].tone_aversions: %w", id, err)
		}
		if sec.SentimentBand != nil {
			if sec.SentimentBand.Min > sec.SentimentBand.Max {
				return nil, fmt.Errorf("profiles[%s].sentiment_band: min > max", id)
			}
			p.SentimentBand = &models.SentimentBand{Min: sec.SentimentBand.Min, Max: sec.SentimentBand.Max}
		}
		for _, topic := range sec.TopicAffinities {
			topic = strings.ToLower(strings.TrimSpace(topic))
			if topic != "" {
				p.TopicAffinities = append(p.TopicAffinities, topic)
			}
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChannelID < out[j].ChannelID })

	byID := make(map[string]int, len(out))
	for i, p := range out {
		byID[p.ChannelID] = i
	}

	version := strings.TrimSpace(f.Version)
	if version == "" {
		h := fnv.New64a()
		_, _ = h.Write(b)
		version = fmt.Sprintf("%016x", h.Sum64())
	}
	return &ProfileSet{version: version, profiles: out, byID: byID}, nil
}

func toneWeights(in map[string]float64) (map[models.Tone]float64, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make(map[models.Tone]float64, len(in))
	for name, w := range in {
		t, err := models.ParseTone(strings.TrimSpace(name))
		if err != nil {
			return nil, err
		}
		if w < 0 {
			return nil, fmt.Errorf("tone %q: weight must be >= 0", name)
		}
		out[t] = w
	}
	return out, nil
}

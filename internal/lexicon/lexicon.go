// Package lexicon holds the versioned, weighted term dictionaries the
// analyzer reads. A whole table set is loaded into one immutable Snapshot
// and swapped atomically; term weights are never mutated in place, so
// in-flight analyses always see a consistent version.
package lexicon

import (
	"fmt"
	"sort"
	"strings"

	"signalcast/internal/models"
)

// TermWeights maps a lowercase term to its weight on one axis.
type TermWeights map[string]float64

// Language is the full dictionary set for one language tag.
//
// The four axes are independent: a term may carry sentiment without tone,
// intensity without emotion, and so on.
type Language struct {
	Tag       string
	Sentiment TermWeights                 // weight in [-1,1]
	Tone      map[models.Tone]TermWeights // weight >= 0
	Emotion   map[string]TermWeights      // label -> term -> weight >= 0
	Intensity TermWeights                 // weight in [0,1]
	Negations map[string]struct{}         // markers inverting sentiment
	Stopwords map[string]struct{}         // excluded from keywords
}

// HasNegation reports whether tok is a negation marker.
func (l *Language) HasNegation(tok string) bool {
	_, ok := l.Negations[tok]
	return ok
}

// IsStopword reports whether tok is excluded from keyword extraction.
func (l *Language) IsStopword(tok string) bool {
	_, ok := l.Stopwords[tok]
	return ok
}

// Snapshot is one immutable lexicon version. Lookups never block and never
// observe a partially loaded table.
type Snapshot struct {
	version   string
	languages map[string]*Language
}

// Version identifies this snapshot. It changes whenever any language file
// changes, which in turn changes every cache fingerprint.
func (s *Snapshot) Version() string { return s.version }

// Language returns the dictionary set for a tag, matching the primary
// subtag as a fallback ("en-US" resolves to "en").
func (s *Snapshot) Language(tag string) (*Language, bool) {
	if s == nil {
		return nil, false
	}
	t := strings.ToLower(strings.TrimSpace(tag))
	if l, ok := s.languages[t]; ok {
		return l, true
	}
	if i := strings.IndexByte(t, '-'); i > 0 {
		if l, ok := s.languages[t[:i]]; ok {
			return l, true
		}
	}
	return nil, false
}

// Languages lists the loaded language tags, sorted.
func (s *Snapshot) Languages() []string {
	if s == nil {
		return nil
	}
	out := make([]string, 0, len(s.languages))
	for tag := range s.languages {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

func newSnapshot(langs map[string]*Language, fileVersions map[string]string) *Snapshot {
	// Deterministic version string: sorted lang@fileVersion pairs, hashed.
	parts := make([]string, 0, len(fileVersions))
	for tag, v := range fileVersions {
		parts = append(parts, tag+"@"+v)
	}
	sort.Strings(parts)
	return &Snapshot{
		version:   fmt.Sprintf("%016x", fnv64(strings.Join(parts, ","))),
		languages: langs,
	}
}

func fnv64(s string) uint64 {
	const (
		offset = 14695981039346656037
		prime  = 1099511628211
	)
	h := uint64(offset)
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= prime
	}
	return h
}

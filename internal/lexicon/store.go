package lexicon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	yaml "go.yaml.in/yaml/v3"

	"signalcast/internal/models"
	logx "signalcast/pkg/logx"
)

var ErrNotLoaded = errors.New("lexicon: no snapshot loaded")

// Store owns the active lexicon snapshot. Reload() builds a complete new
// snapshot from disk and swaps it in one atomic store; readers keep the
// snapshot they grabbed for the duration of an analysis.
type Store struct {
	cur atomic.Value // *Snapshot
	log logx.Logger
}

func NewStore(log logx.Logger) *Store {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Store{log: log}
}

// Current returns the active snapshot.
func (st *Store) Current() (*Snapshot, error) {
	v := st.cur.Load()
	if v == nil {
		return nil, ErrNotLoaded
	}
	return v.(*Snapshot), nil
}

// Reload reads every *.yaml/*.yml file under dir and atomically replaces
// the active snapshot. On error the previous snapshot stays active.
func (st *Store) Reload(dir string) error {
	snap, err := loadDir(dir)
	if err != nil {
		return err
	}
	st.cur.Store(snap)
	st.log.Info("lexicon loaded",
		logx.String("version", snap.Version()),
		logx.Int("languages", len(snap.languages)),
		logx.String("dir", dir),
	)
	return nil
}

// lexiconFile is the on-disk YAML shape of one language dictionary.
type lexiconFile struct {
	Version   string                        `yaml:"version"`
	Language  string                        `yaml:"language"`
	Sentiment map[string]float64            `yaml:"sentiment"`
	Tone      map[string]map[string]float64 `yaml:"tone"`
	Emotion   map[string]map[string]float64 `yaml:"emotion"`
	Intensity map[string]float64            `yaml:"intensity"`
	Negations []string                      `yaml:"negations"`
	Stopwords []string                      `yaml:"stopwords"`
}

func loadDir(dir string) (*Snapshot, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("lexicon: read dir: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".yaml" || ext == ".yml" {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("lexicon: no lexicon files in %s", dir)
	}
	sort.Strings(names)

	langs := make(map[string]*Language, len(names))
	versions := make(map[string]string, len(names))
	for _, name := range names {
		b, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		var f lexiconFile
		if err := yaml.Unmarshal(b, &f); err != nil {
			return nil, fmt.Errorf("lexicon: %s: %w", name, err)
		}
		lang, err := f.build()
		if err != nil {
			return nil, fmt.Errorf("lexicon: %s: %w", name, err)
		}
		if _, dup := langs[lang.Tag]; dup {
			return nil, fmt.Errorf("lexicon: duplicate language %q (%s)", lang.Tag, name)
		}
		langs[lang.Tag] = lang
		v := strings.TrimSpace(f.Version)
		if v == "" {
			// Undeclared versions fall back to a content hash so edits
			// still change the snapshot version.
			v = fmt.Sprintf("%016x", fnv64(string(b)))
		}
		versions[lang.Tag] = v
	}

	return newSnapshot(langs, versions), nil
}

func (f *lexiconFile) build() (*Language, error) {
	tag := strings.ToLower(strings.TrimSpace(f.Language))
	if tag == "" {
		return nil, errors.New("language is required")
	}

	l := &Language{
		Tag:       tag,
		Sentiment: make(TermWeights, len(f.Sentiment)),
		Tone:      make(map[models.Tone]TermWeights, len(f.Tone)),
		Emotion:   make(map[string]TermWeights, len(f.Emotion)),
		Intensity: make(TermWeights, len(f.Intensity)),
		Negations: make(map[string]struct{}, len(f.Negations)),
		Stopwords: make(map[string]struct{}, len(f.Stopwords)),
	}

	for term, w := range f.Sentiment {
		if w < -1 || w > 1 {
			return nil, fmt.Errorf("sentiment[%s]: weight %v out of [-1,1]", term, w)
		}
		l.Sentiment[normTerm(term)] = w
	}
	for toneName, terms := range f.Tone {
		tone, err := models.ParseTone(strings.TrimSpace(toneName))
		if err != nil {
			return nil, err
		}
		tw := make(TermWeights, len(terms))
		for term, w := range terms {
			if w < 0 {
				return nil, fmt.Errorf("tone[%s][%s]: weight must be >= 0", toneName, term)
			}
			tw[normTerm(term)] = w
		}
		l.Tone[tone] = tw
	}
	for label, terms := range f.Emotion {
		lab := strings.ToLower(strings.TrimSpace(label))
		if lab == "" {
			return nil, errors.New("emotion: empty label")
		}
		tw := make(TermWeights, len(terms))
		for term, w := range terms {
			if w < 0 {
				return nil, fmt.Errorf("emotion[%s][%s]: weight must be >= 0", label, term)
			}
			tw[normTerm(term)] = w
		}
		l.Emotion[lab] = tw
	}
	for term, w := range f.Intensity {
		if w < 0 || w > 1 {
			return nil, fmt.Errorf("intensity[%s]: weight %v out of [0,1]", term, w)
		}
		l.Intensity[normTerm(term)] = w
	}
	for _, n := range f.Negations {
		l.Negations[normTerm(n)] = struct{}{}
	}
	for _, s := range f.Stopwords {
		l.Stopwords[normTerm(s)] = struct{}{}
	}
	return l, nil
}

func normTerm(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

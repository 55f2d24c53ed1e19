package analyzer

import (
	"strings"
	"unicode"
)

// Tokenize lowercases text and splits it into tokens. Punctuation acts as
// a boundary and is dropped, with two exceptions:
//   - apostrophes stay inside tokens ("don't" is one token), and
//   - emoji and other symbol runes become standalone tokens so lexicons
//     can weight them.
func Tokenize(text string) []string {
	var (
		toks []string
		b    strings.Builder
	)
	flush := func() {
		if b.Len() > 0 {
			toks = append(toks, b.String())
			b.Reset()
		}
	}
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'' || r == '’':
			b.WriteRune(r)
		case unicode.Is(unicode.So, r):
			flush()
			toks = append(toks, string(r))
		default:
			flush()
		}
	}
	flush()
	return toks
}

// Package optimizer adapts content to a channel's length and formatting
// rules. Optimize never fails: it always returns some valid-length output,
// truncating at semantic boundaries (sentence, then clause, then word)
// rather than cutting bytes mid-word.
package optimizer

import (
	"strings"
	"unicode"

	"signalcast/internal/models"
)

// Optimize transforms text for one platform profile. It is deterministic
// for a given (text, profile) pair.
func Optimize(text string, profile models.PlatformProfile) string {
	out := text
	if profile.Formatting.StripHashtags {
		out = stripHashtags(out)
	}
	if profile.Formatting.CollapseWhitespace {
		out = collapseWhitespace(out)
	}
	out = strings.TrimSpace(out)
	if profile.Formatting.SentenceCase {
		out = sentenceCase(out)
	}

	max := profile.MaxLength
	if max <= 0 {
		return out
	}
	runes := []rune(out)
	if len(runes) <= max {
		return out
	}

	marker := []rune(profile.Formatting.ContinuationMarker)
	budget := max - len(marker)
	if budget <= 0 {
		// Marker doesn't fit; truncate without it.
		marker = nil
		budget = max
	}

	cut := truncateAt(runes, budget)
	cut = trimTrailingJunk(cut)
	if len(cut) == 0 {
		// No usable boundary at all: hard cut on the rune budget. Still
		// never a mid-rune byte cut.
		cut = runes[:budget]
	}
	return string(cut) + string(marker)
}

// truncateAt returns the longest prefix of runes within budget that ends
// at a sentence boundary, falling back to clause and then word boundaries.
func truncateAt(runes []rune, budget int) []rune {
	if budget >= len(runes) {
		return runes
	}
	if i := lastBoundary(runes, budget, isSentenceEnd); i > 0 {
		return runes[:i]
	}
	if i := lastBoundary(runes, budget, isClauseEnd); i > 0 {
		return runes[:i]
	}
	// Word boundary: cut before the last space inside the budget.
	for i := budget; i > 0; i-- {
		if unicode.IsSpace(runes[i]) {
			return runes[:i]
		}
	}
	return nil
}

// lastBoundary finds the largest i <= budget where runes[i-1] satisfies
// match and the next rune is whitespace. Without the whitespace check a
// period inside a token ("3.5") would count as a boundary when it lands
// on the budget edge. Callers guarantee budget < len(runes), so runes[i]
// always exists.
func lastBoundary(runes []rune, budget int, match func(rune) bool) int {
	for i := budget; i > 0; i-- {
		if match(runes[i-1]) && unicode.IsSpace(runes[i]) {
			return i
		}
	}
	return 0
}

func isSentenceEnd(r rune) bool { return r == '.' || r == '!' || r == '?' }

func isClauseEnd(r rune) bool {
	return r == ',' || r == ';' || r == ':' || r == '—' || r == '–'
}

func trimTrailingJunk(runes []rune) []rune {
	i := len(runes)
	for i > 0 {
		r := runes[i-1]
		if unicode.IsSpace(r) || isClauseEnd(r) {
			i--
			continue
		}
		break
	}
	return runes[:i]
}

func stripHashtags(s string) string {
	fields := strings.Fields(s)
	out := fields[:0]
	for _, f := range fields {
		if strings.HasPrefix(f, "#") && len(f) > 1 {
			continue
		}
		out = append(out, f)
	}
	return strings.Join(out, " ")
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func sentenceCase(s string) string {
	runes := []rune(s)
	for i, r := range runes {
		if unicode.IsLetter(r) {
			runes[i] = unicode.ToUpper(r)
			break
		}
		if !unicode.IsSpace(r) && !unicode.IsPunct(r) {
			break
		}
	}
	return string(runes)
}

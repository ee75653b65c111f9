// Package matching evaluates keywords against platform text.
//
// Positions and lengths are counted in characters (runes). Case folding is done
// rune by rune so an offset found in the folded text is valid in the original.
package matching

import (
	"unicode"

	"github.com/kleio/mentions-monitor/internal/models"
	"github.com/sirupsen/logrus"
)

const fullConfidence = 1.0

// ShouldMonitor reports whether the keyword watches the content type
func ShouldMonitor(kw models.Keyword, ct models.ContentType) bool {
	return kw.Monitors(ct)
}

// Match evaluates kw against content. It never panics; any internal fault is a
// negative result.
func Match(kw models.Keyword, content string, ct models.ContentType) (result models.MatchResult) {
	defer func() {
		if r := recover(); r != nil {
			logrus.Errorf("Keyword matching failed for %q: %v", kw.Text, r)
			result = models.NoMatch()
		}
	}()

	if !ShouldMonitor(kw, ct) {
		return models.NoMatch()
	}

	original := []rune(content)
	pattern := []rune(kw.Text)
	if len(pattern) == 0 || len(original) == 0 {
		return models.NoMatch()
	}

	transform := transformFor(kw.Case(), pattern)
	text := transform(original)
	pat := transform(pattern)

	switch kw.MatchMode {
	case models.MatchExact:
		return exactMatch(text, pat, kw.Text)
	case models.MatchWordBoundary:
		return wordBoundaryMatch(text, pat, original)
	case models.MatchStartsWith:
		return startsWithMatch(text, pat, kw.Text)
	case models.MatchEndsWith:
		return endsWithMatch(text, pat, kw.Text)
	default:
		return containsMatch(text, pat, original)
	}
}

func transformFor(mode models.CaseSensitivity, pattern []rune) func([]rune) []rune {
	switch mode {
	case models.CaseSensitive:
		return identity
	case models.SmartCase:
		if hasUpper(pattern) {
			return identity
		}
		return lower
	default:
		return lower
	}
}

func identity(r []rune) []rune { return r }

func lower(r []rune) []rune {
	out := make([]rune, len(r))
	for i, c := range r {
		out[i] = unicode.ToLower(c)
	}
	return out
}

func hasUpper(r []rune) bool {
	for _, c := range r {
		if unicode.IsUpper(c) {
			return true
		}
	}
	return false
}

func matched(text string, pos int) models.MatchResult {
	return models.MatchResult{
		Matched:     true,
		MatchedText: text,
		Position:    pos,
		Confidence:  fullConfidence,
	}
}

func exactMatch(text, pat []rune, keyword string) models.MatchResult {
	if len(text) != len(pat) || indexFrom(text, pat, 0) != 0 {
		return models.NoMatch()
	}
	return matched(keyword, 0)
}

func containsMatch(text, pat, original []rune) models.MatchResult {
	pos := indexFrom(text, pat, 0)
	if pos < 0 {
		return models.NoMatch()
	}
	return matched(string(original[pos:pos+len(pat)]), pos)
}

func wordBoundaryMatch(text, pat, original []rune) models.MatchResult {
	for from := 0; from <= len(text)-len(pat); {
		pos := indexFrom(text, pat, from)
		if pos < 0 {
			break
		}
		end := pos + len(pat)
		if !wordRuneAt(text, pos-1) && !wordRuneAt(text, end) {
			return matched(string(original[pos:end]), pos)
		}
		from = pos + 1
	}
	return models.NoMatch()
}

func startsWithMatch(text, pat []rune, keyword string) models.MatchResult {
	if len(pat) > len(text) || indexFrom(text[:len(pat)], pat, 0) != 0 {
		return models.NoMatch()
	}
	return matched(keyword, 0)
}

func endsWithMatch(text, pat []rune, keyword string) models.MatchResult {
	pos := len(text) - len(pat)
	if pos < 0 || indexFrom(text[pos:], pat, 0) != 0 {
		return models.NoMatch()
	}
	return matched(keyword, pos)
}

// indexFrom returns the first index >= from where pat occurs in text, or -1
func indexFrom(text, pat []rune, from int) int {
	for i := from; i+len(pat) <= len(text); i++ {
		found := true
		for j := range pat {
			if text[i+j] != pat[j] {
				found = false
				break
			}
		}
		if found {
			return i
		}
	}
	return -1
}

// wordRuneAt reports whether text has a word rune at i. A match is a whole
// word when neither neighbour is one, whatever the pattern's own edges are.
func wordRuneAt(text []rune, i int) bool {
	return i >= 0 && i < len(text) && isWordRune(text[i])
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

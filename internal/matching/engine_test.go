package matching

import (
	"testing"

	"github.com/kleio/mentions-monitor/internal/models"
	"github.com/stretchr/testify/assert"
)

func keyword(text string, mode models.MatchMode) models.Keyword {
	return models.Keyword{
		Text:         text,
		Platform:     models.PlatformAll,
		MatchMode:    mode,
		ContentTypes: []models.ContentType{models.ContentTitles, models.ContentBody},
	}
}

func TestMatch_Modes(t *testing.T) {
	tests := []struct {
		name     string
		keyword  models.Keyword
		content  string
		matched  bool
		text     string
		position int
	}{
		{
			name:     "Contains case-insensitive",
			keyword:  keyword("Python", models.MatchContains),
			content:  "I love Python programming",
			matched:  true,
			text:     "Python",
			position: 7,
		},
		{
			name:     "Contains slices original text",
			keyword:  keyword("kleio", models.MatchContains),
			content:  "Kleio launches today",
			matched:  true,
			text:     "Kleio",
			position: 0,
		},
		{
			name:    "Contains miss",
			keyword: keyword("rust", models.MatchContains),
			content: "I love Python programming",
		},
		{
			name:     "Unspecified mode defaults to contains",
			keyword:  keyword("python", ""),
			content:  "I love Python programming",
			matched:  true,
			text:     "Python",
			position: 7,
		},
		{
			name:     "Exact",
			keyword:  keyword("kleio", models.MatchExact),
			content:  "KLEIO",
			matched:  true,
			text:     "kleio",
			position: 0,
		},
		{
			name:    "Exact rejects longer content",
			keyword: keyword("kleio", models.MatchExact),
			content: "kleio app",
		},
		{
			name:     "Word boundary",
			keyword:  keyword("go", models.MatchWordBoundary),
			content:  "Going to write Go today",
			matched:  true,
			text:     "Go",
			position: 15,
		},
		{
			name:    "Word boundary rejects embedded token",
			keyword: keyword("go", models.MatchWordBoundary),
			content: "Going golang gopher",
		},
		{
			name:     "Word boundary with punctuation",
			keyword:  keyword("aks", models.MatchWordBoundary),
			content:  "Deploying on AKS, finally",
			matched:  true,
			text:     "AKS",
			position: 13,
		},
		{
			name:     "Word boundary with leading symbol",
			keyword:  keyword("#kleio", models.MatchWordBoundary),
			content:  "Launching #kleio today",
			matched:  true,
			text:     "#kleio",
			position: 10,
		},
		{
			name:    "Word boundary rejects symbol pattern inside a token",
			keyword: keyword("#kleio", models.MatchWordBoundary),
			content: "abc#kleio",
		},
		{
			name:     "Word boundary with trailing symbols",
			keyword:  keyword("C++", models.MatchWordBoundary),
			content:  "I write C++ daily",
			matched:  true,
			text:     "C++",
			position: 8,
		},
		{
			name:    "Word boundary rejects trailing word rune",
			keyword: keyword("C++", models.MatchWordBoundary),
			content: "I write C++x daily",
		},
		{
			name:     "Starts with",
			keyword:  keyword("show hn", models.MatchStartsWith),
			content:  "Show HN: Kleio",
			matched:  true,
			text:     "show hn",
			position: 0,
		},
		{
			name:    "Starts with miss",
			keyword: keyword("ask hn", models.MatchStartsWith),
			content: "Show HN: Kleio",
		},
		{
			name:     "Ends with",
			keyword:  keyword("kleio", models.MatchEndsWith),
			content:  "Show HN: Kleio",
			matched:  true,
			text:     "kleio",
			position: 9,
		},
		{
			name:    "Pattern longer than content",
			keyword: keyword("a much longer pattern", models.MatchEndsWith),
			content: "short",
		},
		{
			name:    "Empty content",
			keyword: keyword("kleio", models.MatchContains),
			content: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Match(tt.keyword, tt.content, models.ContentTitles)
			assert.Equal(t, tt.matched, result.Matched)
			if tt.matched {
				assert.Equal(t, tt.text, result.MatchedText)
				assert.Equal(t, tt.position, result.Position)
				assert.Equal(t, 1.0, result.Confidence)
			} else {
				assert.Equal(t, -1, result.Position)
			}
		})
	}
}

func TestMatch_CaseHandling(t *testing.T) {
	tests := []struct {
		name    string
		caseSen bool
		mode    models.CaseSensitivity
		pattern string
		content string
		matched bool
	}{
		{name: "Insensitive", pattern: "PYTHON", content: "python rocks", matched: true},
		{name: "Sensitive miss", caseSen: true, pattern: "PYTHON", content: "python rocks"},
		{name: "Sensitive hit", caseSen: true, pattern: "python", content: "python rocks", matched: true},
		{name: "Smart case lowercase pattern", mode: models.SmartCase, pattern: "python", content: "PYTHON rocks", matched: true},
		{name: "Smart case uppercase pattern", mode: models.SmartCase, pattern: "Python", content: "python rocks"},
		{name: "Smart case uppercase pattern exact", mode: models.SmartCase, pattern: "Python", content: "Python rocks", matched: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kw := keyword(tt.pattern, models.MatchContains)
			kw.CaseSensitive = tt.caseSen
			kw.CaseMode = tt.mode
			assert.Equal(t, tt.matched, Match(kw, tt.content, models.ContentBody).Matched)
		})
	}
}

func TestMatch_UnicodePositions(t *testing.T) {
	kw := keyword("café", models.MatchContains)
	result := Match(kw, "Ünïcode CAFÉ review", models.ContentTitles)

	assert.True(t, result.Matched)
	assert.Equal(t, 8, result.Position)
	assert.Equal(t, "CAFÉ", result.MatchedText)
}

func TestMatch_ContentTypeGating(t *testing.T) {
	kw := keyword("kleio", models.MatchContains)
	kw.ContentTypes = []models.ContentType{models.ContentTitles}

	assert.False(t, ShouldMonitor(kw, models.ContentBody))
	assert.False(t, Match(kw, "kleio everywhere", models.ContentBody).Matched)
	assert.False(t, Match(kw, "kleio everywhere", models.ContentComments).Matched)

	assert.True(t, ShouldMonitor(kw, models.ContentTitles))
	assert.True(t, Match(kw, "kleio everywhere", models.ContentTitles).Matched)
}

func TestMatch_Concurrent(t *testing.T) {
	kw := keyword("kleio", models.MatchWordBoundary)
	done := make(chan models.MatchResult, 50)
	for i := 0; i < 50; i++ {
		go func() {
			done <- Match(kw, "hello kleio world", models.ContentTitles)
		}()
	}
	for i := 0; i < 50; i++ {
		r := <-done
		assert.True(t, r.Matched)
		assert.Equal(t, 6, r.Position)
	}
}

package knowledge

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magpieflow/magpie/internal/store"
)

func TestCollectionName(t *testing.T) {
	t.Parallel()

	t.Run("simple", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, "collection_weather", collectionName("weather"))
		assert.Equal(t, "collection_weather_api", collectionName("Weather API"))
		assert.Equal(t, "collection_payments-api", collectionName("payments-api"))
	})

	t.Run("short names get a hash suffix", func(t *testing.T) {
		t.Parallel()
		name := collectionName("ai")
		assert.True(t, strings.HasPrefix(name, "collection_ai_"), name)
		assert.Len(t, name, len("collection_ai_")+8)
		assert.Equal(t, name, collectionName("ai"))
	})

	t.Run("long names stay under the ceiling", func(t *testing.T) {
		t.Parallel()
		name := collectionName(strings.Repeat("a", 80))
		assert.LessOrEqual(t, len(name), 63)
		assert.True(t, strings.HasPrefix(name, "collection_aaa"), name)
		assert.Equal(t, name, collectionName(strings.Repeat("a", 80)))
	})

	t.Run("symbol-only names become a hash", func(t *testing.T) {
		t.Parallel()
		name := collectionName("###")
		assert.Regexp(t, `^collection_[0-9a-f]{8}$`, name)
	})

	t.Run("edge punctuation is trimmed", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, "collection_mixed_case--name", collectionName(" Mixed  Case--Name "))
	})
}

func TestExtractKeywords(t *testing.T) {
	t.Parallel()

	kws := extractKeywords("kafka kafka kafka stream stream the a to x", 10)
	assert.Equal(t, []string{"kafka", "stream"}, kws)

	kws = extractKeywords("zeta alpha", 10)
	assert.Equal(t, []string{"alpha", "zeta"}, kws)

	kws = extractKeywords("one two three four five six", 3)
	assert.Len(t, kws, 3)
}

func TestSummarize(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "one two", summarize("one two three four", 2))
	assert.Equal(t, "one two three", summarize("one  two\nthree", 10))
	assert.Empty(t, summarize("", 5))
}

func TestMetadataBlob(t *testing.T) {
	t.Parallel()

	doc := &store.Document{
		Title:    "Guide",
		Keywords: []string{"alpha", "beta"},
		Tags:     []string{"howto"},
		Summary:  "Short summary.",
	}
	assert.Equal(t, "Guide\nkeywords: alpha, beta\ntags: howto\nShort summary.", metadataBlob(doc))

	assert.Equal(t, "Guide", metadataBlob(&store.Document{Title: "Guide"}))

	long := &store.Document{Title: "T", Summary: strings.Repeat("a", 2*maxBlobRunes)}
	assert.Len(t, []rune(metadataBlob(long)), maxBlobRunes)
}

func TestQueryTerms(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"weather", "seoul"}, queryTerms("What is the Weather in Seoul?"))
	assert.Empty(t, queryTerms("a I x"))
}

func TestApproxTokens(t *testing.T) {
	t.Parallel()

	assert.Zero(t, approxTokens(""))
	assert.Equal(t, 1, approxTokens("ab"))
	assert.Equal(t, 1, approxTokens("abcd"))
	assert.Equal(t, 2, approxTokens(strings.Repeat("a", 9)))
}

func TestContentHash(t *testing.T) {
	t.Parallel()

	h := contentHash("body")
	assert.Len(t, h, 16)
	assert.Equal(t, h, contentHash("body"))
	assert.NotEqual(t, h, contentHash("other body"))
}

func TestLexicalScore(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		terms []string
		doc   *store.Document
		want  float64
	}{
		{
			name:  "no terms",
			terms: nil,
			doc:   &store.Document{Summary: "alpha"},
			want:  0,
		},
		{
			name:  "no match",
			terms: []string{"alpha"},
			doc:   &store.Document{Summary: "nothing relevant"},
			want:  0,
		},
		{
			name:  "single early occurrence",
			terms: []string{"alpha"},
			doc:   &store.Document{Summary: "alpha"},
			want:  1.0 / 3 * 1.2,
		},
		{
			name:  "occurrences cap per term",
			terms: []string{"alpha"},
			doc:   &store.Document{Summary: "alpha alpha alpha alpha alpha"},
			want:  1.0,
		},
		{
			name:  "keywords count as content",
			terms: []string{"gamma"},
			doc:   &store.Document{Summary: "alpha", Keywords: []string{"gamma", "delta"}},
			want:  1.0 / 3 * 1.2,
		},
		{
			name:  "title match multiplies",
			terms: []string{"alpha"},
			doc:   &store.Document{Title: "Alpha Guide", Summary: "alpha"},
			want:  1.0 / 3 * 1.2 * 1.8,
		},
		{
			name:  "tag match multiplies",
			terms: []string{"alpha"},
			doc:   &store.Document{Summary: "alpha", Tags: []string{"alpha-notes"}},
			want:  1.0 / 3 * 1.2 * 1.4,
		},
		{
			name:  "nearby terms get the proximity boost",
			terms: []string{"alpha", "beta"},
			doc:   &store.Document{Summary: "alpha beta"},
			want:  2.0 / 6 * 1.15 * 1.2,
		},
		{
			name:  "distant terms do not",
			terms: []string{"alpha", "beta"},
			doc:   &store.Document{Summary: "alpha " + strings.Repeat("x ", 100) + "beta"},
			want:  2.0 / 6 * 1.2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := lexicalScore(tt.terms, tt.doc)
			require.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

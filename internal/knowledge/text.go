package knowledge

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/cespare/xxhash/v2"

	"github.com/magpieflow/magpie/internal/store"
)

// wordPattern matches runs of letters, digits, and underscores in any
// script, so tokenization works for non-Latin content too.
var wordPattern = regexp.MustCompile(`[\p{L}\p{N}_]+`)

var stopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "is": {}, "are": {}, "was": {},
	"be": {}, "have": {}, "has": {}, "do": {}, "does": {}, "did": {},
	"to": {}, "of": {}, "in": {}, "on": {}, "at": {}, "by": {},
	"or": {}, "and": {}, "this": {}, "that": {}, "these": {},
	"those": {}, "what": {}, "which": {}, "who": {},
}

// tokenize lowercases text and splits it into word runs.
func tokenize(text string) []string {
	return wordPattern.FindAllString(strings.ToLower(text), -1)
}

// queryTerms extracts the meaningful terms from a search query: stop words
// and single-character tokens are dropped.
func queryTerms(query string) []string {
	var out []string
	for _, tok := range tokenize(query) {
		if _, stop := stopWords[tok]; stop {
			continue
		}
		if utf8.RuneCountInString(tok) < 2 {
			continue
		}
		out = append(out, tok)
	}
	return out
}

// extractKeywords returns the most frequent meaningful terms of the body,
// at most max of them. Ties break alphabetically so results are stable.
func extractKeywords(body string, max int) []string {
	freq := make(map[string]int)
	for _, tok := range queryTerms(body) {
		freq[tok]++
	}
	terms := make([]string, 0, len(freq))
	for t := range freq {
		terms = append(terms, t)
	}
	sort.Slice(terms, func(i, j int) bool {
		if freq[terms[i]] != freq[terms[j]] {
			return freq[terms[i]] > freq[terms[j]]
		}
		return terms[i] < terms[j]
	})
	if len(terms) > max {
		terms = terms[:max]
	}
	return terms
}

// summarize returns the first maxTokens whitespace-separated tokens of the
// body, joined by single spaces.
func summarize(body string, maxTokens int) string {
	fields := strings.Fields(body)
	if len(fields) > maxTokens {
		fields = fields[:maxTokens]
	}
	return strings.Join(fields, " ")
}

// metadataBlob renders the embeddable surface of a document: title,
// keywords, tags, and summary. Bodies are never embedded. The blob is
// truncated so oversized metadata cannot blow the embedding request.
func metadataBlob(doc *store.Document) string {
	var b strings.Builder
	b.WriteString(doc.Title)
	if len(doc.Keywords) > 0 {
		b.WriteString("\nkeywords: ")
		b.WriteString(strings.Join(doc.Keywords, ", "))
	}
	if len(doc.Tags) > 0 {
		b.WriteString("\ntags: ")
		b.WriteString(strings.Join(doc.Tags, ", "))
	}
	if doc.Summary != "" {
		b.WriteString("\n")
		b.WriteString(doc.Summary)
	}
	return truncateRunes(b.String(), maxBlobRunes)
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

// approxTokens estimates the token count of a string. Four characters per
// token is the usual rule of thumb for English-heavy text; exactness does
// not matter here, only that budgets are honored roughly.
func approxTokens(s string) int {
	if s == "" {
		return 0
	}
	n := utf8.RuneCountInString(s) / 4
	if n == 0 {
		n = 1
	}
	return n
}

func contentHash(content string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(content))
}

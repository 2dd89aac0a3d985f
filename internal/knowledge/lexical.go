package knowledge

import (
	"strings"

	"github.com/magpieflow/magpie/internal/store"
)

// lexicalScore rates how well a document's metadata matches the query
// terms, on a 0..1 scale. The base score counts term occurrences over the
// summary and extracted keywords (capped per term so repetition cannot
// dominate), then multiplies in boosts: terms appearing near each other,
// terms appearing early, and matches against the title or tags.
func lexicalScore(terms []string, doc *store.Document) float64 {
	if len(terms) == 0 {
		return 0
	}

	content := strings.ToLower(doc.Summary)
	if len(doc.Keywords) > 0 {
		content += "\n" + strings.ToLower(strings.Join(doc.Keywords, " "))
	}
	title := strings.ToLower(doc.Title)

	raw := 0
	var matched []string
	for _, t := range terms {
		occ := strings.Count(content, t)
		if occ == 0 {
			continue
		}
		matched = append(matched, t)
		if occ > 3 {
			occ = 3
		}
		raw += occ
	}
	score := float64(raw) / float64(len(terms)*3)

	// Distinct terms within 100 characters of each other suggest the
	// document covers the query as a phrase, not as scattered mentions.
	for i := 0; i+1 < len(matched); i++ {
		i1 := strings.Index(content, matched[i])
		i2 := strings.Index(content, matched[i+1])
		if i1 >= 0 && i2 >= 0 && abs(i2-i1) < 100 {
			score *= 1.15
		}
	}

	if score > 0 {
		first := len(content)
		for _, t := range matched {
			if idx := strings.Index(content, t); idx >= 0 && idx < first {
				first = idx
			}
		}
		if first < 200 {
			score *= 1.2
		}
	}

	titleMatches := 0
	for _, t := range terms {
		if strings.Contains(title, t) {
			titleMatches++
		}
	}
	if titleMatches > 0 {
		if titleMatches > 3 {
			titleMatches = 3
		}
		score *= 1.5 + 0.3*float64(titleMatches)
	}

	tagMatches := 0
	for _, tag := range doc.Tags {
		tag = strings.ToLower(tag)
		for _, t := range terms {
			if strings.Contains(tag, t) || strings.Contains(t, tag) {
				tagMatches++
				break
			}
		}
	}
	if tagMatches > 0 {
		if tagMatches > 3 {
			tagMatches = 3
		}
		score *= 1.25 + 0.15*float64(tagMatches)
	}

	if score > 1 {
		score = 1
	}
	return score
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// Package jsonutil extracts JSON from the freeform text that language models
// return. Workflow definitions arrive wrapped in prose, markdown code fences,
// or both; this package finds the first (or every) valid JSON value in such
// text so callers can decode it into typed structures.
package jsonutil

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// maxInputBytes caps the input size. Larger inputs are rejected rather than
// scanned, since model replies should never approach this.
const maxInputBytes = 10 * 1024 * 1024 // 10 MB

// reANSI matches CSI escape sequences that terminal-facing tools may embed.
var reANSI = regexp.MustCompile(`\x1b\[[0-9;]*[mGKHF]`)

// reCodeFence matches a markdown code fence with an optional "json" language
// tag. The fenced content is capture group 1. (?s) lets .*? cross newlines;
// the non-greedy quantifier stops at the first closing fence so multiple
// fences in one reply each match separately.
var reCodeFence = regexp.MustCompile("(?s)```(?:json)?[ \\t]*\n(.*?)\n```")

// sanitize strips a leading UTF-8 BOM and ANSI escapes, enforcing the size cap.
func sanitize(text string) (string, error) {
	if len(text) > maxInputBytes {
		return "", fmt.Errorf("jsonutil: input exceeds maximum size of %d bytes", maxInputBytes)
	}
	text = strings.TrimPrefix(text, "\xef\xbb\xbf")
	text = reANSI.ReplaceAllString(text, "")
	return text, nil
}

// Extract returns the first valid JSON object or array found in text.
// Strategies are tried in order of reliability:
//  1. markdown code fences (```json or bare ```)
//  2. brace/bracket matching over the raw text
//
// An error is returned when no valid JSON is present.
func Extract(text string) (json.RawMessage, error) {
	text, err := sanitize(text)
	if err != nil {
		return nil, err
	}

	all := extractAllFrom(text)
	if len(all) == 0 {
		return nil, fmt.Errorf("jsonutil: no valid JSON found in text")
	}
	return all[0], nil
}

// ExtractAll returns every valid JSON object and array in text, in order of
// appearance. Brace-matched candidates inside an already-captured code fence
// are suppressed so the same span is not returned twice.
func ExtractAll(text string) []json.RawMessage {
	cleaned, err := sanitize(text)
	if err != nil {
		return nil
	}
	return extractAllFrom(cleaned)
}

// ExtractInto extracts the first JSON value from text and unmarshals it into
// target.
func ExtractInto(text string, target any) error {
	raw, err := Extract(text)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("jsonutil: unmarshal failed: %w", err)
	}
	return nil
}

// span records the byte range [start, end) of a fence match in the original
// text.
type span struct{ start, end int }

func extractAllFrom(text string) []json.RawMessage {
	var results []json.RawMessage
	var fences []span

	for _, loc := range reCodeFence.FindAllStringSubmatchIndex(text, -1) {
		if len(loc) < 4 {
			continue
		}
		inner := strings.TrimSpace(text[loc[2]:loc[3]])
		if inner == "" || !json.Valid([]byte(inner)) {
			continue
		}
		fences = append(fences, span{loc[0], loc[1]})
		results = append(results, json.RawMessage(inner))
	}

	n := len(text)
	for i := 0; i < n; i++ {
		ch := text[i]
		if ch != '{' && ch != '[' {
			continue
		}
		if inAnyFence(i, fences) {
			continue
		}
		end := matchingDelimiter(text, i)
		if end < 0 {
			continue
		}
		candidate := text[i : end+1]
		if !json.Valid([]byte(candidate)) {
			continue
		}
		results = append(results, json.RawMessage(candidate))
	}

	return results
}

func inAnyFence(pos int, fences []span) bool {
	for _, f := range fences {
		if pos >= f.start && pos < f.end {
			return true
		}
	}
	return false
}

// matchingDelimiter returns the index of the closer that balances the opening
// '{' or '[' at start, or -1. Nested delimiters, double-quoted strings, and
// escape sequences inside strings are handled.
func matchingDelimiter(text string, start int) int {
	openCh := text[start]
	var closeCh byte
	switch openCh {
	case '{':
		closeCh = '}'
	case '[':
		closeCh = ']'
	default:
		return -1
	}

	depth := 0
	inString := false
	n := len(text)

	for i := start; i < n; i++ {
		ch := text[i]

		if inString {
			switch ch {
			case '\\':
				i++
			case '"':
				inString = false
			}
			continue
		}

		switch ch {
		case '"':
			inString = true
		case openCh:
			depth++
		case closeCh:
			depth--
			if depth == 0 {
				return i
			}
		}
	}

	return -1
}

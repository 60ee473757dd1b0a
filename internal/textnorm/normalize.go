// Package textnorm canonicalizes article and alias text for matching.
package textnorm

import (
	"strings"
	"unicode"
)

// NormalizedText carries both comparison forms: a cleaned string for
// substring and fuzzy matching and a token sequence for lemma comparison.
type NormalizedText struct {
	Clean  string
	Tokens []string
}

func (n NormalizedText) Empty() bool {
	return n.Clean == ""
}

// Lemmatizer reduces a token to its dictionary form. It is optional; the
// normalizer degrades to token-only normalization when none is injected.
type Lemmatizer interface {
	Lemma(token string) string
}

type Normalizer struct {
	lemmatizer Lemmatizer
}

func New(lemmatizer Lemmatizer) *Normalizer {
	return &Normalizer{lemmatizer: lemmatizer}
}

// Normalize lowercases, strips matching-irrelevant punctuation, and
// collapses whitespace. Deterministic, never fails: empty or malformed
// input produces an empty normalized form.
func (n *Normalizer) Normalize(text string) NormalizedText {
	tokens := Tokenize(text)
	if len(tokens) == 0 {
		return NormalizedText{}
	}
	if n != nil && n.lemmatizer != nil {
		for i, token := range tokens {
			if lemma := n.lemmatizer.Lemma(token); lemma != "" {
				tokens[i] = lemma
			}
		}
	}
	return NormalizedText{
		Clean:  strings.Join(tokens, " "),
		Tokens: tokens,
	}
}

// Tokenize splits text into lowercased word tokens. Letters, digits, and
// intra-word hyphens survive; everything else separates tokens.
func Tokenize(text string) []string {
	if text == "" {
		return nil
	}

	var (
		tokens  []string
		builder strings.Builder
	)
	flush := func() {
		token := strings.Trim(builder.String(), "-")
		if token != "" {
			tokens = append(tokens, token)
		}
		builder.Reset()
	}

	for _, r := range text {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			builder.WriteRune(unicode.ToLower(r))
		case r == '-' && builder.Len() > 0:
			builder.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return tokens
}

// ContainsToken reports whether needle occurs in haystack on a token
// boundary. Both sides must already be normalized.
func ContainsToken(haystack, needle string) bool {
	if haystack == "" || needle == "" {
		return false
	}
	idx := 0
	for {
		pos := strings.Index(haystack[idx:], needle)
		if pos < 0 {
			return false
		}
		start := idx + pos
		end := start + len(needle)
		if boundaryBefore(haystack, start) && boundaryAfter(haystack, end) {
			return true
		}
		idx = start + 1
	}
}

func boundaryBefore(s string, start int) bool {
	return start == 0 || s[start-1] == ' '
}

func boundaryAfter(s string, end int) bool {
	return end == len(s) || s[end] == ' '
}

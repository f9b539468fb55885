package markov

import (
	"regexp"
	"strings"
)

// defaultPunctuation is ASCII punctuation without '@', plus typographic quotes and dashes.
const defaultPunctuation = "!\"#$%&'()*+,-./:;<=>?[\\]^_`{|}~“”‘’–"

// DefaultTokenizer is a default implementation of the Tokenizer interface.
// It splits text on whitespace, strips a punctuation set from both ends of
// every field, drops excluded tokens and lowercases the rest. Its behavior can
// be customized with functional options.
type DefaultTokenizer struct {
	punctuation    string
	exclude        ExclusionRule
	splitSentences bool
	sentenceRegex  *regexp.Regexp
}

// Option Is a function that configures a DefaultTokenizer.
type Option func(*DefaultTokenizer)

// WithPunctuation sets the boundary characters stripped from each token.
// Characters inside a token are kept.
// Default: ASCII punctuation except '@', plus “”‘’–
func WithPunctuation(set string) Option {
	return func(t *DefaultTokenizer) {
		t.punctuation = set
	}
}

// WithExclusion sets the rule used to drop tokens. The rule sees the token
// after punctuation stripping and before case folding. A nil rule keeps
// every token.
// Default: StandardExclusion
func WithExclusion(rule ExclusionRule) Option {
	return func(t *DefaultTokenizer) {
		t.exclude = rule
	}
}

// WithSentenceSplit enables splitting documents into sentences before training.
// Default: false
func WithSentenceSplit(enabled bool) Option {
	return func(t *DefaultTokenizer) {
		t.splitSentences = enabled
	}
}

// WithSentenceRegex sets the regex string matching a sentence boundary.
// The matched text is dropped except for its first character.
// Default: `[.!?]+\s+`
func WithSentenceRegex(expr string) Option {
	return func(t *DefaultTokenizer) {
		t.sentenceRegex = regexp.MustCompile(expr)
	}
}

// NewDefaultTokenizer creates a new tokenizer with default settings, which can be
// overridden by providing one or more Option functions.
func NewDefaultTokenizer(opts ...Option) *DefaultTokenizer {
	t := &DefaultTokenizer{
		punctuation: defaultPunctuation,
		exclude:     StandardExclusion,
		// Sentence-ending punctuation followed by whitespace.
		sentenceRegex: regexp.MustCompile(`[.!?]+\s+`),
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// Tokenize returns the normalized tokens of document.
func (t *DefaultTokenizer) Tokenize(document string) []string {
	fields := strings.Fields(document)
	tokens := make([]string, 0, len(fields))
	for _, field := range fields {
		token := strings.Trim(field, t.punctuation)
		if token == "" {
			continue
		}
		if t.exclude != nil && t.exclude(token) {
			continue
		}
		tokens = append(tokens, strings.ToLower(token))
	}
	return tokens
}

// Sentences returns document split at sentence boundaries, or the document
// itself when sentence splitting is disabled.
func (t *DefaultTokenizer) Sentences(document string) []string {
	if !t.splitSentences {
		return []string{document}
	}

	var sentences []string
	last := 0
	for _, loc := range t.sentenceRegex.FindAllStringIndex(document, -1) {
		// Keep one terminator with the sentence, drop the rest of the match.
		end := loc[0] + 1
		if s := strings.TrimSpace(document[last:end]); s != "" {
			sentences = append(sentences, s)
		}
		last = loc[1]
	}
	if s := strings.TrimSpace(document[last:]); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

package markov

import "strings"

const (
	// StopToken is the reserved token recorded after the last token of every
	// trained document. The tokenizer lowercases all input, so this
	// upper-case value can never be produced from real text.
	StopToken = "<STOP>"
	// StopTokenID is the reserved vocabulary ID for StopToken in a SQLStore.
	StopTokenID = 1
)

// Tokenizer is an interface that defines the contract for splitting input text
// into normalized tokens. This allows the training and generation logic to be
// independent of the specific tokenization strategy.
type Tokenizer interface {
	// Tokenize splits one document into tokens. It never fails; input with no
	// usable tokens yields an empty slice.
	Tokenize(document string) []string
	// Sentences splits a document into the units that are trained
	// independently. Tokenizers that do not split return the document as is.
	Sentences(document string) []string
}

// ExclusionRule reports whether a token should be dropped during tokenization.
type ExclusionRule func(token string) bool

// StandardExclusion drops "@mention" tokens and the "RT" reshare marker.
func StandardExclusion(token string) bool {
	return strings.HasPrefix(token, "@") || token == "RT"
}

// ContextKey joins tokens into the key used to index a Knowledge store. Tokens
// never contain whitespace, so a single space is an unambiguous separator.
// The empty context has the key "".
func ContextKey(tokens []string) string {
	return strings.Join(tokens, " ")
}

// SplitKey is the inverse of ContextKey.
func SplitKey(key string) []string {
	if key == "" {
		return nil
	}
	return strings.Split(key, " ")
}

// joinedLen returns len(strings.Join(tokens, " ")) without building the string.
func joinedLen(tokens []string) int {
	if len(tokens) == 0 {
		return 0
	}
	n := len(tokens) - 1
	for _, t := range tokens {
		n += len(t)
	}
	return n
}

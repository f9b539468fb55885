package markov

import (
	"reflect"
	"strings"
	"testing"
)

func TestDefaultTokenizer_Tokenize(t *testing.T) {
	tok := NewDefaultTokenizer()
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"simple", "Hello World", []string{"hello", "world"}},
		{"boundary punctuation", "Hello, World!", []string{"hello", "world"}},
		{"inner punctuation kept", "don't stop-me now", []string{"don't", "stop-me", "now"}},
		{"typographic quotes", "“Quoted” ‘words’", []string{"quoted", "words"}},
		{"mentions dropped", "@someone hi there", []string{"hi", "there"}},
		{"reshare marker dropped", "RT this is great", []string{"this", "is", "great"}},
		{"reshare marker checked before case folding", "rt is fine", []string{"rt", "is", "fine"}},
		{"mention behind punctuation", "(@someone) yes", []string{"yes"}},
		{"collapsed whitespace", "  a \t b \n c  ", []string{"a", "b", "c"}},
		{"stop token cannot be produced", "<STOP> STOP", []string{"stop", "stop"}},
		{"only punctuation", "... !!! ,", []string{}},
		{"empty", "", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tok.Tokenize(tt.input)
			if len(got) == 0 && len(tt.want) == 0 {
				return
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Tokenize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestDefaultTokenizer_TokensHaveNoWhitespace(t *testing.T) {
	tok := NewDefaultTokenizer()
	for _, doc := range testCorpus {
		for _, token := range tok.Tokenize(doc) {
			if token == "" || strings.ContainsAny(token, " \t\n") {
				t.Errorf("Tokenize(%q) produced invalid token %q", doc, token)
			}
			if token == StopToken {
				t.Errorf("Tokenize(%q) produced the stop token", doc)
			}
		}
	}
}

func TestDefaultTokenizer_Options(t *testing.T) {
	t.Run("custom punctuation", func(t *testing.T) {
		tok := NewDefaultTokenizer(WithPunctuation("*"))
		got := tok.Tokenize("*bold* word.")
		want := []string{"bold", "word."}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("got %q, want %q", got, want)
		}
	})

	t.Run("no exclusion", func(t *testing.T) {
		tok := NewDefaultTokenizer(WithExclusion(nil))
		got := tok.Tokenize("RT @someone hi")
		want := []string{"rt", "@someone", "hi"}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("got %q, want %q", got, want)
		}
	})

	t.Run("custom exclusion", func(t *testing.T) {
		tok := NewDefaultTokenizer(WithExclusion(func(token string) bool {
			return token == "skip"
		}))
		got := tok.Tokenize("skip keep @me")
		want := []string{"keep", "@me"}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("got %q, want %q", got, want)
		}
	})
}

func TestDefaultTokenizer_Sentences(t *testing.T) {
	t.Run("disabled by default", func(t *testing.T) {
		doc := "One two. Three four!"
		got := NewDefaultTokenizer().Sentences(doc)
		if !reflect.DeepEqual(got, []string{doc}) {
			t.Errorf("Sentences() = %q, want the whole document", got)
		}
	})

	tok := NewDefaultTokenizer(WithSentenceSplit(true))
	tests := []struct {
		input string
		want  []string
	}{
		{"One two. Three four! Five", []string{"One two.", "Three four!", "Five"}},
		{"Wait... what?  Really", []string{"Wait.", "what?", "Really"}},
		{"No boundary here", []string{"No boundary here"}},
		{"Trailing stop. ", []string{"Trailing stop."}},
		{"   ", nil},
	}
	for _, tt := range tests {
		got := tok.Sentences(tt.input)
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Sentences(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}

	t.Run("custom regex", func(t *testing.T) {
		tok := NewDefaultTokenizer(WithSentenceSplit(true), WithSentenceRegex(`;\s*`))
		got := tok.Sentences("a b; c d")
		want := []string{"a b;", "c d"}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("got %q, want %q", got, want)
		}
	})
}

func TestContextKey(t *testing.T) {
	if got := ContextKey(nil); got != "" {
		t.Errorf("ContextKey(nil) = %q, want empty", got)
	}
	tokens := []string{"a", "b", "c"}
	key := ContextKey(tokens)
	if key != "a b c" {
		t.Errorf("ContextKey() = %q, want %q", key, "a b c")
	}
	if got := SplitKey(key); !reflect.DeepEqual(got, tokens) {
		t.Errorf("SplitKey(%q) = %q, want %q", key, got, tokens)
	}
	if got := SplitKey(""); got != nil {
		t.Errorf("SplitKey(\"\") = %q, want nil", got)
	}
}

func TestJoinedLen(t *testing.T) {
	for _, tokens := range [][]string{nil, {"a"}, {"ab", "c"}, {"hello", "hello", "goodbye"}} {
		if got, want := joinedLen(tokens), len(strings.Join(tokens, " ")); got != want {
			t.Errorf("joinedLen(%q) = %d, want %d", tokens, got, want)
		}
	}
}

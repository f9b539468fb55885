package markov

import "slices"

// TrainResult summarizes one call to Train.
type TrainResult struct {
	Documents int // documents received
	Units     int // sentences (or whole documents) tokenized
	Skipped   int // units with no tokens left after tokenization
	Windows   int // context -> next-token transitions recorded
}

// Add accumulates another result into r.
func (r *TrainResult) Add(o TrainResult) {
	r.Documents += o.Documents
	r.Units += o.Units
	r.Skipped += o.Skipped
	r.Windows += o.Windows
}

// Ngrams returns the training windows for a token sequence: the sequence is
// extended with StopToken and every run of n+1 consecutive tokens is
// returned, context first and next token last. Sequences of n tokens or
// fewer produce no windows.
func Ngrams(tokens []string, n int) [][]string {
	if n < 1 || len(tokens) <= n {
		return nil
	}
	augmented := append(slices.Clip(slices.Clone(tokens)), StopToken)
	windows := make([][]string, 0, len(augmented)-n)
	for i := 0; i+n < len(augmented); i++ {
		windows = append(windows, augmented[i:i+n+1])
	}
	return windows
}

// Train tokenizes every document and records its transitions into k. Empty,
// whitespace-only and fully excluded documents are skipped. Train never fails
// and only ever increases counts.
func Train(k *Knowledge, tok Tokenizer, documents []string) TrainResult {
	res := TrainResult{Documents: len(documents)}
	for _, doc := range documents {
		for _, unit := range tok.Sentences(doc) {
			res.Units++
			tokens := tok.Tokenize(unit)
			if len(tokens) == 0 {
				res.Skipped++
				continue
			}
			res.Windows += trainTokens(k, tokens)
		}
	}
	return res
}

// trainTokens records one token sequence and returns the number of windows.
func trainTokens(k *Knowledge, tokens []string) int {
	// Keep track of starting candidates.
	start := tokens[:min(k.order, len(tokens))]
	k.increment("", ContextKey(start), 1)

	windows := Ngrams(tokens, k.order)
	for _, w := range windows {
		k.increment(ContextKey(w[:k.order]), w[k.order], 1)
	}
	return len(windows)
}

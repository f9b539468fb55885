package markov

import (
	"errors"
	"fmt"
	"maps"
	"slices"
)

var (
	// ErrInvalidOrder is returned when a Knowledge store is created with an ngram size below 1.
	ErrInvalidOrder = errors.New("markov: ngram size must be at least 1")
	// ErrOrderMismatch is returned when two stores with different ngram sizes are combined.
	ErrOrderMismatch = errors.New("markov: ngram size mismatch")
	// ErrInvalidEntry is returned by Add for a context or count that breaks the store's invariants.
	ErrInvalidEntry = errors.New("markov: invalid knowledge entry")
)

// Distribution maps next tokens to their positive occurrence counts after one
// context. The total is maintained on every increment. New keys are appended
// and the key list is sorted once, on the first ordered read after a batch of
// inserts, so training stays linear in the number of keys.
type Distribution struct {
	keys   []string
	sorted bool
	counts map[string]int
	total  int
}

func newDistribution() *Distribution {
	return &Distribution{counts: make(map[string]int), sorted: true}
}

// add increments key by n. n must be positive.
func (d *Distribution) add(key string, n int) {
	if _, ok := d.counts[key]; !ok {
		if d.sorted && len(d.keys) > 0 && key < d.keys[len(d.keys)-1] {
			d.sorted = false
		}
		d.keys = append(d.keys, key)
	}
	d.counts[key] += n
	d.total += n
}

// sortedKeys returns the keys in sorted order, sorting them first if an
// insert broke the order.
func (d *Distribution) sortedKeys() []string {
	if !d.sorted {
		slices.Sort(d.keys)
		d.sorted = true
	}
	return d.keys
}

// Len returns the number of distinct next tokens.
func (d *Distribution) Len() int {
	if d == nil {
		return 0
	}
	return len(d.keys)
}

// Total returns the sum of all counts.
func (d *Distribution) Total() int {
	if d == nil {
		return 0
	}
	return d.total
}

// Count returns the count recorded for key, or 0 if it is absent.
func (d *Distribution) Count(key string) int {
	if d == nil {
		return 0
	}
	return d.counts[key]
}

// Keys returns the next tokens in sorted order. The slice must not be modified.
func (d *Distribution) Keys() []string {
	if d == nil {
		return nil
	}
	return d.sortedKeys()
}

// Counts returns a copy of the distribution as a plain map.
func (d *Distribution) Counts() map[string]int {
	if d == nil {
		return map[string]int{}
	}
	return maps.Clone(d.counts)
}

func (d *Distribution) clone() *Distribution {
	return &Distribution{
		keys:   slices.Clone(d.keys),
		sorted: d.sorted,
		counts: maps.Clone(d.counts),
		total:  d.total,
	}
}

// Knowledge is the trained model: a mapping from a context of exactly Order
// tokens to the distribution of tokens that followed it. The empty context
// holds start candidates, each a space-joined tuple of up to Order tokens.
//
// Knowledge is not safe for concurrent use, not even for reads, since ordered
// reads may sort a distribution in place. Brain serializes access to one.
type Knowledge struct {
	order    int
	contexts map[string]*Distribution
}

// NewKnowledge returns an empty store for ngrams of the given size.
func NewKnowledge(order int) (*Knowledge, error) {
	if order < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidOrder, order)
	}
	k := &Knowledge{order: order}
	k.Reset()
	return k, nil
}

// Order returns the ngram size the store was built with.
func (k *Knowledge) Order() int {
	return k.order
}

// Reset clears every context, leaving an empty start distribution.
func (k *Knowledge) Reset() {
	k.contexts = map[string]*Distribution{"": newDistribution()}
}

// Starts returns the distribution of start candidates. It is never nil.
func (k *Knowledge) Starts() *Distribution {
	return k.contexts[""]
}

// Lookup returns the distribution recorded for a context key.
func (k *Knowledge) Lookup(key string) (*Distribution, bool) {
	d, ok := k.contexts[key]
	return d, ok
}

// HasStop reports whether the context key has ever been followed by StopToken.
func (k *Knowledge) HasStop(key string) bool {
	d, ok := k.contexts[key]
	return ok && d.Count(StopToken) > 0
}

// Len returns the number of known contexts, not counting the empty context.
func (k *Knowledge) Len() int {
	return len(k.contexts) - 1
}

// Contexts returns every context key in sorted order, starting with "".
func (k *Knowledge) Contexts() []string {
	return slices.Sorted(maps.Keys(k.contexts))
}

// Empty reports whether nothing has been trained into the store.
func (k *Knowledge) Empty() bool {
	return len(k.contexts) == 1 && k.Starts().Len() == 0
}

// increment adds n to knowledge[key][next], creating entries as needed.
func (k *Knowledge) increment(key, next string, n int) {
	d, ok := k.contexts[key]
	if !ok {
		d = newDistribution()
		k.contexts[key] = d
	}
	d.add(next, n)
}

// Add records count occurrences of next after prior. An empty prior
// records a start candidate, in which case next is a space-joined tuple of
// 1 to Order tokens. Any other prior must hold exactly Order tokens.
func (k *Knowledge) Add(prior []string, next string, count int) error {
	if count < 1 {
		return fmt.Errorf("%w: count %d", ErrInvalidEntry, count)
	}
	if next == "" {
		return fmt.Errorf("%w: empty next token", ErrInvalidEntry)
	}
	if len(prior) == 0 {
		if n := len(SplitKey(next)); n > k.order {
			return fmt.Errorf("%w: start candidate %q has %d tokens, ngram size is %d", ErrInvalidEntry, next, n, k.order)
		}
	} else if len(prior) != k.order {
		return fmt.Errorf("%w: context %q has %d tokens, ngram size is %d", ErrInvalidEntry, ContextKey(prior), len(prior), k.order)
	}
	k.increment(ContextKey(prior), next, count)
	return nil
}

// Clone returns a deep copy of the store.
func (k *Knowledge) Clone() *Knowledge {
	c := &Knowledge{
		order:    k.order,
		contexts: make(map[string]*Distribution, len(k.contexts)),
	}
	for key, d := range k.contexts {
		c.contexts[key] = d.clone()
	}
	return c
}

// Merge adds every count of other into k. Both stores must share an ngram size.
func (k *Knowledge) Merge(other *Knowledge) error {
	if other.order != k.order {
		return fmt.Errorf("%w: %d into %d", ErrOrderMismatch, other.order, k.order)
	}
	for key, d := range other.contexts {
		for _, next := range d.keys {
			k.increment(key, next, d.counts[next])
		}
	}
	return nil
}

// Equal reports whether two stores hold the same ngram size and counts.
func (k *Knowledge) Equal(other *Knowledge) bool {
	if k.order != other.order || len(k.contexts) != len(other.contexts) {
		return false
	}
	for key, d := range k.contexts {
		o, ok := other.contexts[key]
		if !ok || d.total != o.total || !maps.Equal(d.counts, o.counts) {
			return false
		}
	}
	return true
}

package markov

import (
	"io"
	"log/slog"
	"strings"
)

const (
	// DefaultMaxChars is the generation length budget used when none is set.
	DefaultMaxChars = 140
	// DefaultSpasm is the default probability of restarting from a start candidate.
	DefaultSpasm = 0.05
)

// generateOptions Is used by Generator to configure default options.
type generateOptions struct {
	maxChars int
	ramble   bool
	spasm    float64
	sampler  *Sampler
}

// GenerateOption is a function that configures generation parameters. It's used
// as a variadic argument to NewGenerator.
type GenerateOption func(*generateOptions)

// WithMaxChars sets the hard upper bound on the length of generated text,
// measured on the space-joined tokens. Values below zero are treated as zero.
func WithMaxChars(n int) GenerateOption {
	return func(o *generateOptions) { o.maxChars = max(n, 0) }
}

// WithRamble specifies whether generation restarts from a start candidate
// when it reaches a context that was never trained, instead of stopping.
func WithRamble(ramble bool) GenerateOption {
	return func(o *generateOptions) { o.ramble = ramble }
}

// WithSpasm sets the probability, per step, of ignoring the current context
// and sampling a start candidate instead. Values are clamped to [0, 1].
func WithSpasm(p float64) GenerateOption {
	return func(o *generateOptions) { o.spasm = min(max(p, 0), 1) }
}

// WithSampler sets the random source used for every draw. Use
// NewSeededSampler for reproducible output.
func WithSampler(s *Sampler) GenerateOption {
	return func(o *generateOptions) {
		if s != nil {
			o.sampler = s
		}
	}
}

// Generator produces bounded-length text from a Knowledge store. It carries no
// state between calls other than its options and random source, and is not
// safe for concurrent use.
type Generator struct {
	opts   generateOptions
	logger *slog.Logger
}

// NewGenerator creates a Generator. Defaults: 140 characters, ramble enabled,
// spasm 0.05, randomly seeded sampler.
func NewGenerator(opts ...GenerateOption) *Generator {
	g := &Generator{
		opts: generateOptions{
			maxChars: DefaultMaxChars,
			ramble:   true,
			spasm:    DefaultSpasm,
		},
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	g.Apply(opts...)
	if g.opts.sampler == nil {
		g.opts.sampler = NewSampler(nil)
	}
	return g
}

// Apply changes options on an existing Generator.
func (g *Generator) Apply(opts ...GenerateOption) {
	for _, opt := range opts {
		opt(&g.opts)
	}
}

// SetLogger sets the logger for the Generator. By default, all logs are discarded.
func (g *Generator) SetLogger(logger *slog.Logger) {
	if logger != nil {
		g.logger = logger
	}
}

// MaxChars returns the configured length budget.
func (g *Generator) MaxChars() int {
	return g.opts.maxChars
}

// Generate returns one utterance of at most MaxChars characters. An empty
// store, a start distribution with no candidates or an immediate stop all
// produce the empty string.
func (g *Generator) Generate(k *Knowledge) string {
	return strings.Join(g.GenerateTokens(k), " ")
}

// GenerateTokens is Generate without the final join.
func (g *Generator) GenerateTokens(k *Knowledge) []string {
	n := k.order
	maxChars := g.opts.maxChars

	var tokens []string
	// length is joinedLen(tokens), kept up to date as tokens are appended.
	length := 0
	// The rolling context holds at most n of the most recent tokens.
	prev := make([]string, 0, n+1)

	reason := "length"
	for length < maxChars {
		next, ok := g.nextToken(k, prev)
		if !ok {
			reason = "dead end"
			break
		}
		if next == StopToken {
			reason = "stop token"
			break
		}

		// Start candidates may carry several tokens.
		emitted := SplitKey(next)
		if len(tokens) > 0 {
			length++
		}
		length += joinedLen(emitted)
		tokens = append(tokens, emitted...)
		prev = append(prev, emitted...)
		if len(prev) > n {
			prev = append(prev[:0], prev[len(prev)-n:]...)
		}
	}

	if length <= maxChars {
		g.logger.Debug("Generation finished",
			slog.String("reason", reason),
			slog.Int("tokens", len(tokens)),
			slog.Int("chars", length),
		)
		return tokens
	}

	ends := prefixLens(tokens)
	if consolidated, ok := g.consolidate(k, tokens, ends); ok {
		g.logger.Debug("Generation consolidated at a stop point",
			slog.Int("tokens_before", len(tokens)),
			slog.Int("tokens_after", len(consolidated)),
			slog.Int("chars", ends[len(consolidated)]),
		)
		return consolidated
	}

	// One token is enough unless the last step emitted a multi-token start candidate.
	cut := len(tokens) - 1
	for ends[cut] > maxChars {
		cut--
	}
	g.logger.Debug("Generation truncated",
		slog.Int("tokens_before", len(tokens)),
		slog.Int("tokens_after", cut),
		slog.Int("chars", ends[cut]),
	)
	return tokens[:cut]
}

// prefixLens returns ends where ends[i] is joinedLen(tokens[:i]).
func prefixLens(tokens []string) []int {
	ends := make([]int, len(tokens)+1)
	for i, tok := range tokens {
		ends[i+1] = ends[i] + len(tok)
		if i > 0 {
			ends[i+1]++
		}
	}
	return ends
}

// nextToken chooses the token that follows prev.
func (g *Generator) nextToken(k *Knowledge, prev []string) (string, bool) {
	s := g.opts.sampler
	if s.Chance(g.opts.spasm) {
		return s.Choose(k.Starts())
	}

	if d, ok := k.Lookup(ContextKey(prev)); ok {
		return s.Choose(d)
	}

	// An unknown context is expected while prev is still filling up. Past
	// that point it was never trained, and only rambling keeps going.
	if len(prev) < k.order || g.opts.ramble {
		return s.Choose(k.Starts())
	}
	return "", false
}

// consolidate scans backward from the end of tokens in steps of the ngram
// size and returns the longest prefix that fits the budget and ends in a
// context known to precede StopToken. It returns false if there is none.
// ends holds the prefix lengths of tokens, as returned by prefixLens.
func (g *Generator) consolidate(k *Knowledge, tokens []string, ends []int) ([]string, bool) {
	n := k.order
	for cut := len(tokens); cut > 0; cut -= n {
		if ends[cut] > g.opts.maxChars {
			continue
		}
		candidate := tokens[:cut]
		tail := candidate[max(0, cut-n):]
		if k.HasStop(ContextKey(tail)) {
			return candidate, true
		}
	}
	return nil, false
}

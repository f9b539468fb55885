package markov

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

var (
	// ErrClosed is returned by every Brain method after Close.
	ErrClosed = errors.New("markov: brain is closed")
	// ErrNoSnapshot is returned by Save and Load on a Brain built without a Snapshot.
	ErrNoSnapshot = errors.New("markov: no snapshot configured")
)

// Config is the model configuration of a Brain.
type Config struct {
	// Order is the ngram size used for both training and generation.
	// Changing it discards the trained store.
	Order int `json:"ngram_size"`
	// MaxChars is the hard length budget of generated text.
	MaxChars int `json:"max_chars"`
	// Ramble permits restarting from a start candidate on an unseen context.
	Ramble bool `json:"ramble"`
	// Spasm is the probability of ignoring the context at each generation step.
	Spasm float64 `json:"spasm"`
}

// DefaultConfig returns a Config suited to small datasets.
func DefaultConfig() Config {
	return Config{
		Order:    1,
		MaxChars: DefaultMaxChars,
		Ramble:   true,
		Spasm:    DefaultSpasm,
	}
}

// Validate reports whether every field is within range.
func (c Config) Validate() error {
	if c.Order < 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidOrder, c.Order)
	}
	if c.MaxChars < 0 {
		return fmt.Errorf("markov: max_chars must not be negative, got %d", c.MaxChars)
	}
	if c.Spasm < 0 || c.Spasm > 1 {
		return fmt.Errorf("markov: spasm must be within [0, 1], got %v", c.Spasm)
	}
	return nil
}

func (c Config) generateOptions() []GenerateOption {
	return []GenerateOption{WithMaxChars(c.MaxChars), WithRamble(c.Ramble), WithSpasm(c.Spasm)}
}

// BrainOption configures a Brain at construction.
type BrainOption func(*Brain)

// WithTokenizer sets the tokenizer used for training.
// Default: NewDefaultTokenizer()
func WithTokenizer(t Tokenizer) BrainOption {
	return func(b *Brain) { b.tokenizer = t }
}

// WithSnapshot sets where Save and Load persist the store.
func WithSnapshot(s Snapshot) BrainOption {
	return func(b *Brain) { b.snapshot = s }
}

// WithRandomSource sets the sampler used for generation.
func WithRandomSource(s *Sampler) BrainOption {
	return func(b *Brain) { b.sampler = s }
}

// WithLogger sets the logger for the Brain and its generator.
func WithLogger(logger *slog.Logger) BrainOption {
	return func(b *Brain) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// Brain owns one Knowledge store and serializes every operation on it in a
// single goroutine, so generation never observes a partially applied
// training batch. All methods are concurrent-safe.
//
// A method whose context ends while it waits returns the context's error;
// an operation that the Brain has already started still runs to completion.
type Brain struct {
	requests chan func()
	quit     chan struct{}
	stopped  chan struct{}
	once     sync.Once
	saveMu   sync.Mutex

	tokenizer Tokenizer
	snapshot  Snapshot
	sampler   *Sampler
	logger    *slog.Logger

	// Owned by the run goroutine.
	config    Config
	knowledge *Knowledge
	generator *Generator
}

// NewBrain creates a Brain with an empty store and starts its goroutine.
// Call Close to stop it.
func NewBrain(config Config, opts ...BrainOption) (*Brain, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	k, err := NewKnowledge(config.Order)
	if err != nil {
		return nil, err
	}

	b := &Brain{
		requests:  make(chan func()),
		quit:      make(chan struct{}),
		stopped:   make(chan struct{}),
		tokenizer: NewDefaultTokenizer(),
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		config:    config,
		knowledge: k,
	}
	for _, opt := range opts {
		opt(b)
	}

	genOpts := config.generateOptions()
	if b.sampler != nil {
		genOpts = append(genOpts, WithSampler(b.sampler))
	}
	b.generator = NewGenerator(genOpts...)
	b.generator.SetLogger(b.logger)

	go b.run()
	return b, nil
}

func (b *Brain) run() {
	defer close(b.stopped)
	for {
		select {
		case fn := <-b.requests:
			fn()
		case <-b.quit:
			return
		}
	}
}

// Close stops the Brain's goroutine. It is safe to call more than once.
func (b *Brain) Close() {
	b.once.Do(func() { close(b.quit) })
	<-b.stopped
}

// do runs fn on the Brain's goroutine and waits for it to finish.
func (b *Brain) do(ctx context.Context, fn func()) error {
	_, err := call(ctx, b, func() struct{} {
		fn()
		return struct{}{}
	})
	return err
}

// call runs fn on the Brain's goroutine and returns its result. The result
// travels over a buffered channel, so a caller that stops waiting never
// shares memory with fn.
func call[T any](ctx context.Context, b *Brain, fn func() T) (T, error) {
	var zero T
	result := make(chan T, 1)
	request := func() { result <- fn() }

	select {
	case b.requests <- request:
	case <-b.quit:
		return zero, ErrClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}

	select {
	case v := <-result:
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Train records documents into the store. Documents without usable tokens
// are skipped.
func (b *Brain) Train(ctx context.Context, documents []string) (TrainResult, error) {
	type outcome struct {
		res   TrainResult
		stats Stats
	}
	out, err := call(ctx, b, func() outcome {
		res := Train(b.knowledge, b.tokenizer, documents)
		return outcome{res: res, stats: b.knowledge.Stats()}
	})
	if err != nil {
		return TrainResult{}, err
	}
	res, stats := out.res, out.stats

	b.logger.InfoContext(ctx, "Training completed",
		slog.Int("documents", res.Documents),
		slog.Int("skipped", res.Skipped),
		slog.Int("windows", res.Windows),
		slog.Int("contexts", stats.Contexts),
	)
	return res, nil
}

// Retrain clears the store and trains documents into it as one operation.
func (b *Brain) Retrain(ctx context.Context, documents []string) (TrainResult, error) {
	res, err := call(ctx, b, func() TrainResult {
		b.knowledge.Reset()
		return Train(b.knowledge, b.tokenizer, documents)
	})
	if err != nil {
		return TrainResult{}, err
	}

	b.logger.InfoContext(ctx, "Retraining completed",
		slog.Int("documents", res.Documents),
		slog.Int("skipped", res.Skipped),
		slog.Int("windows", res.Windows),
	)
	return res, nil
}

// Generate returns one utterance. An untrained store yields "".
func (b *Brain) Generate(ctx context.Context) (string, error) {
	return call(ctx, b, func() string {
		return b.generator.Generate(b.knowledge)
	})
}

// Reset clears the store back to its empty state.
func (b *Brain) Reset(ctx context.Context) error {
	err := b.do(ctx, func() {
		b.knowledge.Reset()
	})
	if err == nil {
		b.logger.InfoContext(ctx, "Knowledge reset")
	}
	return err
}

// Stats returns statistics of the current store.
func (b *Brain) Stats(ctx context.Context) (Stats, error) {
	return call(ctx, b, func() Stats {
		return b.knowledge.Stats()
	})
}

// Config returns the current configuration.
func (b *Brain) Config(ctx context.Context) (Config, error) {
	return call(ctx, b, func() Config {
		return b.config
	})
}

// Reconfigure applies a new configuration. A change of Order replaces the
// store with one trained from retrain, in the same operation, so generation
// never sees the store half rebuilt. The return value reports whether the
// store was replaced. retrain is ignored when the order is unchanged.
func (b *Brain) Reconfigure(ctx context.Context, config Config, retrain []string) (bool, error) {
	if err := config.Validate(); err != nil {
		return false, err
	}

	reset, err := call(ctx, b, func() bool {
		changed := config.Order != b.config.Order
		if changed {
			// NewKnowledge cannot fail here, the order was validated above.
			b.knowledge, _ = NewKnowledge(config.Order)
			Train(b.knowledge, b.tokenizer, retrain)
		}
		b.config = config
		b.generator.Apply(config.generateOptions()...)
		return changed
	})
	if err != nil {
		return false, err
	}

	b.logger.InfoContext(ctx, "Configuration applied",
		slog.Int("ngram_size", config.Order),
		slog.Int("max_chars", config.MaxChars),
		slog.Bool("ramble", config.Ramble),
		slog.Float64("spasm", config.Spasm),
		slog.Bool("knowledge_reset", reset),
	)
	return reset, nil
}

// snapshotCopy returns a deep copy of the store taken on the Brain's goroutine.
func (b *Brain) snapshotCopy(ctx context.Context) (*Knowledge, error) {
	return call(ctx, b, func() *Knowledge {
		return b.knowledge.Clone()
	})
}

// Save persists a copy of the store. The copy is taken on the Brain's
// goroutine and written outside it, so training and generation continue
// while the snapshot is written. Concurrent saves are applied in order.
func (b *Brain) Save(ctx context.Context) error {
	if b.snapshot == nil {
		return ErrNoSnapshot
	}
	b.saveMu.Lock()
	defer b.saveMu.Unlock()

	clone, err := b.snapshotCopy(ctx)
	if err != nil {
		return err
	}
	if err = b.snapshot.Save(ctx, clone); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}

	b.logger.InfoContext(ctx, "Knowledge saved", slog.Int("contexts", clone.Len()))
	return nil
}

// Load replaces the store with the persisted snapshot. It returns false,
// leaving the store untouched, if no snapshot exists. A snapshot built with a
// different ngram size is rejected with ErrOrderMismatch.
func (b *Brain) Load(ctx context.Context) (bool, error) {
	if b.snapshot == nil {
		return false, ErrNoSnapshot
	}
	b.saveMu.Lock()
	defer b.saveMu.Unlock()

	k, ok, err := b.snapshot.Load(ctx)
	if err != nil {
		return false, err
	}
	if !ok {
		b.logger.InfoContext(ctx, "No snapshot found, keeping current knowledge")
		return false, nil
	}

	mismatch, err := call(ctx, b, func() error {
		if k.order != b.config.Order {
			return fmt.Errorf("%w: snapshot has ngram size %d, configured %d", ErrOrderMismatch, k.order, b.config.Order)
		}
		b.knowledge = k
		return nil
	})
	if err != nil {
		return false, err
	}
	if mismatch != nil {
		return false, mismatch
	}

	b.logger.InfoContext(ctx, "Knowledge loaded", slog.Int("contexts", k.Len()))
	return true, nil
}

// Export writes a copy of the store as JSON.
func (b *Brain) Export(ctx context.Context, w io.Writer) error {
	clone, err := b.snapshotCopy(ctx)
	if err != nil {
		return err
	}
	return clone.ExportJSON(w)
}

// Import decodes a JSON store and adds its counts to the current store.
func (b *Brain) Import(ctx context.Context, r io.Reader) error {
	imported, err := ImportJSON(r)
	if err != nil {
		return err
	}

	mergeErr, err := call(ctx, b, func() error {
		return b.knowledge.Merge(imported)
	})
	if err != nil {
		return err
	}
	if mergeErr != nil {
		return mergeErr
	}

	b.logger.InfoContext(ctx, "Knowledge imported", slog.Int("contexts_merged", imported.Len()))
	return nil
}

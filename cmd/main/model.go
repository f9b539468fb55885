package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/CTAG07/muse/pkg/markov"
)

// errNotRetained is wrapped when documents were trained but could not be
// added to the corpus. The store has changed, so the caller must not train
// them again.
var errNotRetained = errors.New("documents trained but not retained")

// Model ties the Brain to the corpus it was trained on, so the store can be
// rebuilt whenever the ngram size changes, and records metrics for every
// operation.
type Model struct {
	brain  *markov.Brain
	corpus *markov.SQLStore
	logger *slog.Logger

	// mu orders training against rebuilds from the corpus, so every retained
	// document is either in the corpus read by a rebuild or trained after it.
	mu sync.Mutex
}

// NewModel creates a Brain configured from cfg, persisting through snapshot
// and retaining documents in corpus.
func NewModel(cfg *MarkovConfig, snapshot markov.Snapshot, corpus *markov.SQLStore, logger *slog.Logger) (*Model, error) {
	sampler := markov.NewSampler(nil)
	if cfg.Seed != 0 {
		sampler = markov.NewSeededSampler(cfg.Seed)
	}

	brain, err := markov.NewBrain(cfg.BrainConfig(),
		markov.WithTokenizer(markov.NewDefaultTokenizer(markov.WithSentenceSplit(cfg.SplitSentences))),
		markov.WithSnapshot(snapshot),
		markov.WithRandomSource(sampler),
		markov.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create brain: %w", err)
	}

	return &Model{brain: brain, corpus: corpus, logger: logger}, nil
}

// Close stops the Brain.
func (m *Model) Close() {
	m.brain.Close()
}

// Start loads the persisted snapshot. When there is none, or it was built
// with another ngram size, the store is rebuilt from the retained corpus.
func (m *Model) Start(ctx context.Context) error {
	ok, err := m.Load(ctx)
	switch {
	case errors.Is(err, markov.ErrOrderMismatch):
		m.logger.Warn("Snapshot ngram size differs from configuration, retraining from corpus", "error", err)
	case err != nil:
		return err
	case ok:
		return nil
	}

	res, err := m.Retrain(ctx)
	if err != nil {
		return err
	}
	if res.Documents > 0 {
		return m.Save(ctx)
	}
	return nil
}

// Train records documents into the Brain and retains them in the corpus.
func (m *Model) Train(ctx context.Context, documents []string) (markov.TrainResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	res, err := m.brain.Train(ctx, documents)
	if err != nil {
		return markov.TrainResult{}, err
	}
	recordTraining(res)
	m.refreshStats(ctx)

	// The documents are in the store now, so retain them even if the caller gives up.
	if err = m.corpus.AppendDocuments(context.WithoutCancel(ctx), documents); err != nil {
		return res, fmt.Errorf("%w: %w", errNotRetained, err)
	}
	return res, nil
}

// Retrain rebuilds the store from every retained document.
func (m *Model) Retrain(ctx context.Context) (markov.TrainResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	docs, err := m.corpus.Documents(ctx)
	if err != nil {
		return markov.TrainResult{}, fmt.Errorf("failed to read corpus: %w", err)
	}
	res, err := m.brain.Retrain(ctx, docs)
	if err != nil {
		return markov.TrainResult{}, err
	}
	m.refreshStats(ctx)
	return res, nil
}

// Generate returns one utterance.
func (m *Model) Generate(ctx context.Context) (string, error) {
	start := time.Now()
	text, err := m.brain.Generate(ctx)
	if err != nil {
		return "", err
	}
	generationDuration.Observe(time.Since(start).Seconds())
	utteranceLength.Observe(float64(len(text)))
	utterancesGenerated.Inc()
	return text, nil
}

// Reset clears the store. The retained corpus is kept.
func (m *Model) Reset(ctx context.Context) error {
	if err := m.brain.Reset(ctx); err != nil {
		return err
	}
	m.refreshStats(ctx)
	return nil
}

// Save persists the store.
func (m *Model) Save(ctx context.Context) error {
	err := m.brain.Save(ctx)
	recordSnapshot("save", err)
	return err
}

// Load replaces the store with the persisted snapshot, if one exists.
func (m *Model) Load(ctx context.Context) (bool, error) {
	ok, err := m.brain.Load(ctx)
	recordSnapshot("load", err)
	if ok {
		m.refreshStats(ctx)
	}
	return ok, err
}

// Stats returns statistics of the current store.
func (m *Model) Stats(ctx context.Context) (markov.Stats, error) {
	return m.brain.Stats(ctx)
}

// CorpusSize returns the number of retained documents.
func (m *Model) CorpusSize(ctx context.Context) (int, error) {
	return m.corpus.CountDocuments(ctx)
}

// Export writes the store as JSON.
func (m *Model) Export(ctx context.Context, w io.Writer) error {
	return m.brain.Export(ctx, w)
}

// Import merges a JSON store into the current one.
func (m *Model) Import(ctx context.Context, r io.Reader) error {
	if err := m.brain.Import(ctx, r); err != nil {
		return err
	}
	m.refreshStats(ctx)
	return nil
}

// Reconfigure applies new model settings. A change of ngram size rebuilds
// the store from the retained corpus in the same Brain operation. Once the
// corpus has been read the change is applied even if ctx ends, so the Brain
// and the caller never disagree about the ngram size in use.
func (m *Model) Reconfigure(ctx context.Context, cfg markov.Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, err := m.brain.Config(ctx)
	if err != nil {
		return err
	}
	var docs []string
	if current.Order != cfg.Order {
		if docs, err = m.corpus.Documents(ctx); err != nil {
			return fmt.Errorf("failed to read corpus: %w", err)
		}
	}

	reset, err := m.brain.Reconfigure(context.WithoutCancel(ctx), cfg, docs)
	if err != nil {
		return err
	}
	if reset {
		m.logger.Info("Ngram size changed, retrained from corpus",
			slog.Int("ngram_size", cfg.Order),
			slog.Int("documents", len(docs)),
		)
		m.refreshStats(ctx)
	}
	return nil
}

func (m *Model) refreshStats(ctx context.Context) {
	stats, err := m.brain.Stats(ctx)
	if err != nil {
		m.logger.Debug("Failed to refresh knowledge gauges", "error", err)
		return
	}
	recordStats(stats)
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"
)

// Jobs runs the periodic background work: ingesting documents dropped into
// the inbox directory, and saving snapshots.
type Jobs struct {
	model      *Model
	inboxDir   string
	trainEvery time.Duration
	saveEvery  time.Duration
	logger     *slog.Logger
}

// NewJobs creates the background jobs from the server configuration. A zero
// interval disables the corresponding job.
func NewJobs(model *Model, config *ServerConfig, logger *slog.Logger) *Jobs {
	return &Jobs{
		model:      model,
		inboxDir:   config.InboxDir,
		trainEvery: time.Duration(config.TrainIntervalSec) * time.Second,
		saveEvery:  time.Duration(config.SaveIntervalSec) * time.Second,
		logger:     logger,
	}
}

// Run blocks until ctx is done, running each enabled job on its interval.
// The inbox is also processed once at startup.
func (j *Jobs) Run(ctx context.Context) {
	var trainC, saveC <-chan time.Time
	if j.trainEvery > 0 && j.inboxDir != "" {
		if err := os.MkdirAll(j.inboxDir, 0755); err != nil {
			j.logger.Error("Failed to create inbox directory, inbox disabled", "dir", j.inboxDir, "error", err)
		} else {
			ticker := time.NewTicker(j.trainEvery)
			defer ticker.Stop()
			trainC = ticker.C
			j.runInbox(ctx)
		}
	}
	if j.saveEvery > 0 {
		ticker := time.NewTicker(j.saveEvery)
		defer ticker.Stop()
		saveC = ticker.C
	}

	for {
		select {
		case <-trainC:
			j.runInbox(ctx)
		case <-saveC:
			if err := j.model.Save(ctx); err != nil {
				j.logger.Error("Autosave failed", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (j *Jobs) runInbox(ctx context.Context) {
	n, err := j.ProcessInbox(ctx)
	if err != nil {
		j.logger.Error("Inbox processing failed", "dir", j.inboxDir, "error", err)
	}
	if n > 0 {
		j.logger.Info("Inbox processed", "documents", n)
	}
}

// ProcessInbox trains every *.txt file in the inbox, one document per
// non-empty line, renames each trained file to *.done and saves a snapshot
// if anything was trained. It returns the number of documents trained.
func (j *Jobs) ProcessInbox(ctx context.Context) (int, error) {
	files, err := filepath.Glob(filepath.Join(j.inboxDir, "*.txt"))
	if err != nil {
		return 0, err
	}
	slices.Sort(files)

	var total int
	for _, path := range files {
		if ctx.Err() != nil {
			break
		}
		docs, err := readInboxFile(path)
		if err != nil {
			j.logger.Warn("Skipping unreadable inbox file", "file", path, "error", err)
			continue
		}

		if len(docs) > 0 {
			res, err := j.model.Train(ctx, docs)
			switch {
			case errors.Is(err, errNotRetained):
				j.logger.Error("Inbox file trained but not retained in the corpus", "file", path, "error", err)
			case err != nil:
				return total, fmt.Errorf("failed to train %s: %w", path, err)
			}
			total += res.Documents
		}

		if err = os.Rename(path, path+".done"); err != nil {
			return total, fmt.Errorf("failed to mark %s as done: %w", path, err)
		}
		j.logger.Debug("Inbox file trained", "file", path, "documents", len(docs))
	}

	if total > 0 {
		if err := j.model.Save(ctx); err != nil {
			return total, fmt.Errorf("failed to save after inbox training: %w", err)
		}
	}
	return total, nil
}

func readInboxFile(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func(file *os.File) {
		_ = file.Close()
	}(file)
	return readLines(file)
}

package markov

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/natefinch/atomic"
)

// SnapshotFormat identifies the JSON snapshot layout.
const SnapshotFormat = "muse.knowledge/v1"

// ErrCorruptSnapshot is wrapped by every error caused by a snapshot that
// exists but cannot be decoded into a valid Knowledge store.
var ErrCorruptSnapshot = errors.New("markov: corrupt snapshot")

// Snapshot persists and restores a whole Knowledge store.
type Snapshot interface {
	// Save replaces the persisted store with k.
	Save(ctx context.Context, k *Knowledge) error
	// Load returns the persisted store. It returns false, and no error, when
	// nothing has been saved yet.
	Load(ctx context.Context) (*Knowledge, bool, error)
}

// ExportedKnowledge is the serializable representation of a Knowledge store,
// used for JSON snapshots, export and import.
type ExportedKnowledge struct {
	Format   string                    `json:"format"`
	Order    int                       `json:"order"`
	Contexts map[string]map[string]int `json:"contexts"` // context key -> next token -> count
}

// Export returns the serializable form of k.
func (k *Knowledge) Export() ExportedKnowledge {
	exported := ExportedKnowledge{
		Format:   SnapshotFormat,
		Order:    k.order,
		Contexts: make(map[string]map[string]int, len(k.contexts)),
	}
	for key, d := range k.contexts {
		exported.Contexts[key] = d.Counts()
	}
	return exported
}

// ExportJSON writes k to w as an indented JSON document.
func (k *Knowledge) ExportJSON(w io.Writer) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(k.Export())
}

// Import rebuilds a Knowledge store, validating every entry against the
// store's invariants.
func (e ExportedKnowledge) Import() (*Knowledge, error) {
	if e.Format != SnapshotFormat {
		return nil, fmt.Errorf("%w: unknown format %q", ErrCorruptSnapshot, e.Format)
	}
	k, err := NewKnowledge(e.Order)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptSnapshot, err)
	}
	for key, counts := range e.Contexts {
		prior := SplitKey(key)
		for next, count := range counts {
			if err := k.Add(prior, next, count); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrCorruptSnapshot, err)
			}
		}
	}
	return k, nil
}

// ImportJSON reads a store written by ExportJSON.
func ImportJSON(r io.Reader) (*Knowledge, error) {
	var exported ExportedKnowledge
	if err := json.NewDecoder(r).Decode(&exported); err != nil {
		return nil, fmt.Errorf("%w: failed to decode json: %w", ErrCorruptSnapshot, err)
	}
	return exported.Import()
}

// FileSnapshot stores a Knowledge store as a JSON file. Writes go to a
// temporary file that is renamed over the old snapshot, so a reader never
// observes a partial file.
type FileSnapshot struct {
	path string
}

// NewFileSnapshot returns a FileSnapshot for the file at path.
func NewFileSnapshot(path string) *FileSnapshot {
	return &FileSnapshot{path: path}
}

// Path returns the snapshot file location.
func (f *FileSnapshot) Path() string {
	return f.path
}

// Save writes k to the snapshot file.
func (f *FileSnapshot) Save(_ context.Context, k *Knowledge) error {
	var buf bytes.Buffer
	if err := k.ExportJSON(&buf); err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := atomic.WriteFile(f.path, &buf); err != nil {
		return fmt.Errorf("failed to write snapshot %s: %w", f.path, err)
	}
	return nil
}

// Load reads the snapshot file. A missing file is reported as absent.
func (f *FileSnapshot) Load(_ context.Context) (*Knowledge, bool, error) {
	file, err := os.Open(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to open snapshot %s: %w", f.path, err)
	}
	defer func(file *os.File) {
		_ = file.Close()
	}(file)

	k, err := ImportJSON(file)
	if err != nil {
		return nil, false, fmt.Errorf("snapshot %s: %w", f.path, err)
	}
	return k, true, nil
}

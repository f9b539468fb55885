package markov

import (
	"database/sql"
	"go/build"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	_ "modernc.org/sqlite"
)

// setupTestDB creates a new SQLite database with the schema in a temporary
// directory. It uses t.Cleanup to ensure resources are released.
func setupTestDB(t testing.TB) *sql.DB {
	dbFile := filepath.Join(t.TempDir(), "test.db")
	db, err := sql.Open("sqlite", dbFile+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := SetupSchema(db); err != nil {
		t.Fatalf("failed to set up schema: %v", err)
	}
	return db
}

// setupTestStore returns a SQLStore for the named model on a fresh database.
func setupTestStore(t testing.TB, model string) (*sql.DB, *SQLStore) {
	db := setupTestDB(t)
	store, err := NewSQLStore(db, model)
	if err != nil {
		t.Fatalf("NewSQLStore() error = %v", err)
	}
	t.Cleanup(store.Close)
	return db, store
}

// newTestKnowledge returns an empty store, failing the test on error.
func newTestKnowledge(t testing.TB, order int) *Knowledge {
	k, err := NewKnowledge(order)
	if err != nil {
		t.Fatalf("NewKnowledge(%d) error = %v", order, err)
	}
	return k
}

// mustAdd records an entry, failing the test on error.
func mustAdd(t testing.TB, k *Knowledge, prior []string, next string, count int) {
	t.Helper()
	if err := k.Add(prior, next, count); err != nil {
		t.Fatalf("Add(%q, %q, %d) error = %v", prior, next, count, err)
	}
}

// trainedKnowledge returns a store of the given order trained on a small corpus.
func trainedKnowledge(t testing.TB, order int) *Knowledge {
	k := newTestKnowledge(t, order)
	Train(k, NewDefaultTokenizer(), testCorpus)
	return k
}

var testCorpus = []string{
	"one fish two fish red fish blue fish",
	"the quick brown fox jumps over the lazy dog",
	"the lazy dog sleeps in the sun all day",
	"a fox and a dog are not friends",
	"red sky at night sailors delight",
	"blue fish swim in the deep blue sea",
	"hello",
	"the end",
}

var (
	benchmarkCorpus []string
	corpusOnce      sync.Once
)

// createBenchmarkCorpus reads Go source files to create a corpus for
// benchmarking, one document per line.
func createBenchmarkCorpus() []string {
	corpusOnce.Do(func() {
		goRoot := build.Default.GOROOT
		filesToRead := []string{
			filepath.Join(goRoot, "src/net/http/server.go"),
			filepath.Join(goRoot, "src/go/parser/parser.go"),
			filepath.Join(goRoot, "src/encoding/json/encode.go"),
		}

		for _, file := range filesToRead {
			content, err := os.ReadFile(file)
			if err != nil {
				benchmarkCorpus = testCorpus
				return
			}
			for _, line := range strings.Split(string(content), "\n") {
				if strings.TrimSpace(line) != "" {
					benchmarkCorpus = append(benchmarkCorpus, line)
				}
			}
		}
	})
	return benchmarkCorpus
}

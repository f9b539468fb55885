package markov

import (
	"context"
	"database/sql"
	"errors"
	"reflect"
	"testing"
)

func TestSetupSchema_Idempotent(t *testing.T) {
	db := setupTestDB(t)
	if err := SetupSchema(db); err != nil {
		t.Fatalf("second SetupSchema() error = %v", err)
	}

	var text string
	if err := db.QueryRow("SELECT token_text FROM markov_vocabulary WHERE token_id = ?", StopTokenID).Scan(&text); err != nil {
		t.Fatalf("failed to read stop token: %v", err)
	}
	if text != StopToken {
		t.Errorf("stop token = %q, want %q", text, StopToken)
	}
}

func TestSQLStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	_, store := setupTestStore(t, "test_model")

	for _, order := range []int{1, 2, 3} {
		k := trainedKnowledge(t, order)
		if err := store.Save(ctx, k); err != nil {
			t.Fatalf("order %d: Save() error = %v", order, err)
		}
		loaded, ok, err := store.Load(ctx)
		if err != nil || !ok {
			t.Fatalf("order %d: Load() = %v, %v", order, ok, err)
		}
		if !k.Equal(loaded) {
			t.Errorf("order %d: loaded store differs from the saved one", order)
		}
	}
}

func TestSQLStore_Absent(t *testing.T) {
	ctx := context.Background()
	_, store := setupTestStore(t, "test_model")

	if _, ok, err := store.Load(ctx); err != nil || ok {
		t.Errorf("Load() on a new database = %v, %v, want absent", ok, err)
	}
	if _, err := store.Info(ctx); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("Info() error = %v, want sql.ErrNoRows", err)
	}
	if n, err := store.CountDocuments(ctx); err != nil || n != 0 {
		t.Errorf("CountDocuments() = %d, %v, want 0", n, err)
	}

	// Retained documents alone do not make a snapshot.
	if err := store.AppendDocuments(ctx, []string{"a b c"}); err != nil {
		t.Fatalf("AppendDocuments() error = %v", err)
	}
	if _, ok, err := store.Load(ctx); err != nil || ok {
		t.Errorf("Load() with only documents = %v, %v, want absent", ok, err)
	}
}

func TestSQLStore_EmptyIsNotAbsent(t *testing.T) {
	ctx := context.Background()
	_, store := setupTestStore(t, "test_model")

	if err := store.Save(ctx, newTestKnowledge(t, 2)); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	k, ok, err := store.Load(ctx)
	if err != nil || !ok {
		t.Fatalf("Load() = %v, %v", ok, err)
	}
	if !k.Empty() || k.Order() != 2 {
		t.Errorf("Load() = order %d, empty %v, want an empty order 2 store", k.Order(), k.Empty())
	}
}

func TestSQLStore_ModelsAreIsolated(t *testing.T) {
	ctx := context.Background()
	db, first := setupTestStore(t, "first")
	second, err := NewSQLStore(db, "second")
	if err != nil {
		t.Fatalf("NewSQLStore() error = %v", err)
	}
	t.Cleanup(second.Close)

	a := trainedKnowledge(t, 1)
	b := newTestKnowledge(t, 2)
	Train(b, NewDefaultTokenizer(), []string{"completely different words here"})

	if err := first.Save(ctx, a); err != nil {
		t.Fatal(err)
	}
	if err := second.Save(ctx, b); err != nil {
		t.Fatal(err)
	}

	loadedA, _, err := first.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	loadedB, _, err := second.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !a.Equal(loadedA) || !b.Equal(loadedB) {
		t.Error("models sharing a database interfered with each other")
	}
}

func TestSQLStore_Corrupt(t *testing.T) {
	ctx := context.Background()

	t.Run("malformed prefix", func(t *testing.T) {
		db, store := setupTestStore(t, "test_model")
		if err := store.Save(ctx, trainedKnowledge(t, 2)); err != nil {
			t.Fatal(err)
		}
		if _, err := db.Exec("UPDATE markov_prefixes SET prefix_text = 'x' || prefix_id"); err != nil {
			t.Fatal(err)
		}
		if _, _, err := store.Load(ctx); !errors.Is(err, ErrCorruptSnapshot) {
			t.Errorf("Load() error = %v, want ErrCorruptSnapshot", err)
		}
	})

	t.Run("unknown token", func(t *testing.T) {
		db, store := setupTestStore(t, "test_model")
		if err := store.Save(ctx, trainedKnowledge(t, 2)); err != nil {
			t.Fatal(err)
		}
		if _, err := db.Exec("UPDATE markov_chains SET next_token_id = 999999 WHERE rowid = (SELECT MIN(rowid) FROM markov_chains)"); err != nil {
			t.Fatal(err)
		}
		if _, _, err := store.Load(ctx); !errors.Is(err, ErrCorruptSnapshot) {
			t.Errorf("Load() error = %v, want ErrCorruptSnapshot", err)
		}
	})

	t.Run("invalid order", func(t *testing.T) {
		db, store := setupTestStore(t, "test_model")
		if err := store.Save(ctx, trainedKnowledge(t, 2)); err != nil {
			t.Fatal(err)
		}
		if _, err := db.Exec("UPDATE markov_models SET model_order = 0"); err != nil {
			t.Fatal(err)
		}
		if _, _, err := store.Load(ctx); !errors.Is(err, ErrCorruptSnapshot) {
			t.Errorf("Load() error = %v, want ErrCorruptSnapshot", err)
		}
	})
}

func TestSQLStore_Documents(t *testing.T) {
	ctx := context.Background()
	_, store := setupTestStore(t, "test_model")

	if err := store.AppendDocuments(ctx, testCorpus[:3]); err != nil {
		t.Fatalf("AppendDocuments() error = %v", err)
	}
	if err := store.AppendDocuments(ctx, testCorpus[3:]); err != nil {
		t.Fatalf("AppendDocuments() error = %v", err)
	}
	if err := store.AppendDocuments(ctx, nil); err != nil {
		t.Fatalf("AppendDocuments(nil) error = %v", err)
	}

	docs, err := store.Documents(ctx)
	if err != nil {
		t.Fatalf("Documents() error = %v", err)
	}
	if !reflect.DeepEqual(docs, testCorpus) {
		t.Errorf("Documents() = %q, want the corpus in insertion order", docs)
	}

	info, err := store.Info(ctx)
	if err != nil {
		t.Fatalf("Info() error = %v", err)
	}
	if n, _ := store.CountDocuments(ctx); n != len(testCorpus) {
		t.Errorf("CountDocuments() = %d, want %d", n, len(testCorpus))
	}
	if info.Documents != len(testCorpus) || !info.SavedAt.IsZero() {
		t.Errorf("Info() = %+v, want %d documents and no snapshot", info, len(testCorpus))
	}

	if err := store.Save(ctx, trainedKnowledge(t, 2)); err != nil {
		t.Fatal(err)
	}
	info, err = store.Info(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if info.Order != 2 || info.SavedAt.IsZero() || info.Documents != len(testCorpus) {
		t.Errorf("Info() after save = %+v", info)
	}
}

func BenchmarkSQLStore_Save(b *testing.B) {
	ctx := context.Background()
	_, store := setupTestStore(b, "bench")
	k := newTestKnowledge(b, 2)
	Train(k, NewDefaultTokenizer(), createBenchmarkCorpus())
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := store.Save(ctx, k); err != nil {
			b.Fatal(err)
		}
	}
}

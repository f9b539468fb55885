package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/CTAG07/muse/pkg/markov"
)

type testEnv struct {
	dir        string
	db         *sql.DB
	cm         *ConfigManager
	model      *Model
	server     *Server
	actionChan chan string
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// setupTestServer creates a fully wired server in a temporary directory with
// a deterministic order 2 model.
func setupTestServer(t *testing.T) *testEnv {
	dir := t.TempDir()
	logger := discardLogger()

	cm, err := NewConfigManager(filepath.Join(dir, "config.json"))
	if err != nil {
		t.Fatalf("NewConfigManager() error = %v", err)
	}
	cm.SetLogger(logger)

	config := cm.Get()
	config.Server.DataDir = dir
	config.Server.SnapshotPath = filepath.Join(dir, "knowledge.json")
	config.Server.InboxDir = filepath.Join(dir, "inbox")
	config.Markov = &MarkovConfig{NgramSize: 2, MaxChars: 140, Ramble: false, Spasm: 0, Seed: 1}

	db, err := initDB(filepath.Join(dir, "muse.db"))
	if err != nil {
		t.Fatalf("initDB() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err = markov.SetupSchema(db); err != nil {
		t.Fatalf("SetupSchema() error = %v", err)
	}
	if err = setupAuthSchema(db); err != nil {
		t.Fatalf("setupAuthSchema() error = %v", err)
	}

	store, err := markov.NewSQLStore(db, "test")
	if err != nil {
		t.Fatalf("NewSQLStore() error = %v", err)
	}
	t.Cleanup(store.Close)

	model, err := NewModel(config.Markov, markov.NewFileSnapshot(config.Server.SnapshotPath), store, logger)
	if err != nil {
		t.Fatalf("NewModel() error = %v", err)
	}
	t.Cleanup(model.Close)

	cm.SetModel(model)
	if err = cm.Update(context.Background(), config); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	actionChan := make(chan string, 1)
	server, err := NewServer(cm, logger, model, NewAuthAPI(db, logger), actionChan)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}

	return &testEnv{dir: dir, db: db, cm: cm, model: model, server: server, actionChan: actionChan}
}

// request sends one request to the server and returns the recorded response.
func (e *testEnv) request(t *testing.T, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

// decode unmarshals a JSON response body into v.
func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
}

var jsonHeader = map[string]string{"Content-Type": "application/json"}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status = %d, want %d, body = %s", rec.Code, want, rec.Body.String())
	}
}

func TestHealthAndMetrics(t *testing.T) {
	env := setupTestServer(t)

	rec := env.request(t, http.MethodGet, "/api/health", "", nil)
	expectStatus(t, rec, http.StatusOK)

	rec = env.request(t, http.MethodGet, "/metrics", "", nil)
	expectStatus(t, rec, http.StatusOK)
	if !strings.Contains(rec.Body.String(), "muse_knowledge_contexts") {
		t.Error("metrics output does not include the knowledge gauges")
	}
}

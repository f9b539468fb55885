package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/CTAG07/muse/pkg/markov"
)

// maxTrainBody bounds the size of one training or import request.
const maxTrainBody = 32 << 20

// MarkovAPI holds the dependencies for the Markov model API handlers.
type MarkovAPI struct {
	model  *Model
	logger *slog.Logger
}

// NewMarkovAPI creates a new instance of the MarkovAPI.
func NewMarkovAPI(model *Model, logger *slog.Logger) *MarkovAPI {
	return &MarkovAPI{
		model:  model,
		logger: logger,
	}
}

// RegisterRoutes sets up the routing for all /api/markov endpoints.
func (m *MarkovAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/markov/train", m.handleTrain)
	mux.HandleFunc("/api/markov/generate", m.handleGenerate)
	mux.HandleFunc("/api/markov/reset", m.handleReset)
	mux.HandleFunc("/api/markov/save", m.handleSave)
	mux.HandleFunc("/api/markov/load", m.handleLoad)
	mux.HandleFunc("/api/markov/stats", m.handleStats)
	mux.HandleFunc("/api/markov/export", m.handleExport)
	mux.HandleFunc("/api/markov/import", m.handleImport)
}

// TrainRequest is the JSON body accepted by the train endpoint.
type TrainRequest struct {
	Documents []string `json:"documents"`
}

// TrainResponse reports what a training request recorded.
type TrainResponse struct {
	Documents int    `json:"documents"`
	Units     int    `json:"units"`
	Skipped   int    `json:"skipped"`
	Windows   int    `json:"windows"`
	Warning   string `json:"warning,omitempty"`
}

func newTrainResponse(res markov.TrainResult) TrainResponse {
	return TrainResponse{
		Documents: res.Documents,
		Units:     res.Units,
		Skipped:   res.Skipped,
		Windows:   res.Windows,
	}
}

// ModelStatsResponse is returned by the stats endpoint.
type ModelStatsResponse struct {
	markov.Stats
	CorpusDocuments int `json:"corpus_documents"`
}

// requireMethod answers 405 unless the request uses method.
func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.Header().Set("Allow", method)
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return false
	}
	return true
}

// requireScope answers 403 unless the caller holds scope.
func requireScope(w http.ResponseWriter, r *http.Request, scope string) bool {
	if !hasScope(r, scope) {
		respondWithError(w, http.StatusForbidden, fmt.Sprintf("Forbidden: requires '%s' scope", scope))
		return false
	}
	return true
}

// respondWithModelError maps a Model error to a status code and logs it.
func (m *MarkovAPI) respondWithModelError(w http.ResponseWriter, action string, err error) {
	switch {
	case errors.Is(err, markov.ErrCorruptSnapshot):
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("%s failed: %v", action, err))
	case errors.Is(err, markov.ErrOrderMismatch):
		respondWithError(w, http.StatusConflict, fmt.Sprintf("%s failed: %v", action, err))
	case errors.Is(err, markov.ErrClosed), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		respondWithError(w, http.StatusServiceUnavailable, fmt.Sprintf("%s failed: %v", action, err))
	default:
		m.logger.Error("Markov operation failed", "action", action, "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("%s failed: %v", action, err))
	}
}

// readDocuments decodes a training body: a JSON TrainRequest, or plain text
// with one document per non-empty line.
func readDocuments(r *http.Request) ([]string, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var req TrainRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, fmt.Errorf("invalid JSON request body: %w", err)
		}
		return req.Documents, nil
	}
	return readLines(r.Body)
}

// readLines returns every non-empty line of r.
func readLines(r io.Reader) ([]string, error) {
	var docs []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			docs = append(docs, line)
		}
	}
	return docs, scanner.Err()
}

func (m *MarkovAPI) handleTrain(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) || !requireScope(w, r, "markov:write") {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxTrainBody)
	docs, err := readDocuments(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(docs) == 0 {
		respondWithError(w, http.StatusBadRequest, "No documents provided")
		return
	}

	res, err := m.model.Train(r.Context(), docs)
	switch {
	case errors.Is(err, errNotRetained):
		// The store already holds the documents; a retry would count them twice.
		m.logger.Error("Trained documents were not retained", "error", err)
		resp := newTrainResponse(res)
		resp.Warning = "documents were trained but not retained, they will be lost on retrain"
		respondWithJSON(w, http.StatusOK, resp)
		return
	case err != nil:
		m.respondWithModelError(w, "Training", err)
		return
	}
	respondWithJSON(w, http.StatusOK, newTrainResponse(res))
}

func (m *MarkovAPI) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) || !requireScope(w, r, "markov:read") {
		return
	}

	text, err := m.model.Generate(r.Context())
	if err != nil {
		m.respondWithModelError(w, "Generation", err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"text": text})
}

func (m *MarkovAPI) handleReset(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) || !requireScope(w, r, "markov:write") {
		return
	}

	if r.URL.Query().Get("retrain") == "true" {
		res, err := m.model.Retrain(r.Context())
		if err != nil {
			m.respondWithModelError(w, "Retraining", err)
			return
		}
		m.logger.Info("Knowledge rebuilt from corpus via API", "documents", res.Documents)
		respondWithJSON(w, http.StatusOK, newTrainResponse(res))
		return
	}

	if err := m.model.Reset(r.Context()); err != nil {
		m.respondWithModelError(w, "Reset", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (m *MarkovAPI) handleSave(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) || !requireScope(w, r, "markov:write") {
		return
	}

	if err := m.model.Save(r.Context()); err != nil {
		m.respondWithModelError(w, "Save", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (m *MarkovAPI) handleLoad(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) || !requireScope(w, r, "markov:write") {
		return
	}

	ok, err := m.model.Load(r.Context())
	if err != nil {
		m.respondWithModelError(w, "Load", err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]bool{"loaded": ok})
}

func (m *MarkovAPI) handleStats(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) || !requireScope(w, r, "markov:read") {
		return
	}

	stats, err := m.model.Stats(r.Context())
	if err != nil {
		m.respondWithModelError(w, "Stats", err)
		return
	}
	docs, err := m.model.CorpusSize(r.Context())
	if err != nil {
		m.respondWithModelError(w, "Stats", err)
		return
	}
	respondWithJSON(w, http.StatusOK, ModelStatsResponse{Stats: stats, CorpusDocuments: docs})
}

func (m *MarkovAPI) handleExport(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) || !requireScope(w, r, "markov:read") {
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", "attachment; filename=\"knowledge.json\"")
	if err := m.model.Export(r.Context(), w); err != nil {
		// Headers are already sent.
		m.logger.Error("Failed to export knowledge", "error", err)
	}
}

func (m *MarkovAPI) handleImport(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) || !requireScope(w, r, "markov:write") {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxTrainBody)
	if err := m.model.Import(r.Context(), r.Body); err != nil {
		m.respondWithModelError(w, "Import", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

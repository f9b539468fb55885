package markov

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// SetupSchema initializes the necessary tables and the reserved stop token in
// the provided database. It is idempotent and safe to call on an
// already-initialized database.
func SetupSchema(db *sql.DB) error {

	const (
		schemaVocab = `
CREATE TABLE IF NOT EXISTS markov_vocabulary (
    token_id INTEGER PRIMARY KEY,
    token_text TEXT NOT NULL UNIQUE
);
`
		schemaPrefixes = `
CREATE TABLE IF NOT EXISTS markov_prefixes (
	prefix_id INTEGER PRIMARY KEY,
	prefix_text TEXT NOT NULL UNIQUE
);
`
		schemaModels = `
CREATE TABLE IF NOT EXISTS markov_models (
    model_id INTEGER PRIMARY KEY,
    model_name TEXT NOT NULL UNIQUE,
    model_order INTEGER NOT NULL,
    saved_at INTEGER
);
`
		schemaChains = `
CREATE TABLE IF NOT EXISTS markov_chains (
    model_id INTEGER NOT NULL,
    prefix_id INTEGER NOT NULL,
    next_token_id INTEGER NOT NULL,
    frequency  INTEGER NOT NULL DEFAULT 1,
    PRIMARY KEY (model_id, prefix_id, next_token_id)
);
`
		schemaStarters = `
CREATE TABLE IF NOT EXISTS markov_starters (
    model_id INTEGER NOT NULL,
    prefix_id INTEGER NOT NULL,
    frequency INTEGER NOT NULL DEFAULT 1,
    PRIMARY KEY (model_id, prefix_id)
);
`
		schemaDocuments = `
CREATE TABLE IF NOT EXISTS markov_documents (
    document_id INTEGER PRIMARY KEY,
    model_id INTEGER NOT NULL,
    body TEXT NOT NULL,
    added_at INTEGER NOT NULL
);
`
	)

	stopToken := fmt.Sprintf("INSERT OR IGNORE INTO markov_vocabulary (token_id, token_text) VALUES (%d, '%s');", StopTokenID, StopToken)

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}

	// If the transaction succeeds, tx.Commit() will be called first, and the rollback will do nothing. If it fails, this will clean up.
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	for _, schema := range []string{schemaVocab, schemaPrefixes, schemaModels, schemaChains, schemaStarters, schemaDocuments} {
		if _, err = tx.Exec(schema); err != nil {
			return fmt.Errorf("could not create schema: %w", err)
		}
	}

	if _, err = tx.Exec(stopToken); err != nil {
		return fmt.Errorf("could not insert stop token: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("could not commit transaction: %w", err)
	}

	return nil
}

// ModelInfo holds the metadata stored for one named model.
type ModelInfo struct {
	Id        int
	Name      string
	Order     int       // ngram size of the last saved snapshot, 0 if never saved
	Documents int       // retained training documents
	SavedAt   time.Time // zero if never saved
}

// SQLStore persists Knowledge snapshots and the retained training corpus for
// one named model in a SQLite database. Tokens are interned in a vocabulary
// table shared by all models, and contexts are stored as space-joined token
// IDs. It implements Snapshot.
type SQLStore struct {
	db                    *sql.DB
	model                 string
	stmtEnsureModel       *sql.Stmt
	stmtGetModel          *sql.Stmt
	stmtInsertVocab       *sql.Stmt
	stmtGetOrInsertPrefix *sql.Stmt
	stmtInsertDocument    *sql.Stmt
	stmtCountDocuments    *sql.Stmt
	logger                *slog.Logger
}

// NewSQLStore creates a store for the model with the given name. The schema
// must already exist; see SetupSchema. It pre-compiles all necessary SQL
// statements, returning an error if any preparation fails.
func NewSQLStore(db *sql.DB, model string) (*SQLStore, error) {
	stmtEnsureModel, err := db.Prepare(`INSERT INTO markov_models (model_name, model_order) VALUES (?, 0) ON CONFLICT(model_name) DO UPDATE SET model_name=excluded.model_name RETURNING model_id;`)
	if err != nil {
		return nil, err
	}

	stmtGetModel, err := db.Prepare(`SELECT model_id, model_order, saved_at FROM markov_models WHERE model_name = ?;`)
	if err != nil {
		return nil, err
	}

	stmtInsertVocab, err := db.Prepare(`INSERT INTO markov_vocabulary (token_text) VALUES (?) ON CONFLICT(token_text) DO UPDATE SET token_text=excluded.token_text RETURNING token_id;`)
	if err != nil {
		return nil, err
	}

	stmtGetOrInsertPrefix, err := db.Prepare(`INSERT INTO markov_prefixes (prefix_text) VALUES (?) ON CONFLICT(prefix_text) DO UPDATE SET prefix_text=excluded.prefix_text RETURNING prefix_id;`)
	if err != nil {
		return nil, err
	}

	stmtInsertDocument, err := db.Prepare(`INSERT INTO markov_documents (model_id, body, added_at) VALUES (?, ?, ?);`)
	if err != nil {
		return nil, err
	}

	stmtCountDocuments, err := db.Prepare(`SELECT COUNT(*) FROM markov_documents WHERE model_id = ?;`)
	if err != nil {
		return nil, err
	}

	return &SQLStore{
		db:                    db,
		model:                 model,
		stmtEnsureModel:       stmtEnsureModel,
		stmtGetModel:          stmtGetModel,
		stmtInsertVocab:       stmtInsertVocab,
		stmtGetOrInsertPrefix: stmtGetOrInsertPrefix,
		stmtInsertDocument:    stmtInsertDocument,
		stmtCountDocuments:    stmtCountDocuments,
		logger:                slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, nil
}

// Close releases all prepared SQL statements held by the store.
func (s *SQLStore) Close() {
	_ = s.stmtEnsureModel.Close()
	_ = s.stmtGetModel.Close()
	_ = s.stmtInsertVocab.Close()
	_ = s.stmtGetOrInsertPrefix.Close()
	_ = s.stmtInsertDocument.Close()
	_ = s.stmtCountDocuments.Close()
}

// SetLogger sets the logger for the store. By default, all logs are discarded.
func (s *SQLStore) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// Model returns the name of the model the store reads and writes.
func (s *SQLStore) Model() string {
	return s.model
}

// Info returns the stored metadata of the model. It returns sql.ErrNoRows if
// the model has neither a snapshot nor retained documents.
func (s *SQLStore) Info(ctx context.Context) (ModelInfo, error) {
	info := ModelInfo{Name: s.model}
	var savedAt sql.NullInt64
	if err := s.stmtGetModel.QueryRowContext(ctx, s.model).Scan(&info.Id, &info.Order, &savedAt); err != nil {
		return ModelInfo{}, err
	}
	if savedAt.Valid {
		info.SavedAt = time.Unix(savedAt.Int64, 0)
	}
	if err := s.stmtCountDocuments.QueryRowContext(ctx, info.Id).Scan(&info.Documents); err != nil {
		return ModelInfo{}, err
	}
	return info, nil
}

// Save replaces the model's stored chains and starters with k. The entire
// operation is performed within a single transaction.
func (s *SQLStore) Save(ctx context.Context, k *Knowledge) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("could not begin transaction for save: %w", err)
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	var modelID int
	err = tx.QueryRowContext(ctx,
		`INSERT INTO markov_models (model_name, model_order, saved_at) VALUES (?, ?, ?)
		ON CONFLICT(model_name) DO UPDATE SET model_order=excluded.model_order, saved_at=excluded.saved_at RETURNING model_id;`,
		s.model, k.order, time.Now().Unix()).Scan(&modelID)
	if err != nil {
		return fmt.Errorf("failed to upsert model '%s': %w", s.model, err)
	}

	if _, err = tx.ExecContext(ctx, "DELETE FROM markov_chains WHERE model_id = ?", modelID); err != nil {
		return fmt.Errorf("failed to clear chains for model %d: %w", modelID, err)
	}
	if _, err = tx.ExecContext(ctx, "DELETE FROM markov_starters WHERE model_id = ?", modelID); err != nil {
		return fmt.Errorf("failed to clear starters for model %d: %w", modelID, err)
	}

	stmtInsertVocab := tx.StmtContext(ctx, s.stmtInsertVocab)
	stmtGetOrInsertPrefix := tx.StmtContext(ctx, s.stmtGetOrInsertPrefix)
	stmtInsertChain, err := tx.PrepareContext(ctx, `INSERT INTO markov_chains (model_id, prefix_id, next_token_id, frequency) VALUES (?, ?, ?, ?);`)
	if err != nil {
		return fmt.Errorf("failed to prepare chain insert statement: %w", err)
	}
	defer func(stmt *sql.Stmt) {
		_ = stmt.Close()
	}(stmtInsertChain)
	stmtInsertStarter, err := tx.PrepareContext(ctx, `INSERT INTO markov_starters (model_id, prefix_id, frequency) VALUES (?, ?, ?);`)
	if err != nil {
		return fmt.Errorf("failed to prepare starter insert statement: %w", err)
	}
	defer func(stmt *sql.Stmt) {
		_ = stmt.Close()
	}(stmtInsertStarter)

	vocabCache := map[string]int{StopToken: StopTokenID}
	tokenID := func(text string) (int, error) {
		if id, ok := vocabCache[text]; ok {
			return id, nil
		}
		var id int
		if err := stmtInsertVocab.QueryRowContext(ctx, text).Scan(&id); err != nil {
			return 0, fmt.Errorf("sql insert vocabulary error for token '%s': %w", text, err)
		}
		vocabCache[text] = id
		return id, nil
	}

	prefixCache := make(map[string]int)
	var keyBuf []byte
	prefixID := func(tokens []string) (int, error) {
		keyBuf = keyBuf[:0]
		for j, token := range tokens {
			id, err := tokenID(token)
			if err != nil {
				return 0, err
			}
			if j > 0 {
				keyBuf = append(keyBuf, ' ')
			}
			keyBuf = strconv.AppendInt(keyBuf, int64(id), 10)
		}
		prefixKey := string(keyBuf)
		if id, ok := prefixCache[prefixKey]; ok {
			return id, nil
		}
		var id int
		if err := stmtGetOrInsertPrefix.QueryRowContext(ctx, prefixKey).Scan(&id); err != nil {
			return 0, fmt.Errorf("failed to get or insert prefix '%s': %w", prefixKey, err)
		}
		prefixCache[prefixKey] = id
		return id, nil
	}

	var chains, starters int
	for key, d := range k.contexts {
		if key == "" {
			for _, start := range d.Keys() {
				pid, err := prefixID(SplitKey(start))
				if err != nil {
					return err
				}
				if _, err = stmtInsertStarter.ExecContext(ctx, modelID, pid, d.counts[start]); err != nil {
					return fmt.Errorf("failed to insert starter '%s': %w", start, err)
				}
				starters++
			}
			continue
		}

		pid, err := prefixID(SplitKey(key))
		if err != nil {
			return err
		}
		for _, next := range d.Keys() {
			nid, err := tokenID(next)
			if err != nil {
				return err
			}
			if _, err = stmtInsertChain.ExecContext(ctx, modelID, pid, nid, d.counts[next]); err != nil {
				return fmt.Errorf("failed to insert chain link (%d -> %d): %w", pid, nid, err)
			}
			chains++
		}
	}

	s.logger.InfoContext(ctx, "Snapshot saved",
		slog.String("model_name", s.model),
		slog.Int("model_id", modelID),
		slog.Int("order", k.order),
		slog.Int("chains_saved", chains),
		slog.Int("starters_saved", starters),
	)

	return tx.Commit()
}

// Load rebuilds the model's Knowledge store from the database. It returns
// false if the model has never been saved. Rows that reference unknown
// tokens or break the store's invariants produce ErrCorruptSnapshot.
func (s *SQLStore) Load(ctx context.Context) (*Knowledge, bool, error) {
	var modelID, order int
	var savedAt sql.NullInt64
	err := s.stmtGetModel.QueryRowContext(ctx, s.model).Scan(&modelID, &order, &savedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to query model '%s': %w", s.model, err)
	}
	if !savedAt.Valid {
		// Only documents have been retained so far.
		return nil, false, nil
	}

	k, err := NewKnowledge(order)
	if err != nil {
		return nil, false, fmt.Errorf("%w: model '%s': %w", ErrCorruptSnapshot, s.model, err)
	}

	vocab, err := s.loadVocabulary(ctx)
	if err != nil {
		return nil, false, err
	}
	decode := func(prefixText string) ([]string, error) {
		ids := strings.Split(prefixText, " ")
		tokens := make([]string, 0, len(ids))
		for _, idStr := range ids {
			id, err := strconv.Atoi(idStr)
			if err != nil {
				return nil, fmt.Errorf("%w: malformed prefix '%s'", ErrCorruptSnapshot, prefixText)
			}
			text, ok := vocab[id]
			if !ok {
				return nil, fmt.Errorf("%w: token id %d in prefix '%s' not found in vocabulary", ErrCorruptSnapshot, id, prefixText)
			}
			tokens = append(tokens, text)
		}
		return tokens, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT p.prefix_text, c.next_token_id, c.frequency FROM markov_chains c
		JOIN markov_prefixes p ON p.prefix_id = c.prefix_id
		WHERE c.model_id = ?`, modelID)
	if err != nil {
		return nil, false, fmt.Errorf("could not query chains for load: %w", err)
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	var chains int
	for rows.Next() {
		var prefixText string
		var nextID, freq int
		if err = rows.Scan(&prefixText, &nextID, &freq); err != nil {
			return nil, false, err
		}
		prior, err := decode(prefixText)
		if err != nil {
			return nil, false, err
		}
		next, ok := vocab[nextID]
		if !ok {
			return nil, false, fmt.Errorf("%w: next token id %d not found in vocabulary", ErrCorruptSnapshot, nextID)
		}
		if err = k.Add(prior, next, freq); err != nil {
			return nil, false, fmt.Errorf("%w: %w", ErrCorruptSnapshot, err)
		}
		chains++
	}
	if err = rows.Err(); err != nil {
		return nil, false, err
	}

	sRows, err := s.db.QueryContext(ctx, `
		SELECT p.prefix_text, st.frequency FROM markov_starters st
		JOIN markov_prefixes p ON p.prefix_id = st.prefix_id
		WHERE st.model_id = ?`, modelID)
	if err != nil {
		return nil, false, fmt.Errorf("could not query starters for load: %w", err)
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(sRows)

	for sRows.Next() {
		var prefixText string
		var freq int
		if err = sRows.Scan(&prefixText, &freq); err != nil {
			return nil, false, err
		}
		start, err := decode(prefixText)
		if err != nil {
			return nil, false, err
		}
		if err = k.Add(nil, ContextKey(start), freq); err != nil {
			return nil, false, fmt.Errorf("%w: %w", ErrCorruptSnapshot, err)
		}
	}
	if err = sRows.Err(); err != nil {
		return nil, false, err
	}

	s.logger.InfoContext(ctx, "Snapshot loaded",
		slog.String("model_name", s.model),
		slog.Int("model_id", modelID),
		slog.Int("order", order),
		slog.Int("chains_loaded", chains),
		slog.Int("starters_loaded", k.Starts().Len()),
	)

	return k, true, nil
}

func (s *SQLStore) loadVocabulary(ctx context.Context) (map[int]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT token_id, token_text FROM markov_vocabulary`)
	if err != nil {
		return nil, fmt.Errorf("could not query vocabulary: %w", err)
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	vocab := make(map[int]string)
	for rows.Next() {
		var id int
		var text string
		if err = rows.Scan(&id, &text); err != nil {
			return nil, err
		}
		vocab[id] = text
	}
	return vocab, rows.Err()
}

// AppendDocuments retains documents so the model can be retrained from
// scratch later, for example after a change of ngram size.
func (s *SQLStore) AppendDocuments(ctx context.Context, documents []string) error {
	if len(documents) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("could not begin transaction for documents: %w", err)
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	var modelID int
	if err = tx.StmtContext(ctx, s.stmtEnsureModel).QueryRowContext(ctx, s.model).Scan(&modelID); err != nil {
		return fmt.Errorf("failed to ensure model '%s': %w", s.model, err)
	}

	stmtInsertDocument := tx.StmtContext(ctx, s.stmtInsertDocument)
	now := time.Now().Unix()
	for _, doc := range documents {
		if _, err = stmtInsertDocument.ExecContext(ctx, modelID, doc, now); err != nil {
			return fmt.Errorf("failed to insert document: %w", err)
		}
	}

	s.logger.DebugContext(ctx, "Documents retained",
		slog.String("model_name", s.model),
		slog.Int("documents", len(documents)),
	)

	return tx.Commit()
}

// Documents returns every retained document in the order it was added.
func (s *SQLStore) Documents(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.body FROM markov_documents d
		JOIN markov_models m ON m.model_id = d.model_id
		WHERE m.model_name = ? ORDER BY d.document_id`, s.model)
	if err != nil {
		return nil, fmt.Errorf("could not query documents: %w", err)
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	var docs []string
	for rows.Next() {
		var body string
		if err = rows.Scan(&body); err != nil {
			return nil, err
		}
		docs = append(docs, body)
	}
	return docs, rows.Err()
}

// CountDocuments returns the number of retained documents, 0 for an unknown model.
func (s *SQLStore) CountDocuments(ctx context.Context) (int, error) {
	info, err := s.Info(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return info.Documents, nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/CTAG07/muse/pkg/markov"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	baseLogger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	actionChan := make(chan string, 1)

	go func() {
		osSignalChan := make(chan os.Signal, 1)
		signal.Notify(osSignalChan, syscall.SIGINT, syscall.SIGTERM)
		<-osSignalChan // Wait for a signal
		baseLogger.Info("OS signal received, initiating shutdown.")
		actionChan <- actionShutdown
	}()

	for {
		action, err := run(actionChan)
		if err != nil {
			baseLogger.Error("An error occurred during server run, shutting down.", "error", err)
			os.Exit(1)
		}

		if action != actionRestart {
			break
		}
		baseLogger.Info("--- Server Restarting ---")
	}

	baseLogger.Info("Muse has shut down.")
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// openSnapshot returns the snapshot backend selected in the config.
func openSnapshot(config *ServerConfig, store *markov.SQLStore) markov.Snapshot {
	if config.SnapshotBackend == snapshotBackendSQLite {
		return store
	}
	return markov.NewFileSnapshot(config.SnapshotPath)
}

// run hosts the server and returns whenever it is shut down or restarted.
func run(actionChan chan string) (string, error) {

	cm, err := NewConfigManager("./config.json")
	if err != nil {
		return "", fmt.Errorf("failed to load configuration: %w", err)
	}
	config := cm.Get()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(config.Server.LogLevel)}))
	cm.SetLogger(logger)
	logger.Info("Starting server cycle...")

	if err = os.MkdirAll(config.Server.DataDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}

	markovDB, err := initDB(config.Server.MarkovDatabasePath)
	if err != nil {
		return "", fmt.Errorf("failed to initialize markov database: %w", err)
	}
	defer func() {
		logger.Info("Closing markov database connection.")
		if err := markovDB.Close(); err != nil {
			logger.Error("Failed to close markov database", "error", err)
		}
	}()

	authDB, err := initDB(config.Server.AuthDatabasePath)
	if err != nil {
		return "", fmt.Errorf("failed to initialize auth database: %w", err)
	}
	defer func() {
		logger.Info("Closing auth database connection.")
		if err := authDB.Close(); err != nil {
			logger.Error("Failed to close auth database", "error", err)
		}
	}()

	if err = markov.SetupSchema(markovDB); err != nil {
		return "", fmt.Errorf("failed to setup markov schema: %w", err)
	}
	if err = setupAuthSchema(authDB); err != nil {
		return "", fmt.Errorf("failed to setup auth schema: %w", err)
	}

	store, err := markov.NewSQLStore(markovDB, config.Server.ModelName)
	if err != nil {
		return "", fmt.Errorf("failed to prepare markov store: %w", err)
	}
	defer store.Close()
	store.SetLogger(logger)

	model, err := NewModel(config.Markov, openSnapshot(config.Server, store), store, logger)
	if err != nil {
		return "", err
	}
	defer model.Close()
	cm.SetModel(model)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err = model.Start(ctx); err != nil {
		return "", fmt.Errorf("failed to restore knowledge: %w", err)
	}

	server, err := NewServer(cm, logger, model, NewAuthAPI(authDB, logger), actionChan)
	if err != nil {
		return "", fmt.Errorf("failed to create server object: %w", err)
	}

	apiHttpServer := &http.Server{
		Addr:              config.Server.ApiAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting api server", "address", apiHttpServer.Addr)
		if err := apiHttpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Api server failed", "error", err)
		}
	}()

	jobsDone := make(chan struct{})
	go func() {
		defer close(jobsDone)
		NewJobs(model, config.Server, logger).Run(ctx)
	}()

	action := <-actionChan // Block here until API or OS signal sends an action.

	logger.Info("Stopping server for " + action + "...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err = apiHttpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Api server shutdown failed", "error", err)
	}
	cancel()
	<-jobsDone
	logger.Info("HTTP server and jobs stopped.")

	if err = model.Save(shutdownCtx); err != nil {
		logger.Error("Failed to save knowledge on shutdown", "error", err)
	}

	return action, nil
}

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"

	"github.com/CTAG07/muse/pkg/markov"
	"github.com/natefinch/atomic"
)

const (
	snapshotBackendFile   = "file"
	snapshotBackendSQLite = "sqlite"
)

// ServerConfig holds the configuration for the HTTP server, storage and background jobs.
type ServerConfig struct {
	ApiAddr            string   `json:"api_addr"`
	LogLevel           string   `json:"log_level"`
	TrustedProxies     []string `json:"trusted_proxies"`
	DataDir            string   `json:"data_dir"`
	MarkovDatabasePath string   `json:"markov_database_path"`
	AuthDatabasePath   string   `json:"auth_database_path"`
	ModelName          string   `json:"model_name"`
	SnapshotBackend    string   `json:"snapshot_backend"` // "file" or "sqlite"
	SnapshotPath       string   `json:"snapshot_path"`    // used by the file backend
	InboxDir           string   `json:"inbox_dir"`
	TrainIntervalSec   int      `json:"train_interval_sec"` // 0 disables the inbox
	SaveIntervalSec    int      `json:"save_interval_sec"`  // 0 disables autosave
}

// MarkovConfig holds the model and generation settings. SplitSentences and
// Seed are read when the model is created and only change on restart.
type MarkovConfig struct {
	NgramSize      int     `json:"ngram_size"`
	MaxChars       int     `json:"max_chars"`
	Ramble         bool    `json:"ramble"`
	Spasm          float64 `json:"spasm"`
	SplitSentences bool    `json:"split_sentences"` // restart required
	Seed           uint64  `json:"seed"`            // 0 seeds randomly, restart required
}

// Config is the top-level configuration struct that aggregates all other configs.
type Config struct {
	Server *ServerConfig `json:"server_config"`
	Markov *MarkovConfig `json:"markov_config"`
}

// DefaultServerConfig creates a server configuration with default values.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		ApiAddr:            ":7280",
		LogLevel:           "info",
		TrustedProxies:     []string{},
		DataDir:            "./data",
		MarkovDatabasePath: "./data/muse_markov.db",
		AuthDatabasePath:   "./data/muse_auth.db",
		ModelName:          "default",
		SnapshotBackend:    snapshotBackendFile,
		SnapshotPath:       "./data/knowledge.json",
		InboxDir:           "./data/inbox",
		TrainIntervalSec:   3600,
		SaveIntervalSec:    0,
	}
}

// DefaultMarkovConfig creates a model configuration with default values.
// The service splits documents into sentences before training by default.
func DefaultMarkovConfig() *MarkovConfig {
	d := markov.DefaultConfig()
	return &MarkovConfig{
		NgramSize:      d.Order,
		MaxChars:       d.MaxChars,
		Ramble:         d.Ramble,
		Spasm:          d.Spasm,
		SplitSentences: true,
	}
}

// BrainConfig converts the settings a Brain can apply at runtime.
func (m *MarkovConfig) BrainConfig() markov.Config {
	return markov.Config{
		Order:    m.NgramSize,
		MaxChars: m.MaxChars,
		Ramble:   m.Ramble,
		Spasm:    m.Spasm,
	}
}

// Validate checks the whole configuration before it is applied.
func (c *Config) Validate() error {
	if c.Server == nil || c.Markov == nil {
		return fmt.Errorf("both server_config and markov_config are required")
	}
	switch c.Server.SnapshotBackend {
	case snapshotBackendFile, snapshotBackendSQLite:
	default:
		return fmt.Errorf("unknown snapshot_backend %q", c.Server.SnapshotBackend)
	}
	if c.Server.TrainIntervalSec < 0 || c.Server.SaveIntervalSec < 0 {
		return fmt.Errorf("intervals must not be negative")
	}
	return c.Markov.BrainConfig().Validate()
}

// LoadConfig reads the configuration from a JSON file at the given path.
// If the file doesn't exist, it creates one with default values.
func LoadConfig(path string) (*Config, error) {
	config := &Config{
		Server: DefaultServerConfig(),
		Markov: DefaultMarkovConfig(),
	}

	file, err := os.ReadFile(path)
	if err != nil {
		// If the file doesn't exist, create it with the default config.
		if os.IsNotExist(err) {
			var data []byte
			data, err = json.MarshalIndent(config, "", "  ")
			if err != nil {
				return nil, fmt.Errorf("failed to marshal default config: %w", err)
			}
			if err = atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
				// The server can still run with defaults.
				fmt.Printf("warning: failed to write default config file: %v\n", err)
			}
			return config, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err = json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err = config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file: %w", err)
	}

	return config, nil
}

// ConfigManager handles thread-safe access to configuration and derived state (trusted proxies).
type ConfigManager struct {
	config       *Config
	mu           sync.RWMutex
	trustedCIDRs []*net.IPNet
	trustedIPs   []net.IP
	configPath   string
	logger       *slog.Logger
	model        *Model
}

// NewConfigManager loads the config and initializes the manager.
func NewConfigManager(path string) (*ConfigManager, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}

	cm := &ConfigManager{
		config:     cfg,
		configPath: path,
		// Log to stdout before the application-specific logger is set.
		logger: slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{})),
	}
	cm.refreshCache()

	return cm, nil
}

// SetModel registers the model that receives markov_config updates.
func (cm *ConfigManager) SetModel(m *Model) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.model = m
}

// SetLogger sets the logger.
func (cm *ConfigManager) SetLogger(logger *slog.Logger) {
	cm.logger = logger
}

// Get returns a copy of the current configuration.
func (cm *ConfigManager) Get() Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	server := *cm.config.Server
	server.TrustedProxies = append([]string(nil), cm.config.Server.TrustedProxies...)
	markovConfig := *cm.config.Markov
	return Config{Server: &server, Markov: &markovConfig}
}

// Update validates the configuration, applies the model settings, saves it to
// disk and refreshes derived state. ngram_size, max_chars, ramble and spasm
// apply at once; split_sentences, seed and every server setting other than
// trusted proxies take effect after a restart. If the model rejects the
// update, neither the model nor the stored configuration changes.
func (cm *ConfigManager) Update(ctx context.Context, newConfig Config) error {
	if err := newConfig.Validate(); err != nil {
		return err
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.model != nil {
		if err := cm.model.Reconfigure(ctx, newConfig.Markov.BrainConfig()); err != nil {
			return fmt.Errorf("markov configuration rejected: %w", err)
		}
	}

	cm.config = &newConfig
	cm.refreshCache()

	data, err := json.MarshalIndent(cm.config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err = atomic.WriteFile(cm.configPath, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// IsTrusted checks if an IP is in the trusted proxies list using the cache.
func (cm *ConfigManager) IsTrusted(ipAddr string) bool {
	parsedIP := net.ParseIP(ipAddr)
	if parsedIP == nil {
		return false
	}

	cm.mu.RLock()
	defer cm.mu.RUnlock()

	for _, ipNet := range cm.trustedCIDRs {
		if ipNet.Contains(parsedIP) {
			return true
		}
	}

	for _, trustedIP := range cm.trustedIPs {
		if trustedIP.Equal(parsedIP) {
			return true
		}
	}

	return false
}

// refreshCache rebuilds the binary IP lists from the config strings.
func (cm *ConfigManager) refreshCache() {
	var cidrs []*net.IPNet
	var ips []net.IP

	for _, t := range cm.config.Server.TrustedProxies {
		if strings.Contains(t, "/") {
			_, ipNet, err := net.ParseCIDR(t)
			if err == nil {
				cidrs = append(cidrs, ipNet)
			} else {
				cm.logger.Warn("Failed to parse trusted proxy CIDR", "cidr", t, "error", err)
			}
		} else {
			ip := net.ParseIP(t)
			if ip != nil {
				ips = append(ips, ip)
			} else {
				cm.logger.Warn("Failed to parse trusted proxy IP", "ip", t)
			}
		}
	}
	cm.trustedCIDRs = cidrs
	cm.trustedIPs = ips
}

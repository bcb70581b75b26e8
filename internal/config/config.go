package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete docvault configuration. It mirrors the
// configuration table in spec.md section 6.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	Documents  DocumentsConfig  `yaml:"documents" json:"documents"`
	Chunking   ChunkingConfig   `yaml:"chunking" json:"chunking"`
	Search     SearchConfig     `yaml:"search" json:"search"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Contextual ContextualConfig `yaml:"contextual" json:"contextual"`
	Watcher    WatcherConfig    `yaml:"watcher" json:"watcher"`
}

// DocumentsConfig configures which directory is watched and ingested.
type DocumentsConfig struct {
	// Dir is the watched root (documentsDir).
	Dir string `yaml:"dir" json:"dir"`
	// Exclude are glob patterns always skipped in addition to the built-in
	// dotfile/module-cache/store-data-dir ignore rules.
	Exclude []string `yaml:"exclude" json:"exclude"`
}

// ChunkingConfig bounds the Chunker's output.
type ChunkingConfig struct {
	// ChunkSize is the target chunk length in characters.
	ChunkSize int `yaml:"chunk_size" json:"chunk_size"`
	// ChunkOverlap is the overlap between adjacent chunks.
	ChunkOverlap int `yaml:"chunk_overlap" json:"chunk_overlap"`
	// MinChunkSize is the minimum size below which a chunk is merged with
	// a neighbor.
	MinChunkSize int `yaml:"min_chunk_size" json:"min_chunk_size"`
}

// SearchConfig configures QueryPipeline defaults.
type SearchConfig struct {
	// SimilarityTopK is the default topK for search.
	SimilarityTopK int `yaml:"similarity_top_k" json:"similarity_top_k"`
	// SimilarityThreshold is the default scoreThreshold.
	SimilarityThreshold float64 `yaml:"similarity_threshold" json:"similarity_threshold"`
	// SemanticWeight is a hybrid-fusion weight for the semantic score (0-1).
	// It is loaded and validated, but the CLI search path does not pass it
	// to the query pipeline, which takes its weight from the query
	// classifier.
	SemanticWeight float64 `yaml:"semantic_weight" json:"semantic_weight"`
	// RRFConstant is a reciprocal-rank-fusion constant (k). It is loaded
	// from config, but the query pipeline's fusion is weighted and does not
	// read it.
	RRFConstant int `yaml:"rrf_constant" json:"rrf_constant"`
}

// EmbeddingsConfig selects the EmbeddingPort implementation and model.
type EmbeddingsConfig struct {
	// Service selects the embedder implementation: "ollama", "mlx", or
	// "static" (deterministic offline fallback).
	Service string `yaml:"service" json:"service"`
	Model   string `yaml:"model" json:"model"`
	// BatchSize bounds how many chunks are embedded per EmbedDocuments call.
	BatchSize int `yaml:"batch_size" json:"batch_size"`
	// OllamaHost is the Ollama API endpoint (service=ollama).
	OllamaHost string `yaml:"ollama_host" json:"ollama_host"`
	// MLXEndpoint is the MLX server endpoint (service=mlx, Apple Silicon only).
	MLXEndpoint string `yaml:"mlx_endpoint" json:"mlx_endpoint"`
}

// ContextualConfig configures the ContextSynthesizer.
type ContextualConfig struct {
	// Enabled runs every chunk through contextual enrichment before
	// embedding.
	Enabled bool `yaml:"enabled" json:"enabled"`
	// ChunkingModel is the model passed to the GeneratorPort
	// (contextualChunkingModel).
	ChunkingModel string `yaml:"chunking_model" json:"chunking_model"`
	// Timeout is the per-chunk synthesis deadline.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// WatcherConfig tunes the FileWatcher.
type WatcherConfig struct {
	// DebounceDelay coalesces bursts of fs events per path.
	DebounceDelay time.Duration `yaml:"debounce_delay" json:"debounce_delay"`
	// MaxProcessingQueue bounds in-flight watcher events; the newest event
	// is dropped once the queue is full.
	MaxProcessingQueue int `yaml:"max_processing_queue" json:"max_processing_queue"`
	// MaxScanDepth bounds how many directory levels below the root the
	// watcher registers with fsnotify.
	MaxScanDepth int `yaml:"max_scan_depth" json:"max_scan_depth"`
}

// defaultExcludePatterns are always excluded from the watched root.
var defaultExcludePatterns = []string{
	"**/node_modules/**",
	"**/.git/**",
	"**/vendor/**",
	"**/__pycache__/**",
	"**/dist/**",
	"**/build/**",
}

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Documents: DocumentsConfig{
			Dir:     "",
			Exclude: defaultExcludePatterns,
		},
		Chunking: ChunkingConfig{
			ChunkSize:    1000,
			ChunkOverlap: 200,
			MinChunkSize: 200,
		},
		Search: SearchConfig{
			SimilarityTopK:       10,
			SimilarityThreshold:  0.0,
			SemanticWeight:       0.5,
			RRFConstant:          60,
		},
		Embeddings: EmbeddingsConfig{
			Service:     "ollama",
			Model:       "qwen3-embedding:8b",
			BatchSize:   32,
			OllamaHost:  "",
			MLXEndpoint: "",
		},
		Contextual: ContextualConfig{
			Enabled:       true,
			ChunkingModel: "qwen3:0.6b",
			Timeout:       5 * time.Second,
		},
		Watcher: WatcherConfig{
			DebounceDelay:      200 * time.Millisecond,
			MaxProcessingQueue: 1000,
			MaxScanDepth:       64,
		},
	}
}

// GetUserConfigPath returns the path to the user/global configuration
// file. It follows XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/docvault/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/docvault/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "docvault", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "docvault", "config.yaml")
	}
	return filepath.Join(home, ".config", "docvault", "config.yaml")
}

// GetUserConfigDir returns the directory containing the user configuration.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// loadUserConfig loads the user/global configuration file if it exists.
// Returns nil config and nil error if the file doesn't exist (that's OK).
func loadUserConfig() (*Config, error) {
	configPath := GetUserConfigPath()
	if !fileExists(configPath) {
		return nil, nil
	}

	cfg := NewConfig()
	if err := cfg.loadYAML(configPath); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", configPath, err)
	}
	return cfg, nil
}

// LoadUserConfig loads the user configuration file.
// Returns nil config and nil error if the file doesn't exist.
func LoadUserConfig() (*Config, error) {
	return loadUserConfig()
}

// Load loads configuration for the project rooted at dir, applying
// configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User/global config (~/.config/docvault/config.yaml)
//  3. Project config (.docvault.yaml in dir)
//  4. Environment variables (DOCVAULT_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userCfg, err := loadUserConfig(); err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if cfg.Documents.Dir == "" {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve documents dir: %w", err)
		}
		cfg.Documents.Dir = abs
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadFromFile attempts to load configuration from .docvault.yaml or
// .docvault.yml in dir.
func (c *Config) loadFromFile(dir string) error {
	yamlPath := filepath.Join(dir, ".docvault.yaml")
	if _, err := os.Stat(yamlPath); err == nil {
		return c.loadYAML(yamlPath)
	}

	ymlPath := filepath.Join(dir, ".docvault.yml")
	if _, err := os.Stat(ymlPath); err == nil {
		return c.loadYAML(ymlPath)
	}
	return nil
}

// loadYAML loads and merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	if other.Documents.Dir != "" {
		c.Documents.Dir = other.Documents.Dir
	}
	if len(other.Documents.Exclude) > 0 {
		c.Documents.Exclude = append(c.Documents.Exclude, other.Documents.Exclude...)
	}

	if other.Chunking.ChunkSize != 0 {
		c.Chunking.ChunkSize = other.Chunking.ChunkSize
	}
	if other.Chunking.ChunkOverlap != 0 {
		c.Chunking.ChunkOverlap = other.Chunking.ChunkOverlap
	}
	if other.Chunking.MinChunkSize != 0 {
		c.Chunking.MinChunkSize = other.Chunking.MinChunkSize
	}

	if other.Search.SimilarityTopK != 0 {
		c.Search.SimilarityTopK = other.Search.SimilarityTopK
	}
	if other.Search.SimilarityThreshold != 0 {
		c.Search.SimilarityThreshold = other.Search.SimilarityThreshold
	}
	if other.Search.SemanticWeight != 0 {
		c.Search.SemanticWeight = other.Search.SemanticWeight
	}
	if other.Search.RRFConstant != 0 {
		c.Search.RRFConstant = other.Search.RRFConstant
	}

	if other.Embeddings.Service != "" {
		c.Embeddings.Service = other.Embeddings.Service
	}
	if other.Embeddings.Model != "" {
		c.Embeddings.Model = other.Embeddings.Model
	}
	if other.Embeddings.BatchSize != 0 {
		c.Embeddings.BatchSize = other.Embeddings.BatchSize
	}
	if other.Embeddings.OllamaHost != "" {
		c.Embeddings.OllamaHost = other.Embeddings.OllamaHost
	}
	if other.Embeddings.MLXEndpoint != "" {
		c.Embeddings.MLXEndpoint = other.Embeddings.MLXEndpoint
	}

	if other.Contextual.ChunkingModel != "" {
		c.Contextual.ChunkingModel = other.Contextual.ChunkingModel
	}
	if other.Contextual.Timeout != 0 {
		c.Contextual.Timeout = other.Contextual.Timeout
	}
	// Enabled only merges when the contextual section was actually set,
	// since YAML's zero value for bool is indistinguishable from "unset".
	if other.Contextual.ChunkingModel != "" || other.Contextual.Timeout != 0 {
		c.Contextual.Enabled = other.Contextual.Enabled
	}

	if other.Watcher.DebounceDelay != 0 {
		c.Watcher.DebounceDelay = other.Watcher.DebounceDelay
	}
	if other.Watcher.MaxProcessingQueue != 0 {
		c.Watcher.MaxProcessingQueue = other.Watcher.MaxProcessingQueue
	}
	if other.Watcher.MaxScanDepth != 0 {
		c.Watcher.MaxScanDepth = other.Watcher.MaxScanDepth
	}
}

// applyEnvOverrides applies DOCVAULT_* environment variable overrides,
// the highest-precedence configuration source.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("DOCVAULT_DOCUMENTS_DIR"); v != "" {
		c.Documents.Dir = v
	}
	if v := os.Getenv("DOCVAULT_CHUNK_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Chunking.ChunkSize = n
		}
	}
	if v := os.Getenv("DOCVAULT_CHUNK_OVERLAP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.Chunking.ChunkOverlap = n
		}
	}
	if v := os.Getenv("DOCVAULT_SIMILARITY_TOP_K"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Search.SimilarityTopK = n
		}
	}
	if v := os.Getenv("DOCVAULT_SEMANTIC_WEIGHT"); v != "" {
		if w, err := parseFloat64(v); err == nil && w >= 0 && w <= 1 {
			c.Search.SemanticWeight = w
		}
	}
	if v := os.Getenv("DOCVAULT_EMBEDDING_SERVICE"); v != "" {
		c.Embeddings.Service = v
	}
	if v := os.Getenv("DOCVAULT_EMBEDDING_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	if v := os.Getenv("DOCVAULT_OLLAMA_HOST"); v != "" {
		c.Embeddings.OllamaHost = v
	}
}

// parseFloat64 parses a string to float64, used for config parsing.
func parseFloat64(s string) (float64, error) {
	var f float64
	_, err := fmt.Sscanf(strings.TrimSpace(s), "%f", &f)
	return f, err
}

// FindProjectRoot finds the project root directory by walking up from
// startDir looking for a .git directory or a .docvault.yaml/.yml file.
func FindProjectRoot(startDir string) (string, error) {
	absDir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	currentDir := absDir
	for {
		if dirExists(filepath.Join(currentDir, ".git")) {
			return currentDir, nil
		}
		if fileExists(filepath.Join(currentDir, ".docvault.yaml")) ||
			fileExists(filepath.Join(currentDir, ".docvault.yml")) {
			return currentDir, nil
		}

		parentDir := filepath.Dir(currentDir)
		if parentDir == currentDir {
			return absDir, nil
		}
		currentDir = parentDir
	}
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// dirExists checks if a directory exists.
func dirExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.Documents.Dir == "" {
		return fmt.Errorf("documents.dir must be set")
	}
	if !dirExists(c.Documents.Dir) {
		return fmt.Errorf("documents.dir %q does not exist", c.Documents.Dir)
	}

	if c.Chunking.ChunkSize <= 0 {
		return fmt.Errorf("chunking.chunk_size must be positive, got %d", c.Chunking.ChunkSize)
	}
	if c.Chunking.ChunkOverlap < 0 || c.Chunking.ChunkOverlap >= c.Chunking.ChunkSize {
		return fmt.Errorf("chunking.chunk_overlap must be in [0, chunk_size), got %d", c.Chunking.ChunkOverlap)
	}
	if c.Chunking.MinChunkSize < 0 || c.Chunking.MinChunkSize > c.Chunking.ChunkSize {
		return fmt.Errorf("chunking.min_chunk_size must be in [0, chunk_size], got %d", c.Chunking.MinChunkSize)
	}

	if c.Search.SimilarityTopK <= 0 {
		return fmt.Errorf("search.similarity_top_k must be positive, got %d", c.Search.SimilarityTopK)
	}
	if c.Search.SemanticWeight < 0 || c.Search.SemanticWeight > 1 {
		return fmt.Errorf("search.semantic_weight must be between 0 and 1, got %f", c.Search.SemanticWeight)
	}

	validServices := map[string]bool{"ollama": true, "mlx": true, "static": true}
	if !validServices[strings.ToLower(c.Embeddings.Service)] {
		return fmt.Errorf("embeddings.service must be 'ollama', 'mlx', or 'static', got %s", c.Embeddings.Service)
	}
	if c.Embeddings.BatchSize <= 0 {
		return fmt.Errorf("embeddings.batch_size must be positive, got %d", c.Embeddings.BatchSize)
	}

	if c.Watcher.MaxProcessingQueue <= 0 {
		return fmt.Errorf("watcher.max_processing_queue must be positive, got %d", c.Watcher.MaxProcessingQueue)
	}
	if c.Watcher.DebounceDelay < 0 {
		return fmt.Errorf("watcher.debounce_delay must be non-negative, got %s", c.Watcher.DebounceDelay)
	}

	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

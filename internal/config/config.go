package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/menta2k/image-overlay/pkg/types"
)

// Config holds the persisted application configuration. The Options
// section is the session state read once at startup; everything else
// configures the encoding adapter and the recognition backend.
type Config struct {
	Options  types.SessionOptions `json:"options"`
	Encoding EncodingConfig       `json:"encoding"`
	Backend  BackendConfig        `json:"backend"`
}

// EncodingConfig holds configuration for the sizing/encoding adapter
type EncodingConfig struct {
	Format      string `json:"format"`
	MaxSendSize int    `json:"max_send_size"`
	Quality     int    `json:"quality"`
	Lossless    bool   `json:"lossless"`
}

// BackendConfig selects and configures the recognition backend
type BackendConfig struct {
	// Name is one of: http, ollama, tesseract.
	Name string `json:"name"`
	// URL is the backend server URL for http and ollama.
	URL string `json:"url"`
	// Model is the vision model name for the ollama backend.
	Model string `json:"model"`
	// Language is the Tesseract language code for the local backend.
	Language string `json:"language"`
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Options: types.DefaultOptions(),
		Encoding: EncodingConfig{
			Format:      "jpg",
			MaxSendSize: 1536,
			Quality:     85,
		},
		Backend: BackendConfig{
			Name:     "http",
			URL:      "http://localhost:8765",
			Model:    "openbmb/minicpm-v4.5",
			Language: "eng",
		},
	}
}

// LoadFromFile loads configuration from a JSON file
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a JSON file
func (c *Config) SaveToFile(filename string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Encoding.Quality < 1 || c.Encoding.Quality > 100 {
		return fmt.Errorf("encoding.quality must be between 1 and 100")
	}

	if c.Encoding.MaxSendSize < 0 {
		return fmt.Errorf("encoding.max_send_size must not be negative")
	}

	switch c.Encoding.Format {
	case "jpg", "jpeg", "png", "webp":
	default:
		return fmt.Errorf("encoding.format must be jpg, png or webp")
	}

	switch c.Backend.Name {
	case "http", "ollama", "tesseract":
	default:
		return fmt.Errorf("backend.name must be http, ollama or tesseract")
	}

	if c.Options.FontScale <= 0 {
		return fmt.Errorf("options.font_scale must be positive")
	}

	if c.Options.LineWidth < 1 {
		return fmt.Errorf("options.line_width must be positive")
	}

	return nil
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.json"
	}
	return filepath.Join(home, ".config", "image-overlay", "config.json")
}

package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"
)

const (
	configDirName = "aichat"
	defaultConfig = ".config"
)

var configFiles = []string{
	"config.yaml",
	"config.yml",
}

// Config represents the structure of the configuration file used by the application.
type Config struct {
	BaseURL  string            `yaml:"base_url" default:"https://dashscope.aliyuncs.com/compatible-mode/v1"`
	Model    string            `yaml:"model" default:"qwen3-max-preview"`
	APIKey   string            `yaml:"api_key"`
	Timeout  time.Duration     `yaml:"timeout"`
	Headers  map[string]string `yaml:"headers"`
	Render   Render            `yaml:"render"`
	Store    Store             `yaml:"store"`
	Welcome  string            `yaml:"welcome" default:"Hello! I'm your AI assistant. How can I help you?"`
	LogLevel string            `yaml:"log_level" default:"warn"`
	Prompts  map[string]Prompt `yaml:"prompts"`

	// Dir is the directory the configuration was looked up in.
	Dir string `yaml:"-"`
}

// Render controls terminal output.
type Render struct {
	Format string `yaml:"format" default:"markdown"`
	Wrap   int    `yaml:"wrap" default:"120"`
}

// Store selects where the conversation is kept.
type Store struct {
	Driver string `yaml:"driver" default:"file"`
	Path   string `yaml:"path"`
}

// Prompt is a predefined command.
type Prompt struct {
	Prompt string `yaml:"prompt"`
	Model  string `yaml:"model"`
}

// configResult is a struct used to return the configuration and any error that occurs during loading.
type configResult struct {
	config *Config
	err    error
}

// newDefaultConfig creates a new configuration with every default applied.
func newDefaultConfig() *Config {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		// Only reachable with malformed struct tags
		panic(err)
	}
	return cfg
}

// getConfigPath retrieves the path to the configuration directory based on the XDG_CONFIG_HOME environment variable.
func getConfigPath() (string, error) {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get user home directory: %w", err)
		}
		configHome = filepath.Join(home, defaultConfig)
	}

	return filepath.Join(configHome, configDirName), nil
}

// tryLoadConfig attempts to load a configuration file from the specified path.
func tryLoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := newDefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// LoadConfig loads the configuration from the user's home directory, with a timeout.
func LoadConfig(ctx context.Context) (*Config, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	result := make(chan configResult, 1)

	go func() {
		cfg, err := loadConfigFiles(ctx)
		result <- configResult{config: cfg, err: err}
	}()

	done := ctx.Done()
	select {
	case <-done:
		return nil, ctx.Err()
	case r := <-result:
		if r.err != nil {
			return nil, r.err
		}
		if err := r.config.finish(); err != nil {
			return nil, err
		}
		return r.config, nil
	}
}

// loadConfigFiles loads configuration files from the user's home directory.
func loadConfigFiles(ctx context.Context) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context error before loading config: %w", err)
	}

	configDir, err := getConfigPath()
	if err != nil {
		return nil, fmt.Errorf("failed to get config path: %w", err)
	}

	cfg, err := loadDir(ctx, configDir)
	if err != nil {
		return nil, err
	}
	cfg.Dir = configDir
	return cfg, nil
}

// loadDir returns the first configuration file found in dir, or the defaults.
func loadDir(ctx context.Context, configDir string) (*Config, error) {
	// Return default config early if directory doesn't exist
	if _, err := os.Stat(configDir); os.IsNotExist(err) {
		return newDefaultConfig(), nil
	}

	for _, filename := range configFiles {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		cfg, err := tryLoadConfig(filepath.Join(configDir, filename))
		if err == nil {
			return cfg, nil
		}
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load config from %s: %w", filename, err)
		}
	}

	return newDefaultConfig(), nil
}

// finish applies environment overrides, derived defaults and validation.
func (c *Config) finish() error {
	c.applyEnv()
	if c.Store.Path == "" && c.Dir != "" {
		switch c.Store.Driver {
		case "file":
			c.Store.Path = filepath.Join(c.Dir, "conversation.json")
		case "sqlite":
			c.Store.Path = filepath.Join(c.Dir, "conversation.db")
		}
	}
	if c.APIKey == "" && c.Dir != "" {
		key, err := lookupAPIKey(c.Dir, c.BaseURL)
		if err != nil {
			return err
		}
		c.APIKey = key
	}
	return c.Validate()
}

// applyEnv overrides file values with environment variables.
func (c *Config) applyEnv() {
	for _, name := range []string{"AI_API_KEY", "DASHSCOPE_API_KEY"} {
		if v := os.Getenv(name); v != "" {
			c.APIKey = v
			break
		}
	}
	if v := os.Getenv("AI_BASE_URL"); v != "" {
		c.BaseURL = v
	}
	if v := os.Getenv("AI_MODEL"); v != "" {
		c.Model = v
	}
}

// Validate reports configuration values the application cannot use.
func (c *Config) Validate() error {
	var errs []error
	if c.BaseURL == "" {
		errs = append(errs, errors.New("base_url is required"))
	}
	if c.Timeout < 0 {
		errs = append(errs, errors.New("timeout must not be negative"))
	}
	switch c.Render.Format {
	case "markdown", "plain":
	default:
		errs = append(errs, fmt.Errorf("render.format %q must be markdown or plain", c.Render.Format))
	}
	switch c.Store.Driver {
	case "memory":
	case "file", "sqlite":
		if c.Store.Path == "" {
			errs = append(errs, fmt.Errorf("store.path is required for driver %q", c.Store.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver %q must be memory, file or sqlite", c.Store.Driver))
	}
	return errors.Join(errs...)
}

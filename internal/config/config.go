package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigDir   = ".guardrailwatch"
	DefaultConfigFile  = "config.yaml"
	DefaultResultsFile = "results.jsonl"
	DefaultHistoryFile = "history.db"
	DefaultDotEnvFile  = ".env"

	DefaultFixturePath      = "test_data/bedrock_inputs.json"
	DefaultTfOutputPath     = "terraform/tf_output.json"
	DefaultModelID          = "us.amazon.nova-pro-v1:0" // cross-region inference profile
	DefaultGuardrailVersion = "DRAFT"
	DefaultDelay            = time.Second
	DefaultLogLevel         = "info"
)

type Config struct {
	ConfigDir    string         `yaml:"-"`
	FixturePath  string         `yaml:"fixture"`
	TfOutputPath string         `yaml:"tf_output"`
	Region       string         `yaml:"region"`
	Profile      string         `yaml:"profile"`
	LogLevel     string         `yaml:"log_level"`
	MetricsOut   string         `yaml:"metrics_out"`
	Converse     ConverseConfig `yaml:"converse"`
	Record       RecordConfig   `yaml:"record"`
}

// ConverseConfig controls how each test prompt is sent to the model.
type ConverseConfig struct {
	ModelID          string `yaml:"model_id"`
	GuardrailVersion string `yaml:"guardrail_version"`
	// SystemPrompt overrides the built-in insurance assistant persona.
	SystemPrompt string `yaml:"system_prompt"`
	// Delay is the fixed pause between requests. Zero disables pacing.
	Delay time.Duration `yaml:"delay"`
}

// RecordConfig controls what a run leaves behind on disk. Nothing is
// written unless Enabled is set.
type RecordConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ResultsLog string `yaml:"results_log"`
	HistoryDB  string `yaml:"history_db"`
}

// Default returns the configuration used when no file is present.
func Default(configDir string) *Config {
	return &Config{
		ConfigDir:    configDir,
		FixturePath:  DefaultFixturePath,
		TfOutputPath: DefaultTfOutputPath,
		LogLevel:     DefaultLogLevel,
		Converse: ConverseConfig{
			ModelID:          DefaultModelID,
			GuardrailVersion: DefaultGuardrailVersion,
			Delay:            DefaultDelay,
		},
		Record: RecordConfig{
			ResultsLog: filepath.Join(configDir, DefaultResultsFile),
			HistoryDB:  filepath.Join(configDir, DefaultHistoryFile),
		},
	}
}

// Load reads the YAML config at path on top of the defaults. An empty path
// means ~/.guardrailwatch/config.yaml; a missing file is not an error.
func Load(path string) (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	configDir := filepath.Join(homeDir, DefaultConfigDir)

	if path == "" {
		path = filepath.Join(configDir, DefaultConfigFile)
	}
	return loadFile(path, configDir)
}

func loadFile(path, configDir string) (*Config, error) {
	cfg := Default(configDir)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.fillDefaults()
	return cfg, nil
}

// fillDefaults restores defaults for keys a config file set to empty.
func (c *Config) fillDefaults() {
	def := Default(c.ConfigDir)
	if c.FixturePath == "" {
		c.FixturePath = def.FixturePath
	}
	if c.TfOutputPath == "" {
		c.TfOutputPath = def.TfOutputPath
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.Converse.ModelID == "" {
		c.Converse.ModelID = def.Converse.ModelID
	}
	if c.Converse.GuardrailVersion == "" {
		c.Converse.GuardrailVersion = def.Converse.GuardrailVersion
	}
	if c.Converse.Delay < 0 {
		c.Converse.Delay = 0
	}
	if c.Record.ResultsLog == "" {
		c.Record.ResultsLog = def.Record.ResultsLog
	}
	if c.Record.HistoryDB == "" {
		c.Record.HistoryDB = def.Record.HistoryDB
	}
}

// EnsureRecordDirs creates the directories the results log and history
// database live in.
func (c *Config) EnsureRecordDirs() error {
	for _, p := range []string{c.Record.ResultsLog, c.Record.HistoryDB} {
		if err := ensureDir(filepath.Dir(p)); err != nil {
			return err
		}
	}
	return nil
}

// LoadDotEnv loads KEY=value pairs from path into the process environment
// without overriding variables that are already set. A missing file is
// ignored.
func LoadDotEnv(path string) error {
	if path == "" {
		path = DefaultDotEnvFile
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return godotenv.Load(path)
}

func ensureDir(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return os.MkdirAll(path, 0700)
	}
	return nil
}

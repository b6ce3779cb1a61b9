package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the settings required to boot the prediction engine.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Training   TrainingConfig   `yaml:"training"`
	Storage    StorageConfig    `yaml:"storage"`
	Cooldown   CooldownConfig   `yaml:"cooldown"`
	Enrichment EnrichmentConfig `yaml:"enrichment"`
	Rules      RulesConfig      `yaml:"rules"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig controls the metrics listener and shutdown behaviour.
type ServerConfig struct {
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// PipelineConfig holds the scoring parameters consumed, not owned, by the core.
type PipelineConfig struct {
	SequenceLength  int           `yaml:"sequenceLength"`
	Threshold       float64       `yaml:"threshold"`
	CooldownWindow  time.Duration `yaml:"cooldownWindow"`
	CriticalFloor   int           `yaml:"criticalFloor"`
	WarningFloor    int           `yaml:"warningFloor"`
	ScoringInterval time.Duration `yaml:"scoringInterval"`
	Lookback        time.Duration `yaml:"lookback"`
}

// TrainingConfig controls the offline training run.
type TrainingConfig struct {
	Epochs          int     `yaml:"epochs"`
	BatchSize       int     `yaml:"batchSize"`
	ValidationSplit float64 `yaml:"validationSplit"`
	Patience        int     `yaml:"patience"`
	HiddenSize      int     `yaml:"hiddenSize"`
	LearningRate    float64 `yaml:"learningRate"`
	Seed            int64   `yaml:"seed"`
	ArtifactPath    string  `yaml:"artifactPath"`
	TelemetryCSV    string  `yaml:"telemetryCSV"`
	EventsCSV       string  `yaml:"eventsCSV"`
}

// StorageConfig configures the Postgres-backed record sources and alert log.
type StorageConfig struct {
	PostgresDSN string `yaml:"postgresDSN"`
}

// CooldownConfig configures the optional Redis-backed cooldown state.
// When Addr is empty the engine keeps cooldown state in memory.
type CooldownConfig struct {
	Addr     string `yaml:"addr"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// EnrichmentConfig configures the external generative-text cause service.
type EnrichmentConfig struct {
	BaseURL string        `yaml:"baseURL"`
	Timeout time.Duration `yaml:"timeout"`
}

// RulesConfig controls rule-pack loading for cause inference.
type RulesConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("PDM_ENGINE_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Pipeline: PipelineConfig{
			SequenceLength:  10,
			Threshold:       0.7,
			CooldownWindow:  300 * time.Second,
			CriticalFloor:   7,
			WarningFloor:    4,
			ScoringInterval: time.Minute,
			Lookback:        24 * time.Hour,
		},
		Training: TrainingConfig{
			Epochs:          10,
			BatchSize:       32,
			ValidationSplit: 0.2,
			Patience:        3,
			HiddenSize:      32,
			LearningRate:    0.001,
			Seed:            42,
			ArtifactPath:    "data/models/predictive_model.json",
		},
		Enrichment: EnrichmentConfig{Timeout: 3 * time.Second},
		Rules:      RulesConfig{Path: "configs/rules/causes.yaml"},
		Logging:    LoggingConfig{Level: "info", JSON: false},
	}
}

func (c *Config) validate() error {
	if c.Pipeline.SequenceLength <= 0 {
		return fmt.Errorf("pipeline.sequenceLength must be positive, got %d", c.Pipeline.SequenceLength)
	}
	if c.Pipeline.Threshold < 0 || c.Pipeline.Threshold > 1 {
		return fmt.Errorf("pipeline.threshold must be in [0,1], got %f", c.Pipeline.Threshold)
	}
	if c.Pipeline.WarningFloor > c.Pipeline.CriticalFloor {
		return fmt.Errorf("pipeline.warningFloor %d exceeds criticalFloor %d", c.Pipeline.WarningFloor, c.Pipeline.CriticalFloor)
	}
	if c.Training.ValidationSplit < 0 || c.Training.ValidationSplit >= 1 {
		return fmt.Errorf("training.validationSplit must be in [0,1), got %f", c.Training.ValidationSplit)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PDM_ENGINE_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("PDM_ENGINE_SEQUENCE_LENGTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pipeline.SequenceLength = n
		}
	}
	if v := os.Getenv("PDM_ENGINE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Pipeline.Threshold = f
		}
	}
	if v := os.Getenv("PDM_ENGINE_COOLDOWN_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Pipeline.CooldownWindow = d
		}
	}
	if v := os.Getenv("PDM_ENGINE_SCORING_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Pipeline.ScoringInterval = d
		}
	}
	if v := os.Getenv("PDM_ENGINE_POSTGRES_DSN"); v != "" {
		cfg.Storage.PostgresDSN = v
	}
	if v := os.Getenv("PDM_ENGINE_REDIS_ADDR"); v != "" {
		cfg.Cooldown.Addr = v
	}
	if v := os.Getenv("PDM_ENGINE_REDIS_USERNAME"); v != "" {
		cfg.Cooldown.Username = v
	}
	if v := os.Getenv("PDM_ENGINE_REDIS_PASSWORD"); v != "" {
		cfg.Cooldown.Password = v
	}
	if v := os.Getenv("PDM_ENGINE_REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Cooldown.DB = db
		}
	}
	if v := os.Getenv("PDM_ENGINE_ENRICHMENT_URL"); v != "" {
		cfg.Enrichment.BaseURL = v
	}
	if v := os.Getenv("PDM_ENGINE_ENRICHMENT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Enrichment.Timeout = d
		}
	}
	if v := os.Getenv("PDM_ENGINE_RULES_PATH"); v != "" {
		cfg.Rules.Path = v
	}
	if v := os.Getenv("PDM_ENGINE_ARTIFACT_PATH"); v != "" {
		cfg.Training.ArtifactPath = v
	}
	if v := os.Getenv("PDM_ENGINE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("PDM_ENGINE_LOG_FORMAT"); strings.EqualFold(v, "json") {
		cfg.Logging.JSON = true
	}
}

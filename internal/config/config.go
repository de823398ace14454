package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"mintage/internal/clustering"
	"mintage/internal/distance"
	"mintage/internal/logger"
)

// Config holds all application configuration
type Config struct {
	App         App         `mapstructure:"app"`
	Input       Input       `mapstructure:"input"`
	Output      Output      `mapstructure:"output"`
	Clustering  Clustering  `mapstructure:"clustering"`
	ModeHunting ModeHunting `mapstructure:"mode_hunting"`
	Pipeline    Pipeline    `mapstructure:"pipeline"`
	Logging     Logging     `mapstructure:"logging"`
}

// App holds general application configuration
type App struct {
	Debug   bool   `mapstructure:"debug"`
	DataDir string `mapstructure:"data_dir"` // Run ledger location
}

// Input holds input configuration
type Input struct {
	Directory string `mapstructure:"directory"` // Used when no directory is given on the command line
}

// Output holds output configuration
type Output struct {
	Directory string `mapstructure:"directory"`
	Plot      bool   `mapstructure:"plot"`
	PlotDir   string `mapstructure:"plot_dir"` // Relative to the output directory
}

// Clustering holds pre-clustering configuration
type Clustering struct {
	Method            string  `mapstructure:"method"`
	Metric            string  `mapstructure:"metric"`
	Period            float64 `mapstructure:"period"`
	MinClusterSize    int     `mapstructure:"min_cluster_size"`
	OutlierPercentage float64 `mapstructure:"outlier_percentage"`
	Dimensions        int     `mapstructure:"dimensions"` // 0 accepts any length
}

// ModeHunting holds post-clustering configuration
type ModeHunting struct {
	Scale       float64 `mapstructure:"scale"`
	MinModeSize int     `mapstructure:"min_mode_size"`
	Workers     int     `mapstructure:"workers"`
}

// Pipeline holds orchestration configuration
type Pipeline struct {
	Recompute bool   `mapstructure:"recompute"`
	Timeout   string `mapstructure:"timeout"` // Empty means no deadline
	Ledger    bool   `mapstructure:"ledger"`
}

// Logging holds logging configuration
type Logging struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

var globalConfig *Config

// Load loads the configuration from various sources
func Load(configFile string) (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}

	// Load .env file if it exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			logger.Warn("Error loading .env file", "error", err)
		}
	}

	// Configure viper
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME")
		viper.SetConfigName(".mintage")
		viper.SetConfigType("yaml")
	}

	// Set defaults
	setDefaults()

	// Bind environment variables
	bindEnvironmentVariables()

	// MINTAGE_CLUSTERING_MIN_CLUSTER_SIZE overrides clustering.min_cluster_size
	viper.SetEnvPrefix("MINTAGE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Read config file if it exists
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Unmarshal into struct
	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	postProcessConfig(config)

	// Validate configuration
	if err := validateConfig(config); err != nil {
		return nil, err
	}

	globalConfig = config
	return config, nil
}

// Get returns the global configuration, loading it if necessary
func Get() *Config {
	if globalConfig == nil {
		config, err := Load("")
		if err != nil {
			panic(fmt.Sprintf("Failed to load configuration: %v", err))
		}
		return config
	}
	return globalConfig
}

// setDefaults sets default configuration values
func setDefaults() {
	// App defaults
	viper.SetDefault("app.debug", false)
	viper.SetDefault("app.data_dir", ".mintage-cache")

	// Input defaults
	viper.SetDefault("input.directory", "")

	// Output defaults
	viper.SetDefault("output.directory", "./out/mint_age_pipeline")
	viper.SetDefault("output.plot", true)
	viper.SetDefault("output.plot_dir", "final_plots")

	// Clustering defaults
	viper.SetDefault("clustering.method", "average")
	viper.SetDefault("clustering.metric", "euclidean")
	viper.SetDefault("clustering.period", distance.DefaultPeriod)
	viper.SetDefault("clustering.min_cluster_size", 20)
	viper.SetDefault("clustering.outlier_percentage", 0.15)
	viper.SetDefault("clustering.dimensions", 7)

	// Mode hunting defaults
	viper.SetDefault("mode_hunting.scale", clustering.DefaultScale)
	viper.SetDefault("mode_hunting.min_mode_size", 5)
	viper.SetDefault("mode_hunting.workers", 1)

	// Pipeline defaults
	viper.SetDefault("pipeline.recompute", false)
	viper.SetDefault("pipeline.timeout", "")
	viper.SetDefault("pipeline.ledger", true)

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")
}

// bindEnvironmentVariables binds unprefixed variables people commonly set
func bindEnvironmentVariables() {
	bindEnvKeys("app.debug", []string{
		"MINTAGE_DEBUG",
		"DEBUG",
	})
	bindEnvKeys("logging.level", []string{
		"MINTAGE_LOG_LEVEL",
		"LOG_LEVEL",
	})
}

// bindEnvKeys binds the first found environment variable to a viper key
func bindEnvKeys(viperKey string, envKeys []string) {
	for _, envKey := range envKeys {
		if value := os.Getenv(envKey); value != "" {
			viper.Set(viperKey, value)
			return
		}
	}
}

// postProcessConfig applies post-processing to configuration values
func postProcessConfig(config *Config) {
	// Expand paths
	if config.App.DataDir != "" {
		config.App.DataDir = expandPath(config.App.DataDir)
	}
	if config.Output.Directory != "" {
		config.Output.Directory = expandPath(config.Output.Directory)
	}
	if config.Input.Directory != "" {
		config.Input.Directory = expandPath(config.Input.Directory)
	}
	if config.App.Debug {
		config.Logging.Level = "debug"
	}
}

// expandPath expands ~ and environment variables in paths
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return os.ExpandEnv(path)
}

// validateConfig reports every invalid setting at once
func validateConfig(config *Config) error {
	var errors []string

	if _, err := clustering.ParseMethod(config.Clustering.Method); err != nil {
		errors = append(errors, fmt.Sprintf("clustering.method: %v", err))
	}
	if _, err := distance.ParseMetric(config.Clustering.Metric); err != nil {
		errors = append(errors, fmt.Sprintf("clustering.metric: %v", err))
	}
	if config.Clustering.Period <= 0 {
		errors = append(errors, fmt.Sprintf("clustering.period must be positive, got %v", config.Clustering.Period))
	}
	if config.Clustering.MinClusterSize < 1 {
		errors = append(errors, fmt.Sprintf("clustering.min_cluster_size must be at least 1, got %d", config.Clustering.MinClusterSize))
	}
	if p := config.Clustering.OutlierPercentage; p < 0 || p > 1 {
		errors = append(errors, fmt.Sprintf("clustering.outlier_percentage must be within [0, 1], got %v", p))
	}
	if config.Clustering.Dimensions < 0 {
		errors = append(errors, fmt.Sprintf("clustering.dimensions must not be negative, got %d", config.Clustering.Dimensions))
	}
	if config.ModeHunting.Scale <= 0 {
		errors = append(errors, fmt.Sprintf("mode_hunting.scale must be positive, got %v", config.ModeHunting.Scale))
	}
	if config.ModeHunting.MinModeSize < 1 {
		errors = append(errors, fmt.Sprintf("mode_hunting.min_mode_size must be at least 1, got %d", config.ModeHunting.MinModeSize))
	}
	if config.ModeHunting.Workers < 0 {
		errors = append(errors, fmt.Sprintf("mode_hunting.workers must not be negative, got %d", config.ModeHunting.Workers))
	}
	if config.Pipeline.Timeout != "" {
		if _, err := time.ParseDuration(config.Pipeline.Timeout); err != nil {
			errors = append(errors, fmt.Sprintf("invalid duration for pipeline.timeout: %s", config.Pipeline.Timeout))
		}
	}
	switch strings.ToLower(config.Logging.Format) {
	case "json", "text":
	default:
		errors = append(errors, fmt.Sprintf("logging.format must be json or text, got %q", config.Logging.Format))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// Timeout returns the pipeline deadline, zero when unset
func (c *Config) Timeout() time.Duration {
	d, _ := time.ParseDuration(c.Pipeline.Timeout)
	return d
}

// Reset clears the global configuration (useful for testing)
func Reset() {
	globalConfig = nil
	viper.Reset()
}

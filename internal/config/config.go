package config

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	// Server configuration
	LogLevel    string `mapstructure:"log_level"`
	BindAddress string `mapstructure:"bind_address"`

	// Execution limits
	DefaultRunTimeout time.Duration `mapstructure:"default_run_timeout"`
	MaxRunTimeout     time.Duration `mapstructure:"max_run_timeout"`
	MaxOutputSize     int           `mapstructure:"max_output_size"`
	RequestBodyLimit  int64         `mapstructure:"request_body_limit"`

	// Session policy
	EagerInit bool `mapstructure:"eager_init"`

	// Interpreter engine selection
	Engine     string `mapstructure:"engine"`
	PythonPath string `mapstructure:"python_path"`

	// Process engine limits
	MaxCPUSeconds int `mapstructure:"max_cpu_seconds"`
	MaxMemoryMB   int `mapstructure:"max_memory_mb"`

	// Docker engine settings
	DockerImage        string        `mapstructure:"docker_image"`
	InterpreterVersion string        `mapstructure:"interpreter_version"`
	DockerMemoryLimit  int64         `mapstructure:"docker_memory_limit"`
	DockerCPULimit     float64       `mapstructure:"docker_cpu_limit"`
	DockerPidsLimit    int64         `mapstructure:"docker_pids_limit"`
	DockerStartTimeout time.Duration `mapstructure:"docker_start_timeout"`
}

// Load loads configuration from environment variables and config files
func Load() (*Config, error) {
	// Set default values
	viper.SetDefault("log_level", "INFO")
	viper.SetDefault("bind_address", getEnvOrDefault("PORT", "4000"))
	viper.SetDefault("default_run_timeout", "30s")
	viper.SetDefault("max_run_timeout", "5m")
	viper.SetDefault("max_output_size", 65536)
	viper.SetDefault("request_body_limit", 1048576) // 1MB
	viper.SetDefault("eager_init", true)
	viper.SetDefault("engine", "process")
	viper.SetDefault("python_path", "python3")
	viper.SetDefault("max_cpu_seconds", 60)
	viper.SetDefault("max_memory_mb", 512)
	viper.SetDefault("docker_image", "python:3.12-slim")
	viper.SetDefault("interpreter_version", "3.12.0")
	viper.SetDefault("docker_memory_limit", 134217728) // 128MB
	viper.SetDefault("docker_cpu_limit", 1.0)
	viper.SetDefault("docker_pids_limit", 50)
	viper.SetDefault("docker_start_timeout", "2m")

	// Set environment variable prefix
	viper.SetEnvPrefix("RUNNER")
	viper.AutomaticEnv()

	// Try to read config file
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("/etc/runner/")
	viper.AddConfigPath("$HOME/.runner/")

	// Read config file (optional)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// validate validates the configuration
func validate(config *Config) error {
	// Validate log level
	if _, err := logrus.ParseLevel(config.LogLevel); err != nil {
		return fmt.Errorf("invalid log level: %s", config.LogLevel)
	}

	if config.Engine != "process" && config.Engine != "docker" {
		return fmt.Errorf("engine must be one of process, docker; got %s", config.Engine)
	}

	if config.DefaultRunTimeout <= 0 {
		return fmt.Errorf("default_run_timeout must be positive")
	}

	if config.MaxRunTimeout > 0 && config.MaxRunTimeout < config.DefaultRunTimeout {
		return fmt.Errorf("max_run_timeout must not be below default_run_timeout")
	}

	if config.MaxOutputSize <= 0 {
		return fmt.Errorf("max_output_size must be positive")
	}

	return nil
}

// getEnvOrDefault gets environment variable or returns default value
func getEnvOrDefault(env, defaultValue string) string {
	if value := os.Getenv(env); value != "" {
		return value
	}
	return "0.0.0.0:" + defaultValue
}

// GetBindAddress returns the complete bind address
func (c *Config) GetBindAddress() string {
	if c.BindAddress == "" {
		return "0.0.0.0:4000"
	}
	return c.BindAddress
}

// GetLogLevel returns the parsed log level
func (c *Config) GetLogLevel() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

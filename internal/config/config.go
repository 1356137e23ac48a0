package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Paths        PathsConfig        `mapstructure:"paths"`
	Helper       HelperConfig       `mapstructure:"helper"`
	Transactions TransactionsConfig `mapstructure:"transactions"`
	Logging      LoggingConfig      `mapstructure:"logging"`

	// File is the configuration file that was read, empty when only
	// defaults and environment applied
	File string `mapstructure:"-"`
}

// PathsConfig contains path-related configuration
type PathsConfig struct {
	DataDir          string `mapstructure:"data_dir"`
	DBFile           string `mapstructure:"db_file"`
	LogFile          string `mapstructure:"log_file"`
	CacheDir         string `mapstructure:"cache_dir"`
	UserInstallDir   string `mapstructure:"user_install_dir"`
	SystemInstallDir string `mapstructure:"system_install_dir"`
}

// HelperConfig configures the privileged helper and how clients reach it
type HelperConfig struct {
	SocketPath     string        `mapstructure:"socket_path"`
	CheckTimeout   time.Duration `mapstructure:"check_timeout"`
	InstallCommand string        `mapstructure:"install_command"`
	AllowedUIDs    []uint32      `mapstructure:"allowed_uids"`
}

// TransactionsConfig configures transaction tracking
type TransactionsConfig struct {
	// IdleTimeout ends a subscription that receives no events for this
	// long. Zero disables it.
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level string `mapstructure:"level"`
	Color string `mapstructure:"color"`
}

// Load loads configuration from ~/.config/pahkat/config.toml, the working
// directory and PAHKAT_* environment variables
func Load() (*Config, error) {
	v := newViper()

	homeDir, err := os.UserHomeDir()
	if err == nil {
		v.AddConfigPath(filepath.Join(homeDir, ".config", "pahkat"))
	}
	v.AddConfigPath(".")
	v.SetConfigName("config")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file not found - use defaults
	}

	return decode(v)
}

// LoadFile loads configuration from an explicit file. The file must exist.
func LoadFile(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	return decode(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("toml")
	setDefaults(v)

	v.SetEnvPrefix("PAHKAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()

	cfg.Paths.DataDir = expandPath(cfg.Paths.DataDir)
	cfg.Paths.DBFile = expandPath(cfg.Paths.DBFile)
	cfg.Paths.LogFile = expandPath(cfg.Paths.LogFile)
	cfg.Paths.CacheDir = expandPath(cfg.Paths.CacheDir)
	cfg.Paths.UserInstallDir = expandPath(cfg.Paths.UserInstallDir)
	cfg.Paths.SystemInstallDir = expandPath(cfg.Paths.SystemInstallDir)
	cfg.Helper.SocketPath = expandPath(cfg.Helper.SocketPath)

	if cfg.Helper.CheckTimeout < 0 {
		return nil, fmt.Errorf("helper.check_timeout must not be negative")
	}
	if cfg.Transactions.IdleTimeout < 0 {
		return nil, fmt.Errorf("transactions.idle_timeout must not be negative")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	homeDir, err := os.UserHomeDir()
	if err != nil || homeDir == "" {
		homeDir = os.Getenv("HOME")
	}
	if homeDir == "" {
		homeDir = "."
	}

	dataDir := filepath.Join(homeDir, ".local", "share", "pahkat")
	v.SetDefault("paths.data_dir", dataDir)
	v.SetDefault("paths.db_file", filepath.Join(dataDir, "pahkat.db"))
	v.SetDefault("paths.log_file", filepath.Join(dataDir, "pahkat.log"))
	v.SetDefault("paths.cache_dir", filepath.Join(homeDir, ".cache", "pahkat"))
	v.SetDefault("paths.user_install_dir", filepath.Join(dataDir, "packages"))
	v.SetDefault("paths.system_install_dir", "/opt/pahkat/packages")

	v.SetDefault("helper.socket_path", "/var/run/pahkat-helper.sock")
	v.SetDefault("helper.check_timeout", time.Second)
	v.SetDefault("helper.install_command", "sudo -b {self} helper serve")
	v.SetDefault("helper.allowed_uids", []uint32{})

	v.SetDefault("transactions.idle_timeout", 10*time.Minute)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.color", "auto")
}

// expandPath expands ~ and environment variables in paths
func expandPath(path string) string {
	if path == "" {
		return path
	}

	if path[0] == '~' {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(homeDir, path[1:])
		}
	}

	return os.ExpandEnv(path)
}

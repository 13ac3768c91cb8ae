// Package config provides a reusable loader for pennycrdt session
// configuration files and environment variables.
//
// Version: v0.1.0
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"pennycrdt/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Config is the unified configuration for a pennycrdt session: where
// projects live by default, how verbose logging should be, and which
// environment variable carries the keystore passphrase.
type Config struct {
	Storage struct {
		Root           string `mapstructure:"root" json:"root"`
		DefaultProject string `mapstructure:"default_project" json:"default_project"`
	} `mapstructure:"storage" json:"storage"`

	Keystore struct {
		Home          string `mapstructure:"home" json:"home"`
		PassphraseEnv string `mapstructure:"passphrase_env" json:"passphrase_env"`
	} `mapstructure:"keystore" json:"keystore"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
	} `mapstructure:"logging" json:"logging"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads configuration files and merges any environment-specific
// overrides. The resulting configuration is stored in AppConfig and
// returned. If no config file is present, Load falls back to built-in
// defaults rather than failing — a library caller should not need a config
// file on disk to get a working session.
func Load(env string) (*Config, error) {
	viper.SetConfigName("pennycrdt")
	viper.AddConfigPath(".")
	if configDir, err := os.UserConfigDir(); err == nil {
		viper.AddConfigPath(filepath.Join(configDir, "pennycrdt"))
	}
	viper.SetConfigType("yaml")

	defaultKeystoreHome := ""
	if configDir, err := os.UserConfigDir(); err == nil {
		defaultKeystoreHome = filepath.Join(configDir, "pennycrdt")
	}
	viper.SetDefault("storage.root", ".")
	viper.SetDefault("keystore.home", defaultKeystoreHome)
	viper.SetDefault("keystore.passphrase_env", "PENNYCRDT_PASSPHRASE")
	viper.SetDefault("logging.level", "info")

	// Bind the exact env var names this session's CLI documents, since
	// viper.AutomaticEnv alone won't match dotted keys like "keystore.home"
	// against an underscored shell variable.
	_ = viper.BindEnv("keystore.home", "PENNYCRDT_HOME")
	_ = viper.BindEnv("logging.level", "LOG_LEVEL")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, utils.Wrap(err, "load config")
		}
	}

	if env != "" {
		viper.SetConfigName("pennycrdt." + env)
		if err := viper.MergeInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
			}
		}
	}

	viper.AutomaticEnv()

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the PENNYCRDT_ENV environment
// variable to select an override file.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("PENNYCRDT_ENV", ""))
}

// Package config loads embermqd's configuration file. It is used only
// by the cmd package; the broker core never reads from disk or from
// viper directly.
package config

import (
	"fmt"

	homedir "github.com/mitchellh/go-homedir"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config is the subset of settings embermqd reads from file or
// environment, layered under whatever flags the caller already set on
// top of viper.
type Config struct {
	ListenAddress string `mapstructure:"listen_address"`
	LogLevel      string `mapstructure:"log_level"`
}

// Defaults returns the configuration used when no file, flag, or
// environment variable overrides a setting.
func Defaults() Config {
	return Config{
		ListenAddress: "0.0.0.0:1883",
		LogLevel:      "info",
	}
}

// Load reads embermqd's config file, if one is present, into v and
// unmarshals the result. cfgFile overrides the default search path of
// $HOME/.embermqd.yaml when non-empty.
func Load(v *viper.Viper, cfgFile string) (Config, error) {
	cfg := Defaults()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			return cfg, fmt.Errorf("finding home directory: %w", err)
		}
		v.AddConfigPath(home)
		v.SetConfigName(".embermqd")
	}

	v.SetEnvPrefix("EMBERMQD")
	v.AutomaticEnv()
	// Unmarshal only sees keys viper knows about, so register each
	// setting with its default for the environment lookup to apply.
	v.SetDefault("listen_address", cfg.ListenAddress)
	v.SetDefault("log_level", cfg.LogLevel)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return cfg, fmt.Errorf("reading config file: %w", err)
		}
		log.Debug("no config file found, using defaults and flags")
	} else {
		log.WithField("file", v.ConfigFileUsed()).Debug("loaded config file")
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

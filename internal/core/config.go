package core

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/dcrodman/hl7mllp/hl7"
)

// Config contains all of the configuration options available to the
// hl7mllp command.
type Config struct {
	// Full path to file to which logs will be written. Blank will write to stdout.
	LogFilePath string `mapstructure:"log_file_path"`
	// Minimum level of a log required to be written. Options: debug, info, warn, error
	LogLevel string `mapstructure:"log_level"`
	// Address of the HTTP endpoint exposing Prometheus metrics. Blank disables it.
	MetricsAddress string `mapstructure:"metrics_address"`
	// Acknowledgement code sent for every received message by the serve command.
	AckCode string `mapstructure:"ack_code"`

	// Bind settings shared by every listener. Handed as-is to
	// server.NormalizeServerOptions.
	Server map[string]interface{} `mapstructure:"server"`
	// One entry per inbound port. Each is handed as-is to
	// server.NormalizeListenerOptions.
	Listeners []map[string]interface{} `mapstructure:"listeners"`
}

const envVarPrefix = "HL7MLLP"

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("ack_code", hl7.ApplicationAccept)
}

// LoadConfig reads config.yaml from configPath, overlaying any environment
// variables prefixed with HL7MLLP.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	v.AddConfigPath(configPath)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	setDefaults(v)

	v.SetEnvPrefix(envVarPrefix)
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: no config file in path %s", configPath)
		}
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// This allows us to set nested yaml config options through environment
	// variables. For example, server.bind_address can be set using: <envVarPrefix>_SERVER_BIND_ADDRESS
	for _, k := range v.AllKeys() {
		envVar := strings.ReplaceAll(strings.ToUpper(k), ".", "_")
		if err := v.BindEnv(k, envVarPrefix+"_"+envVar); err != nil {
			return nil, fmt.Errorf("error binding %s to %s: %w", k, envVarPrefix+"_"+envVar, err)
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config object: %w", err)
	}
	if len(config.Listeners) == 0 {
		return nil, errors.New("config must define at least one listener")
	}
	return config, nil
}

// ServerOptions returns the raw server options, including values overridden
// through the environment.
func (c *Config) ServerOptions() map[string]interface{} {
	if c.Server == nil {
		return map[string]interface{}{}
	}
	return c.Server
}

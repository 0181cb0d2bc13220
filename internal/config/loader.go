package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	envConfigDefaultPath = "OPENMALL_CONFIG_DEFAULT_PATH"
	defaultConfigName    = "realtime.yaml"
)

// Load builds configuration from defaults, optional config file, env vars, and returns the resolved path.
// Precedence: defaults < config file < env vars.
func Load(logger *zerolog.Logger, explicitPath string) (Config, string, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetDefault("base_url", cfg.BaseURL)
	v.SetDefault("handshake_path", cfg.HandshakePath)
	v.SetDefault("transports", cfg.Transports)
	v.SetDefault("reconnect_delay", cfg.ReconnectDelay)
	v.SetDefault("heartbeat_interval", cfg.HeartbeatInterval)
	v.SetDefault("logout_grace_window", cfg.LogoutGraceWindow)
	v.SetDefault("recent_events_limit", cfg.RecentEventsLimit)
	v.SetDefault("topics.user_queue", cfg.Topics.UserQueue)
	v.SetDefault("topics.role_broadcast", cfg.Topics.RoleBroadcast)
	v.SetDefault("topics.general_broadcast", cfg.Topics.GeneralBroadcast)
	v.SetDefault("topics.session_wildcard", cfg.Topics.SessionWildcard)
	v.SetDefault("destinations.send_message", cfg.Destinations.SendMessage)
	v.SetDefault("destinations.mark_read", cfg.Destinations.MarkRead)
	v.SetDefault("log_level", cfg.LogLevel)

	v.SetEnvPrefix("OPENMALL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	configPath := resolveConfigPath(explicitPath)
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			if writeErr := writeDefaultConfig(configPath, cfg); writeErr != nil && logger != nil {
				logger.Warn().Err(writeErr).Str("path", configPath).Msg("failed to write default config")
			} else if logger != nil {
				logger.Info().Str("path", configPath).Msg("created default config")
			}
			// try reading again in case it was just written
			if readErr := v.ReadInConfig(); readErr != nil && logger != nil {
				logger.Warn().Err(readErr).Str("path", configPath).Msg("failed to read config after writing default")
			}
		} else {
			return cfg, configPath, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, configPath, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, configPath, nil
}

func resolveConfigPath(explicitPath string) string {
	if explicitPath != "" {
		return explicitPath
	}

	if base := os.Getenv(envConfigDefaultPath); base != "" {
		if err := os.MkdirAll(base, 0o755); err == nil {
			return filepath.Join(base, defaultConfigName)
		}
	}

	cwd, err := os.Getwd()
	if err != nil {
		return defaultConfigName
	}
	return filepath.Join(cwd, defaultConfigName)
}

func writeDefaultConfig(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

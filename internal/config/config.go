package config

import "time"

// Config holds all settings for the real-time client.
type Config struct {
	// BaseURL is the storefront backend root, e.g. "https://shop.example.com".
	// The websocket endpoint and the REST API are derived from it.
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`

	// HandshakePath is appended to BaseURL to form the handshake URL.
	HandshakePath string `mapstructure:"handshake_path" yaml:"handshake_path"`

	// Transports lists transport names in dial preference order.
	Transports []string `mapstructure:"transports" yaml:"transports"`

	ReconnectDelay    time.Duration `mapstructure:"reconnect_delay" yaml:"reconnect_delay"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" yaml:"heartbeat_interval"`

	// LogoutGraceWindow suppresses forced-logout events that arrive right
	// after connecting; they are echoes of this client's own login.
	LogoutGraceWindow time.Duration `mapstructure:"logout_grace_window" yaml:"logout_grace_window"`

	// RecentEventsLimit bounds the in-memory notification feed.
	RecentEventsLimit int `mapstructure:"recent_events_limit" yaml:"recent_events_limit"`

	Topics       Topics       `mapstructure:"topics" yaml:"topics"`
	Destinations Destinations `mapstructure:"destinations" yaml:"destinations"`

	LogLevel string `mapstructure:"log_level" yaml:"log_level"`
}

// Topics is the fixed subscription set established on every connect.
type Topics struct {
	UserQueue        string `mapstructure:"user_queue" yaml:"user_queue"`
	RoleBroadcast    string `mapstructure:"role_broadcast" yaml:"role_broadcast"`
	GeneralBroadcast string `mapstructure:"general_broadcast" yaml:"general_broadcast"`
	SessionWildcard  string `mapstructure:"session_wildcard" yaml:"session_wildcard"`
}

// Destinations are the outbound publish targets.
type Destinations struct {
	SendMessage string `mapstructure:"send_message" yaml:"send_message"`
	MarkRead    string `mapstructure:"mark_read" yaml:"mark_read"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		BaseURL:           "http://localhost:8080",
		HandshakePath:     "/api/ws",
		Transports:        []string{"websocket", "http-streaming", "http-polling"},
		ReconnectDelay:    5 * time.Second,
		HeartbeatInterval: 10 * time.Second,
		LogoutGraceWindow: time.Second,
		RecentEventsLimit: 200,
		Topics: Topics{
			UserQueue:        "/user/queue/notifications",
			RoleBroadcast:    "/topic/merchant/notifications",
			GeneralBroadcast: "/topic/notifications",
			SessionWildcard:  "/topic/session/*",
		},
		Destinations: Destinations{
			SendMessage: "/app/chat.send",
			MarkRead:    "/app/chat.mark-read",
		},
		LogLevel: "info",
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.BaseURL != "" {
		c.BaseURL = other.BaseURL
	}
	if other.HandshakePath != "" {
		c.HandshakePath = other.HandshakePath
	}
	if len(other.Transports) > 0 {
		c.Transports = other.Transports
	}
	if other.ReconnectDelay != 0 {
		c.ReconnectDelay = other.ReconnectDelay
	}
	if other.HeartbeatInterval != 0 {
		c.HeartbeatInterval = other.HeartbeatInterval
	}
	if other.LogoutGraceWindow != 0 {
		c.LogoutGraceWindow = other.LogoutGraceWindow
	}
	if other.RecentEventsLimit != 0 {
		c.RecentEventsLimit = other.RecentEventsLimit
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
}

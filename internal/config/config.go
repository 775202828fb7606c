// Package config provides Viper-based configuration loading for the party server.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// WebSocketConfig holds websocket listener settings.
type WebSocketConfig struct {
	// Enabled controls whether the websocket acceptor is started.
	Enabled bool `mapstructure:"enabled"`
	// Host is the bind address for the websocket listener.
	Host string `mapstructure:"host"`
	// Port is the TCP port for the websocket listener.
	Port int `mapstructure:"port"`
	// Path is the HTTP path the upgrade handler is mounted on.
	Path string `mapstructure:"path"`
	// WriteTimeout is the per-frame write deadline.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// PongTimeout is how long to wait for a pong before considering the peer gone.
	PongTimeout time.Duration `mapstructure:"pong_timeout"`
	// MaxMessageBytes caps the size of a single inbound frame.
	MaxMessageBytes int64 `mapstructure:"max_message_bytes"`
}

// Addr returns the "host:port" listen address.
func (w WebSocketConfig) Addr() string {
	return fmt.Sprintf("%s:%d", w.Host, w.Port)
}

// TCPConfig holds raw TCP listener settings. Messages are newline-framed JSON.
type TCPConfig struct {
	// Enabled controls whether the TCP acceptor is started.
	Enabled bool `mapstructure:"enabled"`
	// Host is the bind address for the TCP listener.
	Host string `mapstructure:"host"`
	// Port is the TCP port for the listener.
	Port int `mapstructure:"port"`
	// ReadTimeout is the per-read timeout for TCP connections.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the per-write timeout for TCP connections.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// MaxLineBytes caps the size of a single newline-framed message.
	MaxLineBytes int `mapstructure:"max_line_bytes"`
}

// Addr returns the "host:port" listen address.
func (t TCPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", t.Host, t.Port)
}

// RoomsConfig holds room lifecycle and capacity settings.
type RoomsConfig struct {
	// DefaultCapacity is the member capacity used when a create request omits one.
	DefaultCapacity int `mapstructure:"default_capacity"`
	// MaxCapacity is the largest capacity a create request may ask for.
	MaxCapacity int `mapstructure:"max_capacity"`
	// MaxRooms is the global room-count ceiling. 0 disables the ceiling.
	MaxRooms int `mapstructure:"max_rooms"`
	// MinMembersToStart is the minimum member count before StartGame succeeds.
	MinMembersToStart int `mapstructure:"min_members_to_start"`
	// IdleTimeout closes an Open room that has seen no joins for this duration.
	// 0 disables idle reaping.
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
}

// ProtocolConfig holds per-connection protocol policy settings.
type ProtocolConfig struct {
	// MaxMalformed is the number of undecodable messages tolerated per
	// connection before it is closed.
	MaxMalformed int `mapstructure:"max_malformed"`
	// OutboundQueue is the per-connection outbound message buffer size.
	OutboundQueue int `mapstructure:"outbound_queue"`
	// OverflowPolicy selects what happens when the outbound queue is full:
	// "drop" discards the message, "disconnect" tears the connection down.
	OverflowPolicy string `mapstructure:"overflow_policy"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
}

// ScriptingConfig holds Lua game-handler settings.
type ScriptingConfig struct {
	// GamesDir is the directory of game-type manifests. Empty disables manifests.
	GamesDir string `mapstructure:"games_dir"`
	// ScriptRoot is the root directory for Lua game scripts.
	ScriptRoot string `mapstructure:"script_root"`
	// InstructionLimit is the per-hook Lua opcode budget. 0 uses the default.
	InstructionLimit int `mapstructure:"instruction_limit"`
}

// Config is the top-level application configuration.
type Config struct {
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	TCP       TCPConfig       `mapstructure:"tcp"`
	Rooms     RoomsConfig     `mapstructure:"rooms"`
	Protocol  ProtocolConfig  `mapstructure:"protocol"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Scripting ScriptingConfig `mapstructure:"scripting"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string

	if !c.WebSocket.Enabled && !c.TCP.Enabled {
		errs = append(errs, "at least one of websocket or tcp must be enabled")
	}
	if err := validateWebSocket(c.WebSocket); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateTCP(c.TCP); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateRooms(c.Rooms); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateProtocol(c.Protocol); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateLogging(c.Logging); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateWebSocket(w WebSocketConfig) error {
	if !w.Enabled {
		return nil
	}
	var errs []string
	if w.Port < 1 || w.Port > 65535 {
		errs = append(errs, fmt.Sprintf("websocket.port must be 1-65535, got %d", w.Port))
	}
	if !strings.HasPrefix(w.Path, "/") {
		errs = append(errs, fmt.Sprintf("websocket.path must begin with '/', got %q", w.Path))
	}
	if w.MaxMessageBytes < 1 {
		errs = append(errs, fmt.Sprintf("websocket.max_message_bytes must be >= 1, got %d", w.MaxMessageBytes))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateTCP(t TCPConfig) error {
	if !t.Enabled {
		return nil
	}
	var errs []string
	if t.Port < 1 || t.Port > 65535 {
		errs = append(errs, fmt.Sprintf("tcp.port must be 1-65535, got %d", t.Port))
	}
	if t.ReadTimeout < 0 {
		errs = append(errs, "tcp.read_timeout must not be negative")
	}
	if t.WriteTimeout < 0 {
		errs = append(errs, "tcp.write_timeout must not be negative")
	}
	if t.MaxLineBytes < 1 {
		errs = append(errs, fmt.Sprintf("tcp.max_line_bytes must be >= 1, got %d", t.MaxLineBytes))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateRooms(r RoomsConfig) error {
	var errs []string
	if r.DefaultCapacity < 1 {
		errs = append(errs, fmt.Sprintf("rooms.default_capacity must be >= 1, got %d", r.DefaultCapacity))
	}
	if r.MaxCapacity < r.DefaultCapacity {
		errs = append(errs, "rooms.max_capacity must not be less than rooms.default_capacity")
	}
	if r.MaxRooms < 0 {
		errs = append(errs, fmt.Sprintf("rooms.max_rooms must be >= 0, got %d", r.MaxRooms))
	}
	if r.MinMembersToStart < 1 {
		errs = append(errs, fmt.Sprintf("rooms.min_members_to_start must be >= 1, got %d", r.MinMembersToStart))
	}
	if r.IdleTimeout < 0 {
		errs = append(errs, "rooms.idle_timeout must not be negative")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateProtocol(p ProtocolConfig) error {
	var errs []string
	if p.MaxMalformed < 1 {
		errs = append(errs, fmt.Sprintf("protocol.max_malformed must be >= 1, got %d", p.MaxMalformed))
	}
	if p.OutboundQueue < 1 {
		errs = append(errs, fmt.Sprintf("protocol.outbound_queue must be >= 1, got %d", p.OutboundQueue))
	}
	validPolicies := map[string]bool{"drop": true, "disconnect": true}
	if !validPolicies[p.OverflowPolicy] {
		errs = append(errs, fmt.Sprintf("protocol.overflow_policy must be one of [drop, disconnect], got %q", p.OverflowPolicy))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	return nil
}

// Load reads configuration from the given file path, applies environment variable
// overrides, and validates the result.
//
// Precondition: path must be a valid file path to a YAML configuration file.
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	// Environment variable overrides with PARTY_ prefix
	v.SetEnvPrefix("PARTY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil and have configuration values set.
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("websocket.enabled", true)
	v.SetDefault("websocket.host", "0.0.0.0")
	v.SetDefault("websocket.port", 8000)
	v.SetDefault("websocket.path", "/ws")
	v.SetDefault("websocket.write_timeout", "10s")
	v.SetDefault("websocket.pong_timeout", "60s")
	v.SetDefault("websocket.max_message_bytes", 4096)

	v.SetDefault("tcp.enabled", false)
	v.SetDefault("tcp.host", "0.0.0.0")
	v.SetDefault("tcp.port", 4000)
	v.SetDefault("tcp.read_timeout", "5m")
	v.SetDefault("tcp.write_timeout", "30s")
	v.SetDefault("tcp.max_line_bytes", 4096)

	v.SetDefault("rooms.default_capacity", 6)
	v.SetDefault("rooms.max_capacity", 16)
	v.SetDefault("rooms.max_rooms", 4096)
	v.SetDefault("rooms.min_members_to_start", 2)
	v.SetDefault("rooms.idle_timeout", "10m")

	v.SetDefault("protocol.max_malformed", 5)
	v.SetDefault("protocol.outbound_queue", 64)
	v.SetDefault("protocol.overflow_policy", "drop")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scripting.games_dir", "")
	v.SetDefault("scripting.script_root", "content/scripts/games")
	v.SetDefault("scripting.instruction_limit", 100000)
}

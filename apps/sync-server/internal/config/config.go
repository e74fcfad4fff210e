package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	// Service information
	Service struct {
		Name        string `yaml:"name"`
		Version     string `yaml:"version"`
		Description string `yaml:"description"`
		Environment string `yaml:"environment"`
	} `yaml:"service"`

	HTTP      HTTPConfig      `yaml:"http"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	GRPC      GRPCConfig      `yaml:"grpc"`
	Log       LogConfig       `yaml:"log"`
	Heartbeat HeartbeatConfig `yaml:"heartbeat"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	WebRTC    WebRTCConfig    `yaml:"webrtc"`
	Feedback  FeedbackConfig  `yaml:"feedback"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
}

// HTTPConfig represents HTTP server configuration
type HTTPConfig struct {
	Address         string        `yaml:"address"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
}

// WebSocketConfig represents WebSocket server configuration
type WebSocketConfig struct {
	Path             string        `yaml:"path"`
	BufferSize       int           `yaml:"buffer_size"`
	MaxMessageSize   int64         `yaml:"max_message_size"`
	SendQueueSize    int           `yaml:"send_queue_size"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	PongWait         time.Duration `yaml:"pong_wait"`
	PingPeriod       time.Duration `yaml:"ping_period"`
	WriteWait        time.Duration `yaml:"write_wait"`
}

// GRPCConfig represents gRPC server configuration
type GRPCConfig struct {
	Address              string        `yaml:"address"`
	KeepAliveTime        time.Duration `yaml:"keepalive_time"`
	KeepAliveTimeout     time.Duration `yaml:"keepalive_timeout"`
	MaxConcurrentStreams int           `yaml:"max_concurrent_streams"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	// Sink is "stdout", "stderr" or "file:<path>"
	Sink string `yaml:"sink"`
}

// HeartbeatConfig controls liveness detection. ReconnectAfter and EvictAfter
// default to 2x and 5x Interval when left zero.
type HeartbeatConfig struct {
	Interval       time.Duration `yaml:"interval"`
	ReconnectAfter time.Duration `yaml:"reconnect_after"`
	EvictAfter     time.Duration `yaml:"evict_after"`
	SweepInterval  time.Duration `yaml:"sweep_interval"`
}

// ReconnectConfig controls coordinator reconnection
type ReconnectConfig struct {
	MaxAttempts      int           `yaml:"max_attempts"`
	BaseDelay        time.Duration `yaml:"base_delay"`
	MaxDelay         time.Duration `yaml:"max_delay"`
	Strategy         string        `yaml:"strategy"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
}

// ICEServerConfig is one STUN/TURN server
type ICEServerConfig struct {
	URLs       []string `yaml:"urls"`
	Username   string   `yaml:"username"`
	Credential string   `yaml:"credential"`
}

// WebRTCConfig represents peer negotiation configuration
type WebRTCConfig struct {
	ICEServers         []ICEServerConfig `yaml:"ice_servers"`
	CaptureWidth       int               `yaml:"capture_width"`
	CaptureHeight      int               `yaml:"capture_height"`
	CaptureFrameRate   int               `yaml:"capture_frame_rate"`
	NegotiationTimeout time.Duration     `yaml:"negotiation_timeout"`
	DataChannelLabel   string            `yaml:"data_channel_label"`
}

// FeedbackConfig selects and configures the feedback store
type FeedbackConfig struct {
	Backend       string `yaml:"backend"`
	PebblePath    string `yaml:"pebble_path"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	RedisPrefix   string `yaml:"redis_prefix"`
	CacheSize     int    `yaml:"cache_size"`
}

// AuthConfig represents handshake token configuration
type AuthConfig struct {
	JWTSecret     string        `yaml:"jwt_secret"`
	JWTExpiration time.Duration `yaml:"jwt_expiration"`
	RequireToken  bool          `yaml:"require_token"`
}

// RateLimitConfig represents per-client inbound frame limiting
type RateLimitConfig struct {
	Enabled         bool          `yaml:"enabled"`
	FramesPerSecond float64       `yaml:"frames_per_second"`
	Burst           int           `yaml:"burst"`
	ExpirationTime  time.Duration `yaml:"expiration_time"`
}

// Feedback backends
const (
	BackendMemory = "memory"
	BackendPebble = "pebble"
	BackendRedis  = "redis"
)

// Reconnect strategies
const (
	StrategyLinear      = "linear"
	StrategyExponential = "exponential"
)

// Default returns the built-in configuration with derived values filled in
func Default() *Config {
	config := base()
	setDefaults(config)
	return config
}

// base holds the built-in values only. Heartbeat thresholds stay zero so
// they follow whatever interval the file or environment sets.
func base() *Config {
	config := &Config{
		HTTP: HTTPConfig{
			Address:         ":8086",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			AllowedOrigins:  []string{"*"},
		},
		WebSocket: WebSocketConfig{
			Path:             "/ws",
			BufferSize:       4096,
			MaxMessageSize:   64 * 1024,
			SendQueueSize:    256,
			HandshakeTimeout: 10 * time.Second,
			PongWait:         60 * time.Second,
			PingPeriod:       54 * time.Second,
			WriteWait:        10 * time.Second,
		},
		GRPC: GRPCConfig{
			Address:              ":8088",
			KeepAliveTime:        30 * time.Second,
			KeepAliveTimeout:     10 * time.Second,
			MaxConcurrentStreams: 100,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			Sink:   "stdout",
		},
		Heartbeat: HeartbeatConfig{
			Interval: 30 * time.Second,
		},
		Reconnect: ReconnectConfig{
			MaxAttempts:      5,
			BaseDelay:        time.Second,
			MaxDelay:         30 * time.Second,
			Strategy:         StrategyExponential,
			HandshakeTimeout: 10 * time.Second,
		},
		WebRTC: WebRTCConfig{
			ICEServers: []ICEServerConfig{
				{URLs: []string{"stun:stun.l.google.com:19302"}},
			},
			CaptureWidth:       1280,
			CaptureHeight:      720,
			CaptureFrameRate:   30,
			NegotiationTimeout: 15 * time.Second,
			DataChannelLabel:   "playback-control",
		},
		Feedback: FeedbackConfig{
			Backend:     BackendMemory,
			PebblePath:  "data/feedback",
			RedisAddr:   "localhost:6379",
			RedisPrefix: "broadcastsync",
			CacheSize:   1024,
		},
		Auth: AuthConfig{
			JWTExpiration: 24 * time.Hour,
		},
		RateLimit: RateLimitConfig{
			Enabled:         true,
			FramesPerSecond: 50,
			Burst:           100,
			ExpirationTime:  10 * time.Minute,
		},
	}
	config.Service.Name = "sync-server"
	config.Service.Version = "0.1.0"
	config.Service.Description = "Broadcast synchronization server"
	config.Service.Environment = "development"
	return config
}

// Load loads the configuration from a file. An empty path returns the
// defaults with environment overrides applied. A .env file in the working
// directory is loaded first when present.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	config := base()

	if path != "" {
		// Read the configuration file
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		// Parse the configuration
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// Apply environment overrides
	applyEnvironmentOverrides(config)
	setDefaults(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// setDefaults fills values derived from other fields
func setDefaults(config *Config) {
	hb := &config.Heartbeat
	if hb.Interval <= 0 {
		hb.Interval = 30 * time.Second
	}
	if hb.ReconnectAfter == 0 {
		hb.ReconnectAfter = 2 * hb.Interval
	}
	if hb.EvictAfter == 0 {
		hb.EvictAfter = 5 * hb.Interval
	}
	if hb.SweepInterval == 0 {
		hb.SweepInterval = hb.Interval
	}
	if config.Reconnect.Strategy == "" {
		config.Reconnect.Strategy = StrategyExponential
	}
	if config.Feedback.Backend == "" {
		config.Feedback.Backend = BackendMemory
	}
}

// Validate rejects configurations the components cannot run with
func (c *Config) Validate() error {
	var errs []error

	if c.Heartbeat.ReconnectAfter <= c.Heartbeat.Interval {
		errs = append(errs, errors.New("heartbeat.reconnect_after must exceed heartbeat.interval"))
	}
	if c.Heartbeat.EvictAfter <= c.Heartbeat.ReconnectAfter {
		errs = append(errs, errors.New("heartbeat.evict_after must exceed heartbeat.reconnect_after"))
	}
	if c.Reconnect.MaxAttempts < 1 {
		errs = append(errs, errors.New("reconnect.max_attempts must be at least 1"))
	}
	if c.Reconnect.BaseDelay <= 0 {
		errs = append(errs, errors.New("reconnect.base_delay must be positive"))
	}
	switch c.Reconnect.Strategy {
	case StrategyLinear, StrategyExponential:
	default:
		errs = append(errs, fmt.Errorf("unknown reconnect.strategy %q", c.Reconnect.Strategy))
	}
	switch c.Feedback.Backend {
	case BackendMemory, BackendPebble, BackendRedis:
	default:
		errs = append(errs, fmt.Errorf("unknown feedback.backend %q", c.Feedback.Backend))
	}
	if c.Auth.RequireToken && c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.require_token needs auth.jwt_secret"))
	}
	if c.WebRTC.NegotiationTimeout <= 0 {
		errs = append(errs, errors.New("webrtc.negotiation_timeout must be positive"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// applyEnvironmentOverrides applies environment overrides
func applyEnvironmentOverrides(config *Config) {
	// HTTP address
	if addr := os.Getenv("HTTP_ADDRESS"); addr != "" {
		config.HTTP.Address = addr
	}

	// gRPC address
	if addr := os.Getenv("GRPC_ADDRESS"); addr != "" {
		config.GRPC.Address = addr
	}

	// Logging
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		config.Log.Level = level
	}
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		config.Log.Format = format
	}
	if sink := os.Getenv("LOG_SINK"); sink != "" {
		config.Log.Sink = sink
	}

	// Heartbeat interval
	if v := os.Getenv("HEARTBEAT_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Heartbeat.Interval = d
		}
	}

	// Reconnect
	if v := os.Getenv("RECONNECT_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Reconnect.MaxAttempts = n
		}
	}
	if v := os.Getenv("RECONNECT_STRATEGY"); v != "" {
		config.Reconnect.Strategy = strings.ToLower(v)
	}

	// Feedback store
	if backend := os.Getenv("FEEDBACK_BACKEND"); backend != "" {
		config.Feedback.Backend = strings.ToLower(backend)
	}
	if path := os.Getenv("FEEDBACK_PEBBLE_PATH"); path != "" {
		config.Feedback.PebblePath = path
	}
	if addr := os.Getenv("REDIS_ADDRESS"); addr != "" {
		config.Feedback.RedisAddr = addr
	}
	if pw := os.Getenv("REDIS_PASSWORD"); pw != "" {
		config.Feedback.RedisPassword = pw
	}

	// Auth
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		config.Auth.JWTSecret = secret
	}
	if v := os.Getenv("REQUIRE_TOKEN"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			config.Auth.RequireToken = b
		}
	}

	// Environment
	if env := os.Getenv("ENVIRONMENT"); env != "" {
		config.Service.Environment = env
	}
}

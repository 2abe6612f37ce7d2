package bootstrap

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is loaded once at start and never mutated afterwards. Values come
// from an optional YAML file named by CONFIG_FILE, overridden by the
// environment.
type Config struct {
	ServerAddr string `yaml:"server_addr"`
	GRPCAddr   string `yaml:"grpc_addr"`
	LogLevel   string `yaml:"log_level"`
	LogFormat  string `yaml:"log_format"`

	STT      STTConfig      `yaml:"stt"`
	OpenAI   OpenAIConfig   `yaml:"openai"`
	Deepgram ProviderConfig `yaml:"deepgram"`
	Soniox   ProviderConfig `yaml:"soniox"`

	DatabaseDSN      string        `yaml:"database_dsn"`
	HistoryRetention time.Duration `yaml:"history_retention"`

	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
}

type STTConfig struct {
	Provider             string        `yaml:"provider"`
	DefaultProvider      string        `yaml:"default_provider"`
	Language             string        `yaml:"language"`
	SampleRate           int           `yaml:"sample_rate"`
	Channels             int           `yaml:"channels"`
	MinBufferBytes       int           `yaml:"min_buffer_bytes"`
	MaxBufferBytes       int           `yaml:"max_buffer_bytes"`
	SilenceTimeout       time.Duration `yaml:"silence_timeout"`
	ChunkedIdleTimeout   time.Duration `yaml:"chunked_idle_timeout"`
	StreamingIdleTimeout time.Duration `yaml:"streaming_idle_timeout"`
}

type OpenAIConfig struct {
	APIKey       string `yaml:"api_key"`
	BaseURL      string `yaml:"base_url"`
	WhisperModel string `yaml:"whisper_model"`
}

type ProviderConfig struct {
	APIKey string `yaml:"api_key"`
	URL    string `yaml:"url"`
	Model  string `yaml:"model"`
}

func defaultConfig() *Config {
	return &Config{
		ServerAddr: ":8080",
		GRPCAddr:   ":50051",
		LogLevel:   "info",
		LogFormat:  "json",
		STT: STTConfig{
			Provider:             "deepgram",
			DefaultProvider:      "deepgram",
			Language:             "en",
			SampleRate:           16000,
			Channels:             1,
			MinBufferBytes:       12000,
			MaxBufferBytes:       28000,
			SilenceTimeout:       400 * time.Millisecond,
			ChunkedIdleTimeout:   30 * time.Second,
			StreamingIdleTimeout: 60 * time.Second,
		},
		OpenAI: OpenAIConfig{
			WhisperModel: "whisper-1",
		},
		Deepgram: ProviderConfig{
			Model: "nova-2",
		},
		HistoryRetention: 30 * 24 * time.Hour,
		RedisAddr:        "localhost:6379",
	}
}

func LoadConfig() (*Config, error) {
	cfg := defaultConfig()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.ServerAddr = getEnv("SERVER_ADDR", c.ServerAddr)
	c.GRPCAddr = getEnv("GRPC_ADDR", c.GRPCAddr)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)

	c.STT.Provider = getEnv("STT_PROVIDER", c.STT.Provider)
	c.STT.DefaultProvider = getEnv("STT_DEFAULT_PROVIDER", c.STT.DefaultProvider)
	c.STT.Language = getEnv("STT_LANGUAGE", c.STT.Language)
	c.STT.SampleRate = getEnvInt("STT_SAMPLE_RATE", c.STT.SampleRate)
	c.STT.Channels = getEnvInt("STT_CHANNELS", c.STT.Channels)
	c.STT.MinBufferBytes = getEnvInt("STT_MIN_BUFFER_BYTES", c.STT.MinBufferBytes)
	c.STT.MaxBufferBytes = getEnvInt("STT_MAX_BUFFER_BYTES", c.STT.MaxBufferBytes)
	c.STT.SilenceTimeout = getEnvDuration("STT_SILENCE_TIMEOUT", c.STT.SilenceTimeout)
	c.STT.ChunkedIdleTimeout = getEnvDuration("STT_CHUNKED_IDLE_TIMEOUT", c.STT.ChunkedIdleTimeout)
	c.STT.StreamingIdleTimeout = getEnvDuration("STT_STREAMING_IDLE_TIMEOUT", c.STT.StreamingIdleTimeout)

	c.OpenAI.APIKey = getEnv("OPENAI_API_KEY", c.OpenAI.APIKey)
	c.OpenAI.BaseURL = getEnv("OPENAI_BASE_URL", c.OpenAI.BaseURL)
	c.OpenAI.WhisperModel = getEnv("WHISPER_MODEL", c.OpenAI.WhisperModel)

	c.Deepgram.APIKey = getEnv("DEEPGRAM_API_KEY", c.Deepgram.APIKey)
	c.Deepgram.URL = getEnv("DEEPGRAM_URL", c.Deepgram.URL)
	c.Deepgram.Model = getEnv("DEEPGRAM_MODEL", c.Deepgram.Model)

	c.Soniox.APIKey = getEnv("SONIOX_API_KEY", c.Soniox.APIKey)
	c.Soniox.URL = getEnv("SONIOX_URL", c.Soniox.URL)
	c.Soniox.Model = getEnv("SONIOX_MODEL", c.Soniox.Model)

	c.DatabaseDSN = getEnv("DATABASE_DSN", c.DatabaseDSN)
	c.HistoryRetention = getEnvDuration("HISTORY_RETENTION", c.HistoryRetention)

	c.RedisAddr = getEnv("REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = getEnv("REDIS_PASSWORD", c.RedisPassword)
	c.RedisDB = getEnvInt("REDIS_DB", c.RedisDB)
}

func (c *Config) Validate() error {
	var errs []error
	if c.STT.MinBufferBytes <= 0 || c.STT.MinBufferBytes >= c.STT.MaxBufferBytes {
		errs = append(errs, fmt.Errorf("min buffer bytes (%d) must be positive and below max buffer bytes (%d)",
			c.STT.MinBufferBytes, c.STT.MaxBufferBytes))
	}
	if c.STT.SilenceTimeout <= 0 {
		errs = append(errs, errors.New("silence timeout must be positive"))
	}
	if c.STT.SampleRate <= 0 {
		errs = append(errs, errors.New("sample rate must be positive"))
	}
	if c.STT.Channels <= 0 {
		errs = append(errs, errors.New("channels must be positive"))
	}
	if c.STT.ChunkedIdleTimeout <= 0 || c.STT.StreamingIdleTimeout <= 0 {
		errs = append(errs, errors.New("idle timeouts must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

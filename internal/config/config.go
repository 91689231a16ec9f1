// Package config provides configuration management for the filmy API server.
// Configuration is loaded from an optional YAML file and environment variables
// with sensible defaults. Environment variables take precedence over the file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// Default values
	DefaultHost      = "0.0.0.0"
	DefaultPort      = 8000
	DefaultLogLevel  = "info"
	DefaultDataDir   = "./data"
	DefaultTempDir   = "./data/temp_videos"
	DefaultOutputDir = "./data/output_videos"

	DefaultMaxVideoSizeMB   = 500
	DefaultSupportedFormats = "mp4,avi,mov,mkv,flv"

	DefaultStatusBackend = "memory"

	DefaultLLMBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai/"
	DefaultLLMModel   = "gemini-2.0-flash"
	DefaultLLMTimeout = 15 * time.Second

	DefaultFFmpegPath    = "ffmpeg"
	DefaultFFprobePath   = "ffprobe"
	DefaultPreset        = "veryfast"
	DefaultCRF           = 23
	DefaultVideoBitrate  = ""
	DefaultAudioBitrate  = "128k"
	DefaultEncodeTimeout = 30 * time.Minute
	DefaultDenoiseChunk  = 30 * time.Second

	DefaultMaxConcurrentEdits = 2
	DefaultStatusPollInterval = time.Second
	DefaultRateLimitPerMinute = 60
	DefaultCORSOrigins        = "*"

	// Environment variable names
	EnvConfigFile  = "FILMY_CONFIG"
	EnvHost        = "FILMY_HOST"
	EnvPort        = "FILMY_PORT"
	EnvLogLevel    = "FILMY_LOG_LEVEL"
	EnvDataDir     = "FILMY_DATA_DIR"
	EnvTempDir     = "FILMY_TEMP_VIDEO_DIR"
	EnvOutputDir   = "FILMY_OUTPUT_VIDEO_DIR"
	EnvAPIKey      = "FILMY_API_KEY"
	EnvMaxSizeMB   = "FILMY_MAX_VIDEO_SIZE_MB"
	EnvFormats     = "FILMY_SUPPORTED_FORMATS"
	EnvStrictType  = "FILMY_STRICT_CONTENT_TYPE"
	EnvCORSOrigins = "FILMY_CORS_ORIGINS"

	EnvStatusBackend = "FILMY_STATUS_BACKEND"
	EnvRedisAddr     = "FILMY_REDIS_ADDR"
	EnvRedisPassword = "FILMY_REDIS_PASSWORD"
	EnvRedisDB       = "FILMY_REDIS_DB"

	EnvGeminiAPIKey = "GEMINI_API_KEY"
	EnvLLMAPIKey    = "FILMY_LLM_API_KEY"
	EnvLLMBaseURL   = "FILMY_LLM_BASE_URL"
	EnvLLMModel     = "FILMY_LLM_MODEL"
	EnvLLMTimeout   = "FILMY_LLM_TIMEOUT"

	EnvFFmpegPath    = "FILMY_FFMPEG_PATH"
	EnvFFprobePath   = "FILMY_FFPROBE_PATH"
	EnvPreset        = "FILMY_ENCODE_PRESET"
	EnvCRF           = "FILMY_ENCODE_CRF"
	EnvVideoBitrate  = "FILMY_ENCODE_VIDEO_BITRATE"
	EnvAudioBitrate  = "FILMY_ENCODE_AUDIO_BITRATE"
	EnvEncodeTimeout = "FILMY_ENCODE_TIMEOUT"

	EnvMaxConcurrentEdits = "FILMY_MAX_CONCURRENT_EDITS"
	EnvRateLimit          = "FILMY_RATE_LIMIT_PER_MINUTE"

	// Database filename
	DBFilename = "filmy.db"
)

// Config defines the application configuration interface
type Config interface {
	Addr() string
	Port() int
	LogLevel() string
	DataDir() string
	DBPath() string
	TempDir() string
	OutputDir() string
	APIKey() string
	MaxVideoSizeBytes() int64
	SupportedFormats() []string
	StrictContentType() bool
	CORSOrigins() []string

	StatusBackend() string
	RedisAddr() string
	RedisPassword() string
	RedisDB() int

	LLMEnabled() bool
	LLMAPIKey() string
	LLMBaseURL() string
	LLMModel() string
	LLMTimeout() time.Duration

	FFmpegPath() string
	FFprobePath() string
	Encode() EncodeSettings
	EncodeTimeout() time.Duration
	DenoiseChunk() time.Duration

	MaxConcurrentEdits() int
	StatusPollInterval() time.Duration
	RateLimitPerMinute() int
}

// EncodeSettings is the preset / bitrate / quality triple handed to the renderer.
type EncodeSettings struct {
	Preset       string `yaml:"preset"`
	CRF          int    `yaml:"crf"`
	VideoBitrate string `yaml:"video_bitrate"`
	AudioBitrate string `yaml:"audio_bitrate"`
}

// fileConfig mirrors the optional YAML configuration file.
type fileConfig struct {
	Host              string         `yaml:"host"`
	Port              int            `yaml:"port"`
	LogLevel          string         `yaml:"log_level"`
	DataDir           string         `yaml:"data_dir"`
	TempDir           string         `yaml:"temp_video_dir"`
	OutputDir         string         `yaml:"output_video_dir"`
	MaxVideoSizeMB    int            `yaml:"max_video_size_mb"`
	SupportedFormats  string         `yaml:"supported_formats"`
	StrictContentType *bool          `yaml:"strict_content_type"`
	CORSOrigins       string         `yaml:"cors_origins"`
	StatusBackend     string         `yaml:"status_backend"`
	RedisAddr         string         `yaml:"redis_addr"`
	RedisDB           int            `yaml:"redis_db"`
	LLMBaseURL        string         `yaml:"llm_base_url"`
	LLMModel          string         `yaml:"llm_model"`
	LLMTimeout        string         `yaml:"llm_timeout"`
	FFmpegPath        string         `yaml:"ffmpeg_path"`
	FFprobePath       string         `yaml:"ffprobe_path"`
	Encode            EncodeSettings `yaml:"encode"`
	EncodeTimeout     string         `yaml:"encode_timeout"`
	MaxConcurrent     int            `yaml:"max_concurrent_edits"`
	RateLimit         int            `yaml:"rate_limit_per_minute"`
}

// EnvConfig reads configuration from the YAML file and environment variables
type EnvConfig struct {
	host              string
	port              int
	logLevel          string
	dataDir           string
	tempDir           string
	outputDir         string
	apiKey            string
	maxVideoSizeMB    int
	supportedFormats  []string
	strictContentType bool
	corsOrigins       []string

	statusBackend string
	redisAddr     string
	redisPassword string
	redisDB       int

	llmAPIKey  string
	llmBaseURL string
	llmModel   string
	llmTimeout time.Duration

	ffmpegPath    string
	ffprobePath   string
	encode        EncodeSettings
	encodeTimeout time.Duration

	maxConcurrentEdits int
	rateLimit          int
}

// New creates a new EnvConfig with defaults, file values and environment variable overrides
func New() (*EnvConfig, error) {
	cfg := &EnvConfig{
		host:             DefaultHost,
		port:             DefaultPort,
		logLevel:         DefaultLogLevel,
		dataDir:          DefaultDataDir,
		tempDir:          DefaultTempDir,
		outputDir:        DefaultOutputDir,
		maxVideoSizeMB:   DefaultMaxVideoSizeMB,
		supportedFormats: splitList(DefaultSupportedFormats),
		corsOrigins:      splitOrigins(DefaultCORSOrigins),
		statusBackend:    DefaultStatusBackend,
		llmBaseURL:       DefaultLLMBaseURL,
		llmModel:         DefaultLLMModel,
		llmTimeout:       DefaultLLMTimeout,
		ffmpegPath:       DefaultFFmpegPath,
		ffprobePath:      DefaultFFprobePath,
		encode: EncodeSettings{
			Preset:       DefaultPreset,
			CRF:          DefaultCRF,
			VideoBitrate: DefaultVideoBitrate,
			AudioBitrate: DefaultAudioBitrate,
		},
		encodeTimeout:      DefaultEncodeTimeout,
		maxConcurrentEdits: DefaultMaxConcurrentEdits,
		rateLimit:          DefaultRateLimitPerMinute,
	}

	if path := os.Getenv(EnvConfigFile); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.loadEnv(); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *EnvConfig) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	setString(&c.host, fc.Host)
	setString(&c.logLevel, fc.LogLevel)
	setString(&c.dataDir, fc.DataDir)
	setString(&c.tempDir, fc.TempDir)
	setString(&c.outputDir, fc.OutputDir)
	setString(&c.statusBackend, fc.StatusBackend)
	setString(&c.redisAddr, fc.RedisAddr)
	setString(&c.llmBaseURL, fc.LLMBaseURL)
	setString(&c.llmModel, fc.LLMModel)
	setString(&c.ffmpegPath, fc.FFmpegPath)
	setString(&c.ffprobePath, fc.FFprobePath)
	setString(&c.encode.Preset, fc.Encode.Preset)
	setString(&c.encode.VideoBitrate, fc.Encode.VideoBitrate)
	setString(&c.encode.AudioBitrate, fc.Encode.AudioBitrate)

	if fc.Port != 0 {
		c.port = fc.Port
	}
	if fc.MaxVideoSizeMB != 0 {
		c.maxVideoSizeMB = fc.MaxVideoSizeMB
	}
	if fc.SupportedFormats != "" {
		c.supportedFormats = splitList(fc.SupportedFormats)
	}
	if fc.CORSOrigins != "" {
		c.corsOrigins = splitOrigins(fc.CORSOrigins)
	}
	if fc.StrictContentType != nil {
		c.strictContentType = *fc.StrictContentType
	}
	if fc.RedisDB != 0 {
		c.redisDB = fc.RedisDB
	}
	if fc.Encode.CRF != 0 {
		c.encode.CRF = fc.Encode.CRF
	}
	if fc.MaxConcurrent != 0 {
		c.maxConcurrentEdits = fc.MaxConcurrent
	}
	if fc.RateLimit != 0 {
		c.rateLimit = fc.RateLimit
	}
	if fc.LLMTimeout != "" {
		d, err := time.ParseDuration(fc.LLMTimeout)
		if err != nil {
			return fmt.Errorf("invalid llm_timeout: %w", err)
		}
		c.llmTimeout = d
	}
	if fc.EncodeTimeout != "" {
		d, err := time.ParseDuration(fc.EncodeTimeout)
		if err != nil {
			return fmt.Errorf("invalid encode_timeout: %w", err)
		}
		c.encodeTimeout = d
	}
	return nil
}

func (c *EnvConfig) loadEnv() error {
	// Override port from environment
	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		c.port = port
	}

	setString(&c.host, os.Getenv(EnvHost))
	setString(&c.logLevel, os.Getenv(EnvLogLevel))
	setString(&c.dataDir, os.Getenv(EnvDataDir))
	setString(&c.tempDir, os.Getenv(EnvTempDir))
	setString(&c.outputDir, os.Getenv(EnvOutputDir))
	setString(&c.apiKey, os.Getenv(EnvAPIKey))
	setString(&c.statusBackend, os.Getenv(EnvStatusBackend))
	setString(&c.redisAddr, os.Getenv(EnvRedisAddr))
	setString(&c.redisPassword, os.Getenv(EnvRedisPassword))
	setString(&c.llmBaseURL, os.Getenv(EnvLLMBaseURL))
	setString(&c.llmModel, os.Getenv(EnvLLMModel))
	setString(&c.ffmpegPath, os.Getenv(EnvFFmpegPath))
	setString(&c.ffprobePath, os.Getenv(EnvFFprobePath))
	setString(&c.encode.Preset, os.Getenv(EnvPreset))
	setString(&c.encode.VideoBitrate, os.Getenv(EnvVideoBitrate))
	setString(&c.encode.AudioBitrate, os.Getenv(EnvAudioBitrate))

	// GEMINI_API_KEY is honoured for compatibility; FILMY_LLM_API_KEY wins.
	setString(&c.llmAPIKey, os.Getenv(EnvGeminiAPIKey))
	setString(&c.llmAPIKey, os.Getenv(EnvLLMAPIKey))

	if f := os.Getenv(EnvFormats); f != "" {
		c.supportedFormats = splitList(f)
	}
	if o := os.Getenv(EnvCORSOrigins); o != "" {
		c.corsOrigins = splitOrigins(o)
	}

	intVars := []struct {
		name string
		dst  *int
	}{
		{EnvMaxSizeMB, &c.maxVideoSizeMB},
		{EnvRedisDB, &c.redisDB},
		{EnvCRF, &c.encode.CRF},
		{EnvMaxConcurrentEdits, &c.maxConcurrentEdits},
		{EnvRateLimit, &c.rateLimit},
	}
	for _, v := range intVars {
		raw := os.Getenv(v.name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", v.name, err)
		}
		*v.dst = n
	}

	durVars := []struct {
		name string
		dst  *time.Duration
	}{
		{EnvLLMTimeout, &c.llmTimeout},
		{EnvEncodeTimeout, &c.encodeTimeout},
	}
	for _, v := range durVars {
		raw := os.Getenv(v.name)
		if raw == "" {
			continue
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", v.name, err)
		}
		*v.dst = d
	}

	if s := os.Getenv(EnvStrictType); s != "" {
		b, err := strconv.ParseBool(s)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvStrictType, err)
		}
		c.strictContentType = b
	}
	return nil
}

func (c *EnvConfig) validate() error {
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port %d: port must be between 1 and 65535", c.port)
	}
	switch c.statusBackend {
	case "memory", "sqlite":
	case "redis":
		if c.redisAddr == "" {
			return fmt.Errorf("status backend redis requires %s", EnvRedisAddr)
		}
	default:
		return fmt.Errorf("unknown status backend %q (want memory, sqlite or redis)", c.statusBackend)
	}
	if c.maxConcurrentEdits < 1 {
		return fmt.Errorf("invalid %s: must be at least 1", EnvMaxConcurrentEdits)
	}
	if c.maxVideoSizeMB < 1 {
		return fmt.Errorf("invalid %s: must be at least 1", EnvMaxSizeMB)
	}
	if c.llmTimeout <= 0 {
		return fmt.Errorf("invalid %s: must be positive", EnvLLMTimeout)
	}
	return nil
}

// Addr returns the listen address
func (c *EnvConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.host, c.port)
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

// TempDir returns the upload directory
func (c *EnvConfig) TempDir() string {
	return c.tempDir
}

// OutputDir returns the rendered output directory
func (c *EnvConfig) OutputDir() string {
	return c.outputDir
}

// APIKey returns the optional API key guarding the /api/v1 routes
func (c *EnvConfig) APIKey() string {
	return c.apiKey
}

func (c *EnvConfig) MaxVideoSizeBytes() int64 {
	return int64(c.maxVideoSizeMB) * 1024 * 1024
}

func (c *EnvConfig) SupportedFormats() []string {
	return c.supportedFormats
}

func (c *EnvConfig) StrictContentType() bool {
	return c.strictContentType
}

// CORSOrigins returns the allowed browser origins; "*" allows any.
func (c *EnvConfig) CORSOrigins() []string {
	return c.corsOrigins
}

func (c *EnvConfig) StatusBackend() string {
	return c.statusBackend
}

func (c *EnvConfig) RedisAddr() string {
	return c.redisAddr
}

func (c *EnvConfig) RedisPassword() string {
	return c.redisPassword
}

func (c *EnvConfig) RedisDB() int {
	return c.redisDB
}

// LLMEnabled reports whether an API key is configured for the hosted model.
func (c *EnvConfig) LLMEnabled() bool {
	return c.llmAPIKey != ""
}

func (c *EnvConfig) LLMAPIKey() string {
	return c.llmAPIKey
}

func (c *EnvConfig) LLMBaseURL() string {
	return c.llmBaseURL
}

func (c *EnvConfig) LLMModel() string {
	return c.llmModel
}

func (c *EnvConfig) LLMTimeout() time.Duration {
	return c.llmTimeout
}

func (c *EnvConfig) FFmpegPath() string {
	return c.ffmpegPath
}

func (c *EnvConfig) FFprobePath() string {
	return c.ffprobePath
}

func (c *EnvConfig) Encode() EncodeSettings {
	return c.encode
}

func (c *EnvConfig) EncodeTimeout() time.Duration {
	return c.encodeTimeout
}

func (c *EnvConfig) DenoiseChunk() time.Duration {
	return DefaultDenoiseChunk
}

func (c *EnvConfig) MaxConcurrentEdits() int {
	return c.maxConcurrentEdits
}

func (c *EnvConfig) StatusPollInterval() time.Duration {
	return DefaultStatusPollInterval
}

func (c *EnvConfig) RateLimitPerMinute() int {
	return c.rateLimit
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		part = strings.TrimPrefix(part, ".")
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func splitOrigins(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimRight(strings.TrimSpace(part), "/"); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.2.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

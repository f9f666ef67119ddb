package types

// Config represents the overall application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" json:"server"`
	Storage   StorageConfig   `yaml:"storage" json:"storage"`
	Database  DatabaseConfig  `yaml:"database" json:"database"`
	Providers ProvidersConfig `yaml:"providers" json:"providers"`
	Autopilot AutopilotConfig `yaml:"autopilot" json:"autopilot"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host         string `yaml:"host" json:"host"`
	Port         int    `yaml:"port" json:"port"`
	ReadTimeout  int    `yaml:"read_timeout" json:"read_timeout"`   // seconds
	WriteTimeout int    `yaml:"write_timeout" json:"write_timeout"` // seconds
}

// StorageConfig defines storage adapter settings
type StorageConfig struct {
	Adapter string           `yaml:"adapter" json:"adapter"` // "local" or "s3"
	Local   LocalStorageOpts `yaml:"local" json:"local"`
	S3      S3StorageOpts    `yaml:"s3" json:"s3"`
}

// LocalStorageOpts configures the local filesystem adapter
type LocalStorageOpts struct {
	BasePath string `yaml:"base_path" json:"base_path"`
}

// S3StorageOpts configures the S3-compatible adapter
type S3StorageOpts struct {
	Endpoint        string `yaml:"endpoint" json:"endpoint"`
	Region          string `yaml:"region" json:"region"`
	Bucket          string `yaml:"bucket" json:"bucket"`
	AccessKeyID     string `yaml:"access_key_id" json:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key" json:"secret_access_key"`
	UseSSL          bool   `yaml:"use_ssl" json:"use_ssl"`
}

// DatabaseConfig configures the SQLite database
type DatabaseConfig struct {
	Path string `yaml:"path" json:"path"`
}

// ProvidersConfig holds all provider configurations
type ProvidersConfig struct {
	LLM []LLMProviderConfig `yaml:"llm" json:"llm"`
	TTS []TTSProviderConfig `yaml:"tts" json:"tts"`
}

// LLMProviderConfig configures an LLM provider
type LLMProviderConfig struct {
	Name        string  `yaml:"name" json:"name"`
	Enabled     bool    `yaml:"enabled" json:"enabled"`
	Endpoint    string  `yaml:"endpoint" json:"endpoint"`
	APIKey      string  `yaml:"api_key" json:"api_key"`
	Model       string  `yaml:"model" json:"model"`
	Temperature float64 `yaml:"temperature" json:"temperature"`
	MaxRetries  int     `yaml:"max_retries" json:"max_retries"`
	TimeoutSec  int     `yaml:"timeout_sec" json:"timeout_sec"`
}

// TTSProviderConfig configures a TTS provider
type TTSProviderConfig struct {
	Name       string `yaml:"name" json:"name"`
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	Endpoint   string `yaml:"endpoint" json:"endpoint"`
	APIKey     string `yaml:"api_key" json:"api_key"`
	TimeoutSec int    `yaml:"timeout_sec" json:"timeout_sec"`
}

// AutopilotConfig holds pipeline-level defaults
type AutopilotConfig struct {
	LLMConcurrency     int     `yaml:"llm_concurrency" json:"llm_concurrency"`
	VoiceMatchInterval int     `yaml:"voice_match_interval" json:"voice_match_interval"`
	Speed              float64 `yaml:"speed" json:"speed"`
	MaxSegmentChars    int     `yaml:"max_segment_chars" json:"max_segment_chars"`
	MaxSegmentRetries  int     `yaml:"max_segment_retries" json:"max_segment_retries"`
	TempDir            string  `yaml:"temp_dir" json:"temp_dir"`
	FFmpegPath         string  `yaml:"ffmpeg_path" json:"ffmpeg_path"` // empty resolves via PATH
}

package config

// Config holds audiobookd configuration.
// Stored at: {home}/config.yaml
type Config struct {
	Server  ServerCfg  `mapstructure:"server" yaml:"server"`
	Storage StorageCfg `mapstructure:"storage" yaml:"storage"`
	Media   MediaCfg   `mapstructure:"media" yaml:"media"`
}

// ServerCfg configures the HTTP server.
type ServerCfg struct {
	Host string `mapstructure:"host" yaml:"host"` // Bind address (default: 127.0.0.1)
	Port string `mapstructure:"port" yaml:"port"` // Listen port (default: 8080)
}

// StorageCfg selects and configures the storage backends.
type StorageCfg struct {
	// Objects selects the byte-object backend: "fs" or "nats"
	Objects string `mapstructure:"objects" yaml:"objects"`
	// Records selects the metadata backend: "fs" or "postgres"
	Records string `mapstructure:"records" yaml:"records"`

	// PostgresURL is the connection string for the postgres record store.
	// Supports ${ENV_VAR} syntax.
	PostgresURL string `mapstructure:"postgres_url" yaml:"postgres_url"`

	// NATS settings for the remote object store.
	NATSURL    string `mapstructure:"nats_url" yaml:"nats_url"`
	NATSBucket string `mapstructure:"nats_bucket" yaml:"nats_bucket"`
}

// MediaCfg configures the external transcoder.
type MediaCfg struct {
	FFmpegPath  string `mapstructure:"ffmpeg_path" yaml:"ffmpeg_path"`   // Override ffmpeg binary path
	FFprobePath string `mapstructure:"ffprobe_path" yaml:"ffprobe_path"` // Override ffprobe binary path
	Bitrate     string `mapstructure:"bitrate" yaml:"bitrate"`           // Audio bitrate (default: 64k)
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerCfg{
			Host: "127.0.0.1",
			Port: "8080",
		},
		Storage: StorageCfg{
			Objects:     "fs",
			Records:     "fs",
			PostgresURL: "${AUDIOBOOKD_POSTGRES_URL}",
			NATSURL:     "nats://127.0.0.1:4222",
			NATSBucket:  "audiobooks",
		},
		Media: MediaCfg{
			Bitrate: "64k",
		},
	}
}

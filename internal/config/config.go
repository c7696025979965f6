package config

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"   validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Maps     MapsConfig     `mapstructure:"maps"     validate:"required"`
	Task     TaskConfig     `mapstructure:"task"     validate:"required"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port"      validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"required"`
}

// MapsConfig contains settings for the distance matrix API client.
type MapsConfig struct {
	APIKey string `mapstructure:"api_key" validate:"required"`

	// BaseURL is the distance matrix endpoint. Overridable for tests.
	BaseURL string `mapstructure:"base_url" validate:"required,url"`

	// Language for localized distance/duration text in API responses.
	Language string `mapstructure:"language" validate:"required"`

	// CallLimit is the number of API calls made before the client pauses to
	// stay under the external quota.
	CallLimit int `mapstructure:"call_limit" validate:"required,gt=0"`

	// MaxRetries bounds retries of a single request after HTTP 429.
	MaxRetries int `mapstructure:"max_retries" validate:"gte=0"`
}

// TaskConfig contains settings for the background task subsystem.
type TaskConfig struct {
	// QueueSize is the buffer size of the in-memory task queue. Submissions
	// beyond this while the worker is busy are rejected.
	QueueSize int `mapstructure:"queue_size" validate:"required,gt=0"`

	// MaxUploadBytes caps the size of an uploaded spreadsheet.
	MaxUploadBytes int64 `mapstructure:"max_upload_bytes" validate:"required,gt=0"`
}

package config

import "time"

// Participant seeds one of the two permitted chat users.
type Participant struct {
	Username  string `mapstructure:"username" yaml:"username"`
	Name      string `mapstructure:"name" yaml:"name"`
	Password  string `mapstructure:"password" yaml:"password"`
	AvatarURL string `mapstructure:"avatar_url" yaml:"avatar_url"`
}

// AIConfig holds assistant backend settings. The assistant is optional:
// with no credentials configured it degrades to a labeled stub response.
type AIConfig struct {
	APIKey    string `mapstructure:"api_key" yaml:"api_key"`
	Model     string `mapstructure:"model" yaml:"model"`
	BaseURL   string `mapstructure:"base_url" yaml:"base_url"`
	Region    string `mapstructure:"region" yaml:"region"`
	MaxTokens int    `mapstructure:"max_tokens" yaml:"max_tokens"`
}

// Enabled reports whether the assistant backend can be constructed.
func (c AIConfig) Enabled() bool {
	return c.APIKey != "" && c.Model != ""
}

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	DatabasePath      string        `mapstructure:"database_path" yaml:"database_path"`
	UploadDir         string        `mapstructure:"upload_dir" yaml:"upload_dir"`
	PublicBaseURL     string        `mapstructure:"public_base_url" yaml:"public_base_url"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`
	LogPretty         bool          `mapstructure:"log_pretty" yaml:"log_pretty"`
	JWTSecret         string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer         string        `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience       string        `mapstructure:"jwt_audience" yaml:"jwt_audience"`
	Participants      []Participant `mapstructure:"participants" yaml:"participants"`
	AI                AIConfig      `mapstructure:"ai" yaml:"ai"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":8080",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		DatabasePath:      "duochat.db",
		UploadDir:         "uploads",
		PublicBaseURL:     "http://localhost:8080",
		LogLevel:          "info",
		LogPretty:         true,
		JWTIssuer:         "duochat",
		JWTAudience:       "duochat-client",
		AI: AIConfig{
			BaseURL: "https://ark.cn-beijing.volces.com/api/v3",
			Region:  "cn-beijing",
		},
	}
}

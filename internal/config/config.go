package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces every environment variable, e.g. ROYALE_PLAYER_TAG
const EnvPrefix = "ROYALE"

// EnvPaths are tried in order; the first .env found is loaded
var EnvPaths = []string{".env", "../.env", "../../.env"}

// SearchPaths are where an optional config.yaml is looked for
var SearchPaths = []string{".", "./config"}

// Config holds everything a miner run needs
type Config struct {
	PlayerTag string `mapstructure:"player_tag"`
	DataPath  string `mapstructure:"data_path"`

	APIKey      string        `mapstructure:"api_key"`
	KeyFile     string        `mapstructure:"key_file"`
	BaseURL     string        `mapstructure:"base_url"`
	HTTPTimeout time.Duration `mapstructure:"http_timeout"`

	ArchiveDir  string `mapstructure:"archive_dir"`
	ArchiveKeep int    `mapstructure:"archive_keep"`

	MirrorURL       string `mapstructure:"mirror_url"`
	MirrorAuthToken string `mapstructure:"mirror_auth_token"`

	DiscordWebhookURL string `mapstructure:"discord_webhook_url"`
}

var defaults = map[string]any{
	"player_tag":          "#2PLQVY2Y0",
	"data_path":           "data.csv",
	"api_key":             "",
	"key_file":            "key.txt",
	"base_url":            "https://api.clashroyale.com/v1",
	"http_timeout":        30 * time.Second,
	"archive_dir":         "",
	"archive_keep":        0,
	"mirror_url":          "",
	"mirror_auth_token":   "",
	"discord_webhook_url": "",
}

// Load reads the first .env found in EnvPaths into the environment, then
// builds the config from config.yaml (if any) and ROYALE_* variables.
func Load() (*Config, error) {
	if path := LoadEnvFile(EnvPaths...); path != "" {
		log.Printf("[Config] Loaded .env from: %s", path)
	} else {
		log.Println("[Config] No .env file found, using environment variables")
	}
	return Read(SearchPaths...)
}

// LoadEnvFile loads the first readable .env among paths and returns its path,
// or "" when none could be loaded. Variables already set are not overridden.
func LoadEnvFile(paths ...string) string {
	for _, path := range paths {
		if err := godotenv.Load(path); err == nil {
			return path
		}
	}
	return ""
}

// Read builds the config from defaults, an optional config.yaml in one of
// searchPaths, and the environment. Environment wins over the file.
func Read(searchPaths ...string) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, path := range searchPaths {
		v.AddConfigPath(path)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		log.Printf("[Config] Using config file: %s", v.ConfigFileUsed())
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// normalize strips the quotes some .env writers leave around values
func (c *Config) normalize() {
	for _, field := range []*string{&c.PlayerTag, &c.DataPath, &c.APIKey, &c.KeyFile, &c.BaseURL, &c.ArchiveDir, &c.MirrorURL, &c.MirrorAuthToken, &c.DiscordWebhookURL} {
		*field = strings.Trim(strings.TrimSpace(*field), "\"")
	}
}

// Validate checks the fields a run cannot do without
func (c *Config) Validate() error {
	if c.PlayerTag == "" {
		return errors.New("player_tag must not be empty")
	}
	if c.DataPath == "" {
		return errors.New("data_path must not be empty")
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("http_timeout must be positive, got %s", c.HTTPTimeout)
	}
	if c.ArchiveKeep < 0 {
		return fmt.Errorf("archive_keep must not be negative, got %d", c.ArchiveKeep)
	}
	return nil
}

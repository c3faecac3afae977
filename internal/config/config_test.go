package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// clearEnv blanks every ROYALE_* key so the host environment can't leak in.
// Viper treats an empty variable as unset.
func clearEnv(t *testing.T) {
	t.Helper()
	for key := range defaults {
		t.Setenv(EnvPrefix+"_"+strings.ToUpper(key), "")
	}
}

func TestRead_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Read(t.TempDir())
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}

	if cfg.PlayerTag != "#2PLQVY2Y0" {
		t.Errorf("unexpected default tag: %s", cfg.PlayerTag)
	}
	if cfg.DataPath != "data.csv" {
		t.Errorf("unexpected default data path: %s", cfg.DataPath)
	}
	if cfg.KeyFile != "key.txt" {
		t.Errorf("unexpected default key file: %s", cfg.KeyFile)
	}
	if cfg.HTTPTimeout != 30*time.Second {
		t.Errorf("unexpected default timeout: %s", cfg.HTTPTimeout)
	}
	if cfg.MirrorURL != "" || cfg.DiscordWebhookURL != "" || cfg.ArchiveDir != "" {
		t.Errorf("optional components should be off by default: %+v", cfg)
	}
}

func TestRead_FileAndEnv(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	yaml := `player_tag: "#FROMFILE"
data_path: /tmp/battles.csv
http_timeout: 5s
archive_dir: /tmp/archive
archive_keep: 7
mirror_url: sqlite:///tmp/battles.db
`
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ROYALE_PLAYER_TAG", "#FROMENV")
	t.Setenv("ROYALE_API_KEY", "\"secret\"")

	cfg, err := Read(dir)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}

	if cfg.PlayerTag != "#FROMENV" {
		t.Errorf("expected env to override file, got %s", cfg.PlayerTag)
	}
	if cfg.APIKey != "secret" {
		t.Errorf("expected quotes stripped from api key, got %q", cfg.APIKey)
	}
	if cfg.DataPath != "/tmp/battles.csv" {
		t.Errorf("unexpected data path: %s", cfg.DataPath)
	}
	if cfg.HTTPTimeout != 5*time.Second {
		t.Errorf("unexpected timeout: %s", cfg.HTTPTimeout)
	}
	if cfg.ArchiveDir != "/tmp/archive" || cfg.ArchiveKeep != 7 {
		t.Errorf("unexpected archive settings: %s %d", cfg.ArchiveDir, cfg.ArchiveKeep)
	}
	if cfg.MirrorURL != "sqlite:///tmp/battles.db" {
		t.Errorf("unexpected mirror url: %s", cfg.MirrorURL)
	}
}

func TestRead_BadFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("player_tag: [unclosed"), 0644)

	if _, err := Read(dir); err == nil {
		t.Fatal("expected an error for malformed yaml")
	}
}

func TestValidate(t *testing.T) {
	valid := Config{PlayerTag: "#A", DataPath: "data.csv", HTTPTimeout: time.Second}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "empty tag", mutate: func(c *Config) { c.PlayerTag = "" }, wantErr: true},
		{name: "empty data path", mutate: func(c *Config) { c.DataPath = "" }, wantErr: true},
		{name: "zero timeout", mutate: func(c *Config) { c.HTTPTimeout = 0 }, wantErr: true},
		{name: "negative keep", mutate: func(c *Config) { c.ArchiveKeep = -1 }, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid
			tc.mutate(&cfg)
			if err := cfg.Validate(); (err != nil) != tc.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestLoadEnvFile(t *testing.T) {
	clearEnv(t)
	// godotenv never overrides a set variable, even an empty one; the
	// cleanup registered by clearEnv still restores it
	os.Unsetenv("ROYALE_DATA_PATH")
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	os.WriteFile(envPath, []byte("ROYALE_DATA_PATH=from-dotenv.csv\n"), 0644)

	got := LoadEnvFile(filepath.Join(dir, "missing.env"), envPath)
	if got != envPath {
		t.Fatalf("expected %s to be loaded, got %q", envPath, got)
	}

	cfg, err := Read(dir)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if cfg.DataPath != "from-dotenv.csv" {
		t.Errorf("expected data path from .env, got %s", cfg.DataPath)
	}

	if LoadEnvFile(filepath.Join(dir, "nope")) != "" {
		t.Error("expected empty path when no .env exists")
	}
}

package app

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	APIURL          string `yaml:"api_url"`
	AuthAPIKey      string `yaml:"auth_api_key"`
	Project         string `yaml:"project"`
	CredentialsFile string `yaml:"credentials_file"`
	DefaultMode     string `yaml:"mode"`
	StoreRoot       string `yaml:"store_root"`
	SessionPath     string `yaml:"session_path"`
	LogDir          string `yaml:"log_dir"`
}

func DefaultConfig() Config {
	return Config{
		APIURL:      "http://localhost:8000",
		DefaultMode: "scholar",
	}
}

func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = DefaultConfigPath()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			applyEnvOverrides(&cfg)
			return cfg, nil
		}
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	applyEnvOverrides(&cfg)
	if cfg.APIURL == "" {
		cfg.APIURL = "http://localhost:8000"
	}
	if cfg.DefaultMode == "" {
		cfg.DefaultMode = "scholar"
	}
	return cfg, nil
}

// Environment wins over file values so containers can configure the client
// without writing config files.
func applyEnvOverrides(cfg *Config) {
	set := func(dst *string, env string) {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			*dst = v
		}
	}
	set(&cfg.APIURL, "GITA_API_URL")
	set(&cfg.AuthAPIKey, "GITA_AUTH_KEY")
	set(&cfg.Project, "GITA_PROJECT")
	set(&cfg.CredentialsFile, "GITA_CREDENTIALS")
	set(&cfg.DefaultMode, "GITA_MODE")
	set(&cfg.StoreRoot, "GITA_STORE_ROOT")
	set(&cfg.LogDir, "GITA_LOG_DIR")
}

func SaveConfig(cfg Config, path string) error {
	if path == "" {
		path = DefaultConfigPath()
	}
	if path == "" {
		return errors.New("no path provided for config")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ""
	}
	return filepath.Join(home, ".gita", "config.yaml")
}

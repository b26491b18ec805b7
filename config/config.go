package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// Config is the daemon's YAML-backed configuration. Secrets can be
// supplied through the environment instead of the file.
type Config struct {
	ListenPort int    `yaml:"listen_port"`
	MusicDir   string `yaml:"music_dir"`
	TempDir    string `yaml:"temp_dir"`

	SpotifyClientID     string `yaml:"spotify_client_id"`
	SpotifyClientSecret string `yaml:"spotify_client_secret"`

	// Streaming client identity echoed to the media servers.
	VisitorData   string `yaml:"visitor_data"`
	ClientName    int64  `yaml:"client_name"`
	ClientVersion string `yaml:"client_version"`
	UserAgent     string `yaml:"user_agent"`
	HL            string `yaml:"hl"`
	GL            string `yaml:"gl"`
	Cookie        string `yaml:"cookie"`
	ProxyURL      string `yaml:"proxy_url"`
}

var AppConfig Config

const defaultConfigPath = "./config.yaml"

// LoadConfigFromFile reads the config file (default ./config.yaml),
// applies env overrides for secrets and stores the result in AppConfig.
func LoadConfigFromFile(path string) (*Config, error) {
	if path == "" {
		path = defaultConfigPath
	}
	cfg := Config{
		ListenPort: 50999,
		MusicDir:   "./music",
		TempDir:    "./tmp",
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if v := os.Getenv("SPOTIFY_CLIENT_ID"); v != "" {
		cfg.SpotifyClientID = v
	}
	if v := os.Getenv("SPOTIFY_CLIENT_SECRET"); v != "" {
		cfg.SpotifyClientSecret = v
	}
	if v := os.Getenv("SABR_COOKIE"); v != "" {
		cfg.Cookie = v
	}
	AppConfig = cfg
	return &cfg, nil
}

package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
)

const appDirName = "chat-client"

type SavedSettings struct {
	APIHost     string `json:"api_host"`
	APIPort     int    `json:"api_port,omitempty"`
	APIPrefix   string `json:"api_prefix,omitempty"`
	RealtimeURL string `json:"realtime_url,omitempty"`
	AuthScheme  string `json:"auth_scheme,omitempty"`
	Debug       bool   `json:"debug"`
}

func AppDir() (string, error) {
	root, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(root, appDirName), nil
}

func SettingsPath() (string, error) {
	dir, err := AppDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "settings.json"), nil
}

func DefaultSessionPath() (string, error) {
	dir, err := AppDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "session.json"), nil
}

func LoadSettings() (SavedSettings, error) {
	path, err := SettingsPath()
	if err != nil {
		return SavedSettings{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return SavedSettings{}, err
	}
	var settings SavedSettings
	if err := json.Unmarshal(data, &settings); err != nil {
		return SavedSettings{}, err
	}
	return settings, nil
}

func SaveSettings(settings SavedSettings) error {
	path, err := SettingsPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	payload, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, payload, 0o600)
}

// MergeOptionsWithSettings fills unset CLI options from saved settings.
func MergeOptionsWithSettings(cli Options, saved SavedSettings) Options {
	if strings.TrimSpace(cli.APIHost) == "" {
		cli.APIHost = saved.APIHost
	}
	if cli.APIPort == 0 {
		cli.APIPort = saved.APIPort
	}
	if strings.TrimSpace(cli.APIPrefix) == "" {
		cli.APIPrefix = saved.APIPrefix
	}
	if strings.TrimSpace(cli.RealtimeURL) == "" {
		cli.RealtimeURL = saved.RealtimeURL
	}
	if strings.TrimSpace(cli.AuthScheme) == "" {
		cli.AuthScheme = saved.AuthScheme
	}
	if !cli.Debug {
		cli.Debug = saved.Debug
	}
	return cli
}

func SettingsFromOptions(opts Options) SavedSettings {
	return SavedSettings{
		APIHost:     strings.TrimSpace(opts.APIHost),
		APIPort:     opts.APIPort,
		APIPrefix:   strings.Trim(strings.TrimSpace(opts.APIPrefix), "/"),
		RealtimeURL: strings.TrimSpace(opts.RealtimeURL),
		AuthScheme:  strings.TrimSpace(opts.AuthScheme),
		Debug:       opts.Debug,
	}
}

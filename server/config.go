package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// serverConfig is the process configuration, loadable from a YAML file.
type serverConfig struct {
	HubAddr      string     `yaml:"hub_addr"`
	PageAddr     string     `yaml:"page_addr"`
	StaticDir    string     `yaml:"static_dir"`
	SettingsPath string     `yaml:"settings_path"`
	MQTT         mqttConfig `yaml:"mqtt"`
}

type mqttConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
}

func defaultServerConfig() serverConfig {
	return serverConfig{
		HubAddr:      ":5000",
		PageAddr:     ":4242",
		StaticDir:    "./static",
		SettingsPath: "camera_settings.json",
		MQTT: mqttConfig{
			ClientID:    "camera-relay",
			TopicPrefix: "cameras",
		},
	}
}

// loadConfig reads the YAML config file, falling back to defaults when the
// file does not exist.
func loadConfig(path string) (serverConfig, error) {
	cfg := defaultServerConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

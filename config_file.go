package beacon

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// FileConfig is the on-disk form of Config. Durations use Go syntax ("1.5s").
type FileConfig struct {
	Endpoint         string            `yaml:"endpoint"`
	Headers          map[string]string `yaml:"headers"`
	BatchSize        int               `yaml:"batch_size"`
	BatchTimeout     string            `yaml:"batch_timeout"`
	MaxRetries       int               `yaml:"max_retries"`
	BaseDelay        string            `yaml:"base_delay"`
	MaxDelay         string            `yaml:"max_delay"`
	RequestTimeout   string            `yaml:"request_timeout"`
	PersistentBuffer bool              `yaml:"persistent_buffer"`
	AgeRecipients    []string          `yaml:"age_recipients"`
}

// ParseConfigYAML decodes a YAML policy document.
func ParseConfigYAML(data []byte) (FileConfig, Config, error) {
	var file FileConfig
	if err := yaml.Unmarshal(data, &file); err != nil {
		return FileConfig{}, Config{}, fmt.Errorf("beacon: parse config: %w", err)
	}

	cfg := Config{
		Endpoint:            file.Endpoint,
		Headers:             file.Headers,
		BatchSize:           file.BatchSize,
		MaxRetries:          file.MaxRetries,
		UsePersistentBuffer: file.PersistentBuffer,
	}

	fields := []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"batch_timeout", file.BatchTimeout, &cfg.BatchTimeout},
		{"base_delay", file.BaseDelay, &cfg.BaseDelay},
		{"max_delay", file.MaxDelay, &cfg.MaxDelay},
		{"request_timeout", file.RequestTimeout, &cfg.RequestTimeout},
	}
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		d, err := time.ParseDuration(f.value)
		if err != nil {
			return FileConfig{}, Config{}, fmt.Errorf("beacon: parse config %s: %w", f.name, err)
		}
		*f.dst = d
	}

	return file, cfg, nil
}

// LoadConfigFile reads and decodes a YAML policy file.
func LoadConfigFile(path string) (FileConfig, Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return FileConfig{}, Config{}, fmt.Errorf("beacon: read config: %w", err)
	}

	return ParseConfigYAML(data)
}

package harness

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config конфигурация харнесса сравнения. Оба варианта доставки получают
// одно логическое имя потока, подставляемое в свои шаблоны URL.
type Config struct {
	// Stream логическое имя потока.
	Stream string `yaml:"stream"`

	Realtime    RealtimeConfig    `yaml:"realtime"`
	Progressive ProgressiveConfig `yaml:"progressive"`

	// StartStagger задержка между стартами сессий, чтобы не устанавливать
	// оба соединения одновременно.
	StartStagger time.Duration `yaml:"start_stagger"`

	// Listen адрес HTTP-наблюдения (/metrics, /ws). Пустой — не слушать.
	Listen string `yaml:"listen"`
}

// RealtimeConfig параметры realtime-варианта.
type RealtimeConfig struct {
	// URLTemplate шаблон URL сигналинга; %s заменяется именем потока.
	URLTemplate string `yaml:"url_template"`

	ICEServers []string `yaml:"ice_servers"`
}

// ProgressiveConfig параметры прогрессивного варианта.
type ProgressiveConfig struct {
	// URLTemplate шаблон URL потока; %s заменяется именем потока.
	URLTemplate string `yaml:"url_template"`

	// Type селектор контейнера: flv, mse, mpegts, m2ts.
	Type string `yaml:"type"`
}

// DefaultConfig конфигурация по умолчанию.
func DefaultConfig() *Config {
	return &Config{
		Stream:       "livestream",
		StartStagger: time.Second,
		Progressive: ProgressiveConfig{
			Type: "flv",
		},
	}
}

// Load читает конфигурацию из YAML-файла поверх значений по умолчанию.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate проверяет полноту конфигурации.
func (c *Config) Validate() error {
	if c.Stream == "" {
		return fmt.Errorf("не задано имя потока")
	}
	if c.Realtime.URLTemplate == "" && c.Progressive.URLTemplate == "" {
		return fmt.Errorf("не задан ни один шаблон URL")
	}
	return nil
}

// RealtimeURL возвращает URL сигналинга для имени потока.
func (c *Config) RealtimeURL() string {
	return expandTemplate(c.Realtime.URLTemplate, c.Stream)
}

// ProgressiveURL возвращает URL прогрессивного потока для имени потока.
func (c *Config) ProgressiveURL() string {
	return expandTemplate(c.Progressive.URLTemplate, c.Stream)
}

func expandTemplate(tmpl, stream string) string {
	if tmpl == "" {
		return ""
	}
	if strings.Contains(tmpl, "%s") {
		return fmt.Sprintf(tmpl, stream)
	}
	return tmpl
}

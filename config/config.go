package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config es la configuración completa del servicio.
type Config struct {
	Autopilot AutopilotConfig `yaml:"autopilot"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Log       LogConfig       `yaml:"log"`
}

// AutopilotConfig controla el loop del scheduler.
type AutopilotConfig struct {
	TickSeconds int `yaml:"tick_seconds"`
}

// ServerConfig controla el RPC de administración.
type ServerConfig struct {
	Addr       string  `yaml:"addr"`
	AdminToken string  `yaml:"admin_token"` // normalmente viene de ADMIN_TOKEN en el .env
	RatePerSec float64 `yaml:"rate_per_sec"`
	RateBurst  int     `yaml:"rate_burst"`
}

// StorageConfig controla dónde se persisten los datos.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // ruta al archivo SQLite, o ":memory:"
}

// MonitorConfig controla la retención del log de eventos.
type MonitorConfig struct {
	RetentionDays int `yaml:"retention_days"`
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load carga la configuración desde el archivo YAML y el archivo .env si existe.
// Los valores del entorno sobreescriben los del YAML para las keys que
// correspondan.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	return &cfg, nil
}

// TickInterval devuelve el intervalo del scheduler como time.Duration.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.Autopilot.TickSeconds) * time.Second
}

// Retention devuelve la ventana de retención del monitor.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.Monitor.RetentionDays) * 24 * time.Hour
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están
// presentes. El token de admin nunca debería vivir en el YAML versionado.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("ADMIN_TOKEN"); v != "" {
		cfg.Server.AdminToken = v
	}
	if v := os.Getenv("STORAGE_DSN"); v != "" {
		cfg.Storage.DSN = v
	}
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
func setDefaults(cfg *Config) {
	if cfg.Autopilot.TickSeconds <= 0 {
		cfg.Autopilot.TickSeconds = 60
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.RatePerSec <= 0 {
		cfg.Server.RatePerSec = 5
	}
	if cfg.Server.RateBurst <= 0 {
		cfg.Server.RateBurst = 10
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "reapbid.db"
	}
	if cfg.Monitor.RetentionDays <= 0 {
		cfg.Monitor.RetentionDays = 30
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

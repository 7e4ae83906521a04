// Package config loads AgentsLeak's server configuration from environment
// variables under the AGENTSLEAK_ prefix. Following the teacher's
// convention, an invalid value for a typed field (port, bool) falls back
// to the default rather than failing Load.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Config is the full set of env-var driven settings for the server.
type Config struct {
	Host string
	Port int

	DBPath    string
	RulesPath string

	LogLevel string

	BatchSize       int
	ProcessInterval float64

	CORSOrigins []string

	CollectorAPIKey string
	DashboardToken  string

	MetricsAddr string

	StaleSessionCheckIntervalSeconds int
	StaleSessionInactiveMinutes      int

	MaxQueueLength int
}

const envPrefix = "AGENTSLEAK_"

func getenv(name string) (string, bool) {
	v, ok := os.LookupEnv(envPrefix + name)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".agentsleak")
}

func defaultCORSOrigins() []string {
	if v, ok := getenv("CORS_ORIGINS"); ok {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return []string{
		"http://localhost:3000",
		"http://localhost:5173",
		"http://127.0.0.1:3000",
		"http://127.0.0.1:5173",
	}
}

// Load builds a Config from the process environment, applying defaults for
// anything unset or unparseable.
func Load() (*Config, error) {
	cfg := &Config{
		Host:            "127.0.0.1",
		Port:            3827,
		DBPath:          filepath.Join(defaultDataDir(), "data.db"),
		RulesPath:       filepath.Join(defaultDataDir(), "rules"),
		LogLevel:        "info",
		BatchSize:       100,
		ProcessInterval: 0.1,
		CORSOrigins:     defaultCORSOrigins(),
		MetricsAddr:     "127.0.0.1:9827",

		StaleSessionCheckIntervalSeconds: 300,
		StaleSessionInactiveMinutes:      1440,
		MaxQueueLength:                   10000,
	}

	if v, ok := getenv("HOST"); ok {
		cfg.Host = v
	}
	if v, ok := getenv("PORT"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Port = n
		}
	}
	if v, ok := getenv("DB_PATH"); ok {
		cfg.DBPath = v
	}
	if v, ok := getenv("RULES_PATH"); ok {
		cfg.RulesPath = v
	}
	if v, ok := getenv("LOG_LEVEL"); ok {
		cfg.LogLevel = v
	}
	if v, ok := getenv("BATCH_SIZE"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.BatchSize = n
		}
	}
	if v, ok := getenv("PROCESS_INTERVAL"); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.ProcessInterval = f
		}
	}
	if v, ok := getenv("API_KEY"); ok {
		cfg.CollectorAPIKey = v
	}
	if v, ok := getenv("DASHBOARD_TOKEN"); ok {
		cfg.DashboardToken = v
	}
	if v, ok := getenv("METRICS_ADDR"); ok {
		cfg.MetricsAddr = v
	}
	if v, ok := getenv("MAX_QUEUE_LENGTH"); ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxQueueLength = n
		}
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.RulesPath, 0o755); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Addr returns the host:port the collector/query HTTP server should bind.
func (c *Config) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

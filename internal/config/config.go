// Package config loads engine configuration from a YAML file overlaid
// with STEPFORGE_*-prefixed environment variables, the way the
// teacher's cmd/config.go layers a JSON config file under environment
// variables under CLI flags (lowest to highest precedence). Flags
// themselves are bound directly onto a Config by internal/cmd/root.go's
// pflag registration, so this package only resolves the file+env layers.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// Config holds every setting the engine's cmd entrypoints need, grouped
// the way cmd/config.go groups k6's Config struct by concern.
type Config struct {
	StoreRoot      string `yaml:"store_root"`
	ListenAddr     string `yaml:"listen_addr"`
	DefaultTimeout int64  `yaml:"default_timeout_ms"`
	Retention      int    `yaml:"retention"`
	BrowserExec    string `yaml:"browser_exec"`
	Headless       bool   `yaml:"headless"`
	LogLevel       string `yaml:"log_level"`
}

// Default returns the engine's out-of-the-box configuration.
func Default() Config {
	return Config{
		StoreRoot:      "./data",
		ListenAddr:     ":4110",
		DefaultTimeout: 30000,
		Retention:      50,
		BrowserExec:    "",
		Headless:       true,
		LogLevel:       "info",
	}
}

// Load reads path (if it exists) over Default(), then overlays
// STEPFORGE_*-prefixed environment variables. A missing file is not an
// error — the engine runs on defaults+env alone, mirroring how the
// teacher's config loader tolerates an absent config.json.
func Load(fs afero.Fs, path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := afero.ReadFile(fs, path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("reading config file %q: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config file %q: %w", path, err)
		}
	}

	applyEnv(&cfg, os.Environ())
	return cfg, nil
}

const envPrefix = "STEPFORGE_"

// applyEnv overlays STEPFORGE_* environment variables onto cfg, using
// the same upper-snake-case-of-the-yaml-field convention the teacher's
// env-var binding follows (e.g. STEPFORGE_STORE_ROOT -> StoreRoot).
func applyEnv(cfg *Config, environ []string) {
	env := make(map[string]string, len(environ))
	for _, kv := range environ {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			env[kv[:i]] = kv[i+1:]
		}
	}

	if v, ok := env[envPrefix+"STORE_ROOT"]; ok {
		cfg.StoreRoot = v
	}
	if v, ok := env[envPrefix+"LISTEN_ADDR"]; ok {
		cfg.ListenAddr = v
	}
	if v, ok := env[envPrefix+"DEFAULT_TIMEOUT_MS"]; ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.DefaultTimeout = n
		}
	}
	if v, ok := env[envPrefix+"RETENTION"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Retention = n
		}
	}
	if v, ok := env[envPrefix+"BROWSER_EXEC"]; ok {
		cfg.BrowserExec = v
	}
	if v, ok := env[envPrefix+"HEADLESS"]; ok {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Headless = b
		}
	}
	if v, ok := env[envPrefix+"LOG_LEVEL"]; ok {
		cfg.LogLevel = v
	}
}

// Package config loads the daemon's tunables from a YAML file plus
// environment overrides, in the priority order the daemon has always
// used: environment > explicit path > skill-adjacent file > executable-
// adjacent file > current directory > built-in defaults.
package config

import (
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// EndpointRate is one entry of the per-endpoint rate-limit table.
type EndpointRate struct {
	RatePerMin float64 `yaml:"rate_per_min"`
	Burst      int     `yaml:"burst"`
}

// Config is the full set of daemon tunables.
type Config struct {
	MaxConcurrent     int                     `yaml:"max_concurrent"`
	StartInterval     float64                 `yaml:"start_interval"`
	PollInterval      float64                 `yaml:"poll_interval"`
	GlobalRatePerMin  float64                 `yaml:"global_rate_per_min"`
	GlobalBurst       int                     `yaml:"global_burst"`
	JobTimeout        float64                 `yaml:"job_timeout"`
	ClientIdleTimeout float64                 `yaml:"client_idle_timeout"`
	EndpointRates     map[string]EndpointRate `yaml:"endpoint_rates"`
}

// Default returns the daemon's built-in defaults.
func Default() Config {
	return Config{
		MaxConcurrent:     2,
		StartInterval:     1.0,
		PollInterval:      30.0,
		GlobalRatePerMin:  10,
		GlobalBurst:       5,
		JobTimeout:        900,
		ClientIdleTimeout: 0,
		EndpointRates:     map[string]EndpointRate{},
	}
}

// candidateNames is tried, in order, in each directory Load searches.
var candidateNames = []string{"queue_config.yaml", "queue_config.yml"}

// Load resolves the daemon's configuration. explicitPath, if non-empty, is
// tried first; skillDir is an optional second directory to search (the
// directory a packaged skill ships its own config file in). Environment
// variables always take precedence over any file, matching upstream's own
// documented priority order.
func Load(explicitPath, skillDir string) (Config, error) {
	cfg := Default()

	var fileCfg *Config
	var err error

	if explicitPath != "" {
		fileCfg, err = loadFile(explicitPath)
		if err != nil {
			return cfg, err
		}
	}

	if fileCfg == nil && skillDir != "" {
		fileCfg, err = loadFromDir(skillDir)
		if err != nil {
			return cfg, err
		}
	}

	if fileCfg == nil {
		if exe, exeErr := os.Executable(); exeErr == nil {
			fileCfg, err = loadFromDir(filepath.Dir(exe))
			if err != nil {
				return cfg, err
			}
		}
	}

	if fileCfg == nil {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fileCfg, err = loadFromDir(cwd)
			if err != nil {
				return cfg, err
			}
		}
	}

	if fileCfg != nil {
		mergeInto(&cfg, fileCfg)
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

func loadFromDir(dir string) (*Config, error) {
	for _, name := range candidateNames {
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err != nil {
			continue
		}
		return loadFile(candidate)
	}
	return nil, nil
}

func loadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// mergeInto overlays any field file sets (non-zero) onto base. Zero values
// in the file are treated as "not set" and left at base's default, mirroring
// the upstream dict.update-over-defaults behavior.
func mergeInto(base *Config, file *Config) {
	if file.MaxConcurrent != 0 {
		base.MaxConcurrent = file.MaxConcurrent
	}
	if file.StartInterval != 0 {
		base.StartInterval = file.StartInterval
	}
	if file.PollInterval != 0 {
		base.PollInterval = file.PollInterval
	}
	if file.GlobalRatePerMin != 0 {
		base.GlobalRatePerMin = file.GlobalRatePerMin
	}
	if file.GlobalBurst != 0 {
		base.GlobalBurst = file.GlobalBurst
	}
	if file.JobTimeout != 0 {
		base.JobTimeout = file.JobTimeout
	}
	if file.ClientIdleTimeout != 0 {
		base.ClientIdleTimeout = file.ClientIdleTimeout
	}
	if len(file.EndpointRates) > 0 {
		base.EndpointRates = file.EndpointRates
	}
}

func applyEnvOverrides(cfg *Config) {
	if v, ok := envInt("MCP_QUEUE_MAX_CONCURRENT"); ok {
		cfg.MaxConcurrent = v
	}
	if v, ok := envFloat("MCP_QUEUE_RATE_PER_MIN"); ok {
		cfg.GlobalRatePerMin = v
	}
	if v, ok := envInt("MCP_QUEUE_BURST"); ok {
		cfg.GlobalBurst = v
	}
	if v, ok := envFloat("MCP_QUEUE_JOB_TIMEOUT"); ok {
		cfg.JobTimeout = v
	}
	if v, ok := envFloat("MCP_QUEUE_CLIENT_IDLE_TIMEOUT"); ok {
		cfg.ClientIdleTimeout = v
	}
}

func envInt(name string) (int, bool) {
	raw := os.Getenv(name)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}

func envFloat(name string) (float64, bool) {
	raw := os.Getenv(name)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

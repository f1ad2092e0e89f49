package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/chomhq/chom/pkg/retry"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "30s" or "5m", or from bare integers interpreted as seconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var secs int64
	if err := value.Decode(&secs); err == nil {
		*d = Duration(time.Duration(secs) * time.Second)
		return nil
	}

	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("invalid duration %q", value.Value)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the underlying time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the top-level control plane configuration
type Config struct {
	DataDir       string `yaml:"data_dir"`
	OpsListenAddr string `yaml:"ops_listen_addr"`
	LogLevel      string `yaml:"log_level"`
	LogJSON       bool   `yaml:"log_json"`

	SSH       SSHConfig              `yaml:"ssh"`
	Jobs      JobsConfig             `yaml:"jobs"`
	Retry     map[string]RetryConfig `yaml:"retry"`
	Degrade   DegradeConfig          `yaml:"degrade"`
	Coherency CoherencyConfig        `yaml:"coherency"`
}

// SSHConfig configures the bridge transport
type SSHConfig struct {
	IdentityFile string   `yaml:"identity_file"`
	User         string   `yaml:"user"`
	AgentPath    string   `yaml:"agent_path"`
	DialTimeout  Duration `yaml:"dial_timeout"`
}

// JobConfig configures one background job type
type JobConfig struct {
	Attempts int      `yaml:"attempts"`
	Backoff  Duration `yaml:"backoff"`
	Timeout  Duration `yaml:"timeout"`
}

// JobsConfig holds per-job-type queue settings
type JobsConfig struct {
	Provision JobConfig `yaml:"provision"`
	SSLCheck  JobConfig `yaml:"ssl_check"`
	Coherency JobConfig `yaml:"coherency"`
	Workers   int       `yaml:"workers"`
}

// RetryConfig is the YAML form of a retry policy for one dependency
type RetryConfig struct {
	MaxAttempts    int      `yaml:"max_attempts"`
	InitialDelay   Duration `yaml:"initial_delay"`
	MaxDelay       Duration `yaml:"max_delay"`
	Multiplier     float64  `yaml:"multiplier"`
	Jitter         bool     `yaml:"jitter"`
	RetryableKinds []string `yaml:"retryable_kinds"`
}

// DegradeConfig configures dependency degradation
type DegradeConfig struct {
	TTL Duration `yaml:"ttl"`
}

// CoherencyConfig configures the drift detection engine
type CoherencyConfig struct {
	CertHorizonDays int  `yaml:"cert_horizon_days"`
	DisplayCap      int  `yaml:"display_cap"`
	AutoHeal        bool `yaml:"auto_heal"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		DataDir:       "/var/lib/chom",
		OpsListenAddr: "127.0.0.1:9640",
		LogLevel:      "info",
		SSH: SSHConfig{
			IdentityFile: "/etc/chom/id_ed25519",
			User:         "chom",
			AgentPath:    "/usr/local/bin/chom-agent",
			DialTimeout:  Duration(10 * time.Second),
		},
		Jobs: JobsConfig{
			Provision: JobConfig{Attempts: 3, Backoff: Duration(60 * time.Second)},
			SSLCheck:  JobConfig{Attempts: 3, Backoff: Duration(300 * time.Second)},
			Coherency: JobConfig{Attempts: 3, Backoff: Duration(120 * time.Second), Timeout: Duration(900 * time.Second)},
			Workers:   4,
		},
		Retry: map[string]RetryConfig{
			"bridge": {
				MaxAttempts:    3,
				InitialDelay:   Duration(2 * time.Second),
				MaxDelay:       Duration(30 * time.Second),
				Multiplier:     2.0,
				Jitter:         true,
				RetryableKinds: []string{"timeout", "refused", "unknown"},
			},
			"store": {
				MaxAttempts:  3,
				InitialDelay: Duration(1 * time.Second),
				MaxDelay:     Duration(30 * time.Second),
				Multiplier:   2.0,
				Jitter:       true,
			},
		},
		Degrade: DegradeConfig{TTL: Duration(5 * time.Minute)},
		Coherency: CoherencyConfig{
			CertHorizonDays: 30,
			DisplayCap:      20,
			AutoHeal:        false,
		},
	}
}

// Load reads a YAML config file over the defaults. A missing path returns
// the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks invariants that would otherwise surface as runtime
// failures deep inside a job.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.SSH.IdentityFile == "" {
		return fmt.Errorf("ssh.identity_file is required")
	}
	if c.Jobs.Workers <= 0 {
		return fmt.Errorf("jobs.workers must be positive")
	}
	if c.Coherency.CertHorizonDays <= 0 {
		return fmt.Errorf("coherency.cert_horizon_days must be positive")
	}
	for name, rc := range c.Retry {
		if rc.MaxAttempts <= 0 {
			return fmt.Errorf("retry.%s.max_attempts must be positive", name)
		}
	}
	return nil
}

// Policy returns the retry policy for a named dependency, falling back to
// a default when none is configured.
func (c *Config) Policy(dep string) retry.Policy {
	rc, ok := c.Retry[dep]
	if !ok {
		return retry.DefaultPolicy(dep)
	}
	return retry.Policy{
		Name:           dep,
		MaxAttempts:    rc.MaxAttempts,
		InitialDelay:   rc.InitialDelay.Std(),
		MaxDelay:       rc.MaxDelay.Std(),
		Multiplier:     rc.Multiplier,
		Jitter:         rc.Jitter,
		RetryableKinds: rc.RetryableKinds,
	}
}

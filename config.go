package dash

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables overriding file configuration.
const (
	EnvEndpoints     = "DASH_UPDATE"
	EnvApp           = "DASH_APP"
	EnvFakeHostCount = "DASH_FAKE_HOST_COUNT"
)

// Config is the agent's delivery configuration.
type Config struct {
	App           string        `yaml:"app"`
	Endpoints     []string      `yaml:"endpoints"`
	Interval      time.Duration `yaml:"interval"`
	FileFirst     bool          `yaml:"file_first"`
	SkipTLSVerify bool          `yaml:"skip_tls_verify"`
	OpenTimeout   time.Duration `yaml:"open_timeout"`
	ReadTimeout   time.Duration `yaml:"read_timeout"`
	FakeHostCount int           `yaml:"fake_host_count"`
}

// DefaultConfig returns a Config with the default collectors and interval.
func DefaultConfig() Config {
	return Config{
		Endpoints:   append([]string(nil), DefaultEndpoints...),
		Interval:    DefaultInterval,
		OpenTimeout: defaultOpenTimeout,
		ReadTimeout: defaultReadTimeout,
	}
}

// LoadConfig reads a YAML file over the defaults. An empty path yields the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overlays environment variables, looked up through getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if getenv == nil {
		getenv = os.Getenv
	}
	if v := strings.TrimSpace(getenv(EnvEndpoints)); v != "" {
		var endpoints []string
		for _, raw := range strings.Split(v, ",") {
			if raw = strings.TrimSpace(raw); raw != "" {
				endpoints = append(endpoints, raw)
			}
		}
		c.Endpoints = endpoints
	}
	if v := strings.TrimSpace(getenv(EnvApp)); v != "" {
		c.App = v
	}
	if v := strings.TrimSpace(getenv(EnvFakeHostCount)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvFakeHostCount, err)
		}
		c.FakeHostCount = n
	}
	return nil
}

// Validate checks that the Config is usable.
func (c Config) Validate() error {
	var errs []error
	if c.App == "" {
		errs = append(errs, errors.New("app token is required"))
	}
	if c.Interval <= 0 {
		errs = append(errs, fmt.Errorf("%w: %s", ErrInvalidInterval, c.Interval))
	}
	if len(c.Endpoints) == 0 {
		errs = append(errs, errors.New("at least one endpoint is required"))
	}
	if _, err := c.ParsedEndpoints(); err != nil {
		errs = append(errs, err)
	}
	if c.FakeHostCount < 0 {
		errs = append(errs, errors.New("fake host count cannot be negative"))
	}
	if err := c.Timeouts().Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ParsedEndpoints parses the configured endpoint URIs in order.
func (c Config) ParsedEndpoints() ([]Endpoint, error) {
	endpoints := make([]Endpoint, 0, len(c.Endpoints))
	for _, raw := range c.Endpoints {
		ep, err := ParseEndpoint(raw)
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, ep)
	}
	return endpoints, nil
}

// Timeouts returns the HTTP timeouts of the Config.
func (c Config) Timeouts() HTTPTimeouts {
	return HTTPTimeouts{Open: c.OpenTimeout, Read: c.ReadTimeout}
}

// Package config loads LiveBridge settings: built-in defaults, then an
// optional YAML file, then LIVEBRIDGE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/mordilloSan/go-logger/logger"
)

// Environment modes
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Defaults
const (
	DefaultHostAddress     = "127.0.0.1"
	DefaultHostPort        = 9877
	DefaultListenAddress   = "127.0.0.1:8090"
	DefaultConnectTimeout  = 5 * time.Second
	DefaultRequestTimeout  = 15 * time.Second
	DefaultBackoffInitial  = 100 * time.Millisecond
	DefaultBackoffMax      = 5 * time.Second
	DefaultValidateCommand = "get_session_info"
)

const envPrefix = "LIVEBRIDGE_"

// Host is the bridge's view of the host endpoint.
type Host struct {
	Address         string        `yaml:"address"`
	Port            int           `yaml:"port"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	BackoffInitial  time.Duration `yaml:"backoff_initial"`
	BackoffMax      time.Duration `yaml:"backoff_max"`
	ValidateCommand string        `yaml:"validate_command"`
}

// Addr joins Address and Port.
func (h Host) Addr() string {
	return net.JoinHostPort(h.Address, strconv.Itoa(h.Port))
}

// API is the HTTP surface.
type API struct {
	Listen string `yaml:"listen"`
}

// Config is the whole file.
type Config struct {
	Env     string `yaml:"env"`
	Verbose bool   `yaml:"verbose"`
	Host    Host   `yaml:"host"`
	API     API    `yaml:"api"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Env: EnvProduction,
		Host: Host{
			Address:         DefaultHostAddress,
			Port:            DefaultHostPort,
			ConnectTimeout:  DefaultConnectTimeout,
			RequestTimeout:  DefaultRequestTimeout,
			BackoffInitial:  DefaultBackoffInitial,
			BackoffMax:      DefaultBackoffMax,
			ValidateCommand: DefaultValidateCommand,
		},
		API: API{Listen: DefaultListenAddress},
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty) and the environment. Unknown YAML keys are an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.UnmarshalWithOptions(raw, &cfg, yaml.Strict()); err != nil {
			logYAMLError(err, path)
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(envPrefix + key); ok && v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) error {
		v, ok := lookup(envPrefix + key)
		if !ok || v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, key, err)
		}
		*dst = d
		return nil
	}

	str("ENV", &c.Env)
	str("HOST_ADDRESS", &c.Host.Address)
	str("VALIDATE_COMMAND", &c.Host.ValidateCommand)
	str("API_LISTEN", &c.API.Listen)

	if v, ok := lookup(envPrefix + "HOST_PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sHOST_PORT: %w", envPrefix, err)
		}
		c.Host.Port = port
	}
	if v, ok := lookup(envPrefix + "VERBOSE"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sVERBOSE: %w", envPrefix, err)
		}
		c.Verbose = b
	}

	for key, dst := range map[string]*time.Duration{
		"CONNECT_TIMEOUT": &c.Host.ConnectTimeout,
		"REQUEST_TIMEOUT": &c.Host.RequestTimeout,
		"BACKOFF_INITIAL": &c.Host.BackoffInitial,
		"BACKOFF_MAX":     &c.Host.BackoffMax,
	} {
		if err := dur(key, dst); err != nil {
			return err
		}
	}
	return nil
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var errs []error
	switch strings.ToLower(c.Env) {
	case EnvDevelopment, EnvProduction:
	default:
		errs = append(errs, fmt.Errorf("env must be %q or %q, got %q", EnvDevelopment, EnvProduction, c.Env))
	}
	if strings.TrimSpace(c.Host.Address) == "" {
		errs = append(errs, errors.New("host.address is required"))
	}
	if c.Host.Port <= 0 || c.Host.Port > 65535 {
		errs = append(errs, fmt.Errorf("host.port out of range: %d", c.Host.Port))
	}
	if c.Host.ConnectTimeout <= 0 {
		errs = append(errs, errors.New("host.connect_timeout must be positive"))
	}
	if c.Host.RequestTimeout <= 0 {
		errs = append(errs, errors.New("host.request_timeout must be positive"))
	}
	if c.Host.BackoffInitial <= 0 || c.Host.BackoffMax < c.Host.BackoffInitial {
		errs = append(errs, fmt.Errorf("host backoff must satisfy 0 < initial (%s) <= max (%s)", c.Host.BackoffInitial, c.Host.BackoffMax))
	}
	if strings.TrimSpace(c.API.Listen) == "" {
		errs = append(errs, errors.New("api.listen is required"))
	}
	return errors.Join(errs...)
}

// logYAMLError logs goccy/go-yaml errors with their position when known.
func logYAMLError(err error, path string) {
	var syntaxErr *yaml.SyntaxError
	if errors.As(err, &syntaxErr) {
		if tok := syntaxErr.GetToken(); tok != nil {
			logger.Errorf("config error in %s at line %d, column %d: %s",
				path,
				tok.Position.Line,
				tok.Position.Column,
				syntaxErr.GetMessage())
			return
		}
		logger.Errorf("config error in %s: %s", path, syntaxErr.GetMessage())
		return
	}
	logger.Errorf("config error in %s: %v", path, err)
}

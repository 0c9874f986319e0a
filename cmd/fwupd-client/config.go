package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"k8s.io/klog/v2"

	"github.com/ydb-platform/fwupd-client/internal/forward"
	"github.com/ydb-platform/fwupd-client/internal/fwupd"
	"github.com/ydb-platform/fwupd-client/internal/listener"
	"github.com/ydb-platform/fwupd-client/internal/mux"
	"github.com/ydb-platform/fwupd-client/internal/transport"
)

type configSource interface {
	String() string
	open() (io.Reader, func() error, error)
}

type fileConfigSource struct {
	path string
}

func (fcs *fileConfigSource) open() (io.Reader, func() error, error) {
	file, err := os.Open(fcs.path)
	if err != nil {
		return nil, nil, err
	}
	return file, file.Close, nil
}

func (fcs *fileConfigSource) String() string {
	return "file:" + fcs.path
}

type envConfigSource struct {
	variable string
}

func (ecs *envConfigSource) open() (io.Reader, func() error, error) {
	data := os.Getenv(ecs.variable)
	if data == "" {
		return nil, nil, fmt.Errorf("environment variable %s is not set", ecs.variable)
	}
	return strings.NewReader(data), func() error { return nil }, nil
}

func (ecs *envConfigSource) String() string {
	return "env:" + ecs.variable
}

type stdinConfigSource struct{}

func (scs *stdinConfigSource) open() (io.Reader, func() error, error) {
	return os.Stdin, func() error { return nil }, nil
}

func (scs *stdinConfigSource) String() string {
	return "stdin"
}

type ConfigFlag struct {
	configSource
}

func (cf *ConfigFlag) Set(value string) error {
	switch {
	case strings.HasPrefix(value, "file:"):
		cf.configSource = &fileConfigSource{path: strings.TrimPrefix(value, "file:")}
	case strings.HasPrefix(value, "env:"):
		cf.configSource = &envConfigSource{variable: strings.TrimPrefix(value, "env:")}
	case value == "stdin":
		cf.configSource = &stdinConfigSource{}
	default:
		return fmt.Errorf("invalid config source: %s", value)
	}
	return nil
}

func (cf *ConfigFlag) String() string {
	if cf.configSource == nil {
		return ""
	}
	return cf.configSource.String()
}

type FlagValues struct {
	Config ConfigFlag

	config *Config
}

// initFlags parses the command line. Without --config the defaults are used.
func initFlags(args []string) (FlagValues, error) {
	values := FlagValues{}
	flags := flag.NewFlagSet("fwupd-client", flag.ExitOnError)
	klog.InitFlags(flags)
	flags.Var(&values.Config, "config", `configuration source (in form "file:<path>", "env:<ENV_VARIABLE>" or "stdin")`)
	if err := flags.Parse(args); err != nil {
		return values, err
	}

	if values.Config.configSource == nil {
		config := defaultConfig()
		if err := config.validate(); err != nil {
			return values, err
		}
		values.config = config
		return values, nil
	}

	configReader, configCloser, err := values.Config.open()
	if err != nil {
		return values, fmt.Errorf("failed to open --config %q: %w", values.Config.String(), err)
	}
	defer configCloser()

	config, err := parseConfig(configReader)
	if err != nil {
		return values, fmt.Errorf("failed to parse --config %q: %w", values.Config.String(), err)
	}
	values.config = config

	return values, nil
}

type RemotesConfig struct {
	Matcher string `yaml:"matcher"` // only remotes whose ID matches are listed and refreshed
	Refresh bool   `yaml:"refresh"`

	matcher *regexp.Regexp
}

func (rc *RemotesConfig) validate() error {
	matcher, err := regexp.Compile(rc.Matcher)
	if err != nil {
		return fmt.Errorf(".matcher: %q must be a valid regexp: %w", rc.Matcher, err)
	}
	rc.matcher = matcher
	return nil
}

type ListenerConfig struct {
	Retry     time.Duration `yaml:"retry"`
	BusSocket string        `yaml:"busSocket"`
	// SubmitTimeout is how long a signal may wait for a slow subscriber
	// before it is dropped.
	SubmitTimeout time.Duration `yaml:"submitTimeout"`
}

func (lc *ListenerConfig) validate() []error {
	var errs []error
	if lc.Retry < 0 {
		errs = append(errs, fmt.Errorf(".retry: must not be negative, got %s", lc.Retry))
	}
	if lc.SubmitTimeout < 0 {
		errs = append(errs, fmt.Errorf(".submitTimeout: must not be negative, got %s", lc.SubmitTimeout))
	}
	if lc.BusSocket != "" && !filepath.IsAbs(lc.BusSocket) {
		errs = append(errs, fmt.Errorf(".busSocket: %q must be an absolute path", lc.BusSocket))
	}
	return errs
}

type Config struct {
	CacheDir string `yaml:"cacheDir"`
	// Follow keeps printing signals after the report until interrupted.
	Follow bool `yaml:"follow"`
	// Healthz is the listen address of the /healthz endpoint, disabled when empty.
	Healthz       string           `yaml:"healthz"`
	Signals       []string         `yaml:"signals"`
	IgnoreSignals []string         `yaml:"ignoreSignals"`
	HTTP          transport.Config `yaml:"http"`
	Remotes       RemotesConfig    `yaml:"remotes"`
	Listener      ListenerConfig   `yaml:"listener"`
	MQTT          *forward.Config  `yaml:"mqtt"`

	filter mux.FilterFunc[fwupd.Signal]
}

func defaultConfig() *Config {
	return &Config{
		CacheDir: fwupd.DefaultCacheDir,
		HTTP: transport.Config{
			Timeout:   transport.DefaultTimeout,
			UserAgent: transport.DefaultUserAgent,
		},
		Remotes: RemotesConfig{
			Refresh: true,
		},
		Listener: ListenerConfig{
			Retry:         5 * time.Second,
			BusSocket:     listener.DefaultBusSocket,
			SubmitTimeout: time.Second,
		},
	}
}

func validateKinds(kinds []string) []error {
	var errs []error
	for i, kind := range kinds {
		if !slices.Contains(fwupd.Kinds, kind) {
			errs = append(errs, fmt.Errorf("[%d]: unknown signal %q, expected one of %s", i, kind, strings.Join(fwupd.Kinds, ", ")))
		}
	}
	return errs
}

func (c *Config) validate() error {
	var errs error
	if c.CacheDir == "" {
		errs = errors.Join(errs, fmt.Errorf(".cacheDir: must be set"))
	}
	for _, err := range validateKinds(c.Signals) {
		errs = errors.Join(errs, fmt.Errorf(".signals%w", err))
	}
	for _, err := range validateKinds(c.IgnoreSignals) {
		errs = errors.Join(errs, fmt.Errorf(".ignoreSignals%w", err))
	}
	if c.HTTP.Timeout < 0 {
		errs = errors.Join(errs, fmt.Errorf(".http.timeout: must not be negative, got %s", c.HTTP.Timeout))
	}
	if err := c.Remotes.validate(); err != nil {
		errs = errors.Join(errs, fmt.Errorf(".remotes%w", err))
	}
	for _, err := range c.Listener.validate() {
		errs = errors.Join(errs, fmt.Errorf(".listener%w", err))
	}
	if c.MQTT != nil {
		if err := c.MQTT.Validate(); err != nil {
			errs = errors.Join(errs, fmt.Errorf(".mqtt: %w", err))
		}
	}
	if errs != nil {
		return errs
	}

	include := mux.Any[fwupd.Signal]()
	if len(c.Signals) > 0 {
		include = listener.KindFilter(c.Signals...)
	}
	c.filter = mux.And(include, mux.Not(listener.KindFilter(c.IgnoreSignals...)))

	return nil
}

func parseConfig(reader io.Reader) (*Config, error) {
	decoder := yaml.NewDecoder(reader)
	decoder.KnownFields(true)
	config := defaultConfig()
	if err := decoder.Decode(config); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

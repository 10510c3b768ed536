// Package config loads the YAML configuration of the deepauth service.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the service configuration file.
//
//	schema: ["schema/*.graphql"]
//	listen: ":8080"
//	params:
//	  X-User-Id: $user_id
//	logging: { level: info, format: json }
//	tracing: { endpoint: "localhost:4317", service: deepauth }
//	server: { timeout: 10s, maxBodyBytes: 1048576, pretty: false, cors: ["*"] }
type Config struct {
	Schema  StringList        `yaml:"schema"`
	Listen  string            `yaml:"listen,omitempty"`
	Params  map[string]string `yaml:"params,omitempty"`
	Logging Logging           `yaml:"logging,omitempty"`
	Tracing Tracing           `yaml:"tracing,omitempty"`
	Server  Server            `yaml:"server,omitempty"`
}

type Logging struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
}

type Tracing struct {
	Endpoint string `yaml:"endpoint,omitempty"`
	Service  string `yaml:"service,omitempty"`
}

type Server struct {
	Timeout      Duration `yaml:"timeout,omitempty"`
	MaxBodyBytes int64    `yaml:"maxBodyBytes,omitempty"`
	Pretty       bool     `yaml:"pretty,omitempty"`
	CORS         []string `yaml:"cors,omitempty"`
}

// Defaults.
const (
	DefaultListen       = ":8080"
	DefaultLogLevel     = "info"
	DefaultLogFormat    = "json"
	DefaultService      = "deepauth"
	DefaultTimeout      = 10 * time.Second
	DefaultMaxBodyBytes = 1 << 20
)

// StringList is a YAML value that is either a string or a list of strings.
type StringList []string

// UnmarshalYAML implements yaml.Unmarshaler for StringList.
func (s *StringList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*s = []string{node.Value}
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := node.Decode(&list); err != nil {
			return err
		}
		*s = list
		return nil
	default:
		return fmt.Errorf("line %d: expected string or list", node.Line)
	}
}

// Duration is a time.Duration written as "10s" in YAML.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (any, error) { return time.Duration(d).String(), nil }

// Load reads the file at path, applies defaults and validates the result.
// Relative schema globs are resolved against the file's directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	dir := filepath.Dir(path)
	for i, p := range cfg.Schema {
		if !filepath.IsAbs(p) {
			cfg.Schema[i] = filepath.Join(dir, p)
		}
	}
	return cfg, nil
}

// Parse decodes data, applies defaults and validates the result. Unknown
// keys are rejected.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
	if c.Tracing.Service == "" {
		c.Tracing.Service = DefaultService
	}
	if c.Server.Timeout == 0 {
		c.Server.Timeout = Duration(DefaultTimeout)
	}
	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = DefaultMaxBodyBytes
	}
}

// Validate reports every problem found in c.
func (c *Config) Validate() error {
	var errs []error
	if len(c.Schema) == 0 {
		errs = append(errs, errors.New("schema: at least one file or glob is required"))
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", c.Logging.Level))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("logging.format: unknown format %q", c.Logging.Format))
	}
	if c.Server.Timeout < 0 {
		errs = append(errs, errors.New("server.timeout: must not be negative"))
	}
	if c.Server.MaxBodyBytes < 0 {
		errs = append(errs, errors.New("server.maxBodyBytes: must not be negative"))
	}
	for _, header := range c.ParamHeaders() {
		if name := c.Params[header]; !strings.HasPrefix(name, "$") || len(name) == 1 {
			errs = append(errs, fmt.Errorf("params.%s: param name %q must start with $", header, name))
		}
	}
	return errors.Join(errs...)
}

// ParamHeaders returns the configured header names in sorted order.
func (c *Config) ParamHeaders() []string {
	headers := make([]string, 0, len(c.Params))
	for h := range c.Params {
		headers = append(headers, h)
	}
	sort.Strings(headers)
	return headers
}

// SchemaFiles expands the schema globs into a sorted, de-duplicated file
// list. A glob that matches nothing is an error.
func (c *Config) SchemaFiles() ([]string, error) {
	return ExpandGlobs(c.Schema)
}

// ExpandGlobs expands patterns into a sorted, de-duplicated file list.
func ExpandGlobs(patterns []string) ([]string, error) {
	seen := map[string]bool{}
	var files []string
	for _, p := range patterns {
		matches, err := filepath.Glob(p)
		if err != nil {
			return nil, fmt.Errorf("schema %q: %w", p, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("schema %q: no files matched", p)
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				files = append(files, m)
			}
		}
	}
	sort.Strings(files)
	return files, nil
}

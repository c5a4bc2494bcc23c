package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v3"

	"github.com/grokify/objectdal"
	"github.com/grokify/objectdal/layer/immutable"
	"github.com/grokify/objectdal/layer/logging"
	"github.com/grokify/objectdal/layer/metrics"
	"github.com/grokify/objectdal/layer/retry"
	"github.com/grokify/objectdal/layer/throttle"

	// Backends register their schemes on import.
	_ "github.com/grokify/objectdal/backend/fs"
	_ "github.com/grokify/objectdal/backend/ftp"
	_ "github.com/grokify/objectdal/backend/ghac"
	_ "github.com/grokify/objectdal/backend/hdfs"
	_ "github.com/grokify/objectdal/backend/http"
	_ "github.com/grokify/objectdal/backend/memory"
	_ "github.com/grokify/objectdal/backend/obs"
	_ "github.com/grokify/objectdal/backend/s3"
	_ "github.com/grokify/objectdal/backend/sftp"
)

const (
	envConfig  = "OBJECTDAL_CONFIG"
	envProfile = "OBJECTDAL_PROFILE"
)

// ConfigFile is the YAML profile file.
//
//	default: local
//	profiles:
//	  local:
//	    scheme: fs
//	    options:
//	      root: /tmp/objectdal
//	    layers:
//	      logging: debug
//	      retry: 3
type ConfigFile struct {
	Default  string             `yaml:"default"`
	Profiles map[string]Profile `yaml:"profiles"`
}

// Profile selects a backend and the layers stacked on it.
type Profile struct {
	Scheme  string            `yaml:"scheme"`
	Options map[string]string `yaml:"options"`
	Layers  LayerConfig       `yaml:"layers"`
}

// LayerConfig enables layers. Zero values leave a layer out.
type LayerConfig struct {
	// Logging is the slog level written to stderr: debug, info, warn, error.
	Logging string `yaml:"logging"`

	// Retry is the number of retries of temporary failures.
	Retry int `yaml:"retry"`

	// Throttle is the bandwidth limit in bytes per second.
	Throttle int64 `yaml:"throttle"`

	// Metrics prints operation counters to stderr when the command ends.
	Metrics bool `yaml:"metrics"`

	// Index lists keys served by List for backends that can't list.
	Index []string `yaml:"index"`
}

// profileFlags are the flags every command accepts.
type profileFlags struct {
	config  *string
	profile *string
}

func addProfileFlags(fs *flag.FlagSet) profileFlags {
	return profileFlags{
		config:  fs.String("config", "", "Profile file (default $"+envConfig+" or ~/.config/objectdal/config.yaml)"),
		profile: fs.String("profile", "", "Profile name (default $"+envProfile+" or the file's default)"),
	}
}

func defaultConfigPath() string {
	if p := os.Getenv(envConfig); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "objectdal.yaml"
	}
	return filepath.Join(dir, "objectdal", "config.yaml")
}

// LoadConfigFile reads and parses a profile file. Option values may
// reference environment variables as $VAR or ${VAR}.
func LoadConfigFile(path string) (*ConfigFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %q: %w", path, err)
	}
	var cfg ConfigFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %q: %w", path, err)
	}
	for name, p := range cfg.Profiles {
		for k, v := range p.Options {
			p.Options[k] = os.ExpandEnv(v)
		}
		cfg.Profiles[name] = p
	}
	return &cfg, nil
}

// Lookup returns the named profile, falling back to $OBJECTDAL_PROFILE and
// then to the file's default.
func (c *ConfigFile) Lookup(name string) (Profile, string, error) {
	if name == "" {
		name = os.Getenv(envProfile)
	}
	if name == "" {
		name = c.Default
	}
	if name == "" && len(c.Profiles) == 1 {
		for only := range c.Profiles {
			name = only
		}
	}
	if name == "" {
		return Profile{}, "", errors.New("no profile selected: use -profile or set " + envProfile)
	}
	p, ok := c.Profiles[name]
	if !ok {
		return Profile{}, name, fmt.Errorf("profile %q not found", name)
	}
	return p, name, nil
}

// session is an operator built from a profile, plus what the command needs
// to flush when it ends.
type session struct {
	op       *objectdal.Operator
	registry *prometheus.Registry
}

func (f profileFlags) open(stderr io.Writer) (*session, error) {
	path := *f.config
	if path == "" {
		path = defaultConfigPath()
	}
	cfg, err := LoadConfigFile(path)
	if err != nil {
		return nil, err
	}
	p, name, err := cfg.Lookup(*f.profile)
	if err != nil {
		return nil, err
	}
	s, err := p.build(stderr)
	if err != nil {
		return nil, fmt.Errorf("profile %q: %w", name, err)
	}
	return s, nil
}

// build opens the backend and stacks the layers. The index goes innermost so
// the other layers see its listings.
func (p Profile) build(stderr io.Writer) (*session, error) {
	scheme, err := objectdal.ParseScheme(p.Scheme)
	if err != nil {
		return nil, err
	}
	op, err := objectdal.Open(scheme, p.Options)
	if err != nil {
		return nil, err
	}
	s := &session{}
	if len(p.Layers.Index) > 0 {
		op = op.Layer(immutable.New(p.Layers.Index))
	}
	if p.Layers.Throttle > 0 {
		op = op.Layer(throttle.New(p.Layers.Throttle, 0))
	}
	var logger *slog.Logger
	if p.Layers.Logging != "" {
		var level slog.Level
		if err := level.UnmarshalText([]byte(strings.ToUpper(p.Layers.Logging))); err != nil {
			return nil, fmt.Errorf("logging level %q: %w", p.Layers.Logging, err)
		}
		logger = slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))
	}
	if p.Layers.Retry > 0 {
		cfg := retry.DefaultConfig()
		cfg.MaxRetries = p.Layers.Retry
		cfg.Logger = logger
		op = op.Layer(retry.New(cfg))
	}
	if logger != nil {
		op = op.Layer(logging.New(logging.WithLogger(logger)))
	}
	if p.Layers.Metrics {
		s.registry = prometheus.NewRegistry()
		l, err := metrics.New(s.registry)
		if err != nil {
			return nil, err
		}
		op = op.Layer(l)
	}
	s.op = op
	return s, nil
}

// close prints the collected metrics, if any.
func (s *session) close(w io.Writer) {
	if s.registry == nil {
		return
	}
	families, err := s.registry.Gather()
	if err != nil {
		fmt.Fprintf(w, "gather metrics: %v\n", err)
		return
	}
	for _, mf := range families {
		if !strings.HasSuffix(mf.GetName(), "_total") {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := make([]string, 0, len(m.GetLabel()))
			for _, l := range m.GetLabel() {
				labels = append(labels, l.GetName()+"="+l.GetValue())
			}
			fmt.Fprintf(w, "%s{%s} %g\n", mf.GetName(), strings.Join(labels, ","), m.GetCounter().GetValue())
		}
	}
}

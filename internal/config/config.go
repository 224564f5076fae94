package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/bluegreen/internal/logger"
	"github.com/loykin/bluegreen/internal/pipeline"
	"github.com/loykin/bluegreen/internal/slot"
)

// EnvPrefix namespaces automatic environment overrides, e.g.
// BLUEGREEN_LOG_LEVEL=debug sets log.level.
const EnvPrefix = "BLUEGREEN"

// Config is the manager configuration. Every key has a default, so an empty
// file (or none) gives a working manager.
type Config struct {
	ManagePort    int           `mapstructure:"manage_port"`
	BasePath      string        `mapstructure:"base_path"`
	ConfigDir     string        `mapstructure:"config_dir"`
	WorkDir       string        `mapstructure:"workdir"`
	InitialActive string        `mapstructure:"initial_active"`
	Grace         time.Duration `mapstructure:"grace"`
	KillWait      time.Duration `mapstructure:"kill_wait"`

	HealthTimeout  time.Duration `mapstructure:"health_timeout"`
	WebhookTimeout time.Duration `mapstructure:"webhook_timeout"`
	SlotHost       string        `mapstructure:"slot_host"`

	UseOSEnv bool     `mapstructure:"use_os_env"`
	Env      []string `mapstructure:"env"`
	EnvFiles []string `mapstructure:"env_files"`

	Proxy    ProxyConfig     `mapstructure:"proxy"`
	Server1  SlotConfig      `mapstructure:"server1"`
	Server2  SlotConfig      `mapstructure:"server2"`
	Pipeline []pipeline.Step `mapstructure:"pipeline"`
	Log      logger.Config   `mapstructure:"log"`
	Metrics  MetricsConfig   `mapstructure:"metrics"`
	History  HistoryConfig   `mapstructure:"history"`
}

type ProxyConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Binary      string `mapstructure:"binary"`
	PrimaryAddr string `mapstructure:"primary_addr"` // entrypoint serving the active slot
	PreviewAddr string `mapstructure:"preview_addr"` // entrypoint serving the non-active slot
}

type SlotConfig struct {
	Port      int      `mapstructure:"port"`
	ManageURL string   `mapstructure:"manage_url"`
	Command   string   `mapstructure:"command"`
	Dir       string   `mapstructure:"dir"` // empty means <workdir>/<slot>
	Env       []string `mapstructure:"env"`
}

type MetricsConfig struct {
	Listen string `mapstructure:"listen"` // empty disables the metrics listener
}

type HistoryConfig struct {
	DSNs []string `mapstructure:"dsns"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("manage_port", 9090)
	v.SetDefault("base_path", "")
	v.SetDefault("config_dir", "config")
	v.SetDefault("workdir", "/workdir")
	v.SetDefault("initial_active", string(slot.Server1))
	v.SetDefault("grace", "5s")
	v.SetDefault("kill_wait", "1s")
	v.SetDefault("health_timeout", "2s")
	v.SetDefault("webhook_timeout", "5s")
	v.SetDefault("slot_host", "localhost")
	v.SetDefault("use_os_env", true)
	v.SetDefault("env", []string{})
	v.SetDefault("env_files", []string{})

	v.SetDefault("proxy.enabled", true)
	v.SetDefault("proxy.binary", "traefik")
	v.SetDefault("proxy.primary_addr", ":80")
	v.SetDefault("proxy.preview_addr", ":8080")

	v.SetDefault("server1.port", 4000)
	v.SetDefault("server1.manage_url", "http://localhost:4000/server-manager")
	v.SetDefault("server1.command", "npm start")
	v.SetDefault("server1.dir", "")
	v.SetDefault("server1.env", []string{})
	v.SetDefault("server2.port", 4001)
	v.SetDefault("server2.manage_url", "http://localhost:4001/server-manager")
	v.SetDefault("server2.command", "npm start")
	v.SetDefault("server2.dir", "")
	v.SetDefault("server2.env", []string{})

	v.SetDefault("log.dir", "/var/log")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.color", false)
	v.SetDefault("log.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("log.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("log.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("log.compress", false)

	v.SetDefault("metrics.listen", "")
	v.SetDefault("history.dsns", []string{})
}

// Load reads the TOML file at path (skipped when path is empty), applies
// environment overrides and validates the result. MANAGE_PORT,
// SERVER1_MANAGE_URL and SERVER2_MANAGE_URL win over the file, as does any
// BLUEGREEN_<KEY> variable.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range map[string]string{
		"manage_port":        "MANAGE_PORT",
		"server1.manage_url": "SERVER1_MANAGE_URL",
		"server2.manage_url": "SERVER2_MANAGE_URL",
	} {
		if err := v.BindEnv(key, env, EnvPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_"))); err != nil {
			return nil, err
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if path != "" && !filepath.IsAbs(c.ConfigDir) {
		c.ConfigDir = filepath.Join(filepath.Dir(path), c.ConfigDir)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) Validate() error {
	if c.ManagePort <= 0 || c.ManagePort > 65535 {
		return fmt.Errorf("manage_port: %d out of range", c.ManagePort)
	}
	if _, err := slot.Parse(c.InitialActive); err != nil {
		return fmt.Errorf("initial_active: %w", err)
	}
	if c.Grace <= 0 {
		return fmt.Errorf("grace must be positive")
	}
	if c.KillWait <= 0 {
		return fmt.Errorf("kill_wait must be positive")
	}
	if c.HealthTimeout <= 0 || c.WebhookTimeout <= 0 {
		return fmt.Errorf("health_timeout and webhook_timeout must be positive")
	}
	for _, s := range slot.All() {
		sc := c.Slot(s)
		if sc.Port <= 0 || sc.Port > 65535 {
			return fmt.Errorf("%s.port: %d out of range", s, sc.Port)
		}
		if _, err := url.ParseRequestURI(sc.ManageURL); err != nil {
			return fmt.Errorf("%s.manage_url: %w", s, err)
		}
		if strings.TrimSpace(sc.Command) == "" {
			return fmt.Errorf("%s.command is required", s)
		}
	}
	if c.Server1.Port == c.Server2.Port {
		return fmt.Errorf("server1.port and server2.port must differ")
	}
	if c.Proxy.Enabled && strings.TrimSpace(c.Proxy.Binary) == "" {
		return fmt.Errorf("proxy.binary is required when the proxy is enabled")
	}
	if err := pipeline.ValidateSteps(c.Steps()); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	return nil
}

// Slot returns the configuration of s with its working directory resolved.
func (c *Config) Slot(s slot.Slot) SlotConfig {
	sc := c.Server1
	if s == slot.Server2 {
		sc = c.Server2
	}
	if sc.Dir == "" {
		sc.Dir = filepath.Join(c.WorkDir, s.String())
	}
	return sc
}

// Steps returns the redeploy pipeline, falling back to the default steps.
func (c *Config) Steps() []pipeline.Step {
	if len(c.Pipeline) == 0 {
		return pipeline.DefaultSteps()
	}
	return c.Pipeline
}

// Active returns the parsed initial active slot.
func (c *Config) Active() slot.Slot {
	s, err := slot.Parse(c.InitialActive)
	if err != nil {
		return slot.Server1
	}
	return s
}

func (c *Config) StaticRoutesPath() string { return filepath.Join(c.ConfigDir, "traefik.yml") }

func (c *Config) DynamicRoutesPath() string { return filepath.Join(c.ConfigDir, "slots.yml") }

// ProxyCommand is the command line the supervisor uses to run the proxy.
func (c *Config) ProxyCommand() string {
	return c.Proxy.Binary + " --configFile " + c.StaticRoutesPath()
}

// ManageAddr is the control API listen address.
func (c *Config) ManageAddr() string { return ":" + strconv.Itoa(c.ManagePort) }

// GlobalEnv merges env_files (in order) and then the env list. The result is
// applied over the manager's own environment when use_os_env is set.
func (c *Config) GlobalEnv() ([]string, error) {
	var out []string
	for _, p := range c.EnvFiles {
		pairs, err := LoadEnvFile(p)
		if err != nil {
			return nil, fmt.Errorf("env file %s: %w", p, err)
		}
		out = append(out, pairs...)
	}
	return append(out, c.Env...), nil
}

// LoadEnvFile parses a .env file with KEY=VALUE lines. Blank lines and lines
// starting with # are skipped; an optional "export " prefix is dropped.
func LoadEnvFile(path string) ([]string, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	var out []string
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		i := strings.IndexByte(line, '=')
		if i <= 0 {
			continue
		}
		out = append(out, strings.TrimSpace(line[:i])+"="+strings.TrimSpace(line[i+1:]))
	}
	return out, nil
}

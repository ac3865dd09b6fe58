package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"poudctl/internal/jailhouse"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "POUDCTL_"

// Executor modes.
const (
	ExecutorLocal  = "local"
	ExecutorDocker = "docker"
)

// Settings configure how poudctl runs, as opposed to what it manages.
// Values come from defaults, then an optional settings file, then
// POUDCTL_* environment variables.
type Settings struct {
	Manifest string `yaml:"manifest" toml:"manifest" env:"MANIFEST"`

	Executor        string `yaml:"executor" toml:"executor" env:"EXECUTOR"`
	DockerContainer string `yaml:"docker_container" toml:"docker_container" env:"DOCKER_CONTAINER"`
	DockerUser      string `yaml:"docker_user" toml:"docker_user" env:"DOCKER_USER"`
	DockerCLI       string `yaml:"docker_cli" toml:"docker_cli" env:"DOCKER_CLI"`

	StatePath string `yaml:"state_path" toml:"state_path" env:"STATE_PATH"`
	AuditPath string `yaml:"audit_path" toml:"audit_path" env:"AUDIT_PATH"`

	Listen   string        `yaml:"listen" toml:"listen" env:"LISTEN"`
	Interval time.Duration `yaml:"interval" toml:"interval" env:"INTERVAL"`
	LogLevel string        `yaml:"log_level" toml:"log_level" env:"LOG_LEVEL"`

	Tool       string `yaml:"tool" toml:"tool" env:"TOOL"`
	BaseDir    string `yaml:"base_dir" toml:"base_dir" env:"BASE_DIR"`
	ConfigRoot string `yaml:"config_root" toml:"config_root" env:"CONFIG_ROOT"`
	EtcDir     string `yaml:"etc_dir" toml:"etc_dir" env:"ETC_DIR"`
	CronDir    string `yaml:"cron_dir" toml:"cron_dir" env:"CRON_DIR"`
	CronUser   string `yaml:"cron_user" toml:"cron_user" env:"CRON_USER"`
}

// DefaultSettings returns settings for a stock FreeBSD host.
func DefaultSettings() Settings {
	layout := jailhouse.DefaultLayout()
	return Settings{
		Manifest:   "/usr/local/etc/poudctl/manifest.yaml",
		Executor:   ExecutorLocal,
		DockerUser: "root",
		DockerCLI:  "/usr/local/bin/docker",
		StatePath:  "/var/db/poudctl/state.json",
		AuditPath:  "/var/log/poudctl/audit.log",
		Listen:     "127.0.0.1:8420",
		Interval:   15 * time.Minute,
		LogLevel:   "info",
		Tool:       layout.Tool,
		BaseDir:    layout.BaseDir,
		ConfigRoot: layout.ConfigRoot,
		EtcDir:     layout.EtcDir,
		CronDir:    layout.CronDir,
		CronUser:   layout.CronUser,
	}
}

// LoadSettings layers an optional settings file and the environment over
// the defaults. An empty path skips the file.
func LoadSettings(path string) (Settings, error) {
	s := DefaultSettings()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Settings{}, fmt.Errorf("read settings: %w", err)
		}
		if strings.EqualFold(filepath.Ext(path), ".toml") {
			if _, err := toml.Decode(string(data), &s); err != nil {
				return Settings{}, fmt.Errorf("parse settings: %w", err)
			}
		} else if len(bytes.TrimSpace(data)) > 0 {
			if err := yaml.Unmarshal(data, &s); err != nil {
				return Settings{}, fmt.Errorf("parse settings: %w", err)
			}
		}
	}

	if err := env.ParseWithOptions(&s, env.Options{Prefix: EnvPrefix}); err != nil {
		return Settings{}, fmt.Errorf("parse environment: %w", err)
	}

	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Validate checks settings that would otherwise fail late.
func (s Settings) Validate() error {
	switch s.Executor {
	case ExecutorLocal:
	case ExecutorDocker:
		if s.DockerContainer == "" {
			return fmt.Errorf("docker executor requires docker_container")
		}
	default:
		return fmt.Errorf("unknown executor %q (want %s or %s)", s.Executor, ExecutorLocal, ExecutorDocker)
	}
	if s.StatePath == "" {
		return fmt.Errorf("state_path is required")
	}
	if s.Interval < 0 {
		return fmt.Errorf("interval must not be negative")
	}
	return nil
}

// Layout returns the host layout the settings describe. With the docker
// executor the layout names the builder container, so scheduled builds
// reach it too.
func (s Settings) Layout() jailhouse.Layout {
	l := jailhouse.Layout{
		Tool:       s.Tool,
		BaseDir:    s.BaseDir,
		ConfigRoot: s.ConfigRoot,
		EtcDir:     s.EtcDir,
		CronDir:    s.CronDir,
		CronUser:   s.CronUser,
	}
	if s.Executor == ExecutorDocker {
		l.Container = s.DockerContainer
		l.ContainerUser = s.DockerUser
		l.DockerCLI = s.DockerCLI
	}
	return l
}

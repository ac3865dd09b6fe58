package commands

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/lmittmann/tint"

	"poudctl/internal/audit"
	"poudctl/internal/config"
	"poudctl/internal/executor"
	"poudctl/internal/jailhouse"
)

const dockerModeHelp = `
Docker executor:
  poudriere commands run inside POUDCTL_DOCKER_CONTAINER. Configuration
  files and cron entries are still written on this host, so the config
  root (POUDCTL_CONFIG_ROOT) and POUDCTL_ETC_DIR must be bind-mounted
  into the container at the same paths. Cron runs on this host and
  starts scheduled builds with "docker exec" (POUDCTL_DOCKER_CLI).`

// session is everything a local command needs to touch the host.
type session struct {
	settings config.Settings
	logger   *slog.Logger
	manager  *jailhouse.Manager
	audit    *audit.Logger
}

func (o *globalOptions) loadSettings() (config.Settings, error) {
	s, err := config.LoadSettings(o.settingsPath)
	if err != nil {
		return config.Settings{}, err
	}
	if o.manifestPath != "" {
		s.Manifest = o.manifestPath
	}
	if o.logLevel != "" {
		s.LogLevel = o.logLevel
	}
	return s, nil
}

func newLogger(w io.Writer, level string) *slog.Logger {
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      parseLevel(level),
		TimeFormat: time.TimeOnly,
	}))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newExecutor(s config.Settings, logger *slog.Logger) (executor.Executor, error) {
	switch s.Executor {
	case config.ExecutorDocker:
		return executor.NewDockerExecutor(executor.DockerConfig{
			Container: s.DockerContainer,
			User:      s.DockerUser,
			Logger:    logger,
		})
	case config.ExecutorLocal:
		return executor.NewLocalExecutor(logger), nil
	default:
		return nil, fmt.Errorf("unknown executor %q", s.Executor)
	}
}

// newSession wires settings, logger, executor, audit log and manager.
func newSession(opts *globalOptions, logOut io.Writer) (*session, error) {
	s, err := opts.loadSettings()
	if err != nil {
		return nil, err
	}
	logger := newLogger(logOut, s.LogLevel)

	exec, err := newExecutor(s, logger)
	if err != nil {
		return nil, err
	}

	auditLog, err := audit.NewLogger(s.AuditPath)
	if err != nil {
		return nil, err
	}

	mgr, err := jailhouse.NewManager(jailhouse.Config{
		Layout:    s.Layout(),
		Executor:  exec,
		StatePath: s.StatePath,
		Audit:     auditLog,
		Logger:    logger,
	})
	if err != nil {
		auditLog.Close()
		return nil, fmt.Errorf("create manager: %w", err)
	}

	return &session{settings: s, logger: logger, manager: mgr, audit: auditLog}, nil
}

func (r *session) Close() error {
	return r.audit.Close()
}

// loadDesired reads and converts the manifest at path.
func loadDesired(path string) (jailhouse.Desired, error) {
	m, err := config.LoadManifest(path)
	if err != nil {
		return jailhouse.Desired{}, err
	}
	return m.Desired()
}

package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// dockerAPI is the subset of the Docker client the executor needs.
type dockerAPI interface {
	ContainerExecCreate(ctx context.Context, container string, options container.ExecOptions) (container.ExecCreateResponse, error)
	ContainerExecAttach(ctx context.Context, execID string, config container.ExecAttachOptions) (types.HijackedResponse, error)
	ContainerExecInspect(ctx context.Context, execID string) (container.ExecInspect, error)
}

// DockerExecutor runs every command inside one long-running builder
// container through the Docker exec API. The container must already
// exist and have poudriere installed at the configured tool path.
type DockerExecutor struct {
	client    dockerAPI
	container string
	user      string
	logger    *slog.Logger
}

// DockerConfig configures a DockerExecutor.
type DockerConfig struct {
	Container string
	User      string // defaults to root
	Logger    *slog.Logger
}

// NewDockerExecutor connects to the Docker daemon from the environment
// (DOCKER_HOST and friends) and targets cfg.Container.
func NewDockerExecutor(cfg DockerConfig) (*DockerExecutor, error) {
	if cfg.Container == "" {
		return nil, fmt.Errorf("docker executor: container is required")
	}
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return newDockerExecutor(cli, cfg), nil
}

func newDockerExecutor(api dockerAPI, cfg DockerConfig) *DockerExecutor {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.User == "" {
		cfg.User = "root"
	}
	return &DockerExecutor{
		client:    api,
		container: cfg.Container,
		user:      cfg.User,
		logger:    cfg.Logger.With("component", "docker-exec"),
	}
}

// Run executes the command in the builder container and waits for it.
func (de *DockerExecutor) Run(ctx context.Context, c Command) (Result, error) {
	de.logger.Info("exec", "cmd", c.String(), "container", de.container)
	if err := ctx.Err(); err != nil {
		return Result{ExitCode: -1}, fmt.Errorf("%s: %w", c.String(), err)
	}

	execConfig := container.ExecOptions{
		Cmd:          append([]string{c.Path}, c.Args...),
		Env:          c.Env,
		WorkingDir:   c.Dir,
		User:         de.user,
		AttachStdout: true,
		AttachStderr: true,
	}

	created, err := de.client.ContainerExecCreate(ctx, de.container, execConfig)
	if err != nil {
		return Result{ExitCode: -1}, fmt.Errorf("create exec: %w", err)
	}

	resp, err := de.client.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return Result{ExitCode: -1}, fmt.Errorf("attach exec: %w", err)
	}
	defer resp.Close()

	var stdout, stderr bytes.Buffer
	copyDone := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(&stdout, &stderr, resp.Reader)
		copyDone <- err
	}()

	select {
	case err := <-copyDone:
		if err != nil {
			de.logger.Warn("stream error", "error", err)
		}
	case <-ctx.Done():
		return Result{ExitCode: -1}, fmt.Errorf("%s: %w", c.String(), ctx.Err())
	}

	inspect, err := de.client.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes(), ExitCode: -1}, fmt.Errorf("inspect exec: %w", err)
	}

	res := Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes(), ExitCode: inspect.ExitCode}
	if res.ExitCode != 0 {
		return res, newExitError(c, res)
	}
	return res, nil
}

// Exists runs test -e inside the builder container. Only a clean exit 1
// from test means the path is missing; transport failures are errors.
func (de *DockerExecutor) Exists(ctx context.Context, path string) (bool, error) {
	_, err := de.Run(ctx, Command{Path: "test", Args: []string{"-e", path}})
	if err == nil {
		return true, nil
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode == 1 {
		return false, nil
	}
	return false, fmt.Errorf("check %s in %s: %w", path, de.container, err)
}

package sandbox

import (
	"bytes"
	"context"
	"io"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/pkg/errors"

	"github.com/edgecoder-mesh/edgecoder/internal/domain"
)

// DockerRunner executes code inside a short-lived container under the
// resource caps spec §4.3 names: memory, CPU share, --network=none unless
// granted, read-only rootfs, pid cap, wall-clock timeout.
type DockerRunner struct {
	cli *client.Client
}

// NewDockerRunner connects to the local docker daemon via the environment
// (DOCKER_HOST etc.), the standard github.com/docker/docker/client bootstrap.
func NewDockerRunner() (*DockerRunner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, errors.Wrap(err, "sandbox: connect docker daemon")
	}
	return &DockerRunner{cli: cli}, nil
}

var imageByLanguage = map[domain.Language]string{
	domain.LangPython:     "python:3.11-slim",
	domain.LangJavaScript: "node:20-slim",
}

func commandByLanguage(language domain.Language) []string {
	switch language {
	case domain.LangPython:
		return []string{"python3", "-I", "-c", "import sys; exec(sys.stdin.read())"}
	case domain.LangJavaScript:
		return []string{"node", "--max-old-space-size=256", "-e", "eval(require('fs').readFileSync(0, 'utf8'))"}
	default:
		return nil
	}
}

// Run creates, starts, waits on, and removes a single container running
// code, enforcing policy's resource caps.
func (d *DockerRunner) Run(ctx context.Context, language domain.Language, code string, policy Policy) (domain.RunResult, error) {
	start := time.Now()

	image, ok := imageByLanguage[language]
	if !ok {
		return domain.RunResult{Language: language, OK: false, Stderr: "unsupported language for docker sandbox"}, nil
	}
	cmd := commandByLanguage(language)

	networkMode := container.NetworkMode("none")
	if policy.NetworkAllowed {
		networkMode = container.NetworkMode("bridge")
	}

	memBytes := int64(policy.MemoryCapMB) * 1024 * 1024
	if memBytes <= 0 {
		memBytes = 256 * 1024 * 1024
	}
	cpuShare := policy.CPUShare
	if cpuShare <= 0 {
		cpuShare = 0.5
	}
	pidCap := int64(policy.PidCap)
	if pidCap <= 0 {
		pidCap = 50
	}

	resp, err := d.cli.ContainerCreate(ctx, &container.Config{
		Image:        image,
		Cmd:          cmd,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
		OpenStdin:    true,
		StdinOnce:    true,
	}, &container.HostConfig{
		NetworkMode:    networkMode,
		ReadonlyRootfs: true,
		Resources: container.Resources{
			Memory:    memBytes,
			CPUPeriod: 100_000,
			CPUQuota:  int64(cpuShare * 100_000),
			PidsLimit: &pidCap,
		},
	}, nil, nil, "")
	if err != nil {
		return domain.RunResult{}, errors.Wrap(err, "sandbox: create container")
	}
	defer func() {
		_ = d.cli.ContainerRemove(context.Background(), resp.ID, types.ContainerRemoveOptions{Force: true})
	}()

	hijacked, err := d.cli.ContainerAttach(ctx, resp.ID, types.ContainerAttachOptions{
		Stream: true, Stdin: true, Stdout: true, Stderr: true,
	})
	if err != nil {
		return domain.RunResult{}, errors.Wrap(err, "sandbox: attach container")
	}
	defer hijacked.Close()

	if err := d.cli.ContainerStart(ctx, resp.ID, types.ContainerStartOptions{}); err != nil {
		return domain.RunResult{}, errors.Wrap(err, "sandbox: start container")
	}

	if _, err := hijacked.Conn.Write([]byte(code)); err != nil {
		// best-effort: a write failure here surfaces as empty stdin, which
		// the interpreter will report as an error in stderr.
		_ = err
	}
	hijacked.CloseWrite()

	var stdout, stderr bytes.Buffer
	copyDone := make(chan struct{})
	go func() {
		_, _ = io.Copy(&stdout, hijacked.Reader)
		close(copyDone)
	}()

	statusCh, errCh := d.cli.ContainerWait(ctx, resp.ID, container.WaitConditionNotRunning)
	var exitCode int
	var timedOut bool
	select {
	case err := <-errCh:
		if ctx.Err() == context.DeadlineExceeded {
			timedOut = true
			exitCode = 124
		} else if err != nil {
			return domain.RunResult{}, errors.Wrap(err, "sandbox: wait container")
		}
	case status := <-statusCh:
		exitCode = int(status.StatusCode)
	case <-ctx.Done():
		timedOut = true
		exitCode = 124
		_ = d.cli.ContainerKill(context.Background(), resp.ID, "KILL")
	}
	<-copyDone

	logs, _ := d.cli.ContainerLogs(context.Background(), resp.ID, types.ContainerLogsOptions{ShowStdout: false, ShowStderr: true})
	if logs != nil {
		_, _ = io.Copy(&stderr, logs)
		_ = logs.Close()
	}

	result := domain.RunResult{
		Language:   language,
		OK:         exitCode == 0 && !timedOut,
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		ExitCode:   exitCode,
		DurationMs: time.Since(start).Milliseconds(),
	}
	if timedOut {
		result.QueueForCloud = true
		result.QueueReason = domain.QueueTimeout
		if result.Stderr == "" {
			result.Stderr = "execution exceeded wall-clock timeout"
		}
	}
	return result, nil
}

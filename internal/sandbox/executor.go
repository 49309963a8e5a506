// Package sandbox runs generated code under OS or container isolation with
// CPU/mem/net caps (spec §4.3).
package sandbox

import (
	"bytes"
	"context"
	"os/exec"
	"runtime"
	"time"

	"github.com/edgecoder-mesh/edgecoder/internal/domain"
	"github.com/edgecoder-mesh/edgecoder/internal/elog"
)

var logger = elog.New("sandbox")

// Executor runs (language, code, policy) and returns a RunResult
// deterministically (spec §4.3). Concurrency is capped by maxConcurrentTasks
// (spec §5, default 1).
type Executor struct {
	docker *DockerRunner // nil if docker is unavailable; falls back to host mode
	sem    chan struct{}
}

// NewExecutor builds an Executor whose sandbox concurrency is capped at
// maxConcurrentTasks. docker may be nil when no docker daemon is reachable.
func NewExecutor(maxConcurrentTasks int, docker *DockerRunner) *Executor {
	if maxConcurrentTasks < 1 {
		maxConcurrentTasks = 1
	}
	return &Executor{docker: docker, sem: make(chan struct{}, maxConcurrentTasks)}
}

// Run executes code in the given language under the strongest mode the
// policy and agent capability allow. It never executes Python that fails
// ValidatePython; policy violations (mode too weak) return
// sandbox_required/sandbox_unavailable without running anything.
func (e *Executor) Run(ctx context.Context, language domain.Language, code string, policy Policy, agentMode domain.SandboxMode) (domain.RunResult, error) {
	if policy.Required && agentMode == domain.SandboxNone {
		return domain.RunResult{Language: language, OK: false}, sandboxRequiredErr()
	}

	mode, ok := policy.BestAvailableMode(agentMode)
	if policy.Required && !ok {
		return domain.RunResult{Language: language, OK: false}, sandboxUnavailableErr()
	}

	if language == domain.LangPython {
		if valid, violation := ValidatePython(code); !valid {
			logger.Warnw("python AST validation rejected code", "violation", violation)
			return domain.RunResult{
				Language: language, OK: false,
				Stderr:        violation,
				QueueForCloud: true,
				QueueReason:   domain.QueueOutsideSubset,
			}, nil
		}
	}

	e.sem <- struct{}{}
	defer func() { <-e.sem }()

	timeout := policy.WallClockTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if mode == domain.SandboxDocker && e.docker != nil {
		return e.docker.Run(runCtx, language, code, policy)
	}
	return runHost(runCtx, language, code, policy)
}

func sandboxRequiredErr() error { return newSandboxError("sandbox_required") }
func sandboxUnavailableErr() error { return newSandboxError("sandbox_unavailable") }

// runHost spawns the interpreter directly, applying what host-level limits
// Go's exec/os packages expose (the container path is the one that
// enforces hard caps; host mode is the permissive fallback spec §4.3 names
// for when docker isn't available).
func runHost(ctx context.Context, language domain.Language, code string, policy Policy) (domain.RunResult, error) {
	start := time.Now()

	bin, args, err := interpreterFor(language, policy)
	if err != nil {
		return domain.RunResult{Language: language, OK: false, Stderr: err.Error()}, nil
	}

	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stdin = bytes.NewReader([]byte(code))
	applyHostResourceLimits(cmd, policy)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	duration := time.Since(start).Milliseconds()

	exitCode := 0
	timedOut := ctx.Err() == context.DeadlineExceeded
	if timedOut {
		exitCode = 124
	} else if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = 1
		}
	}

	result := domain.RunResult{
		Language:   language,
		OK:         runErr == nil && !timedOut,
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		ExitCode:   exitCode,
		DurationMs: duration,
	}
	if timedOut {
		result.QueueForCloud = true
		result.QueueReason = domain.QueueTimeout
		result.Stderr = "execution exceeded wall-clock timeout"
	}
	return result, nil
}

func interpreterFor(language domain.Language, policy Policy) (string, []string, error) {
	switch language {
	case domain.LangPython:
		return "python3", []string{"-I", "-"}, nil
	case domain.LangJavaScript:
		args := []string{"--max-old-space-size=256"}
		if runtime.GOOS == "darwin" {
			// host mode on macOS may additionally wrap the interpreter in a
			// sandbox-exec profile; left to deployment configuration, spec §4.3.
		}
		_ = policy
		return "node", append(args, "-"), nil
	default:
		return "", nil, unsupportedLanguageErr(language)
	}
}

func unsupportedLanguageErr(language domain.Language) error {
	return newSandboxError("unsupported language: " + string(language))
}

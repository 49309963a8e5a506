// Package agent implements the per-task retry/reflection state machine of
// spec §4.2: Plan -> Generate -> Execute -> (ok? done : Reflect -> Regenerate
// -> Execute -> ...). Grounded directly on the teacher's work/agent.go
// CpuAgent (Work/Start/Stop/update/mine channel loop), generalized from
// "mine a block" to "run a task", and on spec §9's redesign note breaking
// the cyclic agent/provider reference via a narrow Generator interface.
package agent

import (
	"context"
	"fmt"

	"github.com/edgecoder-mesh/edgecoder/internal/domain"
	"github.com/edgecoder-mesh/edgecoder/internal/elog"
	"github.com/edgecoder-mesh/edgecoder/internal/sandbox"
)

var logger = elog.New("agent")

// Generator is the narrow capability interface an Agent is given instead of
// holding a reference to the inference gateway/registries that produced it
// (spec §9).
type Generator func(ctx context.Context, prompt string) (string, error)

// Options configures an Agent. The historical AgentBase -> InteractiveAgent
// / SwarmWorkerAgent inheritance collapses to this one options record per
// spec §9; the two "subclasses" differ only in MaxIterations and the
// sandbox default.
type Options struct {
	MaxIterations   int
	SandboxPolicy   sandbox.Policy
	AgentSandboxMode domain.SandboxMode
}

const (
	interactiveMaxIterations = 3
	swarmWorkerMaxIterations = 2
)

// Agent runs the plan/generate/execute/reflect loop for one task.
type Agent struct {
	generate Generator
	executor *sandbox.Executor
	opts     Options
}

// NewInteractive builds an Agent for the IDE-attached interactive path
// (maxIterations 3, spec §4.2).
func NewInteractive(generate Generator, executor *sandbox.Executor, policy sandbox.Policy, agentSandboxMode domain.SandboxMode) *Agent {
	return newAgent(generate, executor, Options{MaxIterations: interactiveMaxIterations, SandboxPolicy: policy, AgentSandboxMode: agentSandboxMode})
}

// NewSwarmWorker builds an Agent for the swarm worker path (maxIterations 2,
// spec §4.2).
func NewSwarmWorker(generate Generator, executor *sandbox.Executor, policy sandbox.Policy, agentSandboxMode domain.SandboxMode) *Agent {
	return newAgent(generate, executor, Options{MaxIterations: swarmWorkerMaxIterations, SandboxPolicy: policy, AgentSandboxMode: agentSandboxMode})
}

func newAgent(generate Generator, executor *sandbox.Executor, opts Options) *Agent {
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = swarmWorkerMaxIterations
	}
	return &Agent{generate: generate, executor: executor, opts: opts}
}

// Run executes the full retry/reflection loop for prompt/language, returning
// the complete AgentExecution history (spec §4.2).
func (a *Agent) Run(ctx context.Context, taskID, prompt string, language domain.Language) (domain.AgentExecution, error) {
	exec := domain.AgentExecution{TaskID: taskID}

	plan := planFor(prompt, language)
	priorError := ""

	for iter := 1; iter <= a.opts.MaxIterations; iter++ {
		genPrompt := promptFor(prompt, language, plan, priorError)
		raw, err := a.generate(ctx, genPrompt)
		if err != nil {
			return a.exhausted(exec, iter, "generator_error: "+err.Error()), err
		}
		code := ExtractCode(raw, language)

		result, runErr := a.executor.Run(ctx, language, code, a.opts.SandboxPolicy, a.opts.AgentSandboxMode)
		if runErr != nil {
			return a.exhausted(exec, iter, runErr.Error()), runErr
		}

		exec.History = append(exec.History, domain.Iteration{Iteration: iter, Plan: plan, Code: code, RunResult: result})
		exec.Final = result

		if result.OK {
			logger.Infow("task succeeded", "taskId", taskID, "iteration", iter)
			return exec, nil
		}
		if result.QueueForCloud {
			exec.Escalated = true
			exec.EscalationReason = string(result.QueueReason)
			logger.Infow("task escalating", "taskId", taskID, "iteration", iter, "reason", exec.EscalationReason)
			return exec, nil
		}
		if iter == a.opts.MaxIterations {
			return a.exhausted(exec, iter, "max_iterations_exhausted"), nil
		}

		plan = reflectPlan(plan, result.Stderr)
		priorError = result.Stderr
	}
	return exec, nil
}

func (a *Agent) exhausted(exec domain.AgentExecution, iter int, reason string) domain.AgentExecution {
	exec.Escalated = true
	exec.EscalationReason = reason
	return exec
}

// planFor and promptFor produce deterministic text per (task, language,
// plan, prior-error), per spec §4.2.
func planFor(prompt string, language domain.Language) string {
	return fmt.Sprintf("Plan for %s task: %s", language, prompt)
}

func promptFor(prompt string, language domain.Language, plan, priorError string) string {
	if priorError == "" {
		return fmt.Sprintf("Task: %s\nLanguage: %s\nPlan: %s\nWrite the code.", prompt, language, plan)
	}
	return fmt.Sprintf("Task: %s\nLanguage: %s\nPlan: %s\nPrevious attempt failed with:\n%s\nFix it.", prompt, language, plan, priorError)
}

func reflectPlan(plan, stderr string) string {
	return plan + " | reflection: address error: " + firstLine(stderr)
}

func firstLine(s string) string {
	for i, c := range s {
		if c == '\n' {
			return s[:i]
		}
	}
	return s
}

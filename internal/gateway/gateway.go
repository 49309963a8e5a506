// Package gateway implements the inference gateway of spec §6 (:4302): the
// authenticated front door to a node's local model, offering task
// decomposition and a senior-assistant escalation wrapper. Grounded on the
// teacher's miner/worker separation (work/worker.go commits mined blocks
// through the same interface regardless of which engine produced them) --
// here, decompose/escalate both go through the same narrow
// agent.Generator capability regardless of which local model backs it.
package gateway

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/edgecoder-mesh/edgecoder/internal/agent"
	"github.com/edgecoder-mesh/edgecoder/internal/domain"
	"github.com/edgecoder-mesh/edgecoder/internal/elog"
)

var logger = elog.New("gateway")

// maxSubtasks is spec §6's decompose cap: "returns up to 10 subtasks".
const maxSubtasks = 10

// Gateway wraps a local model (reached through the narrow Generator
// capability) with the decompose and escalate operations of spec §6.
type Gateway struct {
	generate agent.Generator
	metrics  *Metrics
}

// New builds a Gateway over generate, recording call counts in metrics.
func New(generate agent.Generator, metrics *Metrics) *Gateway {
	return &Gateway{generate: generate, metrics: metrics}
}

type decomposeModelSubtask struct {
	Input     string `json:"input"`
	TimeoutMs int64  `json:"timeoutMs"`
	Priority  int    `json:"priority"`
}

type decomposeModelResponse struct {
	Subtasks []decomposeModelSubtask `json:"subtasks"`
}

// Decompose asks the local model to break prompt into up to 10 subtasks,
// clamping each's timeout to [5s,60s] (spec §6). If the model's response
// cannot be parsed as the expected JSON shape, prompt is returned untouched
// as a single subtask (spec §6 "falls back to a single subtask").
func (g *Gateway) Decompose(ctx context.Context, taskID, prompt string, language domain.Language, nowMs int64) ([]domain.Subtask, error) {
	g.metrics.decomposeTotal.Inc()

	raw, err := g.generate(ctx, decomposePrompt(prompt, language))
	if err != nil {
		logger.Warnw("decompose generation failed, falling back to single subtask", "taskId", taskID, "err", err.Error())
		return []domain.Subtask{singleSubtask(taskID, prompt, language, nowMs)}, nil
	}

	parsed, ok := parseDecomposeResponse(raw)
	if !ok || len(parsed.Subtasks) == 0 {
		logger.Infow("decompose response unparsable, falling back to single subtask", "taskId", taskID)
		return []domain.Subtask{singleSubtask(taskID, prompt, language, nowMs)}, nil
	}

	out := make([]domain.Subtask, 0, len(parsed.Subtasks))
	for i, ms := range parsed.Subtasks {
		if i >= maxSubtasks {
			logger.Infow("decompose response exceeded cap, truncating", "taskId", taskID, "returned", len(parsed.Subtasks))
			break
		}
		out = append(out, domain.Subtask{
			SubtaskID:   domain.NewID(),
			TaskID:      taskID,
			Kind:        domain.SubtaskMicroLoop,
			Input:       ms.Input,
			Language:    language,
			TimeoutMs:   domain.ClampTimeoutMs(ms.TimeoutMs),
			Priority:    ms.Priority,
			CreatedAtMs: nowMs,
		})
	}
	return out, nil
}

func singleSubtask(taskID, prompt string, language domain.Language, nowMs int64) domain.Subtask {
	return domain.Subtask{
		SubtaskID:   domain.NewID(),
		TaskID:      taskID,
		Kind:        domain.SubtaskSingleStep,
		Input:       prompt,
		Language:    language,
		TimeoutMs:   domain.ClampTimeoutMs(30_000),
		CreatedAtMs: nowMs,
	}
}

func decomposePrompt(prompt string, language domain.Language) string {
	return "Decompose the following coding task into at most 10 independent subtasks, " +
		"one per micro-loop iteration. Respond ONLY with JSON of the shape " +
		`{"subtasks":[{"input":"...","timeoutMs":30000,"priority":0}]}.` +
		"\nLanguage: " + string(language) + "\nTask: " + prompt
}

func parseDecomposeResponse(raw string) (decomposeModelResponse, bool) {
	body := extractJSONObject(raw)
	var resp decomposeModelResponse
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		return decomposeModelResponse{}, false
	}
	return resp, true
}

// extractJSONObject trims any leading/trailing prose or code fence around a
// JSON object, mirroring agent.ExtractCode's fence-stripping for model
// output that doesn't perfectly follow the "respond only with JSON" prompt.
func extractJSONObject(raw string) string {
	trimmed := strings.TrimSpace(raw)
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start < 0 || end < 0 || end < start {
		return trimmed
	}
	return trimmed[start : end+1]
}

// seniorAssistantPrompt wraps a failed attempt with the senior-assistant
// persona spec §6 names for the escalate endpoint.
func seniorAssistantPrompt(req domain.EscalationRequest) string {
	var b strings.Builder
	b.WriteString("You are a senior software engineer reviewing a junior developer's failed attempt.\n")
	b.WriteString("Task: " + req.Prompt + "\n")
	b.WriteString("Language: " + string(req.Language) + "\n")
	b.WriteString("Failed code:\n" + req.Code + "\n")
	b.WriteString("Error output:\n" + req.Stderr + "\n")
	b.WriteString("Provide a corrected, complete solution in a fenced code block.")
	return b.String()
}

// Escalate wraps the local model with a senior-assistant prompt over the
// failed attempt in req, returning a completed result carrying the
// extracted corrected code (spec §6 "wraps the local model with a
// senior-assistant prompt").
func (g *Gateway) Escalate(ctx context.Context, req domain.EscalationRequest) (domain.EscalationResult, error) {
	g.metrics.escalateTotal.Inc()

	raw, err := g.generate(ctx, seniorAssistantPrompt(req))
	if err != nil {
		return domain.EscalationResult{}, err
	}
	code := agent.ExtractCode(raw, req.Language)
	result := domain.EscalationResult{RawResponse: raw, Explanation: raw}
	if code != "" {
		result.ImprovedCode = code
		result.Status = "completed"
	}
	return result, nil
}

// Package modelclient builds the agent.Generator used to reach the local
// inference backend. The backend itself is out of scope (spec §1: "the
// local inference model backend (treated as an opaque generate-text RPC)");
// this package only resolves LOCAL_MODEL_PROVIDER into a concrete call
// shape, grounded on escalation.Resolver.postJSON's request/response style.
package modelclient

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/edgecoder-mesh/edgecoder/internal/agent"
	"github.com/edgecoder-mesh/edgecoder/internal/config"
)

// New builds a Generator for cfg.LocalModelProvider. An unrecognised or
// unset provider degrades to a stub that reports the backend as
// unavailable rather than panicking a node that only runs the coordinator
// or gateway role.
func New(cfg config.Config) agent.Generator {
	switch cfg.LocalModelProvider {
	case config.ProviderOllamaLocal:
		return ollamaGenerator(cfg.OllamaHost, cfg.OllamaModel)
	case config.ProviderEdgeCoderLocal:
		return edgecoderLocalGenerator(cfg.OllamaHost)
	default:
		return unavailableGenerator(string(cfg.LocalModelProvider))
	}
}

var httpClient = &http.Client{Timeout: 120 * time.Second}

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type ollamaResponse struct {
	Response string `json:"response"`
}

// ollamaGenerator calls Ollama's /api/generate with streaming disabled, the
// simplest shape that still returns the full completion in one response
// body (spec §6 OLLAMA_HOST / OLLAMA_MODEL).
func ollamaGenerator(host, model string) agent.Generator {
	if host == "" {
		host = "http://127.0.0.1:11434"
	}
	return func(ctx context.Context, prompt string) (string, error) {
		raw, err := json.Marshal(ollamaRequest{Model: model, Prompt: prompt, Stream: false})
		if err != nil {
			return "", errors.Wrap(err, "modelclient: marshal ollama request")
		}
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, host+"/api/generate", bytes.NewReader(raw))
		if err != nil {
			return "", errors.Wrap(err, "modelclient: build ollama request")
		}
		httpReq.Header.Set("Content-Type", "application/json")
		resp, err := httpClient.Do(httpReq)
		if err != nil {
			return "", errors.Wrap(err, "modelclient: call ollama")
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			return "", errors.Errorf("modelclient: ollama returned status %d", resp.StatusCode)
		}
		var out ollamaResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return "", errors.Wrap(err, "modelclient: decode ollama response")
		}
		return out.Response, nil
	}
}

// edgecoderLocalGenerator calls the bundled edgecoder-local runtime, which
// speaks the same /api/generate shape as Ollama on a node-local socket
// (spec §6 LOCAL_MODEL_PROVIDER=edgecoder-local).
func edgecoderLocalGenerator(host string) agent.Generator {
	if host == "" {
		host = "http://127.0.0.1:11434"
	}
	return ollamaGenerator(host, "")
}

func unavailableGenerator(provider string) agent.Generator {
	return func(ctx context.Context, prompt string) (string, error) {
		return "", errors.Errorf("modelclient: no local model backend configured (provider %q)", provider)
	}
}

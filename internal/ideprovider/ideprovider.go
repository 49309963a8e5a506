// Package ideprovider implements the OpenAI-compatible IDE provider surface
// of spec §6 (:4304): GET /v1/models, POST /v1/chat/completions, including
// SSE streaming. Grounded on the teacher's channel-based work loop shape
// (work/agent.go) generalized to spec §9's redesign note: "the model as a
// lazy sequence of chunks emitted on a single HTTP response, terminated by
// an explicit sentinel; cancellation closes the stream".
package ideprovider

import (
	"context"
	"strings"
	"time"

	"github.com/edgecoder-mesh/edgecoder/internal/agent"
	"github.com/edgecoder-mesh/edgecoder/internal/coordinator"
	"github.com/edgecoder-mesh/edgecoder/internal/elog"
)

var logger = elog.New("ideprovider")

// Provider wraps a local model (reached through the narrow Generator
// capability, same as the inference gateway) and the model registry behind
// the OpenAI-compatible surface.
type Provider struct {
	generate agent.Generator
	models   *coordinator.ModelRegistry
}

// New builds a Provider over generate and models.
func New(generate agent.Generator, models *coordinator.ModelRegistry) *Provider {
	return &Provider{generate: generate, models: models}
}

// Chunk is one lazily-produced piece of a chat completion response body
// (spec §9). Done is set on the final, empty chunk before the stream's
// sentinel is written.
type Chunk struct {
	Delta string
	Done  bool
}

// chunkInterval paces synthetic token emission so a streamed response reads
// as incremental rather than arriving all at once, the same texture a real
// token-by-token model backend would have.
const chunkInterval = 30 * time.Millisecond

// Complete runs a single non-streaming chat completion: the full model
// response for the flattened prompt.
func (p *Provider) Complete(ctx context.Context, prompt string) (string, error) {
	return p.generate(ctx, prompt)
}

// Stream runs a chat completion and emits its content as a sequence of
// chunks over out, closing out when the response is exhausted or ctx is
// cancelled (spec §9 "cancellation closes the stream").
func (p *Provider) Stream(ctx context.Context, prompt string) <-chan Chunk {
	out := make(chan Chunk)
	go func() {
		defer close(out)
		text, err := p.generate(ctx, prompt)
		if err != nil {
			logger.Warnw("chat completion generation failed", "err", err.Error())
			return
		}
		for _, word := range splitKeepingSpace(text) {
			select {
			case <-ctx.Done():
				return
			case out <- Chunk{Delta: word}:
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(chunkInterval):
			}
		}
		select {
		case <-ctx.Done():
		case out <- Chunk{Done: true}:
		}
	}()
	return out
}

// splitKeepingSpace splits text into words, each carrying its trailing
// whitespace, so re-joining the chunks reproduces the original text exactly.
func splitKeepingSpace(text string) []string {
	var out []string
	var cur strings.Builder
	for _, r := range text {
		cur.WriteRune(r)
		if r == ' ' || r == '\n' {
			out = append(out, cur.String())
			cur.Reset()
		}
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}

package ideprovider

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"

	uuid "github.com/satori/go.uuid"

	"github.com/edgecoder-mesh/edgecoder/internal/meshrr"
)

// Server exposes the OpenAI-compatible HTTP surface of spec §6: GET
// /v1/models, POST /v1/chat/completions.
type Server struct {
	provider *Provider
}

// NewServer builds a Server over provider.
func NewServer(provider *Provider) *Server {
	return &Server{provider: provider}
}

// Handler returns the routed, CORS-wrapped http.Handler for this surface.
func (s *Server) Handler() http.Handler {
	r := httprouter.New()
	r.GET("/v1/models", s.handleModels)
	r.POST("/v1/chat/completions", s.handleChatCompletions)
	return cors.Default().Handler(r)
}

type modelListEntry struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	OwnedBy string `json:"owned_by"`
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	models := s.provider.models.List()
	entries := make([]modelListEntry, 0, len(models))
	for _, m := range models {
		entries = append(entries, modelListEntry{ID: m.Name, Object: "model", OwnedBy: "edgecoder"})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"object": "list", "data": entries})
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

func flattenMessages(messages []chatMessage) string {
	var out string
	for _, m := range messages {
		out += m.Role + ": " + m.Content + "\n"
	}
	return out
}

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req chatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, meshrr.New(meshrr.KindValidation, "malformed chat completion request"))
		return
	}
	prompt := flattenMessages(req.Messages)

	if req.Stream {
		s.streamCompletion(w, r, req.Model, prompt)
		return
	}

	text, err := s.provider.Complete(r.Context(), prompt)
	if err != nil {
		writeError(w, meshrr.Wrap(meshrr.KindTimeout, "chat completion failed", err))
		return
	}
	writeJSON(w, http.StatusOK, chatCompletionResponse(req.Model, text, false))
}

func (s *Server) streamCompletion(w http.ResponseWriter, r *http.Request, model, prompt string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, meshrr.New(meshrr.KindValidation, "streaming unsupported by response writer"))
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	id := "chatcmpl-" + uuid.NewV4().String()
	for chunk := range s.provider.Stream(r.Context(), prompt) {
		if chunk.Done {
			fmt.Fprint(w, "data: [DONE]\n\n")
			flusher.Flush()
			return
		}
		payload, _ := json.Marshal(streamChunk(id, model, chunk.Delta))
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
	}
}

func chatCompletionResponse(model, content string, stream bool) map[string]interface{} {
	return map[string]interface{}{
		"id":      "chatcmpl-" + uuid.NewV4().String(),
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   model,
		"choices": []map[string]interface{}{
			{
				"index":         0,
				"message":       chatMessage{Role: "assistant", Content: content},
				"finish_reason": "stop",
			},
		},
	}
}

func streamChunk(id, model, delta string) map[string]interface{} {
	return map[string]interface{}{
		"id":      id,
		"object":  "chat.completion.chunk",
		"created": time.Now().Unix(),
		"model":   model,
		"choices": []map[string]interface{}{
			{
				"index": 0,
				"delta": map[string]string{"content": delta},
			},
		},
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := meshrr.StatusFor(err)
	writeJSON(w, status, map[string]string{"error": err.Error(), "kind": string(meshrr.KindOf(err))})
}

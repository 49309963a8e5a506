package ideprovider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/edgecoder-mesh/edgecoder/internal/coordinator"
)

func TestHandleModelsListsRegisteredModels(t *testing.T) {
	models := coordinator.NewModelRegistry([]coordinator.ModelInfo{{Name: "local-7b", Active: true}})
	gen := func(ctx context.Context, prompt string) (string, error) { return "ok", nil }
	srv := NewServer(New(gen, models))
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/models")
	require.NoError(t, err)
	defer resp.Body.Close()
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	data := body["data"].([]interface{})
	require.Len(t, data, 1)
}

func TestHandleChatCompletionsNonStreaming(t *testing.T) {
	models := coordinator.NewModelRegistry(nil)
	gen := func(ctx context.Context, prompt string) (string, error) { return "hello world", nil }
	srv := NewServer(New(gen, models))
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	reqBody, _ := json.Marshal(chatCompletionRequest{Model: "local-7b", Messages: []chatMessage{{Role: "user", Content: "hi"}}})
	resp, err := http.Post(ts.URL+"/v1/chat/completions", "application/json", bytes.NewReader(reqBody))
	require.NoError(t, err)
	defer resp.Body.Close()
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	choices := body["choices"].([]interface{})
	msg := choices[0].(map[string]interface{})["message"].(map[string]interface{})
	require.Equal(t, "hello world", msg["content"])
}

func TestHandleChatCompletionsStreamingEmitsDoneSentinel(t *testing.T) {
	models := coordinator.NewModelRegistry(nil)
	gen := func(ctx context.Context, prompt string) (string, error) { return "a b", nil }
	srv := NewServer(New(gen, models))
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	reqBody, _ := json.Marshal(chatCompletionRequest{Model: "local-7b", Messages: []chatMessage{{Role: "user", Content: "hi"}}, Stream: true})
	resp, err := http.Post(ts.URL+"/v1/chat/completions", "application/json", bytes.NewReader(reqBody))
	require.NoError(t, err)
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	var sawDone bool
	var reconstructed strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			sawDone = true
			break
		}
		var chunk map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(payload), &chunk))
		choices := chunk["choices"].([]interface{})
		delta := choices[0].(map[string]interface{})["delta"].(map[string]interface{})
		reconstructed.WriteString(delta["content"].(string))
	}
	require.True(t, sawDone)
	require.Equal(t, "a b", reconstructed.String())
}

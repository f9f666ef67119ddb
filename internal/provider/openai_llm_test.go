package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/saybook/saybook/pkg/types"
)

func TestNewOpenAILLMProvider(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		cfg := types.LLMProviderConfig{
			Name:     "test-openai",
			Enabled:  true,
			Endpoint: "https://api.openai.com/v1",
			APIKey:   "test-key",
			Model:    "gpt-4",
		}

		provider, err := NewOpenAILLMProvider(cfg)
		if err != nil {
			t.Fatalf("Failed to create provider: %v", err)
		}

		if provider.Name() != "test-openai" {
			t.Errorf("Expected name 'test-openai', got '%s'", provider.Name())
		}
	})

	t.Run("MissingEndpoint", func(t *testing.T) {
		cfg := types.LLMProviderConfig{
			Name:    "test-openai",
			Enabled: true,
			Model:   "gpt-4",
		}

		_, err := NewOpenAILLMProvider(cfg)
		if err == nil {
			t.Error("Expected error for missing endpoint")
		}
	})

	t.Run("MissingModel", func(t *testing.T) {
		cfg := types.LLMProviderConfig{
			Name:     "test-openai",
			Enabled:  true,
			Endpoint: "https://api.openai.com/v1",
		}

		_, err := NewOpenAILLMProvider(cfg)
		if err == nil {
			t.Error("Expected error for missing model")
		}
	})
}

func completionResponse(content string) chatCompletionResponse {
	return chatCompletionResponse{
		ID: "test-id",
		Choices: []choice{
			{Message: message{Role: "assistant", Content: content}},
		},
	}
}

func newLLMServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) (*httptest.Server, *OpenAILLMProvider) {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(handler))
	t.Cleanup(server.Close)

	provider, err := NewOpenAILLMProvider(types.LLMProviderConfig{
		Name:     "test",
		Enabled:  true,
		Endpoint: server.URL,
		APIKey:   "test-key",
		Model:    "test-model",
	})
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}
	return server, provider
}

func TestOpenAILLMProvider_Generate(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		_, provider := newLLMServer(t, func(w http.ResponseWriter, r *http.Request) {
			if r.Method != "POST" {
				t.Errorf("Expected POST request, got %s", r.Method)
			}
			if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
				t.Errorf("Expected /chat/completions endpoint, got %s", r.URL.Path)
			}
			if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
				t.Errorf("Expected 'Bearer test-key', got '%s'", auth)
			}
			json.NewEncoder(w).Encode(completionResponse("hello"))
		})

		content, err := provider.Generate(context.Background(), "prompt")
		if err != nil {
			t.Fatalf("Generate failed: %v", err)
		}
		if content != "hello" {
			t.Errorf("Expected 'hello', got '%s'", content)
		}
	})

	t.Run("RetriesTransientFailure", func(t *testing.T) {
		var calls int32
		_, provider := newLLMServer(t, func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&calls, 1) == 1 {
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}
			json.NewEncoder(w).Encode(completionResponse("recovered"))
		})

		content, err := provider.Generate(context.Background(), "prompt")
		if err != nil {
			t.Fatalf("Generate failed: %v", err)
		}
		if content != "recovered" {
			t.Errorf("Expected 'recovered', got '%s'", content)
		}
		if atomic.LoadInt32(&calls) != 2 {
			t.Errorf("Expected 2 calls, got %d", calls)
		}
	})

	t.Run("ErrorKeepsUpstreamMessage", func(t *testing.T) {
		_, provider := newLLMServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]string{"message": "Rate limit exceeded", "type": "rate_limit"},
			})
		})

		_, err := provider.Generate(context.Background(), "prompt")
		if err == nil {
			t.Fatal("Expected error")
		}
		if !strings.Contains(err.Error(), "Rate limit exceeded") {
			t.Errorf("Expected upstream message in error, got: %v", err)
		}
	})
}

func TestOpenAILLMProvider_GenerateJSON(t *testing.T) {
	t.Run("DirectJSON", func(t *testing.T) {
		_, provider := newLLMServer(t, func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(completionResponse(`[{"role":"旁白","text":"你好"}]`))
		})

		var out []map[string]string
		if err := provider.GenerateJSON(context.Background(), "prompt", &out); err != nil {
			t.Fatalf("GenerateJSON failed: %v", err)
		}
		if len(out) != 1 || out[0]["role"] != "旁白" {
			t.Errorf("Unexpected result: %v", out)
		}
	})

	t.Run("ResultTagWrapped", func(t *testing.T) {
		_, provider := newLLMServer(t, func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(completionResponse("Here you go:\n<result>[1, 2, 3]</result>\nDone."))
		})

		var out []int
		if err := provider.GenerateJSON(context.Background(), "prompt", &out); err != nil {
			t.Fatalf("GenerateJSON failed: %v", err)
		}
		if len(out) != 3 {
			t.Errorf("Expected 3 elements, got %v", out)
		}
	})

	t.Run("RepairLoop", func(t *testing.T) {
		var calls int32
		_, provider := newLLMServer(t, func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&calls, 1) == 1 {
				json.NewEncoder(w).Encode(completionResponse(`[{"a": 1,]`))
				return
			}
			json.NewEncoder(w).Encode(completionResponse(`[{"a": 1}]`))
		})

		var out []map[string]int
		if err := provider.GenerateJSON(context.Background(), "prompt", &out); err != nil {
			t.Fatalf("GenerateJSON failed: %v", err)
		}
		if atomic.LoadInt32(&calls) != 2 {
			t.Errorf("Expected a repair call, got %d calls", calls)
		}
	})
}

func TestExtractJSONPayload(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"BareArray", `[1,2]`, `[1,2]`},
		{"ProseWrapped", "sure: [1,2] thanks", `[1,2]`},
		{"ResultTag", "<result>{\"a\":1}</result>", `{"a":1}`},
		{"Object", "x {\"a\":1} y", `{"a":1}`},
		{"NoJSON", "plain text", "plain text"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractJSONPayload(tt.input); got != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, got)
			}
		})
	}
}

package dify_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/liutong011025-cloud/CwritevV7/pkg/provider/llm"
	"github.com/liutong011025-cloud/CwritevV7/pkg/provider/llm/dify"
)

func TestNew_RequiresAPIKey(t *testing.T) {
	t.Parallel()
	if _, err := dify.New(""); err == nil {
		t.Fatal("expected error for empty API key")
	}
}

func TestComplete_SendsBlockingChatMessage(t *testing.T) {
	t.Parallel()

	bodies := make(chan map[string]any, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var got map[string]any
		if r.Method != http.MethodPost || r.URL.Path != "/v1/chat-messages" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer app-key" {
			t.Errorf("Authorization = %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		bodies <- got
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"answer":"[{\"original\":\"go\",\"corrected\":\"goes\"}]","metadata":{"usage":{"total_tokens":42}}}`))
	}))
	defer srv.Close()

	p, err := dify.New("app-key", dify.WithBaseURL(srv.URL+"/v1/"), dify.WithAppID("app-1"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	resp, err := p.Complete(context.Background(), llm.CompletionRequest{
		SystemPrompt: "You are an English grammar checker.",
		Messages:     []llm.Message{{Role: "user", Content: "She go home."}},
		User:         "user-7",
		Metadata:     map[string]string{"content_type": "letter", "content": "She go home."},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if !strings.Contains(resp.Content, `"goes"`) {
		t.Errorf("Content = %q", resp.Content)
	}
	if resp.Usage.TotalTokens != 42 {
		t.Errorf("TotalTokens = %d, want 42", resp.Usage.TotalTokens)
	}

	got := <-bodies
	if got["response_mode"] != "blocking" {
		t.Errorf("response_mode = %v, want blocking", got["response_mode"])
	}
	if got["user"] != "user-7" {
		t.Errorf("user = %v, want user-7", got["user"])
	}
	if got["app_id"] != "app-1" {
		t.Errorf("app_id = %v, want app-1", got["app_id"])
	}
	query, _ := got["query"].(string)
	if !strings.HasPrefix(query, "You are an English grammar checker.") || !strings.HasSuffix(query, "She go home.") {
		t.Errorf("query = %q", query)
	}
	inputs, _ := got["inputs"].(map[string]any)
	if inputs["content_type"] != "letter" {
		t.Errorf("inputs = %v", inputs)
	}
}

func TestComplete_DefaultUserAndFallbackAnswer(t *testing.T) {
	t.Parallel()

	users := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			User string `json:"user"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		users <- body.User
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	p, _ := dify.New("k", dify.WithBaseURL(srv.URL))
	resp, err := p.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: "user", Content: "text"}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if user := <-users; user != "default-user" {
		t.Errorf("user = %q, want default-user", user)
	}
	if resp.Content != "[]" {
		t.Errorf("Content = %q, want []", resp.Content)
	}
}

func TestComplete_HTTPError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"code":"invalid_param"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	p, _ := dify.New("k", dify.WithBaseURL(srv.URL))
	_, err := p.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: "user", Content: "text"}},
	})
	if err == nil {
		t.Fatal("expected error for HTTP 400")
	}
	if !strings.Contains(err.Error(), "400") || !strings.Contains(err.Error(), "invalid_param") {
		t.Errorf("error = %v, want status and body", err)
	}
}

func TestComplete_EmptyQuery(t *testing.T) {
	t.Parallel()

	p, _ := dify.New("k")
	if _, err := p.Complete(context.Background(), llm.CompletionRequest{}); err == nil {
		t.Fatal("expected error for empty query")
	}
}

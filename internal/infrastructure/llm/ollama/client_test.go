package ollama

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kirillkom/doc-converter/internal/core/domain"
	"github.com/kirillkom/doc-converter/internal/infrastructure/resilience"
)

func testOptions() Options {
	return Options{
		Resilience: resilience.Config{
			RetryMaxAttempts: 3,
			Backoff:          resilience.Backoff{Initial: time.Millisecond, Max: 2 * time.Millisecond, Multiplier: 2},
		},
	}
}

func TestInferSendsImageAndPrompt(t *testing.T) {
	var captured chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":"  Invoice 42\n"},"done":true}`))
	}))
	defer server.Close()

	client := New(server.URL, testOptions())
	text, err := client.Infer(context.Background(), []byte("png-bytes"), "extract text", "llava:7b", time.Second)
	if err != nil {
		t.Fatalf("Infer() error = %v", err)
	}
	if text != "Invoice 42" {
		t.Fatalf("expected trimmed model output, got %q", text)
	}
	if captured.Model != "llava:7b" || captured.Stream || len(captured.Messages) != 1 {
		t.Fatalf("unexpected request %+v", captured)
	}
	msg := captured.Messages[0]
	if msg.Content != "extract text" || len(msg.Images) != 1 || msg.Images[0] != base64.StdEncoding.EncodeToString([]byte("png-bytes")) {
		t.Fatalf("unexpected message %+v", msg)
	}
}

func TestInferRetriesUnavailableServer(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "loading model", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"message":{"content":"ok"},"done":true}`))
	}))
	defer server.Close()

	text, err := New(server.URL, testOptions()).Infer(context.Background(), []byte("img"), "p", "llava:7b", time.Second)
	if err != nil {
		t.Fatalf("Infer() error = %v", err)
	}
	if text != "ok" || calls.Load() != 3 {
		t.Fatalf("expected success on third call, got %q after %d calls", text, calls.Load())
	}
}

func TestInferMissingModelIsUnavailable(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error":"model 'nope' not found"}`, http.StatusNotFound)
	}))
	defer server.Close()

	_, err := New(server.URL, testOptions()).Infer(context.Background(), []byte("img"), "p", "nope", time.Second)
	if !domain.IsKind(err, domain.ErrModelUnavailable) {
		t.Fatalf("expected ErrModelUnavailable, got %v", err)
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected response body in error, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected no retry for a missing model, got %d calls", calls.Load())
	}
}

func TestInferTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer server.Close()

	_, err := New(server.URL, testOptions()).Infer(context.Background(), []byte("img"), "p", "llava:7b", 20*time.Millisecond)
	if !domain.IsKind(err, domain.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestMissingModels(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"models":[{"name":"llama3.2-vision:11b"},{"name":"minicpm-v:latest"}]}`))
	}))
	defer server.Close()

	missing, err := New(server.URL, Options{}).MissingModels(context.Background(), []string{"llama3.2-vision:11b", "llama3.2-vision:90b"})
	if err != nil {
		t.Fatalf("MissingModels() error = %v", err)
	}
	if len(missing) != 1 || missing[0] != "llama3.2-vision:90b" {
		t.Fatalf("unexpected missing models %v", missing)
	}
}

func TestClassifyStatusErrors(t *testing.T) {
	cases := []struct {
		status int
		body   string
		want   error
	}{
		{http.StatusNotFound, `{"error":"model 'x' not found, try pulling it first"}`, domain.ErrModelUnavailable},
		{http.StatusBadRequest, `{"error":"model does not support images"}`, domain.ErrModelUnavailable},
		{http.StatusBadRequest, `{"error":"invalid image data"}`, domain.ErrInvalidInput},
		{http.StatusServiceUnavailable, "busy", domain.ErrTemporary},
		{http.StatusInternalServerError, `{"error":"llama runner process has terminated"}`, domain.ErrModelUnavailable},
	}
	for _, tc := range cases {
		err := classifyToDomain("ollama chat", newHTTPStatusError("chat", tc.status, []byte(tc.body)))
		if !domain.IsKind(err, tc.want) {
			t.Fatalf("status %d %q: expected %v, got %v", tc.status, tc.body, tc.want, err)
		}
	}
}

func TestStatusErrorPrefersJSONMessage(t *testing.T) {
	err := newHTTPStatusError("chat", http.StatusBadRequest, []byte(`{"error":"invalid image data"}`))
	if err.Message != "invalid image data" {
		t.Fatalf("unexpected message %q", err.Message)
	}
	raw := newHTTPStatusError("chat", http.StatusBadGateway, []byte("upstream gone\n"))
	if raw.Message != "upstream gone" {
		t.Fatalf("unexpected raw message %q", raw.Message)
	}
}

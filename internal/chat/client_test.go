package chat

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAskSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"response": "Dharma is duty.",
			"citations": ["BG 3.35"],
			"generation_time": 0.8,
			"model_used": "gita-rag-v2",
			"mode": "scholar"
		}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	reply, err := c.Ask(context.Background(), "What is dharma?", "scholar")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if reply.Response != "Dharma is duty." {
		t.Errorf("response = %q", reply.Response)
	}
	if len(reply.Citations) != 1 || reply.Citations[0] != "BG 3.35" {
		t.Errorf("citations = %v", reply.Citations)
	}
	if reply.ModelUsed != "gita-rag-v2" || reply.GenerationTime != 0.8 {
		t.Errorf("metadata = %q / %v", reply.ModelUsed, reply.GenerationTime)
	}
}

func TestAskServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"detail": "model not loaded"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.Ask(context.Background(), "hello", "scholar")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.Status != http.StatusInternalServerError {
		t.Errorf("status = %d", apiErr.Status)
	}
	if apiErr.Message != "model not loaded" {
		t.Errorf("message = %q", apiErr.Message)
	}
}

func TestAskNetworkError(t *testing.T) {
	c := NewClient("http://127.0.0.1:1") // nothing listens here
	_, err := c.Ask(context.Background(), "hello", "scholar")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.Status != 0 {
		t.Errorf("network failure carries status %d", apiErr.Status)
	}
}

func TestAskRejectsEmptyMessage(t *testing.T) {
	c := NewClient("http://localhost:8000")
	if _, err := c.Ask(context.Background(), "   ", "scholar"); err == nil {
		t.Fatal("expected error for empty message")
	}
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte(`{"status": "ok"}`))
	}))
	defer srv.Close()

	if err := NewClient(srv.URL).Health(context.Background()); err != nil {
		t.Fatalf("Health: %v", err)
	}
}

func TestHealthFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	if err := NewClient(srv.URL).Health(context.Background()); err == nil {
		t.Fatal("expected health error")
	}
}

func TestExamplesFallsBack(t *testing.T) {
	c := NewClient("http://127.0.0.1:1")
	examples, err := c.Examples(context.Background())
	if err != nil {
		t.Fatalf("Examples: %v", err)
	}
	if len(examples) == 0 {
		t.Fatal("expected built-in examples")
	}
}

func TestExamplesFromBackend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"examples": ["Who is Krishna?"]}`))
	}))
	defer srv.Close()

	examples, err := NewClient(srv.URL).Examples(context.Background())
	if err != nil {
		t.Fatalf("Examples: %v", err)
	}
	if len(examples) != 1 || examples[0] != "Who is Krishna?" {
		t.Errorf("examples = %v", examples)
	}
}

func TestMockMode(t *testing.T) {
	c := NewClient("mock://")
	reply, err := c.Ask(context.Background(), "Tell me about karma", "scholar")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if reply.ModelUsed != "mock" {
		t.Errorf("model = %q", reply.ModelUsed)
	}
	if len(reply.Citations) == 0 {
		t.Error("mock answer is missing citations")
	}
	if err := c.Health(context.Background()); err != nil {
		t.Errorf("mock health: %v", err)
	}
}

package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestEmbeddings(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Fatalf("unexpected path %q", r.URL.Path)
		}
		var req struct {
			Input []string `json:"input"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		out := map[string]any{"data": []map[string]any{}}
		data := make([]map[string]any, 0, len(req.Input))
		for range req.Input {
			data = append(data, map[string]any{"embedding": []float32{0.1, 0.2}})
		}
		out["data"] = data
		_ = json.NewEncoder(w).Encode(out)
	}))
	defer srv.Close()

	c := &Client{baseURL: srv.URL, http: &http.Client{Timeout: 5 * time.Second}}
	vecs, err := c.Embeddings(context.Background(), "m", []string{"a", "b"})
	if err != nil {
		t.Fatalf("Embeddings error: %v", err)
	}
	if len(vecs) != 2 || len(vecs[0]) != 2 {
		t.Fatalf("unexpected vectors: %v", vecs)
	}
}

func TestEmbeddingsRetryResendsBody(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		b, _ := io.ReadAll(r.Body)
		if len(b) == 0 {
			t.Errorf("attempt %d received an empty body", calls)
		}
		if calls == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		var req struct {
			Input []string `json:"input"`
		}
		_ = json.Unmarshal(b, &req)
		data := make([]map[string]any, 0, len(req.Input))
		for range req.Input {
			data = append(data, map[string]any{"embedding": []float32{0.5, 0.5}})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
	}))
	defer srv.Close()

	c := &Client{baseURL: srv.URL, http: &http.Client{Timeout: 5 * time.Second}}
	vecs, err := c.Embeddings(context.Background(), "m", []string{"a"})
	if err != nil {
		t.Fatalf("Embeddings error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected one retry, got %d calls", calls)
	}
	if len(vecs) != 1 || len(vecs[0]) != 2 {
		t.Fatalf("unexpected vectors after retry: %v", vecs)
	}
}

func TestEmbeddingsHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := &Client{baseURL: srv.URL, http: &http.Client{Timeout: 5 * time.Second}}
	if _, err := c.Embeddings(context.Background(), "m", []string{"a"}); err == nil {
		t.Fatalf("expected error on 400 response")
	}
}

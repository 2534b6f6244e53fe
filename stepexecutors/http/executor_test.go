package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sflowg-labs/deliverable-workflows/workflow"
)

func TestExecutor_Execute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Test") != "yes" {
			t.Errorf("expected X-Test header to be forwarded")
		}
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.Timeout = 2 * time.Second
	cfg.MaxRetries = 0
	exec := New(cfg)

	out, err := exec.Execute(context.Background(), workflow.Step{StepName: "call"}, map[string]any{
		"url":    srv.URL,
		"method": "GET",
		"headers": map[string]any{
			"X-Test": "yes",
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m := out.(map[string]any)
	if m["statusCode"].(int) != 200 {
		t.Fatalf("expected status 200, got %v", m["statusCode"])
	}
	body := m["body"].(map[string]any)
	if body["ok"] != true {
		t.Fatalf("expected body.ok == true, got %v", body)
	}
}

func TestExecutor_MissingURL(t *testing.T) {
	exec := New(DefaultConfig())
	_, err := exec.Execute(context.Background(), workflow.Step{StepName: "call"}, map[string]any{"method": "GET"})
	if err == nil {
		t.Fatalf("expected an error for a missing url")
	}
}

package genai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRetrievalStartReturnsInlinePayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/retrieval/start" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"completed","job_ref":"job-7","payload":{"sources":[{"title":"cached hit"}]}}`))
	}))
	defer srv.Close()

	svc, err := NewRetrievalService(srv.URL)
	if err != nil {
		t.Fatalf("NewRetrievalService: %v", err)
	}
	res, err := svc.Start(context.Background(), "wf-1", "retrieval", Request{Input: json.RawMessage(`{"query":"go"}`)})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if res.Status != StartCompleted {
		t.Fatalf("status = %v, want completed", res.Status)
	}
	if string(res.Payload) != `{"sources":[{"title":"cached hit"}]}` {
		t.Fatalf("payload = %s", res.Payload)
	}
}

func TestRetrievalStartRequiresJobRef(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"started"}`))
	}))
	defer srv.Close()

	svc, err := NewRetrievalService(srv.URL)
	if err != nil {
		t.Fatalf("NewRetrievalService: %v", err)
	}
	if _, err := svc.Start(context.Background(), "wf-1", "retrieval", Request{}); err == nil {
		t.Fatalf("expected an error for a start response without a job ref")
	}
}

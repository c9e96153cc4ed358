package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/liamcoop/annotations/engine"
)

const (
	orgPath       = "/api/v1/owners/organisation/org-1/annotations"
	portmapperDef = `{"type": "inhibition", "condition": ["eq", ["event_field", "classification.identifier"], "openportmapper"]}`
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	server, err := NewServerWithStore(context.Background(), engine.NewInMemoryStore())
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	return server
}

// doRequest sends body (a string is sent verbatim, anything else as JSON) and decodes the JSON reply
func doRequest(t *testing.T, h http.Handler, method, path string, body any) (int, map[string]any) {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("Failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var result map[string]any
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
			t.Fatalf("Failed to decode response %q: %v", rec.Body.String(), err)
		}
	}
	return rec.Code, result
}

func createAnnotation(t *testing.T, h http.Handler, path, definition string) string {
	t.Helper()
	status, resp := doRequest(t, h, http.MethodPost, path, `{"definition": `+definition+`}`)
	if status != http.StatusCreated {
		t.Fatalf("Create annotation returned %d: %v", status, resp)
	}
	return resp["id"].(string)
}

func TestHealth(t *testing.T) {
	server := newTestServer(t)

	status, resp := doRequest(t, server, http.MethodGet, "/api/v1/health", nil)
	if status != http.StatusOK {
		t.Fatalf("Expected 200, got %d", status)
	}
	if resp["status"] != "healthy" {
		t.Errorf("Expected healthy, got %v", resp["status"])
	}
}

func TestListFunctions(t *testing.T) {
	server := newTestServer(t)

	status, resp := doRequest(t, server, http.MethodGet, "/api/v1/functions", nil)
	if status != http.StatusOK {
		t.Fatalf("Expected 200, got %d", status)
	}

	fns := resp["functions"].([]any)
	names := make([]string, 0, len(fns))
	for _, fn := range fns {
		names = append(names, fn.(map[string]any)["name"].(string))
	}
	if got := strings.Join(names, ","); got != "and,cel,eq,event_field,not,or" {
		t.Errorf("Unexpected functions: %s", got)
	}
}

func TestValidate(t *testing.T) {
	server := newTestServer(t)

	status, resp := doRequest(t, server, http.MethodPost, "/api/v1/annotations/validate", portmapperDef)
	if status != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %v", status, resp)
	}
	if resp["type"] != "inhibition" || resp["valid"] != true {
		t.Errorf("Unexpected validate response: %v", resp)
	}

	tests := []struct {
		name string
		body string
		kind string
	}{
		{"unknown function", `{"type": "inhibition", "condition": ["some_function", 1, "value"]}`, "UNKNOWN_FUNCTION"},
		{"wrong arity", `{"type": "inhibition", "condition": ["eq", "openportmapper"]}`, "WRONG_ARITY"},
		{"tag without value", `{"type": "tag"}`, "MISSING_FIELD"},
		{"non-string tag", `{"type": "tag", "value": 123}`, "INVALID_FIELD_TYPE"},
		{"unknown type", `{"type": "label"}`, "UNKNOWN_ANNOTATION_TYPE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, resp := doRequest(t, server, http.MethodPost, "/api/v1/annotations/validate", tt.body)
			if status != http.StatusBadRequest {
				t.Fatalf("Expected 400, got %d", status)
			}
			if resp["kind"] != tt.kind {
				t.Errorf("Expected kind %s, got %v", tt.kind, resp["kind"])
			}
		})
	}

	status, _ = doRequest(t, server, http.MethodPost, "/api/v1/annotations/validate", `{"type":`)
	if status != http.StatusBadRequest {
		t.Errorf("Expected 400 for malformed JSON, got %d", status)
	}
}

func TestAnnotationCRUD(t *testing.T) {
	server := newTestServer(t)

	id := createAnnotation(t, server, orgPath, `{"type": "tag", "value": "daily"}`)

	status, resp := doRequest(t, server, http.MethodGet, orgPath+"/"+id, nil)
	if status != http.StatusOK {
		t.Fatalf("Expected 200, got %d", status)
	}
	if resp["active"] != true {
		t.Errorf("Expected annotation to default to active, got %v", resp["active"])
	}

	status, resp = doRequest(t, server, http.MethodGet, orgPath, nil)
	if status != http.StatusOK {
		t.Fatalf("Expected 200, got %d", status)
	}
	if n := len(resp["annotations"].([]any)); n != 1 {
		t.Errorf("Expected 1 annotation, got %d", n)
	}

	status, resp = doRequest(t, server, http.MethodPut, orgPath+"/"+id, `{"definition": {"type": "tag", "value": "weekly"}}`)
	if status != http.StatusOK {
		t.Fatalf("Expected 200 on update, got %d: %v", status, resp)
	}

	status, _ = doRequest(t, server, http.MethodGet, "/api/v1/owners/contact/c-1/annotations/"+id, nil)
	if status != http.StatusNotFound {
		t.Errorf("Expected 404 fetching through another owner, got %d", status)
	}

	status, _ = doRequest(t, server, http.MethodDelete, orgPath+"/"+id, nil)
	if status != http.StatusNoContent {
		t.Fatalf("Expected 204 on delete, got %d", status)
	}

	status, _ = doRequest(t, server, http.MethodGet, orgPath+"/"+id, nil)
	if status != http.StatusNotFound {
		t.Errorf("Expected 404 after delete, got %d", status)
	}
}

func TestCreateAnnotationErrors(t *testing.T) {
	server := newTestServer(t)

	status, resp := doRequest(t, server, http.MethodPost, orgPath, `{"definition": {"type": "inhibition", "condition": ["eq"]}}`)
	if status != http.StatusBadRequest || resp["kind"] != "WRONG_ARITY" {
		t.Errorf("Expected 400 WRONG_ARITY, got %d %v", status, resp)
	}

	status, _ = doRequest(t, server, http.MethodPost, orgPath, `{}`)
	if status != http.StatusBadRequest {
		t.Errorf("Expected 400 for missing definition, got %d", status)
	}

	status, _ = doRequest(t, server, http.MethodPost, "/api/v1/owners/tenant/t-1/annotations", `{"definition": {"type": "tag", "value": "x"}}`)
	if status != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown owner kind, got %d", status)
	}

	status, _ = doRequest(t, server, http.MethodPost, orgPath, `{"id": "fixed-id", "definition": {"type": "tag", "value": "x"}}`)
	if status != http.StatusBadRequest {
		t.Errorf("Expected 400 for non-UUID id, got %d", status)
	}

	body := `{"id": "7d4f9a8e-3c1b-4f2a-9e6d-1a2b3c4d5e6f", "definition": {"type": "tag", "value": "x"}}`
	if status, _ = doRequest(t, server, http.MethodPost, orgPath, body); status != http.StatusCreated {
		t.Fatalf("Expected 201, got %d", status)
	}
	if status, _ = doRequest(t, server, http.MethodPost, orgPath, body); status != http.StatusConflict {
		t.Errorf("Expected 409 for duplicate id, got %d", status)
	}
}

func TestEvaluate(t *testing.T) {
	server := newTestServer(t)

	createAnnotation(t, server, orgPath, `{"type": "tag", "value": "daily"}`)
	createAnnotation(t, server, orgPath, portmapperDef)
	createAnnotation(t, server, "/api/v1/owners/contact/c-1/annotations", `{"type": "tag", "value": "weekly"}`)

	req := map[string]any{
		"owners": []map[string]string{
			{"kind": "organisation", "id": "org-1"},
			{"kind": "contact", "id": "c-1"},
		},
		"event": map[string]any{"classification.identifier": "openportmapper", "source.port": 111},
	}

	status, resp := doRequest(t, server, http.MethodPost, "/api/v1/evaluate", req)
	if status != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %v", status, resp)
	}
	if resp["inhibited"] != true {
		t.Error("Expected event to be inhibited")
	}
	tags := resp["tags"].([]any)
	if len(tags) != 2 || tags[0] != "daily" || tags[1] != "weekly" {
		t.Errorf("Expected tags [daily weekly], got %v", tags)
	}
	if _, ok := resp["evaluationTime"]; !ok {
		t.Error("Expected evaluationTime in response")
	}

	req["event"] = map[string]any{"classification.identifier": "openmongodb"}
	_, resp = doRequest(t, server, http.MethodPost, "/api/v1/evaluate", req)
	if resp["inhibited"] != false {
		t.Error("Expected event not to be inhibited")
	}
}

func TestEvaluateValidation(t *testing.T) {
	server := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"no owners", `{"event": {"source.port": 1}}`},
		{"no event", `{"owners": [{"kind": "contact", "id": "c-1"}]}`},
		{"bad owner", `{"owners": [{"kind": "tenant", "id": "c-1"}], "event": {}}`},
		{"bad field name", `{"owners": [{"kind": "contact", "id": "c-1"}], "event": {"source port": 1}}`},
		{"list value", `{"owners": [{"kind": "contact", "id": "c-1"}], "event": {"source.ip": ["192.0.2.1"]}}`},
		{"malformed", `{"owners": [`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, _ := doRequest(t, server, http.MethodPost, "/api/v1/evaluate", tt.body)
			if status != http.StatusBadRequest {
				t.Errorf("Expected 400, got %d", status)
			}
		})
	}
}

func TestListOwners(t *testing.T) {
	server := newTestServer(t)
	createAnnotation(t, server, orgPath, `{"type": "tag", "value": "daily"}`)

	status, resp := doRequest(t, server, http.MethodGet, "/api/v1/owners", nil)
	if status != http.StatusOK {
		t.Fatalf("Expected 200, got %d", status)
	}
	owners := resp["owners"].([]any)
	if len(owners) != 1 || owners[0].(map[string]any)["id"] != "org-1" {
		t.Errorf("Unexpected owners: %v", owners)
	}
}

func TestStats(t *testing.T) {
	server := newTestServer(t)
	doRequest(t, server, http.MethodGet, orgPath+"/7d4f9a8e-3c1b-4f2a-9e6d-1a2b3c4d5e6f", nil)

	status, resp := doRequest(t, server, http.MethodGet, "/api/v1/stats", nil)
	if status != http.StatusOK {
		t.Fatalf("Expected 200, got %d", status)
	}
	if n, _ := resp["http404"].(float64); n < 1 {
		t.Errorf("Expected http404 counter to be at least 1, got %v", resp["http404"])
	}
}

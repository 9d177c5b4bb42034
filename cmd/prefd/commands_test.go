package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		httpClient: ts.server.Client(),
	}
}

var ctx = context.Background()

func TestSplitQualified(t *testing.T) {
	group, setting, err := splitQualified("audio.volume")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if group != "audio" || setting != "volume" {
		t.Errorf("got %q/%q", group, setting)
	}

	// Setting keys can contain further dots.
	group, setting, err = splitQualified("audio.eq.bass")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if group != "audio" || setting != "eq.bass" {
		t.Errorf("got %q/%q", group, setting)
	}

	for _, bad := range []string{"volume", ".volume", "audio.", ""} {
		if _, _, err := splitQualified(bad); err == nil {
			t.Errorf("splitQualified(%q) should fail", bad)
		}
	}
}

func TestClientGetSetting(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /settings/audio/volume": `{"key":"audio.volume","type":"int","value":5}`,
	})

	resp, err := ts.client().get(ctx, "/settings/audio/volume")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var view struct {
		Key   string `json:"key"`
		Value any    `json:"value"`
	}
	if err := decodeJSON(resp, &view); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if view.Key != "audio.volume" || view.Value != float64(5) {
		t.Errorf("view = %+v", view)
	}

	if len(ts.requests) != 1 {
		t.Fatalf("got %d requests, want 1", len(ts.requests))
	}
	if ts.requests[0].Auth != "Bearer test-token" {
		t.Errorf("Auth = %q", ts.requests[0].Auth)
	}
}

func TestClientPutSetting(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"PUT /settings/audio/volume": `{"key":"audio.volume","value":8}`,
	})

	resp, err := ts.client().put(ctx, "/settings/audio/volume", map[string]any{"value": 8})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]any
	if err := decodeJSON(resp, &result); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if result["value"] != float64(8) {
		t.Errorf("value = %v, want 8", result["value"])
	}

	req := ts.requests[0]
	if req.Method != "PUT" {
		t.Errorf("method = %q", req.Method)
	}
	if !strings.Contains(req.Body, `"value":8`) {
		t.Errorf("body = %q", req.Body)
	}
}

func TestClientErrorResponse(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, err := ts.client().get(ctx, "/settings/audio/nope")
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}

	var v any
	err = decodeJSON(resp, &v)
	if err == nil {
		t.Fatal("404 should surface as an error")
	}
	if !strings.Contains(err.Error(), "404") {
		t.Errorf("error %q should mention the status code", err)
	}
}

func TestClientResetGroup(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /reset": `{"status":"reset"}`,
	})

	resp, err := ts.client().post(ctx, "/reset", map[string]string{"group": "audio"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var result map[string]string
	if err := decodeJSON(resp, &result); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if result["status"] != "reset" {
		t.Errorf("status = %q", result["status"])
	}
	if !strings.Contains(ts.requests[0].Body, `"group":"audio"`) {
		t.Errorf("body = %q", ts.requests[0].Body)
	}
}

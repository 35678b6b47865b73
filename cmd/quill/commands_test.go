package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/kalambet/quill/internal/config"
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

func TestPersonaCreateRequest(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /personas": `{"id":"p-123","name":"Ada","role":"Reviewer","calibrationStatus":"uncalibrated"}`,
	})

	client := ts.client()

	req := map[string]any{
		"name":          "Ada",
		"role":          "Reviewer",
		"shaperSources": []map[string]string{{"name": "essays.md", "content": "Strong opinions."}},
	}

	resp, err := client.post(ctx, "/personas", req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var created struct {
		ID                string `json:"id"`
		CalibrationStatus string `json:"calibrationStatus"`
	}
	if err := decodeJSON(resp, &created); err != nil {
		t.Fatalf("decode error: %v", err)
	}

	if created.ID != "p-123" {
		t.Errorf("id = %q, want p-123", created.ID)
	}
	if created.CalibrationStatus != "uncalibrated" {
		t.Errorf("status = %q, want uncalibrated", created.CalibrationStatus)
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}

	r := ts.requests[0]
	if r.Method != "POST" || r.Path != "/personas" {
		t.Errorf("request = %s %s, want POST /personas", r.Method, r.Path)
	}
	if r.Auth != "Bearer test-token" {
		t.Errorf("auth = %q, want Bearer test-token", r.Auth)
	}

	var body map[string]any
	if err := json.Unmarshal([]byte(r.Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body["name"] != "Ada" {
		t.Errorf("body.name = %v, want Ada", body["name"])
	}
	sources, ok := body["shaperSources"].([]any)
	if !ok || len(sources) != 1 {
		t.Fatalf("body.shaperSources = %v, want one entry", body["shaperSources"])
	}
}

func TestPersonaCreate_MissingArgs(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"persona", "create"})
	err := rootCmd.Execute()
	if err == nil {
		t.Fatal("expected error for missing args")
	}
	if !strings.Contains(err.Error(), "required") {
		t.Errorf("error = %q, want it to mention 'required'", err.Error())
	}
}

func TestSourceAdd_MissingContent(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"source", "add", "--name", "notes"})
	err := rootCmd.Execute()
	if err == nil {
		t.Fatal("expected error for missing content")
	}
	if !strings.Contains(err.Error(), "required") {
		t.Errorf("error = %q, want it to mention 'required'", err.Error())
	}
}

func TestSourceSearch_URLEncoding(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /sources/search": `[]`,
	})

	client := ts.client()
	query := "treaty & trade terms"
	path := fmt.Sprintf("/sources/search?q=%s&top_k=5", url.QueryEscape(query))
	resp, err := client.get(ctx, path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}

	reqPath := ts.requests[0].Path
	if strings.Contains(reqPath, "& trade") {
		t.Errorf("query not URL-encoded: %q", reqPath)
	}
	if !strings.Contains(reqPath, "q=treaty+%26+trade+terms") {
		t.Errorf("unexpected encoded path: %q", reqPath)
	}
}

func TestGuidanceApplyRequest(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"PUT /personas/p-1/guidance/g-1/applied": `{"id":"g-1","type":"suggestion","content":"read more memoirs","applied":true}`,
	})

	client := ts.client()
	resp, err := client.put(ctx, "/personas/p-1/guidance/g-1/applied", nil)
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	var g struct {
		Applied bool `json:"applied"`
	}
	if err := decodeJSON(resp, &g); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !g.Applied {
		t.Error("guidance not reported applied")
	}
	if got := ts.requests[0]; got.Method != http.MethodPut || got.Body != "" {
		t.Errorf("request = %s with body %q, want bodyless PUT", got.Method, got.Body)
	}
}

func TestDraftResponse(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /personas/p-1/draft": `{"editId":"e-9","content":"An opening.","version":3}`,
	})

	client := ts.client()
	resp, err := client.post(ctx, "/personas/p-1/draft", map[string]any{
		"task": "Write the opening",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result struct {
		EditID  string `json:"editId"`
		Content string `json:"content"`
		Version int    `json:"version"`
	}
	if err := decodeJSON(resp, &result); err != nil {
		t.Fatalf("decode error: %v", err)
	}

	if result.EditID != "e-9" {
		t.Errorf("editId = %q, want e-9", result.EditID)
	}
	if result.Content != "An opening." {
		t.Errorf("content = %q", result.Content)
	}
	if result.Version != 3 {
		t.Errorf("version = %d, want 3", result.Version)
	}
}

func TestStatusCommand_Running(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /health": `{"status":"ok"}`,
	})

	client := ts.client()
	resp, err := client.get(ctx, "/health")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Errorf("status code = %d, want 200", resp.StatusCode)
	}
}

func TestStatusCommand_Stopped(t *testing.T) {
	ts := newTestServer(t, map[string]string{})
	ts.server.Close()

	client := ts.client()
	_, err := client.get(ctx, "/health")
	if err == nil {
		t.Fatal("expected error for stopped server")
	}
	if !strings.Contains(err.Error(), "not reachable") {
		t.Errorf("error = %q, want it to mention 'not reachable'", err.Error())
	}
}

func TestNoColorFlag(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	result := colorize(colorGreen, "test message")
	if strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=true should not contain ANSI codes, got %q", result)
	}
	if result != "test message" {
		t.Errorf("result = %q, want %q", result, "test message")
	}

	noColor = false
	result = colorize(colorGreen, "test message")
	if !strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}

func TestAPIClientAuth(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /health": `{"status":"ok"}`,
	})

	client := ts.client()
	client.token = "my-secret-token"

	_, err := client.get(ctx, "/health")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	if ts.requests[0].Auth != "Bearer my-secret-token" {
		t.Errorf("auth = %q, want 'Bearer my-secret-token'", ts.requests[0].Auth)
	}
}

func TestDecodeJSON_ErrorResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(401)
		w.Write([]byte(`{"error":{"message":"unauthorized","type":"authentication_error"}}`))
	}))
	defer ts.Close()

	client := &apiClient{
		baseURL:    ts.URL,
		token:      "bad-token",
		httpClient: ts.Client(),
	}

	resp, err := client.get(ctx, "/personas")
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}

	var result any
	err = decodeJSON(resp, &result)
	if err == nil {
		t.Fatal("expected error for 401 response")
	}
	if !strings.Contains(err.Error(), "401") {
		t.Errorf("error = %q, want it to contain '401'", err.Error())
	}
}

func TestConfigShowAll(t *testing.T) {
	cfg := config.Config{}
	cfg.Server.Port = 4600
	cfg.Engine.FastModel = "phi3.5"

	keys := config.ShowAll(cfg)
	if len(keys) == 0 {
		t.Fatal("expected non-empty keys from ShowAll")
	}

	found := false
	for _, k := range keys {
		if k.Key == "server.port" && k.Value == "4600" {
			found = true
		}
	}
	if !found {
		t.Error("expected to find server.port=4600 in ShowAll output")
	}
}

func TestReadShaperSources(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "essays.md")
	if err := os.WriteFile(path, []byte("Strong opinions."), 0o644); err != nil {
		t.Fatal(err)
	}

	sources, err := readShaperSources([]string{path})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sources) != 1 {
		t.Fatalf("expected 1 source, got %d", len(sources))
	}
	if sources[0]["name"] != "essays.md" {
		t.Errorf("name = %q, want essays.md", sources[0]["name"])
	}
	if sources[0]["content"] != "Strong opinions." {
		t.Errorf("content = %q", sources[0]["content"])
	}

	if _, err := readShaperSources([]string{filepath.Join(dir, "missing.md")}); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestSplitCSV(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"a", []string{"a"}},
		{"a,b,c", []string{"a", "b", "c"}},
		{" a , ,b ", []string{"a", "b"}},
	}
	for _, tt := range tests {
		got := splitCSV(tt.in)
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("splitCSV(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestCountLabel(t *testing.T) {
	tests := []struct {
		count, limit int
		want         string
	}{
		{5, 100, "5"},
		{0, 100, "0"},
		{100, 100, "100+"},
		{150, 100, "150+"},
	}
	for _, tt := range tests {
		got := countLabel(tt.count, tt.limit)
		if got != tt.want {
			t.Errorf("countLabel(%d, %d) = %q, want %q", tt.count, tt.limit, got, tt.want)
		}
	}
}

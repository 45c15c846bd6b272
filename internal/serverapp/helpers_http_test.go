package serverapp

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"crm-graphql/internal/config"
	"crm-graphql/internal/middleware"
	"crm-graphql/internal/token"
)

const testWorkspaceID = "20202020-1c25-4d02-bf25-6aeccf7ea419"

// workspaceEcho reports the workspace and user resolved by the auth chain.
var workspaceEcho = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	ws, _ := middleware.WorkspaceFromContext(r.Context())
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"workspace": ws,
		"user":      middleware.UserIDFromContext(r.Context()),
	})
})

func graphqlRequest(t *testing.T, bearer string) *http.Request {
	t.Helper()
	body := bytes.NewBufferString(`{"query":"{ people { totalCount } }"}`)
	req := httptest.NewRequest(http.MethodPost, "/graphql", body)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	return req
}

func TestBuildGraphQLHandler_AccessToken(t *testing.T) {
	tokens := token.NewService("file-secret", "access-secret")
	cfg := &config.Config{}
	handler, err := buildGraphQLHandler(cfg, testLogger(), workspaceEcho, tokens, appMetrics{})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	signed, err := tokens.SignAccessToken("user-1", testWorkspaceID, time.Minute)
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, graphqlRequest(t, signed))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}
	var got map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if got["workspace"] != testWorkspaceID || got["user"] != "user-1" {
		t.Fatalf("unexpected auth context: %v", got)
	}
	if rec.Header().Get(middleware.RequestIDHeader) == "" {
		t.Fatalf("expected request id header from logging middleware")
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, graphqlRequest(t, ""))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d without token, got %d", http.StatusUnauthorized, rec.Code)
	}
}

func TestBuildGraphQLHandler_RateLimitPerWorkspace(t *testing.T) {
	tokens := token.NewService("file-secret", "access-secret")
	cfg := &config.Config{Server: config.ServerConfig{
		RateLimitEnabled: true,
		RateLimitRPS:     0.001,
		RateLimitBurst:   1,
	}}
	handler, err := buildGraphQLHandler(cfg, testLogger(), workspaceEcho, tokens, appMetrics{})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	first, _ := tokens.SignAccessToken("user-1", testWorkspaceID, time.Minute)
	other, _ := tokens.SignAccessToken("user-2", "30303030-1c25-4d02-bf25-6aeccf7ea419", time.Minute)

	codes := []int{}
	for _, bearer := range []string{first, first, other} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, graphqlRequest(t, bearer))
		codes = append(codes, rec.Code)
	}
	want := []int{http.StatusOK, http.StatusTooManyRequests, http.StatusOK}
	for i := range want {
		if codes[i] != want[i] {
			t.Fatalf("request %d: expected status %d, got %d", i, want[i], codes[i])
		}
	}
}

func TestBuildGraphQLHandler_OIDCRequiresIssuer(t *testing.T) {
	cfg := &config.Config{Server: config.ServerConfig{Auth: config.AuthConfig{OIDCEnabled: true}}}
	if _, err := buildGraphQLHandler(cfg, testLogger(), workspaceEcho, nil, appMetrics{}); err == nil {
		t.Fatalf("expected error for OIDC without issuer")
	}
}

func TestBuildRouter(t *testing.T) {
	cfg := &config.Config{Server: config.ServerConfig{HealthCheckTimeout: time.Second}}
	graphqlHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	filesHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	mux := buildRouter(cfg, testLogger(), nil, graphqlHandler, filesHandler, nil)

	tests := []struct {
		name   string
		method string
		path   string
		want   int
	}{
		{name: "graphql", method: http.MethodPost, path: "/graphql", want: http.StatusAccepted},
		{name: "files", method: http.MethodGet, path: "/files/attachment/a.pdf", want: http.StatusTeapot},
		{name: "root redirects", method: http.MethodGet, path: "/", want: http.StatusFound},
		{name: "health without database", method: http.MethodGet, path: "/health", want: http.StatusServiceUnavailable},
		{name: "metrics disabled", method: http.MethodGet, path: "/metrics", want: http.StatusNotFound},
		{name: "unknown", method: http.MethodGet, path: "/nope", want: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			if rec.Code != tt.want {
				t.Fatalf("expected status %d, got %d", tt.want, rec.Code)
			}
		})
	}
}

func TestBuildFilesHandler_UnknownDriver(t *testing.T) {
	cfg := &config.Config{Files: config.FilesConfig{Driver: "ftp"}}
	if _, err := buildFilesHandler(cfg, testLogger(), token.NewService("f", "a"), appMetrics{}); err == nil {
		t.Fatalf("expected error for unknown files driver")
	}
}

func TestCheckConfig(t *testing.T) {
	var logs bytes.Buffer
	logger := testLoggerTo(&logs)

	err := CheckConfig(&config.Config{}, logger.Logger)
	if err == nil {
		t.Fatalf("expected validation to fail for an empty config")
	}
	if !strings.Contains(logs.String(), "configuration error") {
		t.Fatalf("expected errors to be logged, got %q", logs.String())
	}
}

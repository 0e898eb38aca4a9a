package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/pdf-capture-service/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Port: 8080, Version: "test", ShutdownTimeout: time.Second},
		Browser: config.BrowserConfig{
			Driver:      "chromedp",
			Endpoint:    "ws://127.0.0.1:9222/devtools/browser",
			Token:       "tok",
			MaxParallel: 2,
		},
		Capture: config.CaptureConfig{
			NavigationTimeout: time.Second,
			CaptureTimeout:    time.Second,
			DefaultFilename:   "cv.pdf",
		},
		Storage: config.StorageConfig{Backend: "memory"},
		Logging: config.LoggingConfig{Level: "error"},
	}
}

func TestBuildServesBanner(t *testing.T) {
	t.Parallel()

	app, err := Build(context.Background(), testConfig())
	require.NoError(t, err)
	defer func() { require.NoError(t, app.Close(context.Background())) }()
	require.NotNil(t, app.Service())
	require.NotNil(t, app.Logger())

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "test", body["version"])

	rec = httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBuildRodDriverWithLocalStorage(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Browser.Driver = "rod"
	cfg.Storage = config.StorageConfig{Backend: "local", LocalDir: t.TempDir()}

	app, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	require.NoError(t, app.Close(context.Background()))
}

func TestBuildDriveEnablesAuthFlow(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Storage = config.StorageConfig{Backend: "drive"}
	cfg.OAuth = config.OAuthConfig{
		ClientID:     "client",
		ClientSecret: "secret",
		RedirectURL:  "http://localhost:8080/oauth2callback",
		Scopes:       []string{"https://www.googleapis.com/auth/drive.file"},
	}

	app, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	defer func() { require.NoError(t, app.Close(context.Background())) }()

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth", nil))
	require.Equal(t, http.StatusFound, rec.Code)
	require.Contains(t, rec.Header().Get("Location"), "accounts.google.com")

	rec = httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/status", nil))
	require.JSONEq(t, `{"authorized":false}`, rec.Body.String())
}

func TestBuildRequireAuthGatesNonDriveBackends(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Capture.RequireAuth = true
	cfg.OAuth = config.OAuthConfig{
		ClientID:     "client",
		ClientSecret: "secret",
		RedirectURL:  "http://localhost:8080/oauth2callback",
	}
	require.NoError(t, cfg.Validate())

	app, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	defer func() { require.NoError(t, app.Close(context.Background())) }()

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/download-cv",
		strings.NewReader(`{"sourceURL":"https://example.com/cv"}`)))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Contains(t, rec.Body.String(), "UnauthorizedError")
}

func TestBuildRequiresBrowserEndpoint(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Browser.Endpoint = ""
	_, err := Build(context.Background(), cfg)
	require.ErrorContains(t, err, "browser.endpoint")

	cfg = testConfig()
	cfg.Browser.Endpoint = "not a url"
	_, err = Build(context.Background(), cfg)
	require.Error(t, err)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Server.Port = 0
	app, err := Build(context.Background(), cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

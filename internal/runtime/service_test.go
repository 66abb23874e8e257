package runtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"chat-client/internal/config"
	"chat-client/internal/logging"
)

func TestNewServices_WiresSessionIntoRefresh(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/auth/refresh-token":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"data":{"accessToken":"fresh"}}`))
		case "/v1/me":
			gotAuth = r.Header.Get("Authorization")
			_, _ = w.Write([]byte(`{"data":{}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	sessionFile := filepath.Join(t.TempDir(), "session.json")
	services, err := NewServices(config.Options{
		APIHost:     server.URL,
		APIPrefix:   "v1",
		RealtimeURL: "ws://127.0.0.1:1/chat",
		SessionFile: sessionFile,
		AuthScheme:  "Bearer",
	}, logging.Discard(), Hooks{})
	if err != nil {
		t.Fatalf("NewServices() error = %v", err)
	}
	if services.Store.Path() != sessionFile {
		t.Fatalf("Store.Path() = %q, want %q", services.Store.Path(), sessionFile)
	}
	if err := services.Session.SetRefreshToken("R1"); err != nil {
		t.Fatalf("SetRefreshToken() error = %v", err)
	}

	if _, err := services.API.RenewAccessToken(context.Background()); err != nil {
		t.Fatalf("RenewAccessToken() error = %v", err)
	}
	if _, err := services.API.Get(context.Background(), "/me", nil); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if gotAuth != "Bearer fresh" {
		t.Fatalf("Authorization = %q, want Bearer fresh", gotAuth)
	}

	instance := services.Realtime.Instance()
	if instance != services.Realtime.Instance() {
		t.Fatalf("Realtime.Instance() is not stable")
	}
	services.Realtime.Remove()
}

func TestNewServices_RequiresAPIHost(t *testing.T) {
	if _, err := NewServices(config.Options{}, logging.Discard(), Hooks{}); err == nil {
		t.Fatalf("NewServices() error = nil, want missing host")
	}
}

package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"chat-client/internal/config"
	"chat-client/internal/logging"
	"chat-client/internal/session"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

type profile struct {
	Name string `json:"name"`
}

// authServer serves /api/profile, which accepts only access token A2, and
// the refresh endpoint, which trades R1 for A2.
type authServer struct {
	t             *testing.T
	profileCalls  atomic.Int32
	refreshCalls  atomic.Int32
	unauthorized  atomic.Int32
	refreshStatus int
	refreshBody   string
	beforeRefresh func()
}

func (s *authServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/api/profile":
		s.profileCalls.Add(1)
		if r.Header.Get("Authorization") != "A2" {
			s.unauthorized.Add(1)
			http.Error(w, `{"message":"token expired"}`, http.StatusUnauthorized)
			return
		}
		writeJSON(w, `{"data":{"name":"kim"},"message":"ok"}`)
	case "/api/auth/refresh-token":
		s.refreshCalls.Add(1)
		var body refreshTokenRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			s.t.Errorf("decode refresh body: %v", err)
		}
		if body.RefreshToken != "R1" {
			s.t.Errorf("refreshToken = %q, want R1", body.RefreshToken)
		}
		if s.beforeRefresh != nil {
			s.beforeRefresh()
		}
		if s.refreshStatus != 0 {
			http.Error(w, "rejected", s.refreshStatus)
			return
		}
		if s.refreshBody != "" {
			writeJSON(w, s.refreshBody)
			return
		}
		writeJSON(w, `{"data":{"accessToken":"A2"}}`)
	default:
		http.NotFound(w, r)
	}
}

func writeJSON(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, body)
}

func newTestClient(t *testing.T, handler http.Handler, refreshToken string, opts ...Option) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	endpoints, err := config.BuildEndpoints(config.Options{APIHost: server.URL, APIPrefix: "api"})
	if err != nil {
		t.Fatalf("BuildEndpoints() error = %v", err)
	}
	sess := session.New(session.NewMemoryStore())
	if refreshToken != "" {
		if err := sess.SetRefreshToken(refreshToken); err != nil {
			t.Fatalf("SetRefreshToken() error = %v", err)
		}
	}
	return New(server.Client(), endpoints, sess, logging.Discard(), opts...), server
}

func TestDo_AttachesHeadersAndUnwrapsEnvelope(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/rooms" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Content-Type"); got != "application/json" {
			t.Errorf("Content-Type = %q, want application/json", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer A1" {
			t.Errorf("Authorization = %q, want Bearer A1", got)
		}
		if got := r.Header.Get("X-Trace"); got != "abc" {
			t.Errorf("X-Trace = %q, want abc", got)
		}
		if got := r.URL.Query().Get("page"); got != "2" {
			t.Errorf("page = %q, want 2", got)
		}
		writeJSON(w, `{"data":[{"name":"general"}],"total":1}`)
	}), "", WithAuthScheme("Bearer"))
	c.SetAccessToken("A1")

	resp, err := c.Do(context.Background(), Request{
		Method:  http.MethodGet,
		URL:     "/rooms",
		Params:  map[string]any{"page": 2},
		Headers: map[string]string{"X-Trace": "abc"},
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	rooms, err := Decode[[]profile](resp)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if len(rooms) != 1 || rooms[0].Name != "general" {
		t.Fatalf("rooms = %#v", rooms)
	}
	if string(resp.Body.Meta["total"]) != "1" {
		t.Fatalf("meta = %#v", resp.Body.Meta)
	}
}

func TestDo_RefreshesAndReplaysOnce(t *testing.T) {
	server := &authServer{t: t}
	var roomsAuth string
	mux := http.NewServeMux()
	mux.Handle("/api/profile", server)
	mux.Handle("/api/auth/refresh-token", server)
	mux.HandleFunc("/api/rooms", func(w http.ResponseWriter, r *http.Request) {
		roomsAuth = r.Header.Get("Authorization")
		writeJSON(w, `{"data":[]}`)
	})
	c, _ := newTestClient(t, mux, "R1")

	resp, err := c.Get(context.Background(), "/profile", nil)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	got, err := Decode[profile](resp)
	if err != nil || got.Name != "kim" {
		t.Fatalf("Decode() = %#v, %v", got, err)
	}
	if n := server.profileCalls.Load(); n != 2 {
		t.Fatalf("profile calls = %d, want 2 (original + replay)", n)
	}
	if n := server.refreshCalls.Load(); n != 1 {
		t.Fatalf("refresh calls = %d, want 1", n)
	}

	if _, err := c.Get(context.Background(), "/rooms", nil); err != nil {
		t.Fatalf("Get(/rooms) error = %v", err)
	}
	if roomsAuth != "A2" {
		t.Fatalf("later request Authorization = %q, want A2", roomsAuth)
	}
}

func TestDo_ReplayKeepsMethodBodyAndParams(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/messages", func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		body, _ := io.ReadAll(r.Body)
		if r.Method != http.MethodPatch || string(body) != `{"text":"hi"}` || r.URL.Query().Get("room") != "7" {
			t.Errorf("call %d: method=%s body=%s query=%s", n, r.Method, body, r.URL.RawQuery)
		}
		if r.Header.Get("Authorization") != "A2" {
			http.Error(w, "expired", http.StatusUnauthorized)
			return
		}
		writeJSON(w, `{"data":{"ok":true}}`)
	})
	mux.HandleFunc("/api/auth/refresh-token", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, `{"data":{"accessToken":"A2"}}`)
	})
	c, _ := newTestClient(t, mux, "R1")

	_, err := c.Do(context.Background(), Request{
		Method: http.MethodPatch,
		URL:    "messages",
		Params: map[string]any{"room": 7},
		Body:   map[string]string{"text": "hi"},
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if n := calls.Load(); n != 2 {
		t.Fatalf("calls = %d, want 2", n)
	}
}

func TestDo_RefreshWithoutTokenSignalsAuthRequired(t *testing.T) {
	server := &authServer{t: t, refreshBody: `{"data":{"accessToken":""}}`}
	var signals atomic.Int32
	c, _ := newTestClient(t, server, "R1", WithAuthRequiredHandler(func(error) { signals.Add(1) }))

	_, err := c.Get(context.Background(), "/profile", nil)
	if !errors.Is(err, ErrAuthRequired) {
		t.Fatalf("Get() error = %v, want ErrAuthRequired", err)
	}
	var statusErr *HTTPStatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("Get() error = %v, want wrapped 401 *HTTPStatusError", err)
	}
	if n := server.profileCalls.Load(); n != 1 {
		t.Fatalf("profile calls = %d, want 1", n)
	}
	if n := server.refreshCalls.Load(); n != 1 {
		t.Fatalf("refresh calls = %d, want 1", n)
	}
	if n := signals.Load(); n != 1 {
		t.Fatalf("auth required signals = %d, want 1", n)
	}
}

func TestDo_RefreshRejectedDoesNotRecurse(t *testing.T) {
	server := &authServer{t: t, refreshStatus: http.StatusUnauthorized}
	c, _ := newTestClient(t, server, "R1")

	if _, err := c.Get(context.Background(), "/profile", nil); !errors.Is(err, ErrAuthRequired) {
		t.Fatalf("Get() error = %v, want ErrAuthRequired", err)
	}
	if n := server.refreshCalls.Load(); n != 1 {
		t.Fatalf("refresh calls = %d, want 1", n)
	}
}

func TestDo_NoRefreshTokenSkipsRefreshCall(t *testing.T) {
	server := &authServer{t: t}
	var reasons []error
	c, _ := newTestClient(t, server, "", WithAuthRequiredHandler(func(reason error) { reasons = append(reasons, reason) }))

	if _, err := c.Get(context.Background(), "/profile", nil); !errors.Is(err, ErrAuthRequired) {
		t.Fatalf("Get() error = %v, want ErrAuthRequired", err)
	}
	if n := server.refreshCalls.Load(); n != 0 {
		t.Fatalf("refresh calls = %d, want 0", n)
	}
	if len(reasons) != 1 {
		t.Fatalf("auth required signals = %d, want 1", len(reasons))
	}
}

func TestDo_ReplayedUnauthorizedIsReturned(t *testing.T) {
	var calls atomic.Int32
	var refreshes atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/profile", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "still expired", http.StatusUnauthorized)
	})
	mux.HandleFunc("/api/auth/refresh-token", func(w http.ResponseWriter, r *http.Request) {
		refreshes.Add(1)
		writeJSON(w, `{"data":{"accessToken":"A2"}}`)
	})
	c, _ := newTestClient(t, mux, "R1")

	_, err := c.Get(context.Background(), "/profile", nil)
	if !IsUnauthorized(err) || errors.Is(err, ErrAuthRequired) {
		t.Fatalf("Get() error = %v, want plain 401", err)
	}
	if calls.Load() != 2 || refreshes.Load() != 1 {
		t.Fatalf("calls = %d refreshes = %d, want 2 and 1", calls.Load(), refreshes.Load())
	}
}

func TestDo_PassthroughStatusesAreNotRetried(t *testing.T) {
	for _, code := range []int{400, 403, 404, 500, 502} {
		t.Run(http.StatusText(code), func(t *testing.T) {
			var calls atomic.Int32
			var refreshes atomic.Int32
			mux := http.NewServeMux()
			mux.HandleFunc("/api/thing", func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(code)
				_, _ = io.WriteString(w, `{"message":"nope"}`)
			})
			mux.HandleFunc("/api/auth/refresh-token", func(w http.ResponseWriter, r *http.Request) {
				refreshes.Add(1)
			})
			c, _ := newTestClient(t, mux, "R1")

			_, err := c.Post(context.Background(), "/thing", map[string]int{"n": 1})
			var statusErr *HTTPStatusError
			if !errors.As(err, &statusErr) {
				t.Fatalf("error type = %T, want *HTTPStatusError", err)
			}
			if statusErr.StatusCode != code || string(statusErr.Body) != `{"message":"nope"}` {
				t.Fatalf("status error = %d %q", statusErr.StatusCode, statusErr.Body)
			}
			if statusErr.Request.Method != http.MethodPost || statusErr.Request.URL != "/thing" {
				t.Fatalf("status error request = %#v", statusErr.Request)
			}
			if calls.Load() != 1 || refreshes.Load() != 0 {
				t.Fatalf("calls = %d refreshes = %d, want 1 and 0", calls.Load(), refreshes.Load())
			}
		})
	}
}

func TestDo_TransportErrorIsNotRetried(t *testing.T) {
	dialErr := errors.New("connection refused")
	var calls atomic.Int32
	httpClient := &http.Client{
		Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			calls.Add(1)
			return nil, dialErr
		}),
	}
	sess := session.New(session.NewMemoryStore())
	_ = sess.SetRefreshToken("R1")
	c := New(httpClient, config.APIEndpoints{BaseURL: "https://example.test/api"}, sess, logging.Discard())

	if _, err := c.Delete(context.Background(), "/thing"); !errors.Is(err, dialErr) {
		t.Fatalf("Delete() error = %v, want %v", err, dialErr)
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("round trips = %d, want 1", n)
	}
}

func TestDo_OversizedBodyIsAnError(t *testing.T) {
	name := strings.Repeat("x", maxResponseBytes+1)
	mux := http.NewServeMux()
	mux.HandleFunc("/api/profile", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, `{"data":{"name":"`+name+`"}}`)
	})
	c, _ := newTestClient(t, mux, "")

	resp, err := c.Get(context.Background(), "/profile", nil)
	if !errors.Is(err, ErrResponseTooLarge) {
		t.Fatalf("Get() error = %v, want ErrResponseTooLarge", err)
	}
	if resp != nil {
		t.Fatalf("Get() response = %#v, want nil", resp)
	}
}

func TestDo_BodyAtLimitIsAccepted(t *testing.T) {
	prefix, suffix := `{"data":{"name":"`, `"}}`
	name := strings.Repeat("x", maxResponseBytes-len(prefix)-len(suffix))
	mux := http.NewServeMux()
	mux.HandleFunc("/api/profile", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, prefix+name+suffix)
	})
	c, _ := newTestClient(t, mux, "")

	resp, err := c.Get(context.Background(), "/profile", nil)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	got, err := Decode[profile](resp)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if len(got.Name) != len(name) {
		t.Fatalf("len(name) = %d, want %d", len(got.Name), len(name))
	}
}

func TestDo_MalformedJSONEnvelopeIsAnError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/profile", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, `{"data":{"name":"kim"`)
	})
	mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, "OK")
	})
	c, _ := newTestClient(t, mux, "")

	if _, err := c.Get(context.Background(), "/profile", nil); err == nil || !strings.Contains(err.Error(), "decode response envelope") {
		t.Fatalf("Get(/profile) error = %v, want envelope decode error", err)
	}

	resp, err := c.Get(context.Background(), "/health", nil)
	if err != nil {
		t.Fatalf("Get(/health) error = %v", err)
	}
	if string(resp.Raw) != "OK" || resp.Body.Data != nil {
		t.Fatalf("Get(/health) = raw %q data %q, want raw OK and no envelope", resp.Raw, resp.Body.Data)
	}
}

func TestDo_ConcurrentUnauthorizedShareOneRefresh(t *testing.T) {
	const n = 8
	server := &authServer{t: t}
	// hold the refresh until every request has seen its 401.
	server.beforeRefresh = func() {
		deadline := time.Now().Add(2 * time.Second)
		for server.unauthorized.Load() < n && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
	}
	c, _ := newTestClient(t, server, "R1")

	g, ctx := errgroup.WithContext(context.Background())
	for range n {
		g.Go(func() error {
			resp, err := c.Get(ctx, "/profile", nil)
			if err != nil {
				return err
			}
			got, err := Decode[profile](resp)
			if err != nil {
				return err
			}
			if got.Name != "kim" {
				return errors.New("unexpected profile " + got.Name)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent Get() error = %v", err)
	}
	if got := server.refreshCalls.Load(); got != 1 {
		t.Fatalf("refresh calls = %d, want 1", got)
	}
	if got := server.profileCalls.Load(); got != 2*n {
		t.Fatalf("profile calls = %d, want %d", got, 2*n)
	}
	if c.AccessToken() != "A2" {
		t.Fatalf("AccessToken() = %q, want A2", c.AccessToken())
	}
}

func TestRenewAccessToken_InstallsTokenForAuthHeader(t *testing.T) {
	server := &authServer{t: t}
	c, _ := newTestClient(t, server, "R1", WithAuthScheme("Bearer"))

	token, err := c.RenewAccessToken(context.Background())
	if err != nil {
		t.Fatalf("RenewAccessToken() error = %v", err)
	}
	if token != "A2" {
		t.Fatalf("token = %q, want A2", token)
	}
	if got := c.AuthHeader().Get("Authorization"); got != "Bearer A2" {
		t.Fatalf("AuthHeader() = %q, want Bearer A2", got)
	}
}

func TestRenewAccessToken_CanceledWaiterDoesNotFailOthers(t *testing.T) {
	entered := make(chan struct{}, 2)
	release := make(chan struct{})
	server := &authServer{t: t}
	server.beforeRefresh = func() {
		entered <- struct{}{}
		<-release
	}
	c, _ := newTestClient(t, server, "R1")

	impatientCtx, cancel := context.WithCancel(context.Background())
	impatientErr := make(chan error, 1)
	go func() {
		_, err := c.RenewAccessToken(impatientCtx)
		impatientErr <- err
	}()
	<-entered

	patient := make(chan string, 1)
	go func() {
		token, _ := c.RenewAccessToken(context.Background())
		patient <- token
	}()

	cancel()
	if err := <-impatientErr; !errors.Is(err, context.Canceled) {
		t.Fatalf("impatient RenewAccessToken() error = %v, want context.Canceled", err)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)

	select {
	case token := <-patient:
		if token != "A2" {
			t.Fatalf("patient token = %q, want A2", token)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for patient refresh")
	}
}

func TestEmail_StoredThroughSession(t *testing.T) {
	c, _ := newTestClient(t, http.NotFoundHandler(), "")
	if err := c.SetEmail("user@example.com"); err != nil {
		t.Fatalf("SetEmail() error = %v", err)
	}
	if got, ok, _ := c.Email(); !ok || got != "user@example.com" {
		t.Fatalf("Email() = %q, %v", got, ok)
	}
}

func TestPrepare_RejectsUnknownMethod(t *testing.T) {
	c := New(nil, config.APIEndpoints{BaseURL: "https://example.test/api"}, session.New(session.NewMemoryStore()), logging.Discard())
	if _, err := c.Do(context.Background(), Request{Method: "TRACE", URL: "/x"}); err == nil {
		t.Fatalf("Do() expected error for TRACE")
	}
}

package api

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

type fakeTokens struct {
	mu      sync.Mutex
	access  string
	refresh string
}

func (f *fakeTokens) AccessToken() (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.access, f.access != ""
}

func (f *fakeTokens) RefreshToken() (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refresh, f.refresh != ""
}

func (f *fakeTokens) SetTokens(access, refresh string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.access = access
	f.refresh = refresh
	return nil
}

// newRefreshServer serves a protected resource that accepts only "good"
// bearer tokens, and a refresh endpoint that rotates any token to "good".
func newRefreshServer(refreshCalls, resourceCalls *atomic.Int64, refreshStatus int) *httptest.Server {
	r := mux.NewRouter()
	r.HandleFunc("/v1/me/refresh", func(w http.ResponseWriter, req *http.Request) {
		refreshCalls.Add(1)
		// Widen the race window for concurrent 401 handling.
		time.Sleep(50 * time.Millisecond)
		if refreshStatus != http.StatusOK {
			w.WriteHeader(refreshStatus)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"accessToken":"good","refreshToken":"rt2"}`)
	}).Methods(http.MethodPost)
	r.HandleFunc("/v1/me/chats", func(w http.ResponseWriter, req *http.Request) {
		resourceCalls.Add(1)
		if req.Header.Get("Authorization") != "Bearer good" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `[]`)
	}).Methods(http.MethodGet)
	return httptest.NewServer(r)
}

func authedClient(srv *httptest.Server, tokens TokenSource) *http.Client {
	t := newAuthTransport(nil, tokens, func() string { return srv.URL }, zap.NewNop())
	return &http.Client{Transport: t}
}

func getChats(t *testing.T, client *http.Client, srv *httptest.Server, auth string) int {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, srv.URL+"/v1/me/chats", nil)
	if err != nil {
		t.Fatal(err)
	}
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	return resp.StatusCode
}

func TestRefreshAndRetry(t *testing.T) {
	var refreshCalls, resourceCalls atomic.Int64
	srv := newRefreshServer(&refreshCalls, &resourceCalls, http.StatusOK)
	defer srv.Close()

	tokens := &fakeTokens{access: "stale", refresh: "rt1"}
	client := authedClient(srv, tokens)

	if code := getChats(t, client, srv, "Bearer stale"); code != http.StatusOK {
		t.Errorf("status = %d, want 200 after transparent refresh", code)
	}
	if n := refreshCalls.Load(); n != 1 {
		t.Errorf("refresh calls = %d, want 1", n)
	}
	if access, _ := tokens.AccessToken(); access != "good" {
		t.Errorf("stored access token = %q, want good", access)
	}
	if refresh, _ := tokens.RefreshToken(); refresh != "rt2" {
		t.Errorf("stored refresh token = %q, want rotated rt2", refresh)
	}
}

func TestConcurrentRefreshIsSingleFlight(t *testing.T) {
	var refreshCalls, resourceCalls atomic.Int64
	srv := newRefreshServer(&refreshCalls, &resourceCalls, http.StatusOK)
	defer srv.Close()

	tokens := &fakeTokens{access: "stale", refresh: "rt1"}
	client := authedClient(srv, tokens)

	var wg sync.WaitGroup
	codes := make([]int, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			codes[i] = getChats(t, client, srv, "Bearer stale")
		}(i)
	}
	wg.Wait()

	for i, code := range codes {
		if code != http.StatusOK {
			t.Errorf("request %d status = %d, want 200", i, code)
		}
	}
	if n := refreshCalls.Load(); n != 1 {
		t.Errorf("refresh calls = %d, want exactly 1 (single-flight)", n)
	}
}

func TestNoBearerPassesThrough(t *testing.T) {
	var refreshCalls, resourceCalls atomic.Int64
	srv := newRefreshServer(&refreshCalls, &resourceCalls, http.StatusOK)
	defer srv.Close()

	tokens := &fakeTokens{access: "stale", refresh: "rt1"}
	client := authedClient(srv, tokens)

	if code := getChats(t, client, srv, ""); code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 passed through", code)
	}
	if n := refreshCalls.Load(); n != 0 {
		t.Errorf("refresh calls = %d, want 0 for a request without a bearer token", n)
	}
}

func TestMissingTokensSkipRefresh(t *testing.T) {
	var refreshCalls, resourceCalls atomic.Int64
	srv := newRefreshServer(&refreshCalls, &resourceCalls, http.StatusOK)
	defer srv.Close()

	tokens := &fakeTokens{} // no tokens at all
	client := authedClient(srv, tokens)

	if code := getChats(t, client, srv, "Bearer stale"); code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", code)
	}
	if n := refreshCalls.Load(); n != 0 {
		t.Errorf("refresh calls = %d, want 0 when no tokens are stored", n)
	}
}

func TestRefreshFailureSurfacesOriginal(t *testing.T) {
	var refreshCalls, resourceCalls atomic.Int64
	srv := newRefreshServer(&refreshCalls, &resourceCalls, http.StatusBadRequest)
	defer srv.Close()

	tokens := &fakeTokens{access: "stale", refresh: "rt1"}
	client := authedClient(srv, tokens)

	if code := getChats(t, client, srv, "Bearer stale"); code != http.StatusUnauthorized {
		t.Errorf("status = %d, want the original 401", code)
	}
	if n := refreshCalls.Load(); n != 1 {
		t.Errorf("refresh calls = %d, want 1", n)
	}
	// The stale tokens are untouched on refresh failure.
	if access, _ := tokens.AccessToken(); access != "stale" {
		t.Errorf("access token = %q, want stale preserved", access)
	}
}

func TestRetriesAtMostOnce(t *testing.T) {
	var resourceCalls atomic.Int64
	r := mux.NewRouter()
	var refreshCalls atomic.Int64
	r.HandleFunc("/v1/me/refresh", func(w http.ResponseWriter, req *http.Request) {
		refreshCalls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"accessToken":"still-bad","refreshToken":"rt2"}`)
	}).Methods(http.MethodPost)
	// The resource rejects every token, including the refreshed one.
	r.HandleFunc("/v1/me/chats", func(w http.ResponseWriter, req *http.Request) {
		resourceCalls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}).Methods(http.MethodGet)
	srv := httptest.NewServer(r)
	defer srv.Close()

	tokens := &fakeTokens{access: "stale", refresh: "rt1"}
	client := authedClient(srv, tokens)

	if code := getChats(t, client, srv, "Bearer stale"); code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", code)
	}
	if n := resourceCalls.Load(); n != 2 {
		t.Errorf("resource calls = %d, want 2 (original + one retry, no loop)", n)
	}
	if n := refreshCalls.Load(); n != 1 {
		t.Errorf("refresh calls = %d, want 1", n)
	}
}

func TestRetryRewindsRequestBody(t *testing.T) {
	var refreshCalls atomic.Int64
	bodies := make(chan string, 2)
	r := mux.NewRouter()
	r.HandleFunc("/v1/me/refresh", func(w http.ResponseWriter, req *http.Request) {
		refreshCalls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"accessToken":"good","refreshToken":"rt2"}`)
	}).Methods(http.MethodPost)
	r.HandleFunc("/v1/chats/1/messages/", func(w http.ResponseWriter, req *http.Request) {
		data, _ := io.ReadAll(req.Body)
		bodies <- string(data)
		if req.Header.Get("Authorization") != "Bearer good" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"messageId":1,"memberId":1,"text":"hi","createdOn":1}`)
	}).Methods(http.MethodPost)
	srv := httptest.NewServer(r)
	defer srv.Close()

	tokens := &fakeTokens{access: "stale", refresh: "rt1"}
	client := authedClient(srv, tokens)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/v1/chats/1/messages/", strings.NewReader(`{"text":"hi"}`))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer stale")
	resp, err := client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	first, second := <-bodies, <-bodies
	if first != `{"text":"hi"}` || second != `{"text":"hi"}` {
		t.Errorf("bodies = %q, %q; want identical payload on retry", first, second)
	}
}

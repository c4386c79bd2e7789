package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Nebu1ea/Grimoire/internal/api"
	"github.com/Nebu1ea/Grimoire/internal/keyring"
)

func testRing(t *testing.T) *keyring.Store {
	t.Helper()
	ring, err := keyring.New(filepath.Join(t.TempDir(), "keyring.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to create keyring: %v", err)
	}
	t.Cleanup(func() { ring.Close() })
	return ring
}

func testSession(t *testing.T, serverURL string) (*Session, *keyring.Store) {
	t.Helper()
	ring := testRing(t)
	client := api.New(serverURL, 5*time.Second, zerolog.Nop())
	sess := New(client, ring, zerolog.Nop())
	client.SetTokenSource(sess)
	client.OnAuthExpired(sess.ExpireAuth)
	return sess, ring
}

func loginServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if body.Username == "operator1" && body.Password == "hunter2" {
			json.NewEncoder(w).Encode(map[string]string{"access_token": "tok-xyz"})
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{"msg": "Bad username or password"})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestLogin_Success(t *testing.T) {
	srv := loginServer(t)
	sess, ring := testSession(t, srv.URL)

	sess.Login(context.Background(), "operator1", "hunter2")

	if !sess.IsAuthenticated() {
		t.Fatal("expected authenticated session")
	}
	if sess.Token() != "tok-xyz" {
		t.Errorf("Token: got %s, want tok-xyz", sess.Token())
	}
	if sess.Username() != "operator1" {
		t.Errorf("Username: got %s, want operator1", sess.Username())
	}
	if sess.LoginError() != "" {
		t.Errorf("expected no login error, got %q", sess.LoginError())
	}
	if sess.IsLoading() {
		t.Error("loading flag must be cleared after login")
	}

	creds, found, err := ring.Load()
	if err != nil || !found {
		t.Fatalf("expected persisted credentials, found=%v err=%v", found, err)
	}
	if creds.Token != "tok-xyz" || creds.Username != "operator1" {
		t.Errorf("persisted credentials: got %+v", creds)
	}
}

func TestLogin_InvalidCredentials(t *testing.T) {
	srv := loginServer(t)
	sess, ring := testSession(t, srv.URL)

	sess.Login(context.Background(), "operator1", "wrong")

	if sess.IsAuthenticated() {
		t.Fatal("expected unauthenticated session")
	}
	if sess.LoginError() != MsgInvalidCredentials {
		t.Errorf("LoginError: got %q, want %q", sess.LoginError(), MsgInvalidCredentials)
	}
	if _, found, _ := ring.Load(); found {
		t.Error("no token may be persisted after a failed login")
	}
}

func TestLogin_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused

	sess, _ := testSession(t, srv.URL)
	sess.Login(context.Background(), "operator1", "hunter2")

	if sess.IsAuthenticated() {
		t.Fatal("expected unauthenticated session")
	}
	if sess.LoginError() != MsgNetworkError {
		t.Errorf("LoginError: got %q, want %q", sess.LoginError(), MsgNetworkError)
	}
}

func TestLogin_ServerErrorIsGeneric(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	sess, _ := testSession(t, srv.URL)
	sess.Login(context.Background(), "operator1", "hunter2")

	if sess.LoginError() != MsgNetworkError {
		t.Errorf("LoginError: got %q, want %q", sess.LoginError(), MsgNetworkError)
	}
}

func TestLogout_Idempotent(t *testing.T) {
	srv := loginServer(t)
	sess, ring := testSession(t, srv.URL)

	sess.Login(context.Background(), "operator1", "hunter2")
	sess.Logout()
	sess.Logout()

	if sess.IsAuthenticated() {
		t.Error("expected unauthenticated session after logout")
	}
	if sess.Username() != "" {
		t.Error("expected username cleared after logout")
	}
	if _, found, _ := ring.Load(); found {
		t.Error("expected persisted credentials cleared after logout")
	}
}

func TestSession_RestoredFromKeyring(t *testing.T) {
	ring := testRing(t)
	if err := ring.Save(keyring.Credentials{Token: "tok-old", Username: "operator1"}); err != nil {
		t.Fatalf("seed keyring: %v", err)
	}

	client := api.New("http://127.0.0.1:0", 5*time.Second, zerolog.Nop())
	sess := New(client, ring, zerolog.Nop())

	if !sess.IsAuthenticated() {
		t.Fatal("expected session restored from keyring")
	}
	if sess.Token() != "tok-old" || sess.Username() != "operator1" {
		t.Errorf("restored session: token=%s username=%s", sess.Token(), sess.Username())
	}
}

func TestExpireAuth_ClearsEverywhereOn401(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"access_token": "tok-1"})
	})
	mux.HandleFunc("GET /operator/beacons", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{"msg": "Token has expired"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ring := testRing(t)
	client := api.New(srv.URL, 5*time.Second, zerolog.Nop())
	sess := New(client, ring, zerolog.Nop())
	client.SetTokenSource(sess)
	client.OnAuthExpired(sess.ExpireAuth)

	sess.Login(context.Background(), "op", "pw")
	if !sess.IsAuthenticated() {
		t.Fatal("login should succeed")
	}

	// Any authenticated call hitting 401 drops the session.
	if err := client.Get(context.Background(), "/operator/beacons", nil); err == nil {
		t.Fatal("expected 401 error")
	}
	if sess.IsAuthenticated() {
		t.Error("expected session cleared after 401")
	}
	if _, found, _ := ring.Load(); found {
		t.Error("expected persisted token cleared after 401")
	}
}

func TestChangePassword(t *testing.T) {
	var gotBody map[string]string
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/change_password", func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(map[string]string{"msg": "ok"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	sess, _ := testSession(t, srv.URL)
	if err := sess.ChangePassword(context.Background(), "old-pw", "new-pw"); err != nil {
		t.Fatalf("change password failed: %v", err)
	}
	if gotBody["current_password"] != "old-pw" || gotBody["new_password"] != "new-pw" {
		t.Errorf("request body: got %v", gotBody)
	}
}

package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/arcten/shellgate/internal/auth"
)

func login(t *testing.T, env *testEnv, username, password string) *http.Response {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"username": username, "password": password})
	resp, err := http.Post(env.srv.URL+"/api/v1/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t)

	resp := login(t, env, "alice", "hunter2")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var cookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == auth.SessionCookie {
			cookie = c
		}
	}
	if cookie == nil || cookie.Value == "" {
		t.Fatal("login did not set a session cookie")
	}
	if !cookie.HttpOnly {
		t.Fatal("session cookie not HttpOnly")
	}

	var body struct {
		Username       string `json:"username"`
		OrganizationID uint   `json:"organization_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Username != "alice" || body.OrganizationID == 0 {
		t.Fatalf("body = %+v", body)
	}

	// The minted session works against an authenticated endpoint.
	me := env.get(t, cookie.Value, "/api/v1/auth/me")
	if me.StatusCode != http.StatusOK {
		t.Fatalf("me status = %d", me.StatusCode)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	env := newTestEnv(t)

	cases := []struct{ user, pass string }{
		{"alice", "wrong"},
		{"nobody", "hunter2"},
		{"", ""},
	}
	for _, tc := range cases {
		resp := login(t, env, tc.user, tc.pass)
		if resp.StatusCode == http.StatusOK {
			t.Fatalf("login %q/%q succeeded", tc.user, tc.pass)
		}
		if len(resp.Cookies()) != 0 {
			t.Fatalf("failed login %q set cookies", tc.user)
		}
	}
}

func TestLogoutInvalidatesSession(t *testing.T) {
	env := newTestEnv(t)

	resp := env.request(t, "POST", env.aliceToken, "/api/v1/auth/logout")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logout status = %d", resp.StatusCode)
	}

	me := env.get(t, env.aliceToken, "/api/v1/auth/me")
	if me.StatusCode != http.StatusUnauthorized {
		t.Fatalf("me after logout = %d, want 401", me.StatusCode)
	}
}

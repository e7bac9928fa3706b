package web

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"clawconsole/internal/config"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
)

func authedServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServer(t, func(sc *ServerConfig) {
		sc.Config.Web.Auth = config.WebAuth{
			Enabled:      true,
			Username:     "admin",
			PasswordHash: HashPassword("secret"),
			TokenSecret:  "0123456789abcdef0123",
		}
		sc.Events = NewEventHub(testLogger())
	})
}

func issueToken(t *testing.T, s *testServer) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/auth/token", nil)
	req.SetBasicAuth("admin", "secret")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("token status = %d body=%s", rec.Code, rec.Body)
	}
	body := decode[map[string]string](t, rec)
	if body["tokenType"] != "Bearer" || body["token"] == "" {
		t.Fatalf("token body = %v", body)
	}
	return body["token"]
}

func TestIssueToken_BearerAccess(t *testing.T) {
	s := authedServer(t)
	token := issueToken(t, s)

	req := httptest.NewRequest(http.MethodGet, "/api/shell/config", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("bearer request = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/shell/config", nil)
	req.Header.Set("Authorization", "Bearer "+token+"x")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("tampered token = %d, want 401", rec.Code)
	}
}

func TestIssueToken_RequiresBasicCredentials(t *testing.T) {
	s := authedServer(t)
	token := issueToken(t, s)

	// a token cannot mint another token
	req := httptest.NewRequest(http.MethodPost, "/api/auth/token", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("token refresh with bearer = %d, want 401", rec.Code)
	}
}

func TestIssueToken_AuthDisabled(t *testing.T) {
	s := newTestServer(t, nil)
	if rec := s.do(t, http.MethodPost, "/api/auth/token", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestTokenIssuer_Expired(t *testing.T) {
	ti := newTokenIssuer("0123456789abcdef0123", time.Minute)
	claims := jwt.RegisteredClaims{
		Subject:   "admin",
		Issuer:    tokenIssuerName,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ti.secret)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ti.validate(signed); err == nil {
		t.Error("expected expired token to be rejected")
	}
}

func TestTokenIssuer_WrongSecretAndIssuer(t *testing.T) {
	a := newTokenIssuer("", 0)
	b := newTokenIssuer("", 0)
	token, _, err := a.issue("admin")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.validate(token); err == nil {
		t.Error("token from another process secret should be rejected")
	}
	claims, err := a.validate(token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.Subject != "admin" {
		t.Errorf("subject = %q", claims.Subject)
	}

	foreign, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    "someone-else",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}).SignedString(a.secret)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.validate(foreign); err == nil {
		t.Error("token with foreign issuer should be rejected")
	}
}

func TestEventHub_TokenInQuery(t *testing.T) {
	s := authedServer(t)
	token := issueToken(t, s)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/shell/events?access_token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial with token: %v", err)
	}
	defer conn.Close()
	if ev := readEvent(t, conn); ev.Status != "connected" {
		t.Errorf("first event = %+v", ev)
	}
}

func TestBearerToken_QueryIgnoredOutsideWebSocket(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/shell/config?access_token=abc", nil)
	if got := bearerToken(req); got != "" {
		t.Errorf("bearerToken = %q, want empty", got)
	}
	req.Header.Set("Authorization", "bearer xyz")
	if got := bearerToken(req); got != "xyz" {
		t.Errorf("bearerToken = %q, want xyz", got)
	}
}

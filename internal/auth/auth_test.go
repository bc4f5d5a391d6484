package auth

import (
	"encoding/base64"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dskow/inference-gateway/internal/config"
)

const testSecret = "test-secret-key"

func testAuthConfig() config.AuthConfig {
	return config.AuthConfig{
		Enabled:   true,
		JWTSecret: testSecret,
		Issuer:    "inference-gateway-test",
		Audience:  "inference-api",
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return s
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"sub": "client-1",
		"iss": "inference-gateway-test",
		"aud": "inference-api",
		"exp": time.Now().Add(time.Hour).Unix(),
	}
}

func protectEverything(string) bool { return true }

func serve(t *testing.T, cfg config.AuthConfig, requires func(string) bool, token string) *httptest.ResponseRecorder {
	t.Helper()
	var handled bool
	handler := Middleware(cfg, requires, testLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handled = true
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/generate", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code == http.StatusOK && !handled {
		t.Fatal("200 without handler execution")
	}
	return rec
}

func TestMiddleware_ValidToken(t *testing.T) {
	rec := serve(t, testAuthConfig(), protectEverything, signToken(t, validClaims()))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestMiddleware_MissingToken(t *testing.T) {
	rec := serve(t, testAuthConfig(), protectEverything, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "INFERENCE_AUTH_MISSING_TOKEN") {
		t.Errorf("expected missing-token error code, got %s", rec.Body.String())
	}
}

func TestMiddleware_WrongSecret(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, validClaims())
	s, err := token.SignedString([]byte("other-secret"))
	if err != nil {
		t.Fatal(err)
	}

	rec := serve(t, testAuthConfig(), protectEverything, s)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "INFERENCE_AUTH_INVALID_TOKEN") {
		t.Errorf("expected invalid-token error code, got %s", rec.Body.String())
	}
}

func TestMiddleware_ExpiredToken(t *testing.T) {
	claims := validClaims()
	claims["exp"] = time.Now().Add(-time.Hour).Unix()

	rec := serve(t, testAuthConfig(), protectEverything, signToken(t, claims))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestMiddleware_MissingExpiry(t *testing.T) {
	claims := validClaims()
	delete(claims, "exp")

	rec := serve(t, testAuthConfig(), protectEverything, signToken(t, claims))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for token without exp, got %d", rec.Code)
	}
}

func TestMiddleware_WrongIssuer(t *testing.T) {
	claims := validClaims()
	claims["iss"] = "someone-else"

	rec := serve(t, testAuthConfig(), protectEverything, signToken(t, claims))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestMiddleware_WrongAudience(t *testing.T) {
	claims := validClaims()
	claims["aud"] = "different-api"

	rec := serve(t, testAuthConfig(), protectEverything, signToken(t, claims))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestMiddleware_ScopeEnforcement(t *testing.T) {
	cfg := testAuthConfig()
	cfg.Scopes = []string{"inference:generate"}

	claims := validClaims()
	claims["scope"] = "inference:metrics"
	rec := serve(t, cfg, protectEverything, signToken(t, claims))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for missing scope, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "INFERENCE_AUTH_INSUFFICIENT_SCOPE") {
		t.Errorf("expected scope error code, got %s", rec.Body.String())
	}

	claims["scope"] = "inference:metrics inference:generate"
	rec = serve(t, cfg, protectEverything, signToken(t, claims))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with required scope, got %d", rec.Code)
	}
}

func TestMiddleware_UnprotectedPathBypasses(t *testing.T) {
	requires := func(path string) bool { return path != "/v1/generate" }
	rec := serve(t, testAuthConfig(), requires, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("unprotected path must pass without token, got %d", rec.Code)
	}
}

func TestMiddleware_DisabledBypasses(t *testing.T) {
	cfg := testAuthConfig()
	cfg.Enabled = false
	rec := serve(t, cfg, protectEverything, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("disabled auth must pass without token, got %d", rec.Code)
	}
}

func TestMiddleware_RejectsNonHMACAlgorithm(t *testing.T) {
	// alg=none style tokens must be rejected by WithValidMethods.
	header := `{"alg":"none","typ":"JWT"}`
	payload := `{"sub":"x","iss":"inference-gateway-test","aud":"inference-api"}`
	enc := func(s string) string {
		return base64.RawURLEncoding.EncodeToString([]byte(s))
	}
	token := enc(header) + "." + enc(payload) + "."

	rec := serve(t, testAuthConfig(), protectEverything, token)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for alg=none, got %d", rec.Code)
	}
}

func TestMiddleware_ClaimsInContext(t *testing.T) {
	var got *Claims
	handler := Middleware(testAuthConfig(), protectEverything, testLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = FromContext(r.Context())
	}))

	claims := validClaims()
	claims["scope"] = "inference:generate"
	req := httptest.NewRequest(http.MethodPost, "/v1/generate", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, claims))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if got == nil {
		t.Fatal("expected claims in context")
	}
	if got.Subject != "client-1" || got.Audience != "inference-api" {
		t.Errorf("unexpected claims: %+v", got)
	}
	if len(got.Scopes) != 1 || got.Scopes[0] != "inference:generate" {
		t.Errorf("unexpected scopes: %v", got.Scopes)
	}
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
		wantOK bool
	}{
		{"valid", "Bearer abc.def.ghi", "abc.def.ghi", true},
		{"case insensitive scheme", "bearer tok", "tok", true},
		{"empty header", "", "", false},
		{"no scheme", "abc.def.ghi", "", false},
		{"wrong scheme", "Basic dXNlcjpwYXNz", "", false},
		{"empty token", "Bearer ", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			got, ok := extractBearerToken(req)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("extractBearerToken(%q) = (%q, %v), want (%q, %v)", tt.header, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

//go:build integration

package integration

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dskow/inference-gateway/internal/admin"
	"github.com/dskow/inference-gateway/internal/auth"
	"github.com/dskow/inference-gateway/internal/cache"
	"github.com/dskow/inference-gateway/internal/circuitbreaker"
	"github.com/dskow/inference-gateway/internal/config"
	"github.com/dskow/inference-gateway/internal/generate"
	"github.com/dskow/inference-gateway/internal/health"
	"github.com/dskow/inference-gateway/internal/metrics"
	"github.com/dskow/inference-gateway/internal/middleware"
	"github.com/dskow/inference-gateway/internal/provider"
	"github.com/dskow/inference-gateway/internal/ratelimit"
	"github.com/dskow/inference-gateway/internal/upstream"
)

const (
	jwtSecret = "integration-test-secret-key-32!!"
	jwtIssuer = "https://auth.example.com"
	jwtAud    = "inference-gateway"
)

// modelBehavior switches the fake model between response modes at runtime.
//
//	"ok"   - respond quickly with a completion
//	"fail" - respond 500
//	"slow" - respond successfully but slower than the latency budget
type modelBehavior struct {
	mode atomic.Value
}

func (m *modelBehavior) set(mode string) { m.mode.Store(mode) }
func (m *modelBehavior) get() string {
	if v, ok := m.mode.Load().(string); ok {
		return v
	}
	return "ok"
}

// startModel runs a controllable fake model server.
func startModel(t *testing.T) (*httptest.Server, *modelBehavior) {
	t.Helper()
	behavior := &modelBehavior{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Prompt string `json:"prompt"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		switch behavior.get() {
		case "fail":
			http.Error(w, "model exploded", http.StatusInternalServerError)
			return
		case "slow":
			time.Sleep(150 * time.Millisecond)
		}
		json.NewEncoder(w).Encode(map[string]string{"text": "completion for: " + req.Prompt})
	}))
	t.Cleanup(srv.Close)
	return srv, behavior
}

// gatewayOptions tweak the assembled stack per test.
type gatewayOptions struct {
	authEnabled   bool
	rateLimit     *config.RateLimitConfig
	latencyBudget time.Duration
	breakerMin    int
}

// startGateway assembles the full pipeline the way the server entry point
// does, backed by the given model URL, and serves it over httptest.
func startGateway(t *testing.T, modelURL string, opts gatewayOptions) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	budget := opts.latencyBudget
	if budget == 0 {
		budget = 2500 * time.Millisecond
	}
	breakerMin := opts.breakerMin
	if breakerMin == 0 {
		breakerMin = 6
	}

	breaker := circuitbreaker.New(circuitbreaker.Config{
		Window:           30 * time.Second,
		FailureThreshold: 0.5,
		MinCalls:         breakerMin,
		HalfOpenAfter:    15 * time.Second,
	}, logger)

	caller := upstream.New(provider.NewHTTP(modelURL, nil), breaker, upstream.Config{
		CallTimeout:      2 * time.Second,
		MaxRetryAttempts: 2,
		BackoffBase:      5 * time.Millisecond,
	}, logger)

	responseCache := cache.New(cache.Config{TTL: 60 * time.Second, MaxEntries: 512})
	recorder := metrics.NewRecorder(0)
	orch := generate.New(caller, responseCache, recorder, budget, logger)
	apiHandler := generate.NewHandler(orch, recorder, 4000, logger)

	apiMux := http.NewServeMux()
	apiHandler.RegisterRoutes(apiMux)

	var handler http.Handler = apiMux
	if opts.authEnabled {
		authCfg := config.AuthConfig{
			Enabled:   true,
			JWTSecret: jwtSecret,
			Issuer:    jwtIssuer,
			Audience:  jwtAud,
		}
		handler = auth.Middleware(authCfg, func(path string) bool { return path == "/v1/generate" }, logger)(handler)
	}
	if opts.rateLimit != nil {
		limiter := ratelimit.New(*opts.rateLimit, nil, logger)
		t.Cleanup(limiter.Stop)
		handler = limiter.Middleware()(handler)
	}
	handler = middleware.BodyLimit(1 << 20)(handler)
	handler = middleware.Logging(logger)(handler)
	handler = middleware.RequestID(handler)
	handler = middleware.Recovery(logger)(handler)

	sideMux := http.NewServeMux()
	healthHandler := health.New(breaker)
	healthHandler.RegisterRoutes(sideMux)
	healthHandler.SetReady(true)

	adminHandler := admin.New(staticConfig{}, breaker, responseCache, []string{"127.0.0.1/32"}, logger)
	adminHandler.RegisterRoutes(sideMux)

	apiOrSide := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/health" || r.URL.Path == "/ready":
			sideMux.ServeHTTP(w, r)
		case len(r.URL.Path) > 7 && r.URL.Path[:7] == "/admin/":
			sideMux.ServeHTTP(w, r)
		default:
			handler.ServeHTTP(w, r)
		}
	})

	srv := httptest.NewServer(apiOrSide)
	t.Cleanup(srv.Close)
	return srv
}

type staticConfig struct{}

func (staticConfig) Current() *config.Config {
	cfg, _ := config.LoadFromBytes([]byte(`{}`))
	return cfg
}

func signTestToken(t *testing.T, scope string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   "it-client",
		"iss":   jwtIssuer,
		"aud":   jwtAud,
		"exp":   time.Now().Add(time.Hour).Unix(),
		"scope": scope,
	})
	s, err := token.SignedString([]byte(jwtSecret))
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return s
}

type generateResponse struct {
	Text string `json:"text"`
	Meta struct {
		Source       string `json:"source"`
		Attempts     int    `json:"attempts"`
		ElapsedMS    *int64 `json:"elapsed_ms"`
		BreakerState string `json:"breaker_state"`
		PrimaryError string `json:"primary_error"`
	} `json:"meta"`
}

func postGenerate(t *testing.T, baseURL, prompt string, headers map[string]string) (int, generateResponse) {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"prompt": prompt})
	req, err := http.NewRequest(http.MethodPost, baseURL+"/v1/generate", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	var out generateResponse
	if resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatalf("decoding response: %v", err)
		}
	}
	return resp.StatusCode, out
}

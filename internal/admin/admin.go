// Package admin provides admin API endpoints for runtime inspection and
// control of gateway state. All endpoints are protected by IP allowlist.
package admin

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"

	"github.com/dskow/inference-gateway/internal/cache"
	"github.com/dskow/inference-gateway/internal/circuitbreaker"
	"github.com/dskow/inference-gateway/internal/config"
)

// Handler provides admin API endpoints.
type Handler struct {
	reloader    ConfigProvider
	breaker     *circuitbreaker.Breaker
	cache       *cache.Cache
	allowedNets []*net.IPNet
	logger      *slog.Logger
}

// ConfigProvider abstracts config access for testability.
type ConfigProvider interface {
	Current() *config.Config
}

// New creates a new admin Handler. The allowlist CIDRs must be pre-validated
// (config validation ensures this).
func New(
	reloader ConfigProvider,
	breaker *circuitbreaker.Breaker,
	c *cache.Cache,
	allowlist []string,
	logger *slog.Logger,
) *Handler {
	nets := make([]*net.IPNet, 0, len(allowlist))
	for _, cidr := range allowlist {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			continue // already validated by config
		}
		nets = append(nets, ipNet)
	}
	return &Handler{
		reloader:    reloader,
		breaker:     breaker,
		cache:       c,
		allowedNets: nets,
		logger:      logger,
	}
}

// RegisterRoutes adds admin routes to the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/admin/config", h.guard(http.MethodGet, h.configHandler))
	mux.HandleFunc("/admin/breaker", h.guard(http.MethodGet, h.breakerHandler))
	mux.HandleFunc("/admin/breaker/reset", h.guard(http.MethodPost, h.breakerResetHandler))
	mux.HandleFunc("/admin/cache/flush", h.guard(http.MethodPost, h.cacheFlushHandler))
}

// guard wraps a handler with method and IP allowlist checking.
func (h *Handler) guard(method string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			writeJSON(w, http.StatusMethodNotAllowed, map[string]string{
				"error": "Method Not Allowed",
			})
			return
		}

		ip := extractIP(r.RemoteAddr)
		if !h.isAllowed(ip) {
			h.logger.Warn("admin access denied", "client_ip", ip, "path", r.URL.Path)
			writeJSON(w, http.StatusForbidden, map[string]string{
				"error": "Forbidden",
			})
			return
		}
		next(w, r)
	}
}

func (h *Handler) isAllowed(ipStr string) bool {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, n := range h.allowedNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func extractIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

func (h *Handler) configHandler(w http.ResponseWriter, r *http.Request) {
	cfg := h.reloader.Current()

	// Shallow copy and redact sensitive fields.
	redacted := *cfg
	if redacted.Auth.JWTSecret != "" {
		redacted.Auth.JWTSecret = "***"
	}

	writeJSON(w, http.StatusOK, redacted)
}

func (h *Handler) breakerHandler(w http.ResponseWriter, r *http.Request) {
	total, failures := h.breaker.Stats()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"state":           h.breaker.State().String(),
		"window_total":    total,
		"window_failures": failures,
	})
}

func (h *Handler) breakerResetHandler(w http.ResponseWriter, r *http.Request) {
	h.breaker.Reset()
	h.logger.Info("circuit breaker reset via admin API", "client_ip", extractIP(r.RemoteAddr))
	writeJSON(w, http.StatusOK, map[string]string{
		"state": h.breaker.State().String(),
	})
}

func (h *Handler) cacheFlushHandler(w http.ResponseWriter, r *http.Request) {
	before := h.cache.Len()
	h.cache.Flush()
	h.logger.Info("response cache flushed via admin API",
		"entries_dropped", before,
		"client_ip", extractIP(r.RemoteAddr),
	)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries_dropped": before,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

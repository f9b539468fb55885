package main

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server wires the API handlers to one mux.
type Server struct {
	cm        *ConfigManager
	logger    *slog.Logger
	model     *Model
	authAPI   *AuthAPI
	markovAPI *MarkovAPI
	serverAPI *ServerAPI
	mux       *http.ServeMux
}

func NewServer(cm *ConfigManager, logger *slog.Logger, model *Model, authAPI *AuthAPI, actionChan chan string) (*Server, error) {
	if model == nil || authAPI == nil {
		return nil, fmt.Errorf("server requires a model and an auth api")
	}

	server := &Server{
		cm:        cm,
		logger:    logger,
		model:     model,
		authAPI:   authAPI,
		markovAPI: NewMarkovAPI(model, logger),
		serverAPI: NewServerAPI(cm, actionChan, logger),
		mux:       http.NewServeMux(),
	}

	apiMux := http.NewServeMux()
	server.authAPI.RegisterRoutes(apiMux)
	server.markovAPI.RegisterRoutes(apiMux)
	server.serverAPI.RegisterRoutes(apiMux)

	// Make sure api functions must pass through authentication first
	authedAPI := server.authAPI.Authenticate(apiMux)
	// ... except for the health check and metrics, so something like docker or prometheus can use them
	server.mux.HandleFunc("/api/health", server.serverAPI.handleHealthCheck)
	server.mux.Handle("/metrics", promhttp.Handler())
	server.mux.Handle("/api/", server.logRequests(authedAPI))

	return server, nil
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// logRequests logs every API request at debug level.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("API request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"remote_addr", s.getClientIP(r),
			"duration", time.Since(start),
		)
	})
}

// getClientIP returns the address of the client. Forwarding headers are only
// honored when the direct peer is a trusted proxy.
func (s *Server) getClientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// If splitting fails (e.g., no port), use the address as is.
		ip = r.RemoteAddr
	}
	if !s.cm.IsTrusted(ip) {
		return ip
	}

	// The X-Real-Ip header contains the forwarded IP in some cases (like from nginx)
	if realIP := r.Header.Get("X-Real-Ip"); realIP != "" {
		return realIP
	}

	// The first IP in X-Forwarded-For is the original client.
	if forwardedFor := r.Header.Get("X-Forwarded-For"); forwardedFor != "" {
		first, _, _ := strings.Cut(forwardedFor, ",")
		return strings.TrimSpace(first)
	}
	return ip
}

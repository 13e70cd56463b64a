// Package httpapi serves the daemon's HTTP endpoints: Prometheus
// metrics, a health check and read-only delegation lookups.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/blockberries/valgov"
	"github.com/blockberries/valgov/app"
	"github.com/blockberries/valgov/types"
)

// RequestIDHeader carries the id assigned to each request.
const RequestIDHeader = "X-Request-Id"

// DelegationReader looks up committed delegation records.
type DelegationReader interface {
	Delegation(validator types.Pubkey) (app.DelegationView, bool, error)
}

// HaltReporter reports whether the application asked to halt.
type HaltReporter interface {
	Halted() *valgov.HaltError
}

type requestIDKey struct{}

// RequestID returns the id the middleware attached to ctx.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// Server holds the HTTP handlers.
type Server struct {
	Router *mux.Router

	delegations DelegationReader
	health      HaltReporter
	logger      *slog.Logger
}

// New builds the router. gatherer may be nil to omit /metrics.
func New(delegations DelegationReader, health HaltReporter, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		Router:      mux.NewRouter(),
		delegations: delegations,
		health:      health,
		logger:      logger.With("component", "http"),
	}
	s.Router.Use(s.requestID)
	s.Router.HandleFunc("/healthz", s.HealthHandler).Methods(http.MethodGet)
	s.Router.HandleFunc("/delegations/{validator}", s.DelegationHandler).Methods(http.MethodGet)
	if gatherer != nil {
		s.Router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	return s
}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set(RequestIDHeader, id)
		s.logger.Debug("request", "method", r.Method, "path", r.URL.Path, "request_id", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to write response", "request_id", RequestID(r.Context()), "error", err)
	}
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"requestId"`
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	s.writeJSON(w, r, status, errorResponse{Error: msg, RequestID: RequestID(r.Context())})
}

// HealthHandler answers 503 once the application has halted.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if h := s.health.Halted(); h != nil {
			s.writeError(w, r, http.StatusServiceUnavailable, h.Error())
			return
		}
	}
	s.writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

// DelegationHandler returns the record of the base58 validator key.
func (s *Server) DelegationHandler(w http.ResponseWriter, r *http.Request) {
	validator, err := types.ParsePubkey(mux.Vars(r)["validator"])
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	view, ok, err := s.delegations.Delegation(validator)
	if err != nil {
		s.logger.Error("delegation lookup failed", "validator", validator.String(), "request_id", RequestID(r.Context()), "error", err)
		s.writeError(w, r, http.StatusInternalServerError, "lookup failed")
		return
	}
	if !ok {
		s.writeError(w, r, http.StatusNotFound, "no delegation for "+validator.String())
		return
	}
	s.writeJSON(w, r, http.StatusOK, view)
}

package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/ILLUVRSE/dispatch/internal/auth"
	"github.com/ILLUVRSE/dispatch/internal/config"
	"github.com/ILLUVRSE/dispatch/internal/models"
	"github.com/ILLUVRSE/dispatch/internal/service"
	"github.com/ILLUVRSE/dispatch/internal/store"
)

const (
	codeBadRequest   = "DISPATCH_BAD_REQUEST"
	codeNotFound     = "DISPATCH_NOT_FOUND"
	codeConflict     = "DISPATCH_CONFLICT"
	codeUnauthorized = "DISPATCH_UNAUTHORIZED"
	codeInternal     = "DISPATCH_INTERNAL"

	maxBodyBytes = 1 << 20
)

type Server struct {
	cfg      config.Config
	svc      *service.Service
	verifier *auth.Verifier
	logger   *zap.Logger
}

func New(cfg config.Config, svc *service.Service, verifier *auth.Verifier, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:      cfg,
		svc:      svc,
		verifier: verifier,
		logger:   logger.Named("http"),
	}
}

func (s *Server) Router() http.Handler {
	timeout := s.cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(timeout))

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/state", s.handleState)
		r.Get("/emergencies/{id}", s.handleGetEmergency)

		r.Group(func(r chi.Router) {
			r.Use(s.writeAuthMiddleware)
			r.Post("/emergencies", s.handleReportEmergency)
			r.Post("/emergencies/{id}/dispatch", s.handleDispatch)
			r.Post("/emergencies/{id}/resolve", s.handleResolve)
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	status := map[string]interface{}{
		"ok":   true,
		"time": time.Now().UTC().Format(time.RFC3339Nano),
	}
	if err := s.svc.Ping(ctx); err != nil {
		status["ok"] = false
		status["db"] = "down"
		status["error"] = err.Error()
		respondJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	status["db"] = "up"
	respondJSON(w, http.StatusOK, status)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	state, err := s.svc.State(r.Context())
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, state)
}

func (s *Server) handleGetEmergency(w http.ResponseWriter, r *http.Request) {
	id, ok := emergencyID(w, r)
	if !ok {
		return
	}
	em, err := s.svc.GetEmergency(r.Context(), id)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, em)
}

type reportRequest struct {
	Type        string    `json:"type"`
	Description string    `json:"description"`
	ZoneID      models.ID `json:"zoneId"`
	Latitude    *float64  `json:"latitude"`
	Longitude   *float64  `json:"longitude"`
}

func (s *Server) handleReportEmergency(w http.ResponseWriter, r *http.Request) {
	var req reportRequest
	if err := decodeJSON(w, r, &req, maxBodyBytes); err != nil {
		respondError(w, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}
	out, err := s.svc.ReportEmergency(r.Context(), service.ReportInput{
		Type:        req.Type,
		Description: req.Description,
		ZoneID:      req.ZoneID,
		Latitude:    req.Latitude,
		Longitude:   req.Longitude,
	})
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, out)
}

func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	id, ok := emergencyID(w, r)
	if !ok {
		return
	}
	out, err := s.svc.Dispatch(r.Context(), id)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	id, ok := emergencyID(w, r)
	if !ok {
		return
	}
	em, err := s.svc.ResolveEmergency(r.Context(), id)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, em)
}

func emergencyID(w http.ResponseWriter, r *http.Request) (models.ID, bool) {
	id, err := models.ParseID(chi.URLParam(r, "id"))
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, codeBadRequest, "invalid emergency id")
		return 0, false
	}
	return id, true
}

func (s *Server) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		respondError(w, http.StatusBadRequest, codeBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		respondError(w, http.StatusNotFound, codeNotFound, "emergency not found")
	case errors.Is(err, service.ErrNotActive):
		respondError(w, http.StatusConflict, codeConflict, err.Error())
	default:
		s.logger.Error("request failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, codeInternal, "internal error")
	}
}

func (s *Server) writeAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.verifier == nil {
			respondError(w, http.StatusUnauthorized, codeUnauthorized, "write access is not configured")
			return
		}
		if err := s.verifier.VerifyRequest(r); err != nil {
			respondError(w, http.StatusUnauthorized, codeUnauthorized, err.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}, limit int64) error {
	if limit <= 0 {
		limit = maxBodyBytes
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, code, msg string) {
	respondJSON(w, status, map[string]string{
		"error": msg,
		"code":  code,
	})
}

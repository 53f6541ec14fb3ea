package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"TranchePool/internal/observability"
	"TranchePool/internal/pool"
	"TranchePool/internal/position"
	"TranchePool/internal/query"
)

// HTTPServer serves the read-only query API plus health and metrics
// endpoints as HTTP/JSON.
type HTTPServer struct {
	addr   string
	svc    *query.Service
	health *observability.HealthChecker
	log    zerolog.Logger
	srv    *http.Server
}

func NewHTTPServer(addr string, svc *query.Service, health *observability.HealthChecker, log zerolog.Logger) *HTTPServer {
	return &HTTPServer{
		addr:   addr,
		svc:    svc,
		health: health,
		log:    log,
	}
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *HTTPServer) Start(ctx context.Context) error {
	s.srv = &http.Server{
		Addr:              s.addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.log.Info().Msg("http server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.srv.Shutdown(shutdownCtx)
	}()

	s.log.Info().Str("addr", s.addr).Msg("http server listening")
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *HTTPServer) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	if s.health != nil {
		r.Get("/healthz", s.health.LivenessHandler)
		r.Get("/readyz", s.health.ReadinessHandler)
	}
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/assets", s.handleAssets)
		r.Get("/assets/{symbol}", s.handleAsset)
		r.Get("/tranches", s.handleTranches)
		r.Get("/pool/value", s.handlePoolValue)
		r.Get("/positions", s.handlePositions)
		r.Get("/positions/{owner}/{index}/{collateral}/{side}", s.handlePosition)
		r.Get("/orders", s.handleOrders)
	})

	return r
}

func (s *HTTPServer) handleAssets(w http.ResponseWriter, r *http.Request) {
	views, err := s.svc.Assets()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, views)
}

func (s *HTTPServer) handleAsset(w http.ResponseWriter, r *http.Request) {
	view, err := s.svc.Asset(chi.URLParam(r, "symbol"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

func (s *HTTPServer) handleTranches(w http.ResponseWriter, r *http.Request) {
	views, err := s.svc.Tranches()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, views)
}

func (s *HTTPServer) handlePoolValue(w http.ResponseWriter, r *http.Request) {
	resp, err := s.svc.PoolValue()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handlePositions(w http.ResponseWriter, r *http.Request) {
	var owner *uuid.UUID
	if raw := r.URL.Query().Get("owner"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			s.writeJSON(w, http.StatusBadRequest, errorBody("invalid owner: "+err.Error()))
			return
		}
		owner = &id
	}
	views, err := s.svc.Positions(owner)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, views)
}

func (s *HTTPServer) handlePosition(w http.ResponseWriter, r *http.Request) {
	owner, err := uuid.Parse(chi.URLParam(r, "owner"))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody("invalid owner: "+err.Error()))
		return
	}
	side, err := parseSide(chi.URLParam(r, "side"))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	key := position.Key{
		Owner:           owner,
		IndexToken:      chi.URLParam(r, "index"),
		CollateralToken: chi.URLParam(r, "collateral"),
		Side:            side,
	}
	view, err := s.svc.Position(key)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

func (s *HTTPServer) handleOrders(w http.ResponseWriter, r *http.Request) {
	views, err := s.svc.Orders()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, views)
}

func parseSide(raw string) (position.Side, error) {
	switch raw {
	case "long":
		return position.SideLong, nil
	case "short":
		return position.SideShort, nil
	default:
		return 0, errors.New("side must be long or short")
	}
}

func (s *HTTPServer) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("write response")
	}
}

func (s *HTTPServer) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, pool.ErrUnknownToken),
		errors.Is(err, pool.ErrPositionNotExists),
		errors.Is(err, pool.ErrOrderNotFound):
		status = http.StatusNotFound
	}
	s.writeJSON(w, status, errorBody(err.Error()))
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

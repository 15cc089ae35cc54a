// Package api provides the HTTP status surface of the control engine:
// health, processor task state, lead-lag group state, and the equipment
// roster. Control itself never flows through this API; commands reach the
// field through the time-series store.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/atlasbms/atlas/internal/control/leadlag"
	"github.com/atlasbms/atlas/internal/domain"
	"github.com/atlasbms/atlas/internal/engine"
	"github.com/atlasbms/atlas/internal/health"
	"github.com/atlasbms/atlas/internal/infra/locations"
	"github.com/atlasbms/atlas/internal/infra/sqlite"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

// TaskSource exposes per-location processor task state.
type TaskSource interface {
	AllTaskStatuses() map[string][]engine.TaskStatus
}

// Server is the status API server.
type Server struct {
	db             *sqlite.DB
	registry       *locations.Registry
	coord          *leadlag.Coordinator
	tasks          TaskSource
	checker        *health.Checker
	logger         *zap.Logger
	metricsEnabled bool
}

// NewServer creates a status API server.
func NewServer(db *sqlite.DB, registry *locations.Registry, coord *leadlag.Coordinator,
	tasks TaskSource, checker *health.Checker, logger *zap.Logger) *Server {
	return &Server{
		db:       db,
		registry: registry,
		coord:    coord,
		tasks:    tasks,
		checker:  checker,
		logger:   logger.Named("api"),
	}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/version", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"version": Version})
		})
		r.Get("/locations", s.handleLocations)
		r.Get("/processors", s.handleProcessors)
		r.Get("/leadlag", s.handleLeadLag)
		r.Get("/leadlag/{group}/events", s.handleLeadLagEvents)
		r.Get("/equipment", s.handleEquipment)
		r.Get("/equipment/{id}", s.handleEquipmentByID)
	})

	// Prometheus metrics endpoint
	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	statuses := s.checker.Statuses()
	code := http.StatusOK
	if !s.checker.IsHealthy() {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"healthy": s.checker.IsHealthy(),
		"checks":  statuses,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "atlas is running",
		"locations": len(s.registry.All()),
	})
}

func (s *Server) handleLocations(w http.ResponseWriter, r *http.Request) {
	type loc struct {
		ID        string `json:"id"`
		Name      string `json:"name"`
		Equipment int    `json:"equipment"`
	}
	out := make([]loc, 0)
	for _, l := range s.registry.All() {
		out = append(out, loc{ID: l.ID, Name: l.Name, Equipment: len(l.Equipment)})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleProcessors(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.tasks.AllTaskStatuses())
}

func (s *Server) handleLeadLag(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.coord.Groups())
}

func (s *Server) handleLeadLagEvents(w http.ResponseWriter, r *http.Request) {
	group := chi.URLParam(r, "group")
	events, err := s.db.RecentLeadLagEvents(group, 50)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleEquipment(w http.ResponseWriter, r *http.Request) {
	locationID := r.URL.Query().Get("location")
	if locationID == "" {
		all := s.registry.AllEquipment()
		writeJSON(w, http.StatusOK, all)
		return
	}
	list, err := s.db.ListEquipment(locationID, "")
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// handleEquipmentByID resolves one equipment id, accepting historical
// alias spellings. Alias resolution is surfaced so callers can migrate.
func (s *Server) handleEquipmentByID(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	e, viaAlias, err := s.db.GetEquipment(id)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownEquipment) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if viaAlias {
		s.logger.Warn("equipment resolved through a legacy alias",
			zap.String("alias", id), zap.String("canonical", e.ID))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"equipment":          e,
		"resolved_via_alias": viaAlias,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

package uiapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/awaistahir/smart-heat/internal/engine"
	"github.com/awaistahir/smart-heat/internal/player"
	"github.com/awaistahir/smart-heat/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const version = "1.0.0"

// Planner runs optimizations, implemented by *planner.Planner
type Planner interface {
	Device() string
	Prices(ctx context.Context, start, end time.Time) ([]engine.PricePoint, error)
	Run(ctx context.Context, start, end time.Time) (*store.Run, error)
	Peak(ctx context.Context, start, end time.Time, heatingHours float64) (*store.Run, error)
}

// RunStore reads stored runs, implemented by *store.Store
type RunStore interface {
	GetRun(id string) (*store.Run, error)
	LatestRun(device string) (*store.Run, error)
	ListRuns(device string, limit int) ([]*store.Run, error)
	Ping() error
}

type Server struct {
	store    RunStore
	planner  Planner
	location *time.Location
	now      func() time.Time
}

// NewServer creates the API server. Dates in queries are read in loc.
func NewServer(runs RunStore, planner Planner, loc *time.Location) *Server {
	if loc == nil {
		loc = time.Local
	}
	return &Server{
		store:    runs,
		planner:  planner,
		location: loc,
		now:      time.Now,
	}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS for local development
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Handle("/metrics", promhttp.Handler())

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/prices", s.handleGetPrices)
		r.Post("/optimize", s.handleOptimize)
		r.Get("/schedules", s.handleListSchedules)
		r.Get("/schedules/latest", s.handleLatestSchedule)
		r.Get("/schedules/{id}", s.handleGetSchedule)
		r.Get("/schedules/{id}/clone", s.handleCloneSchedule)
	})

	return r
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status":  "ok",
		"version": version,
		"device":  s.planner.Device(),
	}
	if err := s.store.Ping(); err != nil {
		status["status"] = "degraded"
		status["store_error"] = err.Error()
	}

	// Current control as the player would apply it
	status["control"] = engine.ControlOn
	if runs, err := s.store.ListRuns(s.planner.Device(), player.RecentRuns); err == nil && len(runs) > 0 {
		status["latest_run"] = runs[0].ID
		if c, ok := player.ControlFor(runs, s.now()); ok {
			status["control"] = c
		}
	}

	respondJSON(w, http.StatusOK, status)
}

// dayStart parses date as YYYY-MM-DD in the server location, today when empty
func (s *Server) dayStart(date string) (time.Time, error) {
	if date == "" {
		now := s.now().In(s.location)
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.location), nil
	}
	return time.ParseInLocation("2006-01-02", date, s.location)
}

func (s *Server) handleGetPrices(w http.ResponseWriter, r *http.Request) {
	start, err := s.dayStart(r.URL.Query().Get("date"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	points, err := s.planner.Prices(r.Context(), start, start.AddDate(0, 0, 1))
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}

	respondJSON(w, http.StatusOK, points)
}

// OptimizeRequest selects the window and kind of an optimization.
// Missing bounds default to the next full day.
type OptimizeRequest struct {
	Start        *time.Time `json:"start"`
	End          *time.Time `json:"end"`
	Kind         string     `json:"kind"` // heating (default) or peak
	HeatingHours float64    `json:"heating_hours"`
}

func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	var req OptimizeRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	today, _ := s.dayStart("")
	start := today.AddDate(0, 0, 1)
	if req.Start != nil {
		start = *req.Start
	}
	end := start.AddDate(0, 0, 1)
	if req.End != nil {
		end = *req.End
	}
	if !end.After(start) {
		respondError(w, http.StatusBadRequest, "end must be after start")
		return
	}

	var run *store.Run
	var err error
	switch req.Kind {
	case "", "heating":
		run, err = s.planner.Run(r.Context(), start, end)
	case "peak":
		run, err = s.planner.Peak(r.Context(), start, end, req.HeatingHours)
	default:
		respondError(w, http.StatusBadRequest, "kind must be heating or peak")
		return
	}
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}

	respondJSON(w, http.StatusCreated, run)
}

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "limit must be a positive number")
			return
		}
		limit = n
	}

	runs, err := s.store.ListRuns(s.planner.Device(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, runs)
}

func (s *Server) handleLatestSchedule(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.LatestRun(s.planner.Device())
	if err != nil {
		respondError(w, statusFor(err), "no schedule stored")
		return
	}

	respondJSON(w, http.StatusOK, run)
}

func (s *Server) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, statusFor(err), "schedule not found")
		return
	}

	respondJSON(w, http.StatusOK, run)
}

func (s *Server) handleCloneSchedule(w http.ResponseWriter, r *http.Request) {
	days := 1
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "days must be a number")
			return
		}
		days = n
	}

	run, err := s.store.GetRun(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, statusFor(err), "schedule not found")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"source":   run.ID,
		"days":     days,
		"schedule": engine.CloneSchedule(run.Schedule, days),
	})
}

// statusFor maps domain errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrInvalidInput),
		errors.Is(err, engine.ErrInsufficientData),
		errors.Is(err, engine.ErrInsufficientForecast),
		errors.Is(err, engine.ErrUnsupportedResolution),
		errors.Is(err, engine.ErrDurationExceedsWindow):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

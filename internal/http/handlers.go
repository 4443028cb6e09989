package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/journey-matching/internal/app"
	"github.com/example/journey-matching/internal/matcher"
	"github.com/example/journey-matching/internal/models"
)

// Runner runs one matching pass for a journey.
type Runner interface {
	Run(ctx context.Context, journeyID int64) (matcher.Result, error)
}

type Server struct {
	App      *app.App
	Matcher  Runner
	logger   *slog.Logger
	validate *validator.Validate
	mux      *mux.Router
}

func NewServer(a *app.App, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	v := validator.New()
	_ = v.RegisterValidation("radius_choice", validRadius)
	s := &Server{App: a, Matcher: a.Engine, logger: logger, validate: v, mux: mux.NewRouter()}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/v1/matches/find", s.handleFindMatches).Methods("POST")
	s.mux.HandleFunc("/api/v1/journeys/{id:[0-9]+}/matches", s.handleJourneyMatches).Methods("POST")
	s.mux.HandleFunc("/internal/journeys", s.handleIndexJourney).Methods("POST")
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/events", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

type findMatchesRequest struct {
	JourneyID int64 `json:"journeyId" validate:"required,gt=0"`
}

type findMatchesResponse struct {
	Success      bool   `json:"success"`
	MatchesFound int    `json:"matchesFound"`
	Error        string `json:"error,omitempty"`
}

func (s *Server) handleFindMatches(w http.ResponseWriter, r *http.Request) {
	var req findMatchesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, findMatchesResponse{Error: "invalid request body"})
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, findMatchesResponse{Error: "validation failed: " + err.Error()})
		return
	}
	s.runMatching(w, r, req.JourneyID)
}

func (s *Server) handleJourneyMatches(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, findMatchesResponse{Error: "invalid journey id"})
		return
	}
	s.runMatching(w, r, id)
}

func (s *Server) runMatching(w http.ResponseWriter, r *http.Request, journeyID int64) {
	res, err := s.Matcher.Run(r.Context(), journeyID)
	switch {
	case errors.Is(err, matcher.ErrJourneyNotFound):
		writeJSON(w, http.StatusNotFound, findMatchesResponse{Error: "journey not found"})
	case err != nil:
		s.logger.Error("matching run failed", "journey_id", journeyID, "error", err, "request_id", requestIDFromContext(r.Context()))
		writeJSON(w, http.StatusInternalServerError, findMatchesResponse{Error: "matching failed"})
	default:
		recordRun(r.Context(), journeyID, res.MatchesFound)
		writeJSON(w, http.StatusOK, findMatchesResponse{Success: true, MatchesFound: res.MatchesFound})
	}
}

type indexJourneyRequest struct {
	ID          int64        `json:"id" validate:"gte=0"`
	OwnerID     string       `json:"owner_id" validate:"required"`
	OrgID       string       `json:"org_id"`
	Origin      models.Coord `json:"origin"`
	Destination models.Coord `json:"destination"`
	RadiusKm    float64      `json:"radius_km" validate:"omitempty,radius_choice"`
}

func (s *Server) handleIndexJourney(w http.ResponseWriter, r *http.Request) {
	var req indexJourneyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	j := models.Journey{
		ID:          req.ID,
		OwnerID:     req.OwnerID,
		OrgID:       req.OrgID,
		Origin:      req.Origin,
		Destination: req.Destination,
		RadiusKm:    req.RadiusKm,
		Status:      models.JourneyActive,
	}
	if err := s.App.IndexJourney(r.Context(), &j); err != nil {
		s.logger.Error("index journey failed", "error", err)
		http.Error(w, "index failed", 500)
		return
	}
	writeJSON(w, http.StatusCreated, j)
}

// validRadius accepts only the detour radii offered at submission.
func validRadius(fl validator.FieldLevel) bool {
	r := fl.Field().Float()
	for _, c := range models.RadiusChoicesKm {
		if r == c {
			return true
		}
	}
	return false
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered the client
		s.logger.Warn("ws upgrade failed", "error", err, "request_id", requestIDFromContext(r.Context()))
		return
	}
	id := newID()
	s.App.Hub.Add(id, conn)
	// drain reads so close frames are processed; the feed is write-only
	go func() {
		defer s.App.Hub.Remove(id)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newID() string { return uuid.New().String() }

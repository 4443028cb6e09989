// Package matcher pairs a submitted journey with compatible journeys running
// the same way or in reverse, scores each pair and records new matches.
package matcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/journey-matching/internal/distance"
	"github.com/example/journey-matching/internal/geo"
	"github.com/example/journey-matching/internal/models"
	"github.com/example/journey-matching/internal/observability"
	"github.com/example/journey-matching/internal/settings"
	"github.com/example/journey-matching/internal/storage"
)

var ErrJourneyNotFound = errors.New("journey not found")

// JourneyLoader loads the requesting journey.
type JourneyLoader interface {
	GetJourney(ctx context.Context, id int64) (models.Journey, error)
}

// RouterFactory builds the router for a run from that run's routing token.
type RouterFactory interface {
	Router(token string) distance.Router
}

// Notifier pokes the downstream notification processor.
type Notifier interface {
	Trigger(ctx context.Context) error
}

type Engine struct {
	Journeys  JourneyLoader
	Retriever geo.Retriever
	Matches   storage.MatchStore
	Events    storage.EventStore
	Sinks     []EventSink
	Settings  settings.Source
	Routing   RouterFactory
	Notifier  Notifier
	Logger    *slog.Logger

	// NotifyTimeout bounds the background notification trigger.
	NotifyTimeout time.Duration
}

type Result struct {
	MatchesFound int `json:"matchesFound"`
}

// Run matches one journey against the current candidate pool. Per-candidate
// failures never abort the run; only a missing journey or a failure outside
// the candidate loop does, and matches committed before that stay.
func (e *Engine) Run(ctx context.Context, journeyID int64) (Result, error) {
	start := time.Now()
	res, err := e.run(ctx, journeyID)
	observability.MatchLatency.Observe(time.Since(start).Seconds())
	switch {
	case err == nil:
		observability.MatchRuns.WithLabelValues("ok").Inc()
	case errors.Is(err, ErrJourneyNotFound):
		observability.MatchRuns.WithLabelValues("not_found").Inc()
	default:
		observability.MatchRuns.WithLabelValues("error").Inc()
	}
	return res, err
}

func (e *Engine) run(ctx context.Context, journeyID int64) (Result, error) {
	log := e.logger().With("journey_id", journeyID)

	req, err := e.Journeys.GetJourney(ctx, journeyID)
	if errors.Is(err, storage.ErrNotFound) {
		return Result{}, fmt.Errorf("%w: %d", ErrJourneyNotFound, journeyID)
	}
	if err != nil {
		return Result{}, fmt.Errorf("load journey: %w", err)
	}

	cfg := e.loadSettings(ctx, log)
	provider := distance.NewProvider(cfg.DistanceMethod, e.router(cfg), log)

	cands, err := e.candidates(ctx, req)
	if err != nil {
		return Result{}, err
	}
	if len(cands) == 0 {
		log.Debug("no candidates")
		return Result{}, nil
	}

	p := &Persister{Matches: e.Matches, Events: e.Events, Sinks: e.Sinks, Logger: log}
	found := 0
	for _, c := range cands {
		dir := string(c.Orientation())
		exists, err := p.Exists(ctx, req.ID, c.ID)
		if err != nil {
			log.Warn("match exists check failed", "candidate_id", c.ID, "error", err)
			observability.CandidatesEvaluated.WithLabelValues(dir, "error").Inc()
			continue
		}
		if exists {
			observability.CandidatesEvaluated.WithLabelValues(dir, "existing").Inc()
			continue
		}

		ev := Evaluate(ctx, provider, req, c)
		if !ev.Accepted {
			observability.CandidatesEvaluated.WithLabelValues(dir, "rejected").Inc()
			continue
		}
		observability.CandidatesEvaluated.WithLabelValues(dir, "accepted").Inc()

		acc := Accepted{
			RequesterID:    req.ID,
			Candidate:      c,
			Evaluation:     ev,
			Strength:       Score(ev.StartKm, ev.EndKm, ev.MaxRadiusKm),
			DistanceMethod: string(provider.Method()),
		}
		if p.Create(ctx, acc) {
			found++
		}
	}

	if found > 0 && cfg.Instant() && e.Notifier != nil {
		e.triggerNotify(log)
	}
	log.Info("matching run complete", "candidates", len(cands), "matches_found", found, "distance_method", provider.Method())
	return Result{MatchesFound: found}, nil
}

// candidates runs the same-direction and reverse-direction queries and merges them.
func (e *Engine) candidates(ctx context.Context, req models.Journey) ([]models.Candidate, error) {
	q := geo.Query{
		Origin:       req.Origin,
		Destination:  req.Destination,
		RadiusMeters: req.EffectiveRadiusKm() * 1000,
		ExcludeID:    req.ID,
		ExcludeOwner: req.OwnerID,
		ExcludeOrg:   req.OrgID,
	}
	same, err := e.Retriever.Nearby(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("same-direction candidates: %w", err)
	}
	q.Origin, q.Destination = req.Destination, req.Origin
	reverse, err := e.Retriever.Nearby(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("reverse-direction candidates: %w", err)
	}
	return Merge(same, reverse), nil
}

func (e *Engine) loadSettings(ctx context.Context, log *slog.Logger) settings.Settings {
	if e.Settings == nil {
		return settings.Defaults()
	}
	s, err := e.Settings.Load(ctx)
	if err != nil {
		log.Warn("settings unavailable, using defaults", "error", err)
		return settings.Defaults()
	}
	return s
}

func (e *Engine) router(s settings.Settings) distance.Router {
	if s.DistanceMethod != distance.Routed || e.Routing == nil {
		return nil
	}
	return e.Routing.Router(s.RoutingToken)
}

// triggerNotify fires the notification processor without waiting for it.
// The processor only acts on unsent matches and is swept periodically, so a
// lost trigger only delays notification.
func (e *Engine) triggerNotify(log *slog.Logger) {
	timeout := e.NotifyTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := e.Notifier.Trigger(ctx); err != nil {
			observability.NotifyTriggers.WithLabelValues("error").Inc()
			log.Error("notification trigger failed", "error", err)
			return
		}
		observability.NotifyTriggers.WithLabelValues("ok").Inc()
	}()
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}

package matcher

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/example/journey-matching/internal/models"
	"github.com/example/journey-matching/internal/observability"
	"github.com/example/journey-matching/internal/storage"
)

// EventSink receives stored events for fan-out (Kafka, websocket feed).
type EventSink interface {
	Publish(ctx context.Context, e models.Event) error
}

// Persister records accepted matches and their audit events.
type Persister struct {
	Matches storage.MatchStore
	Events  storage.EventStore
	Sinks   []EventSink
	Logger  *slog.Logger
	now     func() time.Time
}

func (p *Persister) Exists(ctx context.Context, a, b int64) (bool, error) {
	a, b = models.CanonicalPair(a, b)
	return p.Matches.MatchExists(ctx, a, b)
}

// Accepted carries everything about an accepted candidate that gets recorded.
type Accepted struct {
	RequesterID    int64
	Candidate      models.Candidate
	Evaluation     Evaluation
	Strength       int
	DistanceMethod string
}

// Create inserts the match and, on success, appends a match_detected event.
// It reports whether a new match row was written. Failures are logged and
// swallowed: a duplicate pair is expected under concurrent runs and any other
// error only costs this candidate.
func (p *Persister) Create(ctx context.Context, acc Accepted) bool {
	a, b := models.CanonicalPair(acc.RequesterID, acc.Candidate.ID)
	m := &models.Match{
		JourneyA: a,
		JourneyB: b,
		Strength: acc.Strength,
		Status:   models.MatchNew,
	}
	if err := p.Matches.CreateMatch(ctx, m); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			observability.MatchConflicts.Inc()
			p.logger().Debug("match already exists", "journey_a", a, "journey_b", b)
		} else {
			p.logger().Warn("create match failed", "journey_a", a, "journey_b", b, "error", err)
		}
		return false
	}
	observability.MatchesTotal.Inc()

	ev := models.Event{
		ID:        uuid.New().String(),
		Type:      models.EventMatchDetected,
		JourneyID: acc.RequesterID,
		Match: &models.MatchDetected{
			MatchedWith:    acc.Candidate.ID,
			StartKm:        roundTenth(acc.Evaluation.StartKm),
			EndKm:          roundTenth(acc.Evaluation.EndKm),
			Strength:       acc.Strength,
			Direction:      acc.Candidate.Orientation(),
			DistanceMethod: acc.DistanceMethod,
		},
		CreatedAt: p.clock(),
	}
	if err := p.Events.AppendEvent(ctx, &ev); err != nil {
		p.logger().Warn("append match event failed", "match_id", m.ID, "error", err)
		return true
	}
	for _, s := range p.Sinks {
		if err := s.Publish(ctx, ev); err != nil {
			p.logger().Warn("publish match event failed", "event_id", ev.ID, "error", err)
		}
	}
	return true
}

func (p *Persister) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.Default()
	}
	return p.Logger
}

func (p *Persister) clock() time.Time {
	if p.now != nil {
		return p.now()
	}
	return time.Now()
}

func roundTenth(v float64) float64 { return math.Round(v*10) / 10 }

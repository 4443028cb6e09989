package matcher

import (
	"context"
	"math"
	"sync"

	"github.com/example/journey-matching/internal/models"
)

// Distancer is satisfied by *distance.Provider.
type Distancer interface {
	Distance(ctx context.Context, a, b models.Coord) float64
}

// Evaluation is the outcome of comparing one candidate to the requester.
type Evaluation struct {
	StartKm     float64
	EndKm       float64
	MaxRadiusKm float64
	Accepted    bool
}

// Legs returns the coordinate pairs compared for the start and end legs.
// A reversed candidate travels the corridor the other way, so the requester's
// origin is compared with the candidate's destination and vice versa.
func Legs(req models.Journey, c models.Candidate) (start, end [2]models.Coord) {
	if c.Reversed {
		return [2]models.Coord{req.Origin, c.Destination}, [2]models.Coord{req.Destination, c.Origin}
	}
	return [2]models.Coord{req.Origin, c.Origin}, [2]models.Coord{req.Destination, c.Destination}
}

// Accept applies the acceptance rule: each leg must be within maxRadius.
func Accept(startKm, endKm, maxRadiusKm float64) bool {
	return startKm <= maxRadiusKm && endKm <= maxRadiusKm
}

// Evaluate computes both legs concurrently and applies the acceptance rule
// against the looser of the two radius preferences.
func Evaluate(ctx context.Context, d Distancer, req models.Journey, c models.Candidate) Evaluation {
	start, end := Legs(req, c)
	var (
		ev Evaluation
		wg sync.WaitGroup
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		ev.StartKm = d.Distance(ctx, start[0], start[1])
	}()
	go func() {
		defer wg.Done()
		ev.EndKm = d.Distance(ctx, end[0], end[1])
	}()
	wg.Wait()

	ev.MaxRadiusKm = math.Max(req.EffectiveRadiusKm(), c.EffectiveRadiusKm())
	ev.Accepted = Accept(ev.StartKm, ev.EndKm, ev.MaxRadiusKm)
	return ev
}

package geo

import (
	"context"
	"sync"
	"time"

	"github.com/example/journey-matching/internal/distance"
	"github.com/example/journey-matching/internal/models"
)

// Query asks for journeys whose origin lies within RadiusMeters of Origin and
// whose destination lies within RadiusMeters of Destination.
type Query struct {
	Origin       models.Coord
	Destination  models.Coord
	RadiusMeters float64
	ExcludeID    int64
	ExcludeOwner string
	ExcludeOrg   string
}

// Excludes reports whether j must be left out of the results of q.
func (q Query) Excludes(j models.Journey) bool {
	if j.ID == q.ExcludeID {
		return true
	}
	if q.ExcludeOwner != "" && j.OwnerID == q.ExcludeOwner {
		return true
	}
	return q.ExcludeOrg != "" && j.OrgID == q.ExcludeOrg
}

// Retriever is the proximity search the matcher consumes. Result order is
// unspecified.
type Retriever interface {
	Nearby(ctx context.Context, q Query) ([]models.Journey, error)
}

type Index struct {
	mu       sync.RWMutex
	journeys map[int64]models.Journey
	now      func() time.Time
}

func NewIndex() *Index {
	return &Index{journeys: make(map[int64]models.Journey), now: time.Now}
}

func (g *Index) Upsert(j models.Journey) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.journeys[j.ID] = j
}

func (g *Index) Remove(id int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.journeys, id)
}

// naive scan; the Redis and PostGIS retrievers use real spatial indexes
func (g *Index) Nearby(_ context.Context, q Query) ([]models.Journey, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	now := g.now()
	radiusKm := q.RadiusMeters / 1000
	out := make([]models.Journey, 0)
	for _, j := range g.journeys {
		if q.Excludes(j) || !j.Matchable(now) {
			continue
		}
		if distance.GreatCircleKm(q.Origin, j.Origin) > radiusKm {
			continue
		}
		if distance.GreatCircleKm(q.Destination, j.Destination) > radiusKm {
			continue
		}
		out = append(out, j)
	}
	return out, nil
}

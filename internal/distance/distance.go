package distance

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"strings"

	"github.com/example/journey-matching/internal/models"
	"github.com/example/journey-matching/internal/observability"
)

// EarthRadiusKm is the mean Earth radius used for great-circle distances.
const EarthRadiusKm = 6371.0

type Method string

const (
	GreatCircle Method = "great_circle"
	Routed      Method = "routed"
)

var (
	ErrNoCredential = errors.New("routing credential missing")
	ErrNoRoute      = errors.New("no route found")
)

// ParseMethod maps a configured value to a Method. Older deployments stored
// "haversine" and "mapbox"; anything unknown degrades to GreatCircle.
func ParseMethod(v string) Method {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "routed", "mapbox", "osrm":
		return Routed
	default:
		return GreatCircle
	}
}

// Router returns the driving distance in meters of the best route.
type Router interface {
	DrivingMeters(ctx context.Context, from, to models.Coord) (float64, error)
}

// GreatCircleKm is the haversine distance in kilometers.
func GreatCircleKm(a, b models.Coord) float64 {
	toRad := func(deg float64) float64 { return deg * math.Pi / 180.0 }
	dLat := toRad(b.Lat - a.Lat)
	dLon := toRad(b.Lon - a.Lon)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return EarthRadiusKm * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// Provider computes distances under one method for the lifetime of a run.
type Provider struct {
	method Method
	router Router
	logger *slog.Logger
}

func NewProvider(method Method, router Router, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{method: method, router: router, logger: logger}
}

func (p *Provider) Method() Method { return p.method }

// Distance returns kilometers between a and b. It never fails: routed lookups
// that error out fall back to the great-circle value.
func (p *Provider) Distance(ctx context.Context, a, b models.Coord) float64 {
	if p.method != Routed {
		return GreatCircleKm(a, b)
	}
	if p.router == nil {
		p.fallback(ErrNoCredential)
		return GreatCircleKm(a, b)
	}
	m, err := p.router.DrivingMeters(ctx, a, b)
	if err != nil {
		p.fallback(err)
		return GreatCircleKm(a, b)
	}
	return m / 1000
}

func (p *Provider) fallback(err error) {
	observability.DistanceFallbacks.Inc()
	p.logger.Warn("distance fallback to great circle", "error", err)
}

// Package settings holds the admin-controlled runtime knobs that a matching
// run reads once at start: distance method, matching mode and routing token.
package settings

import (
	"context"
	"strings"

	"github.com/example/journey-matching/internal/distance"
)

// Keys of the key/value configuration table.
const (
	KeyDistanceMethod = "distance_method"
	KeyMatchingMode   = "matching_mode"
	KeyRoutingToken   = "routing_token"
)

const (
	ModeInstant = "instant"
	ModeHybrid  = "hybrid"
)

type Settings struct {
	DistanceMethod distance.Method
	MatchingMode   string
	RoutingToken   string
}

// Defaults is what a run uses when the source has nothing or fails.
func Defaults() Settings {
	return Settings{DistanceMethod: distance.GreatCircle}
}

// Instant reports whether notifications go out right after a run.
func (s Settings) Instant() bool {
	return strings.EqualFold(s.MatchingMode, ModeInstant)
}

// FromValues builds Settings from raw key/value pairs.
func FromValues(values map[string]string) Settings {
	s := Defaults()
	if v, ok := values[KeyDistanceMethod]; ok {
		s.DistanceMethod = distance.ParseMethod(v)
	}
	s.MatchingMode = strings.ToLower(strings.TrimSpace(values[KeyMatchingMode]))
	s.RoutingToken = strings.TrimSpace(values[KeyRoutingToken])
	return s
}

// Source supplies a fresh snapshot per run. Implementations must not cache
// across calls.
type Source interface {
	Load(ctx context.Context) (Settings, error)
}

// Static is a fixed Source, used when no configuration table is available.
type Static Settings

func (s Static) Load(context.Context) (Settings, error) { return Settings(s), nil }

package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// DefaultRadiusKm applies when a journey carries no detour preference.
const DefaultRadiusKm = 3.0

// RadiusChoicesKm are the detour radii a commuter can pick at submission.
var RadiusChoicesKm = []float64{1, 3, 5, 8}

type JourneyStatus string

const (
	JourneyActive   JourneyStatus = "active"
	JourneyArchived JourneyStatus = "archived"
	JourneyExpired  JourneyStatus = "expired"
)

// Journey is a submitted one-way route. The matching engine only reads it.
type Journey struct {
	ID          int64         `json:"id"`
	OwnerID     string        `json:"owner_id"`
	OrgID       string        `json:"org_id,omitempty"`
	Origin      Coord         `json:"origin"`
	Destination Coord         `json:"destination"`
	RadiusKm    float64       `json:"radius_km"`
	Status      JourneyStatus `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	ExpiresAt   time.Time     `json:"expires_at"`
}

// EffectiveRadiusKm returns the detour radius, falling back to DefaultRadiusKm.
func (j Journey) EffectiveRadiusKm() float64 {
	if j.RadiusKm <= 0 {
		return DefaultRadiusKm
	}
	return j.RadiusKm
}

// Matchable reports whether the journey may take part in matching at time now.
func (j Journey) Matchable(now time.Time) bool {
	if j.Status != "" && j.Status != JourneyActive {
		return false
	}
	return j.ExpiresAt.IsZero() || j.ExpiresAt.After(now)
}

type Orientation string

const (
	SameDirection    Orientation = "same"
	ReverseDirection Orientation = "reverse"
)

// Candidate is a journey considered against one requester during a single run.
type Candidate struct {
	Journey
	Reversed bool `json:"is_reversed"`
}

func (c Candidate) Orientation() Orientation {
	if c.Reversed {
		return ReverseDirection
	}
	return SameDirection
}

type MatchStatus string

const (
	MatchNew               MatchStatus = "new"
	MatchNotified          MatchStatus = "notified"
	MatchViewed            MatchStatus = "viewed"
	MatchInterestExpressed MatchStatus = "interest_expressed"
	MatchMutualConfirmed   MatchStatus = "mutual_confirmed"
	MatchContactRevealed   MatchStatus = "contact_revealed"
	MatchDeclined          MatchStatus = "declined"
)

// Match links two journeys. JourneyA is always the smaller id.
type Match struct {
	ID               int64       `json:"id"`
	JourneyA         int64       `json:"journey_a"`
	JourneyB         int64       `json:"journey_b"`
	Strength         int         `json:"strength"`
	Status           MatchStatus `json:"status"`
	NotificationSent bool        `json:"notification_sent"`
	InterestA        bool        `json:"interest_a"`
	InterestB        bool        `json:"interest_b"`
	CreatedAt        time.Time   `json:"created_at"`
}

// CanonicalPair orders two journey ids so an unordered pair has one key.
func CanonicalPair(a, b int64) (int64, int64) {
	if a < b {
		return a, b
	}
	return b, a
}

type EventType string

const EventMatchDetected EventType = "match_detected"

// MatchDetected is the metadata of a match_detected event.
type MatchDetected struct {
	MatchedWith    int64       `json:"matched_with"`
	StartKm        float64     `json:"start_dist"`
	EndKm          float64     `json:"end_dist"`
	Strength       int         `json:"match_strength"`
	Direction      Orientation `json:"direction"`
	DistanceMethod string      `json:"distance_method"`
}

// Event is an append-only audit record.
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"event_type"`
	JourneyID int64          `json:"journey_id"`
	Match     *MatchDetected `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

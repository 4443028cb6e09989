package storage

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/example/journey-matching/internal/models"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a match for the canonical pair already exists.
	ErrConflict = errors.New("conflict")
)

// JourneyStore loads and saves journeys.
type JourneyStore interface {
	GetJourney(ctx context.Context, id int64) (models.Journey, error)
	SaveJourney(ctx context.Context, j *models.Journey) error
}

// MatchStore persists matches. CreateMatch must enforce uniqueness of
// (JourneyA, JourneyB) and report a duplicate as ErrConflict.
type MatchStore interface {
	MatchExists(ctx context.Context, a, b int64) (bool, error)
	CreateMatch(ctx context.Context, m *models.Match) error
}

type EventStore interface {
	AppendEvent(ctx context.Context, e *models.Event) error
}

type pairKey struct{ a, b int64 }

type MemoryStore struct {
	mu       sync.RWMutex
	journeys map[int64]models.Journey
	matches  map[pairKey]*models.Match
	events   []models.Event
	nextID   int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		journeys: make(map[int64]models.Journey),
		matches:  make(map[pairKey]*models.Match),
	}
}

func (m *MemoryStore) GetJourney(_ context.Context, id int64) (models.Journey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.journeys[id]
	if !ok {
		return models.Journey{}, ErrNotFound
	}
	return j, nil
}

func (m *MemoryStore) SaveJourney(_ context.Context, j *models.Journey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j.ID == 0 {
		m.nextID++
		j.ID = m.nextID
	} else if j.ID > m.nextID {
		m.nextID = j.ID
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now()
	}
	m.journeys[j.ID] = *j
	return nil
}

func (m *MemoryStore) MatchExists(_ context.Context, a, b int64) (bool, error) {
	a, b = models.CanonicalPair(a, b)
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.matches[pairKey{a, b}]
	return ok, nil
}

func (m *MemoryStore) CreateMatch(_ context.Context, match *models.Match) error {
	a, b := models.CanonicalPair(match.JourneyA, match.JourneyB)
	m.mu.Lock()
	defer m.mu.Unlock()
	k := pairKey{a, b}
	if _, ok := m.matches[k]; ok {
		return ErrConflict
	}
	match.ID = int64(len(m.matches) + 1)
	match.JourneyA, match.JourneyB = a, b
	if match.CreatedAt.IsZero() {
		match.CreatedAt = time.Now()
	}
	cp := *match
	m.matches[k] = &cp
	return nil
}

func (m *MemoryStore) AppendEvent(_ context.Context, e *models.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	m.events = append(m.events, *e)
	return nil
}

// Matches returns all matches ordered by id.
func (m *MemoryStore) Matches() []models.Match {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Match, 0, len(m.matches))
	for _, v := range m.matches {
		out = append(out, *v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *MemoryStore) Events() []models.Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.Event(nil), m.events...)
}

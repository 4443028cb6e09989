package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/example/journey-matching/internal/models"
	"github.com/example/journey-matching/internal/settings"
)

const uniqueViolation = "23505"

type PostgresStore struct {
	db *sql.DB
	// routingToken is used when the config table carries no token.
	routingToken string
}

func NewPostgresStore(dsn, routingToken string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return &PostgresStore{db: db, routingToken: routingToken}, nil
}

func (p *PostgresStore) DB() *sql.DB { return p.db }

func (p *PostgresStore) Close() error { return p.db.Close() }

func (p *PostgresStore) GetJourney(ctx context.Context, id int64) (models.Journey, error) {
	var (
		j     models.Journey
		org   sql.NullString
		exp   sql.NullTime
		state string
	)
	err := p.db.QueryRowContext(ctx, `SELECT id, owner_id, org_id, origin_lat, origin_lon, dest_lat, dest_lon, radius_km, status, created_at, expires_at
		FROM journeys WHERE id = $1`, id).
		Scan(&j.ID, &j.OwnerID, &org, &j.Origin.Lat, &j.Origin.Lon, &j.Destination.Lat, &j.Destination.Lon, &j.RadiusKm, &state, &j.CreatedAt, &exp)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Journey{}, ErrNotFound
	}
	if err != nil {
		return models.Journey{}, fmt.Errorf("get journey %d: %w", id, err)
	}
	j.OrgID = org.String
	j.Status = models.JourneyStatus(state)
	if exp.Valid {
		j.ExpiresAt = exp.Time
	}
	return j, nil
}

func (p *PostgresStore) SaveJourney(ctx context.Context, j *models.Journey) error {
	var org sql.NullString
	if j.OrgID != "" {
		org = sql.NullString{String: j.OrgID, Valid: true}
	}
	var exp sql.NullTime
	if !j.ExpiresAt.IsZero() {
		exp = sql.NullTime{Time: j.ExpiresAt, Valid: true}
	}
	if j.Status == "" {
		j.Status = models.JourneyActive
	}
	const q = `INSERT INTO journeys(owner_id, org_id, origin_lat, origin_lon, dest_lat, dest_lon, radius_km, status, expires_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING id, created_at`
	return p.db.QueryRowContext(ctx, q, j.OwnerID, org, j.Origin.Lat, j.Origin.Lon, j.Destination.Lat, j.Destination.Lon, j.EffectiveRadiusKm(), string(j.Status), exp).
		Scan(&j.ID, &j.CreatedAt)
}

func (p *PostgresStore) MatchExists(ctx context.Context, a, b int64) (bool, error) {
	a, b = models.CanonicalPair(a, b)
	var exists bool
	err := p.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM matches WHERE journey_a = $1 AND journey_b = $2)`, a, b).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("match exists: %w", err)
	}
	return exists, nil
}

func (p *PostgresStore) CreateMatch(ctx context.Context, m *models.Match) error {
	m.JourneyA, m.JourneyB = models.CanonicalPair(m.JourneyA, m.JourneyB)
	if m.Status == "" {
		m.Status = models.MatchNew
	}
	err := p.db.QueryRowContext(ctx, `INSERT INTO matches(journey_a, journey_b, strength, status, notification_sent)
		VALUES($1,$2,$3,$4,$5) RETURNING id, created_at`,
		m.JourneyA, m.JourneyB, m.Strength, string(m.Status), m.NotificationSent).Scan(&m.ID, &m.CreatedAt)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("create match: %w", err)
	}
	return nil
}

func (p *PostgresStore) AppendEvent(ctx context.Context, e *models.Event) error {
	var meta []byte
	if e.Match != nil {
		b, err := json.Marshal(e.Match)
		if err != nil {
			return err
		}
		meta = b
	}
	err := p.db.QueryRowContext(ctx, `INSERT INTO events(id, event_type, journey_id, metadata) VALUES($1,$2,$3,$4) RETURNING created_at`,
		e.ID, string(e.Type), e.JourneyID, meta).Scan(&e.CreatedAt)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// Load implements settings.Source over the config key/value table.
func (p *PostgresStore) Load(ctx context.Context) (settings.Settings, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT key, value FROM config WHERE key = ANY($1)`,
		pq.Array([]string{settings.KeyDistanceMethod, settings.KeyMatchingMode, settings.KeyRoutingToken}))
	if err != nil {
		return settings.Defaults(), fmt.Errorf("load settings: %w", err)
	}
	defer rows.Close()
	values := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return settings.Defaults(), fmt.Errorf("scan settings: %w", err)
		}
		values[k] = v
	}
	if err := rows.Err(); err != nil {
		return settings.Defaults(), fmt.Errorf("read settings: %w", err)
	}
	s := settings.FromValues(values)
	if s.RoutingToken == "" {
		s.RoutingToken = p.routingToken
	}
	return s, nil
}

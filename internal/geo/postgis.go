package geo

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/example/journey-matching/internal/models"
)

// PostGISRetriever runs the proximity query against the journeys table.
type PostGISRetriever struct {
	pool *pgxpool.Pool
}

// NewPostGISPool creates and verifies a pgxpool connection pool.
func NewPostGISPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgis ping failed: %w", err)
	}
	return pool, nil
}

func NewPostGISRetriever(pool *pgxpool.Pool) *PostGISRetriever {
	return &PostGISRetriever{pool: pool}
}

const nearbyQuery = `
	SELECT id, owner_id, COALESCE(org_id, ''), origin_lat, origin_lon, dest_lat, dest_lon,
	       radius_km, status, created_at, expires_at
	FROM journeys
	WHERE status = 'active'
	  AND (expires_at IS NULL OR expires_at > now())
	  AND id <> $1
	  AND owner_id <> $2
	  AND ($3 = '' OR org_id IS DISTINCT FROM $3)
	  AND ST_DWithin(origin_point, ST_SetSRID(ST_MakePoint($5, $4), 4326)::geography, $8)
	  AND ST_DWithin(dest_point, ST_SetSRID(ST_MakePoint($7, $6), 4326)::geography, $8)`

func (p *PostGISRetriever) Nearby(ctx context.Context, q Query) ([]models.Journey, error) {
	rows, err := p.pool.Query(ctx, nearbyQuery,
		q.ExcludeID, q.ExcludeOwner, q.ExcludeOrg,
		q.Origin.Lat, q.Origin.Lon, q.Destination.Lat, q.Destination.Lon,
		q.RadiusMeters)
	if err != nil {
		return nil, fmt.Errorf("nearby query: %w", err)
	}
	defer rows.Close()

	out := make([]models.Journey, 0)
	for rows.Next() {
		var (
			j      models.Journey
			status string
			exp    *time.Time
		)
		if err := rows.Scan(&j.ID, &j.OwnerID, &j.OrgID, &j.Origin.Lat, &j.Origin.Lon,
			&j.Destination.Lat, &j.Destination.Lon, &j.RadiusKm, &status, &j.CreatedAt, &exp); err != nil {
			return nil, fmt.Errorf("nearby scan: %w", err)
		}
		j.Status = models.JourneyStatus(status)
		if exp != nil {
			j.ExpiresAt = *exp
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

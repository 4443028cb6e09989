package geo

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/journey-matching/internal/models"
)

// RedisIndex implements Retriever using Redis GEO commands. Origins and
// destinations live in two sorted sets keyed by journey id; the remaining
// journey fields sit in a hash per journey.
type RedisIndex struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

func NewRedisIndex(addr, password, prefix string) *RedisIndex {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return NewRedisIndexWithClient(c, prefix)
}

func NewRedisIndexWithClient(c *redis.Client, prefix string) *RedisIndex {
	if prefix == "" {
		prefix = "journeys"
	}
	return &RedisIndex{client: c, prefix: prefix, now: time.Now}
}

func (r *RedisIndex) Client() *redis.Client { return r.client }

func (r *RedisIndex) originKey() string { return r.prefix + ":origin" }
func (r *RedisIndex) destKey() string   { return r.prefix + ":destination" }
func (r *RedisIndex) metaKey(id string) string {
	return r.prefix + ":meta:" + id
}

func (r *RedisIndex) Upsert(ctx context.Context, j models.Journey) error {
	id := strconv.FormatInt(j.ID, 10)
	pipe := r.client.TxPipeline()
	pipe.GeoAdd(ctx, r.originKey(), &redis.GeoLocation{Longitude: j.Origin.Lon, Latitude: j.Origin.Lat, Name: id})
	pipe.GeoAdd(ctx, r.destKey(), &redis.GeoLocation{Longitude: j.Destination.Lon, Latitude: j.Destination.Lat, Name: id})
	pipe.HSet(ctx, r.metaKey(id), metaFields(j))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis upsert journey %d: %w", j.ID, err)
	}
	return nil
}

func (r *RedisIndex) Remove(ctx context.Context, id int64) error {
	sid := strconv.FormatInt(id, 10)
	pipe := r.client.TxPipeline()
	pipe.ZRem(ctx, r.originKey(), sid)
	pipe.ZRem(ctx, r.destKey(), sid)
	pipe.Del(ctx, r.metaKey(sid))
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisIndex) Nearby(ctx context.Context, q Query) ([]models.Journey, error) {
	near := func(key string, c models.Coord) (map[string]struct{}, error) {
		res, err := r.client.GeoRadius(ctx, key, c.Lon, c.Lat, &redis.GeoRadiusQuery{Radius: q.RadiusMeters, Unit: "m"}).Result()
		if err != nil {
			return nil, err
		}
		set := make(map[string]struct{}, len(res))
		for _, g := range res {
			set[g.Name] = struct{}{}
		}
		return set, nil
	}
	origins, err := near(r.originKey(), q.Origin)
	if err != nil {
		return nil, fmt.Errorf("redis origin radius: %w", err)
	}
	if len(origins) == 0 {
		return nil, nil
	}
	dests, err := near(r.destKey(), q.Destination)
	if err != nil {
		return nil, fmt.Errorf("redis destination radius: %w", err)
	}
	now := r.now()
	out := make([]models.Journey, 0)
	for id := range origins {
		if _, ok := dests[id]; !ok {
			continue
		}
		m, err := r.client.HGetAll(ctx, r.metaKey(id)).Result()
		if err != nil {
			return nil, fmt.Errorf("redis journey meta %s: %w", id, err)
		}
		// geo members without a meta hash are left over from a partial remove
		if len(m) == 0 {
			continue
		}
		j, ok := journeyFromMeta(id, m)
		if !ok || q.Excludes(j) || !j.Matchable(now) {
			continue
		}
		out = append(out, j)
	}
	return out, nil
}

func metaFields(j models.Journey) map[string]interface{} {
	f := map[string]interface{}{
		"owner":      j.OwnerID,
		"org":        j.OrgID,
		"origin_lat": strconv.FormatFloat(j.Origin.Lat, 'f', -1, 64),
		"origin_lon": strconv.FormatFloat(j.Origin.Lon, 'f', -1, 64),
		"dest_lat":   strconv.FormatFloat(j.Destination.Lat, 'f', -1, 64),
		"dest_lon":   strconv.FormatFloat(j.Destination.Lon, 'f', -1, 64),
		"radius_km":  strconv.FormatFloat(j.EffectiveRadiusKm(), 'f', -1, 64),
		"status":     string(j.Status),
		"created_at": j.CreatedAt.Format(time.RFC3339),
		"expires_at": "",
	}
	if !j.ExpiresAt.IsZero() {
		f["expires_at"] = j.ExpiresAt.Format(time.RFC3339)
	}
	return f
}

func journeyFromMeta(id string, m map[string]string) (models.Journey, bool) {
	jid, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return models.Journey{}, false
	}
	j := models.Journey{ID: jid, OwnerID: m["owner"], OrgID: m["org"], Status: models.JourneyStatus(m["status"])}
	floats := []struct {
		key string
		dst *float64
	}{
		{"origin_lat", &j.Origin.Lat},
		{"origin_lon", &j.Origin.Lon},
		{"dest_lat", &j.Destination.Lat},
		{"dest_lon", &j.Destination.Lon},
		{"radius_km", &j.RadiusKm},
	}
	for _, f := range floats {
		v, err := strconv.ParseFloat(m[f.key], 64)
		if err != nil {
			return models.Journey{}, false
		}
		*f.dst = v
	}
	if t, err := time.Parse(time.RFC3339, m["created_at"]); err == nil {
		j.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, m["expires_at"]); err == nil {
		j.ExpiresAt = t
	}
	return j, true
}

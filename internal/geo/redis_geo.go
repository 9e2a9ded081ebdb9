package geo

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Jeremytpk/quicktrash-sub002/internal/models"
)

// RedisRegistry implements Registry on Redis GEO commands so multiple
// dispatcher processes share one live view of the worker fleet.
type RedisRegistry struct {
	client *redis.Client
	key    string
	ctx    context.Context
}

func NewRedisRegistry(addr, password, key string) *RedisRegistry {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisRegistry{client: c, key: key, ctx: context.Background()}
}

// NewRedisRegistryFromClient wraps an existing client (used by the consumer).
func NewRedisRegistryFromClient(c *redis.Client, key string) *RedisRegistry {
	return &RedisRegistry{client: c, key: key, ctx: context.Background()}
}

func (r *RedisRegistry) Upsert(w models.Worker) {
	if w.Updated.IsZero() {
		w.Updated = time.Now()
	}
	_, _ = r.client.GeoAdd(r.ctx, r.key, &redis.GeoLocation{Longitude: w.Loc.Lon, Latitude: w.Loc.Lat, Name: w.ID}).Result()
	meta := map[string]interface{}{
		"online":  strconv.FormatBool(w.Online),
		"updated": w.Updated.Format(time.RFC3339),
	}
	if w.PayoutAccount != "" {
		meta["payout_account"] = w.PayoutAccount
	}
	_ = r.client.HSet(r.ctx, metaKey(w.ID), meta).Err()
}

func (r *RedisRegistry) SetOnline(id string, online bool) {
	_ = r.client.HSet(r.ctx, metaKey(id), map[string]interface{}{
		"online": strconv.FormatBool(online),
	}).Err()
}

func (r *RedisRegistry) Get(id string) (models.Worker, bool) {
	m, err := r.client.HGetAll(r.ctx, metaKey(id)).Result()
	if err != nil || len(m) == 0 {
		return models.Worker{}, false
	}
	w := models.Worker{ID: id}
	applyMeta(&w, m)
	if pos, err := r.client.GeoPos(r.ctx, r.key, id).Result(); err == nil && len(pos) == 1 && pos[0] != nil {
		w.Loc = models.Coord{Lat: pos[0].Latitude, Lon: pos[0].Longitude}
	}
	return w, true
}

func (r *RedisRegistry) Nearby(center models.Coord, radiusMiles float64, maxAge time.Duration) []models.Worker {
	res, err := r.client.GeoRadius(r.ctx, r.key, center.Lon, center.Lat, &redis.GeoRadiusQuery{
		Radius: MilesToMeters(radiusMiles), Unit: "m", WithCoord: true, WithDist: true, Sort: "ASC",
	}).Result()
	if err != nil {
		return nil
	}
	cutoff := time.Now().Add(-maxAge)
	out := make([]models.Worker, 0, len(res))
	for _, g := range res {
		w := models.Worker{ID: g.Name, Loc: models.Coord{Lat: g.Latitude, Lon: g.Longitude}}
		m, err := r.client.HGetAll(r.ctx, metaKey(g.Name)).Result()
		if err != nil {
			continue
		}
		applyMeta(&w, m)
		if !w.Online {
			continue
		}
		if w.Updated.IsZero() || (maxAge > 0 && w.Updated.Before(cutoff)) {
			continue
		}
		out = append(out, w)
	}
	return out
}

func applyMeta(w *models.Worker, m map[string]string) {
	if v, ok := m["online"]; ok {
		w.Online = v == "true"
	}
	if v, ok := m["updated"]; ok {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			w.Updated = t
		}
	}
	if v, ok := m["payout_account"]; ok {
		w.PayoutAccount = v
	}
	if v, ok := m["rating"]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			w.Performance.AverageRating = f
		}
	}
}

func metaKey(id string) string { return fmt.Sprintf("worker:meta:%s", id) }

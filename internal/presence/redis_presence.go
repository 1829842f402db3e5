package presence

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-dispatch/internal/models"
)

// RedisRegistry backs presence with Redis GEO plus a metadata hash per
// driver, so multiple instances share one view of who is online. Class
// membership is kept in per-class sets for targeted dispatch.
type RedisRegistry struct {
	client   *redis.Client
	geoKey   string
	profiles ProfileSource
	ctx      context.Context
}

func NewRedisRegistry(addr, password, geoKey string, profiles ProfileSource) *RedisRegistry {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisRegistry{client: c, geoKey: geoKey, profiles: profiles, ctx: context.Background()}
}

func metaKey(id string) string { return "presence:meta:" + id }

func classKey(c models.VehicleClass) string { return "presence:class:" + string(c) }

func (r *RedisRegistry) Register(driverID, name string, class models.VehicleClass, loc models.Coord, sessionID string) models.DriverPresence {
	if r.profiles != nil {
		if assigned, ok := r.profiles.VehicleClass(driverID); ok {
			class = assigned
		}
	}
	now := time.Now()
	_, _ = r.client.GeoAdd(r.ctx, r.geoKey, &redis.GeoLocation{Longitude: loc.Lng, Latitude: loc.Lat, Name: driverID}).Result()
	_ = r.client.HSet(r.ctx, metaKey(driverID), map[string]interface{}{
		"name":      name,
		"class":     string(class),
		"online":    "true",
		"heartbeat": now.Format(time.RFC3339),
		"session":   sessionID,
		"lat":       loc.Lat,
		"lng":       loc.Lng,
	}).Err()
	_ = r.client.SAdd(r.ctx, classKey(class), driverID).Err()
	// a driver whose durable class overrode a stale registration must not
	// linger in another class's set
	for _, c := range []models.VehicleClass{models.ClassBike, models.ClassTaxi, models.ClassCargo} {
		if c != class {
			_ = r.client.SRem(r.ctx, classKey(c), driverID).Err()
		}
	}
	return models.DriverPresence{
		DriverID: driverID, Name: name, Class: class, Location: loc,
		Online: true, LastHeartbeat: now, SessionID: sessionID,
	}
}

func (r *RedisRegistry) SetOnline(driverID string, loc models.Coord) bool {
	return r.setFields(driverID, map[string]interface{}{
		"online": "true", "lat": loc.Lat, "lng": loc.Lng,
		"heartbeat": time.Now().Format(time.RFC3339),
	}, &loc)
}

func (r *RedisRegistry) UpdateLocation(driverID string, loc models.Coord) bool {
	return r.setFields(driverID, map[string]interface{}{
		"lat": loc.Lat, "lng": loc.Lng,
		"heartbeat": time.Now().Format(time.RFC3339),
	}, &loc)
}

func (r *RedisRegistry) Heartbeat(driverID string) bool {
	return r.setFields(driverID, map[string]interface{}{
		"heartbeat": time.Now().Format(time.RFC3339),
	}, nil)
}

func (r *RedisRegistry) SetOffline(driverID string) bool {
	return r.setFields(driverID, map[string]interface{}{
		"online": "false", "heartbeat": time.Now().Format(time.RFC3339),
	}, nil)
}

func (r *RedisRegistry) Remove(driverID string) {
	if p, ok := r.Get(driverID); ok {
		_ = r.client.SRem(r.ctx, classKey(p.Class), driverID).Err()
	}
	_ = r.client.ZRem(r.ctx, r.geoKey, driverID).Err()
	_ = r.client.Del(r.ctx, metaKey(driverID)).Err()
}

func (r *RedisRegistry) Get(driverID string) (models.DriverPresence, bool) {
	m, err := r.client.HGetAll(r.ctx, metaKey(driverID)).Result()
	if err != nil || len(m) == 0 {
		return models.DriverPresence{}, false
	}
	return presenceFromHash(driverID, m), true
}

func (r *RedisRegistry) ListByClass(class models.VehicleClass) []models.DriverPresence {
	ids, err := r.client.SMembers(r.ctx, classKey(class)).Result()
	if err != nil {
		return nil
	}
	out := make([]models.DriverPresence, 0, len(ids))
	for _, id := range ids {
		p, ok := r.Get(id)
		if !ok || p.Class != class {
			// stale set member; self-heal so it cannot leak into
			// another class's audience again
			_ = r.client.SRem(r.ctx, classKey(class), id).Err()
			continue
		}
		if p.Online {
			out = append(out, p)
		}
	}
	return out
}

func (r *RedisRegistry) Nearby(lat, lng, radiusM float64, limit int) []models.DriverPresence {
	if radiusM <= 0 {
		radiusM = 5000
	}
	res, err := r.client.GeoRadius(r.ctx, r.geoKey, lng, lat, &redis.GeoRadiusQuery{
		Radius: radiusM, Unit: "m", WithCoord: true, WithDist: true, Count: limit, Sort: "ASC",
	}).Result()
	if err != nil {
		return nil
	}
	out := make([]models.DriverPresence, 0, len(res))
	for _, g := range res {
		p, ok := r.Get(g.Name)
		if !ok || !p.Online {
			continue
		}
		p.Location = models.Coord{Lat: g.Latitude, Lng: g.Longitude}
		out = append(out, p)
	}
	return out
}

func (r *RedisRegistry) Reap(now time.Time, idle time.Duration) int {
	removed := 0
	for _, class := range []models.VehicleClass{models.ClassBike, models.ClassTaxi, models.ClassCargo} {
		ids, err := r.client.SMembers(r.ctx, classKey(class)).Result()
		if err != nil {
			continue
		}
		for _, id := range ids {
			p, ok := r.Get(id)
			if !ok {
				_ = r.client.SRem(r.ctx, classKey(class), id).Err()
				continue
			}
			if !p.Online && now.Sub(p.LastHeartbeat) > idle {
				r.Remove(id)
				removed++
			}
		}
	}
	return removed
}

func (r *RedisRegistry) setFields(driverID string, fields map[string]interface{}, loc *models.Coord) bool {
	n, err := r.client.Exists(r.ctx, metaKey(driverID)).Result()
	if err != nil || n == 0 {
		return false
	}
	if loc != nil {
		_, _ = r.client.GeoAdd(r.ctx, r.geoKey, &redis.GeoLocation{Longitude: loc.Lng, Latitude: loc.Lat, Name: driverID}).Result()
	}
	return r.client.HSet(r.ctx, metaKey(driverID), fields).Err() == nil
}

func presenceFromHash(driverID string, m map[string]string) models.DriverPresence {
	p := models.DriverPresence{DriverID: driverID, Name: m["name"], SessionID: m["session"]}
	p.Class = models.VehicleClass(m["class"])
	p.Online = m["online"] == "true"
	if v, err := strconv.ParseFloat(m["lat"], 64); err == nil {
		p.Location.Lat = v
	}
	if v, err := strconv.ParseFloat(m["lng"], 64); err == nil {
		p.Location.Lng = v
	}
	if t, err := time.Parse(time.RFC3339, m["heartbeat"]); err == nil {
		p.LastHeartbeat = t
	}
	return p
}

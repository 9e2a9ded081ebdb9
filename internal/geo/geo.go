package geo

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/Jeremytpk/quicktrash-sub002/internal/models"
)

const metersPerMile = 1609.344

// Registry is the worker-location interface consumed by the dispatcher.
// Workers without a fix fresher than maxAge are excluded from Nearby, never
// defaulted to some assumed position.
type Registry interface {
	Upsert(w models.Worker)
	SetOnline(id string, online bool)
	Get(id string) (models.Worker, bool)
	Nearby(center models.Coord, radiusMiles float64, maxAge time.Duration) []models.Worker
}

// Index is the in-memory Registry used for single-process deployments and
// tests.
type Index struct {
	mu      sync.RWMutex
	workers map[string]models.Worker
	now     func() time.Time
}

func NewIndex() *Index {
	return &Index{workers: make(map[string]models.Worker), now: time.Now}
}

func (g *Index) Upsert(w models.Worker) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if w.Updated.IsZero() {
		w.Updated = g.now()
	}
	if prev, ok := g.workers[w.ID]; ok && w.PayoutAccount == "" {
		w.PayoutAccount = prev.PayoutAccount
	}
	g.workers[w.ID] = w
}

func (g *Index) SetOnline(id string, online bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	w, ok := g.workers[id]
	if !ok {
		w = models.Worker{ID: id}
	}
	w.Online = online
	g.workers[id] = w
}

func (g *Index) Get(id string) (models.Worker, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	w, ok := g.workers[id]
	return w, ok
}

// Nearby returns online workers within radiusMiles of center, closest first.
// The radius boundary is inclusive. naive scan; in prod use geo-hash or H3.
func (g *Index) Nearby(center models.Coord, radiusMiles float64, maxAge time.Duration) []models.Worker {
	g.mu.RLock()
	defer g.mu.RUnlock()
	type pair struct {
		w    models.Worker
		dist float64
	}
	cutoff := g.now().Add(-maxAge)
	arr := make([]pair, 0, len(g.workers))
	for _, w := range g.workers {
		if !w.Online {
			continue
		}
		if w.Updated.IsZero() || (maxAge > 0 && w.Updated.Before(cutoff)) {
			continue
		}
		d := Haversine(center.Lat, center.Lon, w.Loc.Lat, w.Loc.Lon)
		if d > radiusMiles*metersPerMile {
			continue
		}
		arr = append(arr, pair{w, d})
	}
	sort.Slice(arr, func(i, j int) bool { return arr[i].dist < arr[j].dist })
	out := make([]models.Worker, 0, len(arr))
	for _, p := range arr {
		out = append(out, p.w)
	}
	return out
}

// Haversine distance in meters.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}

// Miles converts a meter distance to miles.
func Miles(meters float64) float64 { return meters / metersPerMile }

// MilesToMeters converts a mile radius to meters.
func MilesToMeters(miles float64) float64 { return miles * metersPerMile }

package geo

import (
	"math"
	"sync"
	"time"

	"github.com/example/order-dispatch/internal/models"
)

// DriverIndex answers "who is near this pickup" for the assignment engine.
// Implementations must never return drivers without a known location.
type DriverIndex interface {
	Upsert(d models.Driver)
	Remove(driverID int64)
	Near(lat, lon, radiusKm float64, limit int) []models.Candidate
}

// Index is a mutex-guarded in-memory implementation. Fine for a single
// instance and for tests; production wiring uses the Redis variant.
type Index struct {
	mu      sync.RWMutex
	drivers map[int64]models.Driver
}

func NewIndex() *Index {
	return &Index{drivers: make(map[int64]models.Driver)}
}

func (g *Index) Upsert(d models.Driver) {
	if d.Loc == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	d.LocUpdatedAt = time.Now()
	g.drivers[d.ID] = d
}

func (g *Index) Remove(driverID int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.drivers, driverID)
}

// Near scans all known drivers and returns those within radiusKm, closest
// first. Naive scan; a production pool of a few hundred drivers does not
// justify a geo-hash here.
func (g *Index) Near(lat, lon, radiusKm float64, limit int) []models.Candidate {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]models.Candidate, 0, limit)
	for _, d := range g.drivers {
		if d.Loc == nil {
			continue
		}
		dist := DistanceKm(lat, lon, d.Loc.Lat, d.Loc.Lon)
		if dist > radiusKm {
			continue
		}
		out = append(out, models.Candidate{Driver: d, DistanceKm: dist})
	}
	SortByDistance(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// SortByDistance orders candidates ascending by distance, breaking ties by
// descending rating so the better-rated driver is offered first.
func SortByDistance(cands []models.Candidate) {
	for i := 1; i < len(cands); i++ {
		for j := i; j > 0 && less(cands[j], cands[j-1]); j-- {
			cands[j], cands[j-1] = cands[j-1], cands[j]
		}
	}
}

func less(a, b models.Candidate) bool {
	if a.DistanceKm != b.DistanceKm {
		return a.DistanceKm < b.DistanceKm
	}
	return a.Rating > b.Rating
}

// DistanceKm is the haversine great-circle distance in kilometers, rounded
// to two decimals.
func DistanceKm(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return math.Round(R*c*100) / 100
}

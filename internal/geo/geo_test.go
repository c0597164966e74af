package geo

import (
	"testing"

	"github.com/example/order-dispatch/internal/models"
)

func TestDistanceKmZero(t *testing.T) {
	if d := DistanceKm(6.9271, 79.8612, 6.9271, 79.8612); d != 0 {
		t.Fatalf("expected 0, got %f", d)
	}
}

func TestDistanceKmSymmetric(t *testing.T) {
	a := DistanceKm(6.9271, 79.8612, 6.9290, 79.8640)
	b := DistanceKm(6.9290, 79.8640, 6.9271, 79.8612)
	if a != b {
		t.Fatalf("expected symmetry, got %f vs %f", a, b)
	}
	if a < 0.3 || a > 0.4 {
		t.Fatalf("expected ~0.34km, got %f", a)
	}
}

func TestIndexNearFiltersByRadius(t *testing.T) {
	idx := NewIndex()
	idx.Upsert(models.Driver{ID: 1, Rating: 4.5, Loc: &models.Coord{Lat: 6.9290, Lon: 79.8640}})
	idx.Upsert(models.Driver{ID: 2, Rating: 4.9, Loc: &models.Coord{Lat: 7.2906, Lon: 80.6337}}) // Kandy, ~94km
	got := idx.Near(6.9271, 79.8612, 2.0, 10)
	if len(got) != 1 || got[0].ID != 1 {
		t.Fatalf("expected only driver 1 within 2km, got %+v", got)
	}
}

func TestIndexIgnoresDriversWithoutLocation(t *testing.T) {
	idx := NewIndex()
	idx.Upsert(models.Driver{ID: 7, Rating: 5})
	if got := idx.Near(0, 0, 100, 10); len(got) != 0 {
		t.Fatalf("driver without location must never be ranked, got %+v", got)
	}
}

func TestSortByDistanceRatingTiebreak(t *testing.T) {
	cands := []models.Candidate{
		{Driver: models.Driver{ID: 1, Rating: 4.5}, DistanceKm: 1.0},
		{Driver: models.Driver{ID: 2, Rating: 4.8}, DistanceKm: 1.0},
		{Driver: models.Driver{ID: 3, Rating: 3.0}, DistanceKm: 0.5},
	}
	SortByDistance(cands)
	if cands[0].ID != 3 || cands[1].ID != 2 || cands[2].ID != 1 {
		t.Fatalf("unexpected order: %d %d %d", cands[0].ID, cands[1].ID, cands[2].ID)
	}
}

func TestEstimateFareUnknownClassUsesMidTier(t *testing.T) {
	known := EstimateFare(models.ServiceRide, "car", 5)
	unknown := EstimateFare(models.ServiceRide, "hovercraft", 5)
	if known != unknown {
		t.Fatalf("unknown class should price as mid tier: %f vs %f", known, unknown)
	}
	if got := EstimateFare(models.ServiceParcel, "small", 2); got != 160 {
		t.Fatalf("small parcel over 2km: expected 160, got %f", got)
	}
}

func TestEstimateDurationMin(t *testing.T) {
	if got := EstimateDurationMin(30, 30); got != 60 {
		t.Fatalf("expected 60min, got %d", got)
	}
	if got := EstimateDurationMin(1, 0); got < 1 {
		t.Fatalf("zero speed must fall back to default, got %d", got)
	}
}

package storage

import (
	"testing"
	"time"

	"github.com/example/order-dispatch/internal/models"
)

func newSearchingOrder(t *testing.T, s *MemoryLiveOrders, orderID int64) *models.LiveOrder {
	t.Helper()
	o := &models.LiveOrder{
		OrderID:         orderID,
		Kind:            models.ServiceRide,
		CustomerID:      9,
		Pickup:          models.Coord{Lat: 6.9271, Lon: 79.8612},
		MaxRadiusKm:     10,
		CurrentRadiusKm: 2,
		Status:          models.StatusSearching,
		ExpiresAt:       time.Now().Add(10 * time.Minute),
	}
	if err := s.Create(o); err != nil {
		t.Fatalf("create: %v", err)
	}
	return o
}

func TestAssignIsExclusive(t *testing.T) {
	s := NewMemoryLiveOrders()
	o := newSearchingOrder(t, s, 100)

	_, won, err := s.Assign(models.ServiceRide, 100, 1)
	if err != nil || !won {
		t.Fatalf("first accept should win: won=%v err=%v", won, err)
	}
	got, won, err := s.Assign(models.ServiceRide, 100, 2)
	if err != nil {
		t.Fatalf("second accept: %v", err)
	}
	if won {
		t.Fatal("second accept must lose the race")
	}
	if got.AcceptedDriverID != 1 || got.Status != models.StatusAccepted {
		t.Fatalf("winner overwritten: %+v", got)
	}
	_ = o
}

func TestRadiusMonotonicAndCapped(t *testing.T) {
	s := NewMemoryLiveOrders()
	o := newSearchingOrder(t, s, 101)

	if err := s.UpdateRadius(o.ID, 4); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateRadius(o.ID, 1); err != nil { // decrease ignored
		t.Fatal(err)
	}
	if err := s.UpdateRadius(o.ID, 50); err != nil { // capped at max
		t.Fatal(err)
	}
	got, _ := s.Get(o.ID)
	if got.CurrentRadiusKm != 10 {
		t.Fatalf("expected radius capped at 10, got %f", got.CurrentRadiusKm)
	}
}

func TestMarkExpiredOnlyFromSearching(t *testing.T) {
	s := NewMemoryLiveOrders()
	o := newSearchingOrder(t, s, 102)
	if _, won, _ := s.Assign(models.ServiceRide, 102, 5); !won {
		t.Fatal("accept should win")
	}
	if err := s.MarkExpired(o.ID); err != nil {
		t.Fatal(err)
	}
	got, _ := s.Get(o.ID)
	if got.Status != models.StatusAccepted {
		t.Fatalf("accepted order must not expire, got %s", got.Status)
	}
}

func TestExpireOverdueClosesOnlyOpenPastExpiry(t *testing.T) {
	s := NewMemoryNotifications()
	now := time.Now()
	overdue := &models.Notification{DriverID: 1, OrderID: 1, Kind: models.ServiceRide, ExpiresAt: now.Add(-time.Minute)}
	fresh := &models.Notification{DriverID: 2, OrderID: 1, Kind: models.ServiceRide, ExpiresAt: now.Add(time.Minute)}
	accepted := &models.Notification{DriverID: 3, OrderID: 2, Kind: models.ServiceRide, ExpiresAt: now.Add(-time.Minute)}
	for _, n := range []*models.Notification{overdue, fresh, accepted} {
		if err := s.Create(n); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.MarkAccepted(accepted.ID, now); err != nil {
		t.Fatal(err)
	}

	count, err := s.ExpireOverdue(now)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("expected exactly 1 expired, got %d", count)
	}
	got, _ := s.Get(overdue.ID)
	if !got.IsRejected || got.IsAccepted {
		t.Fatalf("overdue notification must be swept to rejected: %+v", got)
	}
	got, _ = s.Get(accepted.ID)
	if got.IsRejected {
		t.Fatal("accepted notification must never be re-flagged")
	}
}

func TestMarkRejectedDoesNotFlipAccepted(t *testing.T) {
	s := NewMemoryNotifications()
	n := &models.Notification{DriverID: 1, OrderID: 1, Kind: models.ServiceFood, ExpiresAt: time.Now().Add(time.Minute)}
	if err := s.Create(n); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkAccepted(n.ID, time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkRejected(n.ID, time.Now()); err != nil {
		t.Fatal(err)
	}
	got, _ := s.Get(n.ID)
	if !got.IsAccepted || got.IsRejected {
		t.Fatalf("flags must stay mutually exclusive: %+v", got)
	}
}

func TestListStaleSearching(t *testing.T) {
	s := NewMemoryLiveOrders()
	o := newSearchingOrder(t, s, 103)
	stale, err := s.ListStaleSearching(time.Now().Add(time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if len(stale) != 1 || stale[0].ID != o.ID {
		t.Fatalf("expected the searching order, got %+v", stale)
	}
	if _, won, _ := s.Assign(models.ServiceRide, 103, 4); !won {
		t.Fatal("accept should win")
	}
	stale, _ = s.ListStaleSearching(time.Now().Add(time.Second))
	if len(stale) != 0 {
		t.Fatal("accepted orders are not stale")
	}
}

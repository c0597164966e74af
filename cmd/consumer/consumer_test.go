package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/order-dispatch/internal/ingest"
)

// fakeUpdater implements RedisUpdater for tests
type fakeUpdater struct {
	failGeo  int // number of times to fail GeoAdd before succeeding
	failH    int // number of times to fail HSet before succeeding
	geoCalls int
	hCalls   int
	lastGeo  *redis.GeoLocation
	lastMeta map[string]interface{}
	lastKey  string
}

func (f *fakeUpdater) GeoAdd(ctx context.Context, key string, loc *redis.GeoLocation) error {
	f.geoCalls++
	f.lastGeo = loc
	if f.geoCalls <= f.failGeo {
		return errors.New("geo fail")
	}
	return nil
}

func (f *fakeUpdater) HSet(ctx context.Context, key string, values map[string]interface{}) error {
	f.hCalls++
	f.lastKey = key
	f.lastMeta = values
	if f.hCalls <= f.failH {
		return errors.New("hset fail")
	}
	return nil
}

func update(driverID int64) *ingest.LocationUpdate {
	return &ingest.LocationUpdate{
		DriverID: driverID, Lat: 6.9271, Lon: 79.8612,
		VehicleClass: "tuk", Rating: 4.5,
		Available: true, Verified: true, Active: true,
		Availability: "online",
	}
}

func TestUpdateRedisWithRetry_SucceedsAfterRetries(t *testing.T) {
	f := &fakeUpdater{failGeo: 1, failH: 1}
	start := time.Now()
	if err := updateRedisWithRetry(context.Background(), f, "drivers_geo", update(7), 3, 10*time.Millisecond); err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if f.geoCalls < 2 || f.hCalls < 2 {
		t.Fatalf("expected retries, got geo=%d h=%d", f.geoCalls, f.hCalls)
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Fatalf("expected at least one backoff")
	}
}

func TestUpdateRedisWithRetry_FailsWhenExhausted(t *testing.T) {
	f := &fakeUpdater{failGeo: 5, failH: 0}
	if err := updateRedisWithRetry(context.Background(), f, "drivers_geo", update(7), 3, 5*time.Millisecond); err == nil {
		t.Fatalf("expected error after retries")
	}
}

func TestUpdateRedisWritesIndexSchema(t *testing.T) {
	f := &fakeUpdater{}
	if err := updateRedisWithRetry(context.Background(), f, "drivers_geo", update(42), 1, time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if f.lastGeo == nil || f.lastGeo.Name != "42" {
		t.Fatalf("geo member should be the driver id, got %+v", f.lastGeo)
	}
	if f.lastKey != "driver:meta:42" {
		t.Fatalf("wrong meta key %q", f.lastKey)
	}
	for _, field := range []string{"rating", "class", "available", "verified", "active", "availability"} {
		if _, ok := f.lastMeta[field]; !ok {
			t.Fatalf("meta hash missing %q: %v", field, f.lastMeta)
		}
	}
	if f.lastMeta["class"] != "tuk" || f.lastMeta["available"] != "true" {
		t.Fatalf("unexpected meta values: %v", f.lastMeta)
	}
}

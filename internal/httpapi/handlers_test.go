package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/example/order-dispatch/internal/auth"
	"github.com/example/order-dispatch/internal/engine"
	"github.com/example/order-dispatch/internal/geo"
	"github.com/example/order-dispatch/internal/logging"
	"github.com/example/order-dispatch/internal/models"
	"github.com/example/order-dispatch/internal/registry"
	"github.com/example/order-dispatch/internal/storage"
)

type apiFixture struct {
	srv     *httptest.Server
	idx     *geo.Index
	live    *storage.MemoryLiveOrders
	notes   *storage.MemoryNotifications
	orders  *storage.MemoryOrders
	drivers *storage.MemoryDrivers
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	log := logging.NewLogger("error")
	f := &apiFixture{
		idx:     geo.NewIndex(),
		live:    storage.NewMemoryLiveOrders(),
		notes:   storage.NewMemoryNotifications(),
		orders:  storage.NewMemoryOrders(),
		drivers: storage.NewMemoryDrivers(),
	}
	cfg := engine.Config{
		InitialRadiusKm: 2, RadiusStepKm: 2, DefaultMaxRadius: 10,
		NotificationTTL: time.Minute, OrderSearchTTL: 10 * time.Minute,
	}
	eng := engine.New(cfg, f.idx, f.live, f.notes, f.orders, registry.New(), nil, log)
	s := NewServer(Deps{
		Engine:  eng,
		Live:    f.live,
		Notes:   f.notes,
		Orders:  f.orders,
		Drivers: f.drivers,
		Idx:     f.idx,
		Tokens:  auth.NewManager("test-secret", time.Minute),
		Logger:  log,
	})
	f.srv = httptest.NewServer(s)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *apiFixture) postJSON(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	raw, _ := json.Marshal(body)
	resp, err := http.Post(f.srv.URL+path, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestCreateOrderOpensDispatch(t *testing.T) {
	f := newAPIFixture(t)
	resp := f.postJSON(t, "/api/v1/orders", map[string]any{
		"service_type": "taxi",
		"customer_id":  42,
		"pickup":       map[string]float64{"lat": 6.9271, "lon": 79.8612},
		"dropoff":      map[string]float64{"lat": 6.9290, "lon": 79.8640},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["status"] != string(models.StatusSearching) && body["status"] != string(models.StatusExpired) {
		t.Fatalf("unexpected status %v", body["status"])
	}
	orderID := int64(body["order_id"].(float64))
	if _, err := f.orders.Get(models.ServiceRide, orderID); err != nil {
		t.Fatalf("business order missing: %v", err)
	}
	if _, err := f.live.GetByOrder(models.ServiceRide, orderID); err != nil {
		t.Fatalf("live order missing: %v", err)
	}
}

func TestCreateOrderRejectsUnknownServiceType(t *testing.T) {
	f := newAPIFixture(t)
	resp := f.postJSON(t, "/api/v1/orders", map[string]any{
		"service_type": "helicopter",
		"customer_id":  1,
		"pickup":       map[string]float64{"lat": 6.9, "lon": 79.8},
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestDispatchStatusReflectsLiveOrder(t *testing.T) {
	f := newAPIFixture(t)
	resp := f.postJSON(t, "/api/v1/orders", map[string]any{
		"service_type": "food",
		"customer_id":  7,
		"pickup":       map[string]float64{"lat": 6.9271, "lon": 79.8612},
	})
	orderID := int64(decodeBody(t, resp)["order_id"].(float64))

	status, err := http.Get(fmt.Sprintf("%s/api/v1/orders/food/%d/dispatch", f.srv.URL, orderID))
	if err != nil {
		t.Fatal(err)
	}
	defer status.Body.Close()
	if status.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", status.StatusCode)
	}
	body := decodeBody(t, status)
	if body["order_id"].(float64) != float64(orderID) {
		t.Fatalf("wrong order in status: %v", body)
	}

	missing, err := http.Get(f.srv.URL + "/api/v1/orders/food/999999/dispatch")
	if err != nil {
		t.Fatal(err)
	}
	defer missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown order, got %d", missing.StatusCode)
	}
}

func TestNotificationLedgerServesOfflineDriver(t *testing.T) {
	f := newAPIFixture(t)
	f.drivers.Put(&models.Driver{
		ID: 9, VehicleClass: "car", Rating: 4.5,
		Available: true, Verified: true, Active: true,
		Availability: models.AvailabilityOnline,
		Loc:          &models.Coord{Lat: 6.9290, Lon: 79.8640},
	})
	f.idx.Upsert(models.Driver{
		ID: 9, VehicleClass: "car", Rating: 4.5,
		Available: true, Verified: true, Active: true,
		Availability: models.AvailabilityOnline,
		Loc:          &models.Coord{Lat: 6.9290, Lon: 79.8640},
	})
	// no websocket session: the push is skipped but the ledger row persists
	f.postJSON(t, "/api/v1/orders", map[string]any{
		"service_type": "ride",
		"customer_id":  3,
		"pickup":       map[string]float64{"lat": 6.9271, "lon": 79.8612},
	})

	resp, err := http.Get(f.srv.URL + "/api/v1/drivers/9/notifications")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body := decodeBody(t, resp)
	notes, ok := body["notifications"].([]any)
	if !ok || len(notes) != 1 {
		t.Fatalf("expected one ledger row, got %v", body)
	}
	first := notes[0].(map[string]any)
	if first["type"] != "new_ride_request" {
		t.Fatalf("unexpected notification type %v", first["type"])
	}
}

func TestMintTokenKnownDriverOnly(t *testing.T) {
	f := newAPIFixture(t)
	f.drivers.Put(&models.Driver{ID: 4, Availability: models.AvailabilityOnline})

	resp := f.postJSON(t, "/api/v1/drivers/4/token", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if tok, _ := decodeBody(t, resp)["token"].(string); tok == "" {
		t.Fatal("empty token")
	}

	unknown := f.postJSON(t, "/api/v1/drivers/555/token", nil)
	if unknown.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown driver, got %d", unknown.StatusCode)
	}
}

func TestDriverLocationIngestFeedsIndex(t *testing.T) {
	f := newAPIFixture(t)
	resp := f.postJSON(t, "/internal/driver/locations", map[string]any{
		"driver_id": 12, "lat": 6.9290, "lon": 79.8640,
		"vehicle_class": "bike", "rating": 4.9,
		"available": true, "verified": true, "active": true,
	})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	cands := f.idx.Near(6.9271, 79.8612, 2.0, 10)
	if len(cands) != 1 || cands[0].ID != 12 {
		t.Fatalf("ingested driver not in index: %v", cands)
	}
}

func TestHealthz(t *testing.T) {
	f := newAPIFixture(t)
	resp, err := http.Get(f.srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

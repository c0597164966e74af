package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/order-dispatch/internal/auth"
	"github.com/example/order-dispatch/internal/engine"
	"github.com/example/order-dispatch/internal/geo"
	"github.com/example/order-dispatch/internal/ingest"
	"github.com/example/order-dispatch/internal/models"
	"github.com/example/order-dispatch/internal/storage"
	"github.com/example/order-dispatch/internal/ws"
)

// Deps is everything the HTTP layer needs, wired once in main and injected
// here rather than pulled from process-wide state.
type Deps struct {
	Engine  *engine.Engine
	Live    storage.LiveOrderStore
	Notes   storage.NotificationStore
	Orders  storage.OrderStore
	Drivers storage.DriverStore
	Idx     geo.DriverIndex
	Tokens  *auth.Manager
	Kafka   *ingest.KafkaProducer // nil when not configured
	WS      *ws.Handler
	Logger  *slog.Logger
}

type Server struct {
	deps   Deps
	logger *slog.Logger
	mux    *mux.Router
}

func NewServer(deps Deps) *Server {
	s := &Server{deps: deps, logger: deps.Logger, mux: mux.NewRouter()}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/v1/orders", s.handleCreateOrder).Methods("POST")
	s.mux.HandleFunc("/api/v1/orders/{kind}/{id}/dispatch", s.handleDispatchStatus).Methods("GET")
	s.mux.HandleFunc("/api/v1/drivers/{id}/notifications", s.handleDriverNotifications).Methods("GET")
	s.mux.HandleFunc("/api/v1/drivers/{id}/token", s.handleMintToken).Methods("POST")
	s.mux.HandleFunc("/internal/driver/locations", s.handleDriverLocation).Methods("POST")
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	if s.deps.WS != nil {
		s.mux.HandleFunc("/ws/drivers/{driver_id}", s.deps.WS.HandleConnect)
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

type createOrderRequest struct {
	ServiceType  string        `json:"service_type"`
	CustomerID   int64         `json:"customer_id"`
	Pickup       models.Coord  `json:"pickup"`
	Dropoff      *models.Coord `json:"dropoff,omitempty"`
	VehicleClass string        `json:"vehicle_class,omitempty"`
	MaxRadiusKm  float64       `json:"max_radius_km,omitempty"`
	Priority     int           `json:"priority,omitempty"`
}

// handleCreateOrder is the CRUD layer's entry into dispatch: it persists
// the business record and opens the live order. A failed live-order insert
// fails the whole request; an order without a dispatch record is useless.
func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	kind, ok := models.ParseServiceKind(req.ServiceType)
	if !ok {
		http.Error(w, "unknown service_type", http.StatusBadRequest)
		return
	}
	if req.Pickup.Lat == 0 && req.Pickup.Lon == 0 {
		http.Error(w, "pickup coordinates required", http.StatusBadRequest)
		return
	}

	order := &models.Order{
		Kind:       kind,
		CustomerID: req.CustomerID,
		Status:     "pending",
		Pickup:     req.Pickup,
		Dropoff:    req.Dropoff,
	}
	if err := s.deps.Orders.Create(order); err != nil {
		s.logger.Error("order insert failed", "kind", kind, "error", err)
		http.Error(w, "order creation failed", http.StatusInternalServerError)
		return
	}

	lo, err := s.deps.Engine.CreateLiveOrder(engine.OrderParams{
		OrderID:      order.ID,
		Kind:         kind,
		CustomerID:   req.CustomerID,
		Pickup:       req.Pickup,
		Dropoff:      req.Dropoff,
		VehicleClass: req.VehicleClass,
		MaxRadiusKm:  req.MaxRadiusKm,
		Priority:     req.Priority,
	})
	if err != nil {
		http.Error(w, "dispatch open failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"order_id":      order.ID,
		"live_order_id": lo.ID,
		"status":        lo.Status,
	})
}

func (s *Server) handleDispatchStatus(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	kind, ok := models.ParseServiceKind(vars["kind"])
	if !ok {
		http.Error(w, "unknown service kind", http.StatusBadRequest)
		return
	}
	orderID, err := strconv.ParseInt(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "bad order id", http.StatusBadRequest)
		return
	}
	lo, err := s.deps.Live.GetByOrder(kind, orderID)
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"live_order_id":      lo.ID,
		"order_id":           lo.OrderID,
		"service_type":       lo.Kind,
		"status":             lo.Status,
		"current_radius_km":  lo.CurrentRadiusKm,
		"max_radius_km":      lo.MaxRadiusKm,
		"notified_drivers":   len(lo.NotifiedDrivers),
		"rejected_drivers":   len(lo.RejectedDrivers),
		"accepted_driver_id": lo.AcceptedDriverID,
		"expires_at":         lo.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

// handleDriverNotifications serves the ledger to drivers without a live
// channel; offline drivers poll this instead of receiving pushes.
func (s *Server) handleDriverNotifications(w http.ResponseWriter, r *http.Request) {
	driverID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		http.Error(w, "bad driver id", http.StatusBadRequest)
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}
	notes, err := s.deps.Notes.ListForDriver(driverID, limit)
	if err != nil {
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}
	out := make([]map[string]any, 0, len(notes))
	for _, n := range notes {
		out = append(out, map[string]any{
			"id":          n.ID,
			"type":        n.Type,
			"title":       n.Title,
			"message":     n.Message,
			"order_id":    n.OrderID,
			"service_type": n.Kind,
			"priority":    n.Priority,
			"is_accepted": n.IsAccepted,
			"is_rejected": n.IsRejected,
			"expires_at":  n.ExpiresAt.UTC().Format(time.RFC3339),
			"metadata":    n.Metadata,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": out})
}

// handleMintToken issues the short-lived credential the realtime channel
// requires. In production this sits behind the login flow; the endpoint is
// the thin stand-in for it.
func (s *Server) handleMintToken(w http.ResponseWriter, r *http.Request) {
	driverID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || driverID <= 0 {
		http.Error(w, "bad driver id", http.StatusBadRequest)
		return
	}
	if _, err := s.deps.Drivers.Get(driverID); errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "unknown driver", http.StatusNotFound)
		return
	} else if err != nil {
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}
	tok, err := s.deps.Tokens.Mint(driverID)
	if err != nil {
		http.Error(w, "token mint failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": tok})
}

type driverLocationRequest struct {
	DriverID     int64   `json:"driver_id"`
	Lat          float64 `json:"lat"`
	Lon          float64 `json:"lon"`
	VehicleClass string  `json:"vehicle_class,omitempty"`
	Rating       float64 `json:"rating,omitempty"`
	Available    bool    `json:"available"`
	Verified     bool    `json:"verified"`
	Active       bool    `json:"active"`
	Availability string  `json:"availability,omitempty"`
}

// handleDriverLocation is the HTTP ingest path for driver positions, used
// by fleet tooling; driver apps report over the websocket instead. Updates
// fan out to kafka (when configured) and the geo index.
func (s *Server) handleDriverLocation(w http.ResponseWriter, r *http.Request) {
	var req driverLocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.DriverID <= 0 {
		http.Error(w, "driver_id required", http.StatusBadRequest)
		return
	}
	availability := models.Availability(req.Availability)
	if !availability.Valid() {
		availability = models.AvailabilityOnline
	}
	now := time.Now()
	if err := s.deps.Drivers.SetLocation(req.DriverID, models.Coord{Lat: req.Lat, Lon: req.Lon}, now); err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.logger.Error("driver location persist failed", "driver_id", req.DriverID, "error", err)
	}
	s.deps.Idx.Upsert(models.Driver{
		ID:           req.DriverID,
		VehicleClass: req.VehicleClass,
		Rating:       req.Rating,
		Available:    req.Available,
		Verified:     req.Verified,
		Active:       req.Active,
		Availability: availability,
		Loc:          &models.Coord{Lat: req.Lat, Lon: req.Lon},
		LocUpdatedAt: now,
	})
	if s.deps.Kafka != nil {
		if err := s.deps.Kafka.PublishLocation(ingest.LocationUpdate{
			DriverID: req.DriverID, Lat: req.Lat, Lon: req.Lon,
			VehicleClass: req.VehicleClass, Rating: req.Rating,
			Available: req.Available, Verified: req.Verified, Active: req.Active,
			Availability: string(availability), RecordedAt: now.UnixMilli(),
		}); err != nil {
			s.logger.Warn("location publish failed", "driver_id", req.DriverID, "error", err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

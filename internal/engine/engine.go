package engine

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/example/order-dispatch/internal/geo"
	"github.com/example/order-dispatch/internal/models"
	"github.com/example/order-dispatch/internal/notify"
	"github.com/example/order-dispatch/internal/observability"
	"github.com/example/order-dispatch/internal/storage"
)

// Pusher delivers a payload over a driver's live channel. A false return
// means the driver is offline; the notification ledger covers them.
type Pusher interface {
	Send(driverID int64, v any) bool
}

type Config struct {
	InitialRadiusKm  float64
	RadiusStepKm     float64
	DefaultMaxRadius float64
	NotifyTopN       int
	CandidateLimit   int
	NotificationTTL  time.Duration
	OrderSearchTTL   time.Duration
	ExpandRetryDelay time.Duration
	RejectRetryDelay time.Duration
	DefaultSpeedKmh  float64
}

// Engine runs the live dispatch loop: candidate selection, notification
// fan-out, radius expansion and exclusive acceptance. One engine is
// constructed at process start and injected into the HTTP and websocket
// layers.
type Engine struct {
	cfg    Config
	idx    geo.DriverIndex
	live   storage.LiveOrderStore
	notes  storage.NotificationStore
	orders storage.OrderStore
	push   Pusher
	mailer notify.Sender
	log    *slog.Logger

	// schedule defaults to time.AfterFunc; tests swap it for an inline call.
	schedule func(d time.Duration, f func())
}

func New(cfg Config, idx geo.DriverIndex, live storage.LiveOrderStore, notes storage.NotificationStore,
	orders storage.OrderStore, push Pusher, mailer notify.Sender, log *slog.Logger) *Engine {
	if cfg.NotifyTopN <= 0 {
		cfg.NotifyTopN = 3
	}
	if cfg.CandidateLimit <= 0 {
		cfg.CandidateLimit = 50
	}
	if mailer == nil {
		mailer = notify.NopSender{}
	}
	return &Engine{
		cfg:    cfg,
		idx:    idx,
		live:   live,
		notes:  notes,
		orders: orders,
		push:   push,
		mailer: mailer,
		log:    log,
		schedule: func(d time.Duration, f func()) {
			time.AfterFunc(d, f)
		},
	}
}

// OrderParams carries what the order-creation handler knows when it opens
// dispatch for a freshly created business record.
type OrderParams struct {
	OrderID      int64
	Kind         models.ServiceKind
	CustomerID   int64
	Pickup       models.Coord
	Dropoff      *models.Coord
	VehicleClass string
	MaxRadiusKm  float64
	Priority     int
}

// CreateLiveOrder opens the dispatch record and runs the first assignment
// round. The insert error propagates: an order without a live dispatch
// record must fail creation upstream. Round errors do not.
func (e *Engine) CreateLiveOrder(p OrderParams) (*models.LiveOrder, error) {
	if p.MaxRadiusKm <= 0 {
		p.MaxRadiusKm = e.cfg.DefaultMaxRadius
	}
	initial := e.cfg.InitialRadiusKm
	if initial > p.MaxRadiusKm {
		initial = p.MaxRadiusKm
	}
	lo := &models.LiveOrder{
		OrderID:         p.OrderID,
		Kind:            p.Kind,
		CustomerID:      p.CustomerID,
		Pickup:          p.Pickup,
		Dropoff:         p.Dropoff,
		VehicleClass:    p.VehicleClass,
		MaxRadiusKm:     p.MaxRadiusKm,
		CurrentRadiusKm: initial,
		Status:          models.StatusSearching,
		Priority:        p.Priority,
		ExpiresAt:       time.Now().Add(e.cfg.OrderSearchTTL),
	}
	if err := e.live.Create(lo); err != nil {
		e.log.Error("live order insert failed", "order_id", p.OrderID, "kind", p.Kind, "error", err)
		return nil, fmt.Errorf("create live order: %w", err)
	}
	e.log.Info("dispatch opened", "live_order_id", lo.ID, "order_id", lo.OrderID, "kind", lo.Kind)
	e.Assign(lo.ID)
	return lo, nil
}

// Assign runs one notification round for a searching order. The early
// status check defends against rounds racing a concurrent acceptance or
// expiry; it is best effort, the store's conditional Assign is the real
// arbiter.
func (e *Engine) Assign(liveOrderID int64) {
	lo, err := e.live.Get(liveOrderID)
	if err != nil {
		e.log.Error("live order load failed", "live_order_id", liveOrderID, "error", err)
		return
	}
	if lo.Status != models.StatusSearching {
		return
	}

	cands := e.idx.Near(lo.Pickup.Lat, lo.Pickup.Lon, lo.CurrentRadiusKm, e.cfg.CandidateLimit)
	picked := make([]models.Candidate, 0, e.cfg.NotifyTopN)
	for _, c := range cands {
		if lo.WasNotified(c.ID) || lo.HasRejected(c.ID) {
			continue
		}
		if !c.Dispatchable() {
			continue
		}
		if lo.VehicleClass != "" && c.VehicleClass != lo.VehicleClass {
			continue
		}
		picked = append(picked, c)
		if len(picked) == e.cfg.NotifyTopN {
			break
		}
	}

	if len(picked) == 0 {
		e.expandRadius(lo)
		return
	}

	notified := make([]int64, 0, len(picked))
	for _, c := range picked {
		n := e.buildNotification(lo, c)
		if err := e.notes.Create(n); err != nil {
			e.log.Error("notification insert failed", "live_order_id", lo.ID, "driver_id", c.ID, "error", err)
			continue
		}
		observability.NotificationsSent.Inc()
		if !e.push.Send(c.ID, e.buildPush(lo, n, c)) {
			e.log.Debug("driver offline, notification queued for polling", "driver_id", c.ID, "notification_id", n.ID)
		}
		e.mailer.NotifyDriver(c.ID, n)
		notified = append(notified, c.ID)
	}
	if len(notified) == 0 {
		return
	}
	if err := e.live.AppendNotified(lo.ID, notified); err != nil {
		e.log.Error("notified list update failed", "live_order_id", lo.ID, "error", err)
	}
	e.log.Info("candidates notified", "live_order_id", lo.ID, "drivers", notified, "radius_km", lo.CurrentRadiusKm)
}

// expandRadius widens the search by one step and schedules a retry, or
// expires the order once the ceiling is reached with an empty round. The
// retry delay avoids a busy loop against a momentarily empty pool.
func (e *Engine) expandRadius(lo *models.LiveOrder) {
	if lo.CurrentRadiusKm >= lo.MaxRadiusKm {
		if err := e.live.MarkExpired(lo.ID); err != nil {
			e.log.Error("expire failed", "live_order_id", lo.ID, "error", err)
			return
		}
		observability.OrdersExpired.Inc()
		e.log.Info("dispatch exhausted, no drivers found", "live_order_id", lo.ID, "order_id", lo.OrderID, "max_radius_km", lo.MaxRadiusKm)
		return
	}
	newRadius := lo.CurrentRadiusKm + e.cfg.RadiusStepKm
	if newRadius > lo.MaxRadiusKm {
		newRadius = lo.MaxRadiusKm
	}
	if err := e.live.UpdateRadius(lo.ID, newRadius); err != nil {
		e.log.Error("radius update failed", "live_order_id", lo.ID, "error", err)
		return
	}
	observability.RadiusExpansions.Inc()
	e.log.Info("search radius expanded", "live_order_id", lo.ID, "radius_km", newRadius)
	id := lo.ID
	e.schedule(e.cfg.ExpandRetryDelay, func() { e.Assign(id) })
}

// HandleAcceptance resolves a driver's accept message. The store's
// conditional Assign decides the race; the loser gets an explicit
// order_unavailable push rather than a silent overwrite.
func (e *Engine) HandleAcceptance(driverID, notificationID, orderID int64, kind models.ServiceKind) {
	n, err := e.notes.Get(notificationID)
	if err != nil {
		e.log.Warn("accept for unknown notification", "notification_id", notificationID, "driver_id", driverID, "error", err)
		return
	}
	if n.DriverID != driverID || n.OrderID != orderID || n.Kind != kind {
		e.log.Warn("accept does not match notification", "notification_id", notificationID, "driver_id", driverID, "order_id", orderID)
		return
	}

	lo, won, err := e.live.Assign(kind, orderID, driverID)
	if err != nil {
		e.log.Error("conditional assign failed", "order_id", orderID, "kind", kind, "error", err)
		return
	}
	now := time.Now()
	if !won {
		observability.AcceptRaceLost.Inc()
		_ = e.notes.MarkRejected(notificationID, now)
		e.push.Send(driverID, map[string]any{
			"type":        "order_unavailable",
			"orderId":     orderID,
			"serviceType": kind,
			"timestamp":   now.UnixMilli(),
		})
		e.log.Info("acceptance lost race", "order_id", orderID, "driver_id", driverID, "winner", lo.AcceptedDriverID)
		return
	}

	if err := e.notes.MarkAccepted(notificationID, now); err != nil {
		e.log.Error("notification accept flag failed", "notification_id", notificationID, "error", err)
	}
	if err := e.orders.AssignDriver(kind, orderID, driverID); err != nil {
		e.log.Error("business record write-back failed", "order_id", orderID, "kind", kind, "error", err)
	}
	// Foreclose every sibling so only the winner holds an open offer.
	siblings, err := e.notes.ListOpenByOrder(kind, orderID)
	if err != nil {
		e.log.Error("sibling lookup failed", "order_id", orderID, "error", err)
	}
	for _, sib := range siblings {
		if sib.ID == notificationID {
			continue
		}
		if err := e.notes.MarkRejected(sib.ID, now); err != nil {
			e.log.Error("sibling foreclosure failed", "notification_id", sib.ID, "error", err)
		}
	}
	observability.OrdersAccepted.Inc()
	e.log.Info("order accepted", "live_order_id", lo.ID, "order_id", orderID, "driver_id", driverID)
}

// HandleRejection records the refusal and retries the round after a short
// delay, giving the other in-flight notifications from the same round a
// chance to resolve first.
func (e *Engine) HandleRejection(driverID, notificationID, orderID int64, kind models.ServiceKind) {
	n, err := e.notes.Get(notificationID)
	if err != nil {
		e.log.Warn("reject for unknown notification", "notification_id", notificationID, "driver_id", driverID, "error", err)
		return
	}
	if n.DriverID != driverID || n.OrderID != orderID || n.Kind != kind {
		e.log.Warn("reject does not match notification", "notification_id", notificationID, "driver_id", driverID, "order_id", orderID)
		return
	}
	now := time.Now()
	if err := e.notes.MarkRejected(notificationID, now); err != nil {
		e.log.Error("notification reject flag failed", "notification_id", notificationID, "error", err)
	}
	lo, err := e.live.GetByOrder(kind, orderID)
	if err != nil {
		e.log.Error("live order lookup failed", "order_id", orderID, "kind", kind, "error", err)
		return
	}
	if err := e.live.AppendRejected(lo.ID, driverID); err != nil {
		e.log.Error("rejected list update failed", "live_order_id", lo.ID, "error", err)
	}
	e.log.Info("order rejected by driver", "live_order_id", lo.ID, "driver_id", driverID)
	id := lo.ID
	e.schedule(e.cfg.RejectRetryDelay, func() { e.Assign(id) })
}

func (e *Engine) buildNotification(lo *models.LiveOrder, c models.Candidate) *models.Notification {
	tripKm := 0.0
	if lo.Dropoff != nil {
		tripKm = geo.DistanceKm(lo.Pickup.Lat, lo.Pickup.Lon, lo.Dropoff.Lat, lo.Dropoff.Lon)
	}
	class := lo.VehicleClass
	if class == "" {
		class = c.VehicleClass
	}
	fare := geo.EstimateFare(lo.Kind, class, tripKm)
	durMin := geo.EstimateDurationMin(tripKm, e.cfg.DefaultSpeedKmh)

	meta := map[string]any{
		"pickup":                 lo.Pickup,
		"distance_km":            c.DistanceKm,
		"estimated_fare":         fare,
		"estimated_duration_min": durMin,
		"customer_id":            lo.CustomerID,
	}
	if lo.Dropoff != nil {
		meta["dropoff"] = *lo.Dropoff
	}
	if o, err := e.orders.Get(lo.Kind, lo.OrderID); err == nil {
		meta["customer_id"] = o.CustomerID
	}

	title, msg, typ := notificationText(lo.Kind, c.DistanceKm)
	return &models.Notification{
		DriverID:  c.ID,
		Type:      typ,
		Title:     title,
		Message:   msg,
		OrderID:   lo.OrderID,
		Kind:      lo.Kind,
		Priority:  "urgent",
		ExpiresAt: time.Now().Add(e.cfg.NotificationTTL),
		Channel:   "dispatch",
		Metadata:  meta,
	}
}

func notificationText(kind models.ServiceKind, distKm float64) (title, msg, typ string) {
	switch kind {
	case models.ServiceFood:
		return "New food delivery", fmt.Sprintf("Pickup %.2f km away. Accept to deliver this order.", distKm), "new_food_order"
	case models.ServiceParcel:
		return "New parcel delivery", fmt.Sprintf("Pickup %.2f km away. Accept to deliver this parcel.", distKm), "new_parcel_delivery"
	default:
		return "New ride request", fmt.Sprintf("Passenger %.2f km away. Accept to take this ride.", distKm), "new_ride_request"
	}
}

func (e *Engine) buildPush(lo *models.LiveOrder, n *models.Notification, c models.Candidate) models.OrderRequestPush {
	fare, _ := n.Metadata["estimated_fare"].(float64)
	durMin, _ := n.Metadata["estimated_duration_min"].(int)
	return models.OrderRequestPush{
		Type:           "new_order_request",
		NotificationID: n.ID,
		OrderID:        lo.OrderID,
		ServiceType:    lo.Kind,
		Title:          n.Title,
		Message:        n.Message,
		Distance:       c.DistanceKm,
		EstimatedFare:  fare,
		EstimatedMin:   durMin,
		ExpiresAt:      n.ExpiresAt.UTC().Format(time.RFC3339),
		Metadata:       n.Metadata,
		Priority:       n.Priority,
		Timestamp:      time.Now().UnixMilli(),
	}
}

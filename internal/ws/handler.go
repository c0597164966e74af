package ws

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/example/order-dispatch/internal/auth"
	"github.com/example/order-dispatch/internal/engine"
	"github.com/example/order-dispatch/internal/geo"
	"github.com/example/order-dispatch/internal/ingest"
	"github.com/example/order-dispatch/internal/models"
	"github.com/example/order-dispatch/internal/observability"
	"github.com/example/order-dispatch/internal/registry"
	"github.com/example/order-dispatch/internal/storage"
)

const (
	pingInterval = 30 * time.Second
	writeTimeout = 5 * time.Second
)

// Handler owns the driver realtime channel: token handshake, message
// routing into the engine, and session lifecycle against the registry.
type Handler struct {
	reg      *registry.Registry
	engine   *engine.Engine
	conns    storage.ConnectionStore
	drivers  storage.DriverStore
	idx      geo.DriverIndex
	tokens   *auth.Manager
	producer *ingest.KafkaProducer // nil when kafka is not configured
	log      *slog.Logger
	upgrader websocket.Upgrader
}

func NewHandler(reg *registry.Registry, eng *engine.Engine, conns storage.ConnectionStore,
	drivers storage.DriverStore, idx geo.DriverIndex, tokens *auth.Manager,
	producer *ingest.KafkaProducer, log *slog.Logger) *Handler {
	return &Handler{
		reg: reg, engine: eng, conns: conns, drivers: drivers, idx: idx,
		tokens: tokens, producer: producer, log: log,
		upgrader: websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
	}
}

// inboundMessage is the flat envelope drivers send; Type discriminates
// which fields matter.
type inboundMessage struct {
	Type           string  `json:"type"`
	NotificationID int64   `json:"notificationId"`
	OrderID        int64   `json:"orderId"`
	ServiceType    string  `json:"serviceType"`
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
	Status         string  `json:"status"`
}

// HandleConnect is the websocket endpoint. The handshake requires a valid
// short-lived token whose subject matches the path driver id; anything
// else is refused before the upgrade. This is the only fail-fast error
// path on the realtime channel.
func (h *Handler) HandleConnect(w http.ResponseWriter, r *http.Request) {
	pathID, err := strconv.ParseInt(mux.Vars(r)["driver_id"], 10, 64)
	if err != nil || pathID <= 0 {
		http.Error(w, "driver id required", http.StatusUnauthorized)
		return
	}
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "token required", http.StatusUnauthorized)
		return
	}
	driverID, err := h.tokens.Verify(token)
	if err != nil || driverID != pathID {
		h.log.Warn("realtime handshake refused", "path_driver_id", pathID, "error", err)
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("websocket upgrade failed", "driver_id", driverID, "error", err)
		return
	}

	connID := uuid.NewString()
	now := time.Now()
	row := &models.DriverConnection{
		DriverID:      driverID,
		ConnID:        connID,
		Active:        true,
		LastHeartbeat: now,
		UserAgent:     r.UserAgent(),
		RemoteAddr:    r.RemoteAddr,
		ConnectedAt:   now,
	}
	if err := h.conns.Upsert(row); err != nil {
		h.log.Error("connection row upsert failed", "conn_id", connID, "error", err)
	}

	sess := h.reg.Register(driverID, connID, conn)
	observability.DriversConnected.Set(float64(h.reg.Count()))
	h.log.Info("driver connected", "driver_id", driverID, "conn_id", connID, "remote_addr", r.RemoteAddr)

	conn.SetPongHandler(func(string) error {
		_ = h.conns.Touch(connID, time.Now())
		return nil
	})

	done := make(chan struct{})
	go h.pingLoop(conn, done)

	h.readLoop(conn, sess, driverID, connID)

	close(done)
	h.reg.Unregister(connID)
	observability.DriversConnected.Set(float64(h.reg.Count()))
	if err := h.conns.MarkClosed(connID); err != nil {
		h.log.Error("connection row close failed", "conn_id", connID, "error", err)
	}
	_ = conn.Close()
	h.log.Info("driver disconnected", "driver_id", driverID, "conn_id", connID)
}

// pingLoop probes the transport on a fixed interval. A failed write closes
// the socket, which unblocks the read loop; a missing pong is otherwise
// left to the transport's own liveness detection. WriteControl is safe
// alongside the session's WriteJSON.
func (h *Handler) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	t := time.NewTicker(pingInterval)
	defer t.Stop()
	for {
		select {
		case <-done:
			return
		case <-t.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}

func (h *Handler) readLoop(conn *websocket.Conn, sess *registry.Session, driverID int64, connID string) {
	conn.SetReadLimit(1 << 20)
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Warn("driver connection dropped", "driver_id", driverID, "error", err)
			}
			return
		}
		var msg inboundMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			h.log.Warn("undecodable message", "driver_id", driverID, "error", err)
			continue
		}
		h.route(sess, driverID, connID, msg)
	}
}

func (h *Handler) route(sess *registry.Session, driverID int64, connID string, msg inboundMessage) {
	switch msg.Type {
	case "accept_order":
		kind, ok := models.ParseServiceKind(msg.ServiceType)
		if !ok {
			h.log.Warn("accept with unknown service type", "driver_id", driverID, "service_type", msg.ServiceType)
			return
		}
		h.engine.HandleAcceptance(driverID, msg.NotificationID, msg.OrderID, kind)

	case "reject_order":
		kind, ok := models.ParseServiceKind(msg.ServiceType)
		if !ok {
			h.log.Warn("reject with unknown service type", "driver_id", driverID, "service_type", msg.ServiceType)
			return
		}
		h.engine.HandleRejection(driverID, msg.NotificationID, msg.OrderID, kind)

	case "update_location":
		h.handleLocation(driverID, msg.Latitude, msg.Longitude)

	case "status_change":
		a := models.Availability(msg.Status)
		if !a.Valid() {
			h.log.Warn("invalid availability", "driver_id", driverID, "status", msg.Status)
			return
		}
		if err := h.drivers.SetAvailability(driverID, a); err != nil {
			h.log.Error("availability update failed", "driver_id", driverID, "error", err)
			return
		}
		h.refreshIndex(driverID)

	case "heartbeat":
		_ = h.conns.Touch(connID, time.Now())
		if err := sess.Send(map[string]any{"type": "heartbeat_ack", "timestamp": time.Now().UnixMilli()}); err != nil {
			h.log.Warn("heartbeat ack failed", "driver_id", driverID, "error", err)
		}

	default:
		// unknown types are logged and ignored, never surfaced to the peer
		h.log.Warn("unknown message type", "driver_id", driverID, "type", msg.Type)
	}
}

func (h *Handler) handleLocation(driverID int64, lat, lon float64) {
	now := time.Now()
	loc := models.Coord{Lat: lat, Lon: lon}
	if err := h.drivers.SetLocation(driverID, loc, now); err != nil {
		h.log.Error("location update failed", "driver_id", driverID, "error", err)
		return
	}
	d := h.refreshIndex(driverID)
	if h.producer != nil && d != nil {
		err := h.producer.PublishLocation(ingest.LocationUpdate{
			DriverID: driverID, Lat: lat, Lon: lon,
			VehicleClass: d.VehicleClass, Rating: d.Rating,
			Available: d.Available, Verified: d.Verified, Active: d.Active,
			Availability: string(d.Availability), RecordedAt: now.UnixMilli(),
		})
		if err != nil {
			h.log.Warn("location publish failed", "driver_id", driverID, "error", err)
		}
	}
}

// refreshIndex re-snapshots the driver profile into the geo index so the
// next ranking round sees current state. Location updates never apply
// retroactively to rounds already dispatched.
func (h *Handler) refreshIndex(driverID int64) *models.Driver {
	d, err := h.drivers.Get(driverID)
	if err != nil {
		h.log.Error("driver load failed", "driver_id", driverID, "error", err)
		return nil
	}
	if d.Loc != nil {
		h.idx.Upsert(*d)
	}
	return d
}

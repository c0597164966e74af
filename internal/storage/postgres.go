package storage

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/lib/pq"

	"github.com/example/order-dispatch/internal/models"
)

// Postgres bundles the SQL-backed stores over one connection pool.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Close() error { return p.db.Close() }

func (p *Postgres) LiveOrders() *PostgresLiveOrders       { return &PostgresLiveOrders{db: p.db} }
func (p *Postgres) Notifications() *PostgresNotifications { return &PostgresNotifications{db: p.db} }
func (p *Postgres) Connections() *PostgresConnections     { return &PostgresConnections{db: p.db} }
func (p *Postgres) Drivers() *PostgresDrivers             { return &PostgresDrivers{db: p.db} }
func (p *Postgres) Orders() *PostgresOrders               { return &PostgresOrders{db: p.db} }

type PostgresLiveOrders struct {
	db *sql.DB
}

const liveOrderCols = `id, order_id, kind, customer_id, pickup_lat, pickup_lon,
	dropoff_lat, dropoff_lon, vehicle_class, max_radius_km, current_radius_km,
	status, notified_driver_ids, rejected_driver_ids, accepted_driver_id,
	priority, expires_at, created_at, updated_at`

func (p *PostgresLiveOrders) Create(o *models.LiveOrder) error {
	now := time.Now()
	o.CreatedAt = now
	o.UpdatedAt = now
	var dropLat, dropLon sql.NullFloat64
	if o.Dropoff != nil {
		dropLat = sql.NullFloat64{Float64: o.Dropoff.Lat, Valid: true}
		dropLon = sql.NullFloat64{Float64: o.Dropoff.Lon, Valid: true}
	}
	return p.db.QueryRow(`INSERT INTO live_order_requests
		(order_id, kind, customer_id, pickup_lat, pickup_lon, dropoff_lat, dropoff_lon,
		 vehicle_class, max_radius_km, current_radius_km, status, notified_driver_ids,
		 rejected_driver_ids, accepted_driver_id, priority, expires_at, created_at, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
		RETURNING id`,
		o.OrderID, o.Kind, o.CustomerID, o.Pickup.Lat, o.Pickup.Lon, dropLat, dropLon,
		o.VehicleClass, o.MaxRadiusKm, o.CurrentRadiusKm, o.Status,
		pq.Array(o.NotifiedDrivers), pq.Array(o.RejectedDrivers), o.AcceptedDriverID,
		o.Priority, o.ExpiresAt, o.CreatedAt, o.UpdatedAt).Scan(&o.ID)
}

func scanLiveOrder(row interface{ Scan(...any) error }) (*models.LiveOrder, error) {
	var o models.LiveOrder
	var dropLat, dropLon sql.NullFloat64
	var notified, rejected pq.Int64Array
	err := row.Scan(&o.ID, &o.OrderID, &o.Kind, &o.CustomerID, &o.Pickup.Lat, &o.Pickup.Lon,
		&dropLat, &dropLon, &o.VehicleClass, &o.MaxRadiusKm, &o.CurrentRadiusKm,
		&o.Status, &notified, &rejected, &o.AcceptedDriverID,
		&o.Priority, &o.ExpiresAt, &o.CreatedAt, &o.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if dropLat.Valid && dropLon.Valid {
		o.Dropoff = &models.Coord{Lat: dropLat.Float64, Lon: dropLon.Float64}
	}
	o.NotifiedDrivers = notified
	o.RejectedDrivers = rejected
	return &o, nil
}

func (p *PostgresLiveOrders) Get(id int64) (*models.LiveOrder, error) {
	return scanLiveOrder(p.db.QueryRow(`SELECT `+liveOrderCols+` FROM live_order_requests WHERE id=$1`, id))
}

func (p *PostgresLiveOrders) GetByOrder(kind models.ServiceKind, orderID int64) (*models.LiveOrder, error) {
	return scanLiveOrder(p.db.QueryRow(`SELECT `+liveOrderCols+` FROM live_order_requests WHERE kind=$1 AND order_id=$2`, kind, orderID))
}

func (p *PostgresLiveOrders) UpdateRadius(id int64, radiusKm float64) error {
	_, err := p.db.Exec(`UPDATE live_order_requests
		SET current_radius_km = LEAST(GREATEST(current_radius_km, $1), max_radius_km), updated_at=$2
		WHERE id=$3`, radiusKm, time.Now(), id)
	return err
}

func (p *PostgresLiveOrders) AppendNotified(id int64, driverIDs []int64) error {
	_, err := p.db.Exec(`UPDATE live_order_requests
		SET notified_driver_ids = notified_driver_ids || $1, updated_at=$2
		WHERE id=$3`, pq.Array(driverIDs), time.Now(), id)
	return err
}

func (p *PostgresLiveOrders) AppendRejected(id int64, driverID int64) error {
	_, err := p.db.Exec(`UPDATE live_order_requests
		SET rejected_driver_ids = array_append(rejected_driver_ids, $1), updated_at=$2
		WHERE id=$3`, driverID, time.Now(), id)
	return err
}

// Assign relies on the database's conditional update as the arbiter of the
// accept race: only a still-searching order can take a winner.
func (p *PostgresLiveOrders) Assign(kind models.ServiceKind, orderID, driverID int64) (*models.LiveOrder, bool, error) {
	res, err := p.db.Exec(`UPDATE live_order_requests
		SET status=$1, accepted_driver_id=$2, updated_at=$3
		WHERE kind=$4 AND order_id=$5 AND status=$6`,
		models.StatusAccepted, driverID, time.Now(), kind, orderID, models.StatusSearching)
	if err != nil {
		return nil, false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	o, err := p.GetByOrder(kind, orderID)
	if err != nil {
		return nil, false, err
	}
	return o, n > 0, nil
}

func (p *PostgresLiveOrders) MarkExpired(id int64) error {
	_, err := p.db.Exec(`UPDATE live_order_requests SET status=$1, updated_at=$2
		WHERE id=$3 AND status=$4`, models.StatusExpired, time.Now(), id, models.StatusSearching)
	return err
}

func (p *PostgresLiveOrders) ListStaleSearching(olderThan time.Time) ([]*models.LiveOrder, error) {
	rows, err := p.db.Query(`SELECT `+liveOrderCols+` FROM live_order_requests
		WHERE status=$1 AND created_at < $2 ORDER BY id`, models.StatusSearching, olderThan)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.LiveOrder
	for rows.Next() {
		o, err := scanLiveOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

type PostgresNotifications struct {
	db *sql.DB
}

const notificationCols = `id, driver_id, type, title, message, order_id, kind,
	priority, is_read, is_accepted, is_rejected, accepted_at, rejected_at,
	expires_at, channel, metadata, created_at`

func (p *PostgresNotifications) Create(n *models.Notification) error {
	n.CreatedAt = time.Now()
	meta, err := json.Marshal(n.Metadata)
	if err != nil {
		return err
	}
	return p.db.QueryRow(`INSERT INTO driver_notifications
		(driver_id, type, title, message, order_id, kind, priority, is_read,
		 is_accepted, is_rejected, expires_at, channel, metadata, created_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		RETURNING id`,
		n.DriverID, n.Type, n.Title, n.Message, n.OrderID, n.Kind, n.Priority,
		n.IsRead, n.IsAccepted, n.IsRejected, n.ExpiresAt, n.Channel, meta, n.CreatedAt).Scan(&n.ID)
}

func scanNotification(row interface{ Scan(...any) error }) (*models.Notification, error) {
	var n models.Notification
	var acceptedAt, rejectedAt sql.NullTime
	var meta []byte
	err := row.Scan(&n.ID, &n.DriverID, &n.Type, &n.Title, &n.Message, &n.OrderID, &n.Kind,
		&n.Priority, &n.IsRead, &n.IsAccepted, &n.IsRejected, &acceptedAt, &rejectedAt,
		&n.ExpiresAt, &n.Channel, &meta, &n.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if acceptedAt.Valid {
		n.AcceptedAt = &acceptedAt.Time
	}
	if rejectedAt.Valid {
		n.RejectedAt = &rejectedAt.Time
	}
	if len(meta) > 0 {
		_ = json.Unmarshal(meta, &n.Metadata)
	}
	return &n, nil
}

func (p *PostgresNotifications) Get(id int64) (*models.Notification, error) {
	return scanNotification(p.db.QueryRow(`SELECT `+notificationCols+` FROM driver_notifications WHERE id=$1`, id))
}

func (p *PostgresNotifications) MarkAccepted(id int64, at time.Time) error {
	_, err := p.db.Exec(`UPDATE driver_notifications SET is_accepted=true, accepted_at=$1
		WHERE id=$2 AND is_accepted=false AND is_rejected=false`, at, id)
	return err
}

func (p *PostgresNotifications) MarkRejected(id int64, at time.Time) error {
	_, err := p.db.Exec(`UPDATE driver_notifications SET is_rejected=true, rejected_at=$1
		WHERE id=$2 AND is_accepted=false AND is_rejected=false`, at, id)
	return err
}

func (p *PostgresNotifications) ListOpenByOrder(kind models.ServiceKind, orderID int64) ([]*models.Notification, error) {
	rows, err := p.db.Query(`SELECT `+notificationCols+` FROM driver_notifications
		WHERE kind=$1 AND order_id=$2 AND is_accepted=false AND is_rejected=false
		ORDER BY id`, kind, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectNotifications(rows)
}

func (p *PostgresNotifications) ListForDriver(driverID int64, limit int) ([]*models.Notification, error) {
	rows, err := p.db.Query(`SELECT `+notificationCols+` FROM driver_notifications
		WHERE driver_id=$1 ORDER BY id DESC LIMIT $2`, driverID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectNotifications(rows)
}

func collectNotifications(rows *sql.Rows) ([]*models.Notification, error) {
	var out []*models.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (p *PostgresNotifications) ExpireOverdue(now time.Time) (int, error) {
	res, err := p.db.Exec(`UPDATE driver_notifications SET is_rejected=true, rejected_at=$1
		WHERE is_accepted=false AND is_rejected=false AND expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

type PostgresConnections struct {
	db *sql.DB
}

func (p *PostgresConnections) Upsert(c *models.DriverConnection) error {
	_, err := p.db.Exec(`INSERT INTO driver_connections
		(conn_id, driver_id, active, last_heartbeat, user_agent, remote_addr, connected_at)
		VALUES($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (conn_id) DO UPDATE SET active=EXCLUDED.active, last_heartbeat=EXCLUDED.last_heartbeat`,
		c.ConnID, c.DriverID, c.Active, c.LastHeartbeat, c.UserAgent, c.RemoteAddr, c.ConnectedAt)
	return err
}

func (p *PostgresConnections) Touch(connID string, at time.Time) error {
	_, err := p.db.Exec(`UPDATE driver_connections SET last_heartbeat=$1 WHERE conn_id=$2`, at, connID)
	return err
}

func (p *PostgresConnections) MarkClosed(connID string) error {
	_, err := p.db.Exec(`UPDATE driver_connections SET active=false WHERE conn_id=$1`, connID)
	return err
}

type PostgresDrivers struct {
	db *sql.DB
}

func (p *PostgresDrivers) Get(id int64) (*models.Driver, error) {
	var d models.Driver
	var lat, lon sql.NullFloat64
	var locAt sql.NullTime
	err := p.db.QueryRow(`SELECT id, name, phone, vehicle_class, rating, available,
		verified, active, availability, lat, lon, loc_updated_at
		FROM drivers WHERE id=$1`, id).Scan(
		&d.ID, &d.Name, &d.Phone, &d.VehicleClass, &d.Rating, &d.Available,
		&d.Verified, &d.Active, &d.Availability, &lat, &lon, &locAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if lat.Valid && lon.Valid {
		d.Loc = &models.Coord{Lat: lat.Float64, Lon: lon.Float64}
	}
	if locAt.Valid {
		d.LocUpdatedAt = locAt.Time
	}
	return &d, nil
}

func (p *PostgresDrivers) SetLocation(id int64, loc models.Coord, at time.Time) error {
	_, err := p.db.Exec(`UPDATE drivers SET lat=$1, lon=$2, loc_updated_at=$3 WHERE id=$4`,
		loc.Lat, loc.Lon, at, id)
	return err
}

func (p *PostgresDrivers) SetAvailability(id int64, a models.Availability) error {
	_, err := p.db.Exec(`UPDATE drivers SET availability=$1 WHERE id=$2`, a, id)
	return err
}

type PostgresOrders struct {
	db *sql.DB
}

func (p *PostgresOrders) Create(o *models.Order) error {
	now := time.Now()
	o.CreatedAt = now
	o.UpdatedAt = now
	var dropLat, dropLon sql.NullFloat64
	if o.Dropoff != nil {
		dropLat = sql.NullFloat64{Float64: o.Dropoff.Lat, Valid: true}
		dropLon = sql.NullFloat64{Float64: o.Dropoff.Lon, Valid: true}
	}
	return p.db.QueryRow(`INSERT INTO orders
		(kind, customer_id, driver_id, status, pickup_lat, pickup_lon, dropoff_lat, dropoff_lon, created_at, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) RETURNING id`,
		o.Kind, o.CustomerID, o.DriverID, o.Status, o.Pickup.Lat, o.Pickup.Lon,
		dropLat, dropLon, o.CreatedAt, o.UpdatedAt).Scan(&o.ID)
}

func (p *PostgresOrders) Get(kind models.ServiceKind, id int64) (*models.Order, error) {
	var o models.Order
	var dropLat, dropLon sql.NullFloat64
	err := p.db.QueryRow(`SELECT id, kind, customer_id, driver_id, status,
		pickup_lat, pickup_lon, dropoff_lat, dropoff_lon, created_at, updated_at
		FROM orders WHERE kind=$1 AND id=$2`, kind, id).Scan(
		&o.ID, &o.Kind, &o.CustomerID, &o.DriverID, &o.Status,
		&o.Pickup.Lat, &o.Pickup.Lon, &dropLat, &dropLon, &o.CreatedAt, &o.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if dropLat.Valid && dropLon.Valid {
		o.Dropoff = &models.Coord{Lat: dropLat.Float64, Lon: dropLon.Float64}
	}
	return &o, nil
}

func (p *PostgresOrders) AssignDriver(kind models.ServiceKind, orderID, driverID int64) error {
	_, err := p.db.Exec(`UPDATE orders SET driver_id=$1, status=$2, updated_at=$3
		WHERE kind=$4 AND id=$5`, driverID, confirmedStatus(kind), time.Now(), kind, orderID)
	return err
}

package storage

import (
	"errors"
	"time"

	"github.com/example/order-dispatch/internal/models"
)

var ErrNotFound = errors.New("storage: not found")

// LiveOrderStore persists the dispatch state of in-flight orders.
type LiveOrderStore interface {
	// Create inserts the record and fills in its ID.
	Create(o *models.LiveOrder) error
	Get(id int64) (*models.LiveOrder, error)
	GetByOrder(kind models.ServiceKind, orderID int64) (*models.LiveOrder, error)
	// UpdateRadius persists a new search radius. The stored radius never
	// decreases and never exceeds the order's max radius.
	UpdateRadius(id int64, radiusKm float64) error
	AppendNotified(id int64, driverIDs []int64) error
	AppendRejected(id int64, driverID int64) error
	// Assign is the exclusivity point: it moves the order to accepted and
	// records the winner only if the order is still searching. The returned
	// bool reports whether this caller won.
	Assign(kind models.ServiceKind, orderID, driverID int64) (*models.LiveOrder, bool, error)
	MarkExpired(id int64) error
	ListStaleSearching(olderThan time.Time) ([]*models.LiveOrder, error)
}

// NotificationStore is the per-driver dispatch offer ledger. Offline
// drivers poll it; the sweeper times out stale rows.
type NotificationStore interface {
	Create(n *models.Notification) error
	Get(id int64) (*models.Notification, error)
	MarkAccepted(id int64, at time.Time) error
	MarkRejected(id int64, at time.Time) error
	ListOpenByOrder(kind models.ServiceKind, orderID int64) ([]*models.Notification, error)
	ListForDriver(driverID int64, limit int) ([]*models.Notification, error)
	// ExpireOverdue marks every open notification past its expiry as
	// rejected and returns how many were closed.
	ExpireOverdue(now time.Time) (int, error)
}

// ConnectionStore mirrors live websocket sessions for diagnostics.
type ConnectionStore interface {
	Upsert(c *models.DriverConnection) error
	Touch(connID string, at time.Time) error
	MarkClosed(connID string) error
}

// DriverStore is the slice of the CRUD layer's driver table the dispatch
// core reads and writes.
type DriverStore interface {
	Get(id int64) (*models.Driver, error)
	SetLocation(id int64, loc models.Coord, at time.Time) error
	SetAvailability(id int64, a models.Availability) error
}

// OrderStore is the business-record collaborator. AssignDriver is called
// exactly once per order, atomically with acceptance.
type OrderStore interface {
	Create(o *models.Order) error
	Get(kind models.ServiceKind, id int64) (*models.Order, error)
	AssignDriver(kind models.ServiceKind, orderID, driverID int64) error
}

// confirmedStatus is the per-service business status written on acceptance.
func confirmedStatus(kind models.ServiceKind) string {
	switch kind {
	case models.ServiceFood:
		return "driver_assigned"
	case models.ServiceParcel:
		return "courier_assigned"
	default:
		return "driver_confirmed"
	}
}

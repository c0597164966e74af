package models

import "time"

// ServiceKind discriminates which business table an order lives in.
type ServiceKind string

const (
	ServiceRide   ServiceKind = "ride"
	ServiceFood   ServiceKind = "food"
	ServiceParcel ServiceKind = "parcel"
)

// ParseServiceKind normalizes wire values; driver apps still send the
// legacy "taxi" tag for ride orders.
func ParseServiceKind(s string) (ServiceKind, bool) {
	switch s {
	case "ride", "taxi":
		return ServiceRide, true
	case "food":
		return ServiceFood, true
	case "parcel":
		return ServiceParcel, true
	}
	return "", false
}

// LiveOrderStatus is the dispatch state of a LiveOrder, distinct from the
// business record's own status.
type LiveOrderStatus string

const (
	StatusSearching LiveOrderStatus = "searching"
	StatusAssigned  LiveOrderStatus = "assigned"
	StatusAccepted  LiveOrderStatus = "accepted"
	StatusRejected  LiveOrderStatus = "rejected"
	StatusExpired   LiveOrderStatus = "expired"
)

// Availability is the driver-reported working state.
type Availability string

const (
	AvailabilityOffline     Availability = "offline"
	AvailabilityOnline      Availability = "online"
	AvailabilityBusy        Availability = "busy"
	AvailabilityUnavailable Availability = "unavailable"
)

func (a Availability) Valid() bool {
	switch a {
	case AvailabilityOffline, AvailabilityOnline, AvailabilityBusy, AvailabilityUnavailable:
		return true
	}
	return false
}

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// LiveOrder tracks one order under active dispatch. The engine owns all
// status transitions; once accepted or expired the record is final.
type LiveOrder struct {
	ID               int64
	OrderID          int64
	Kind             ServiceKind
	CustomerID       int64
	Pickup           Coord
	Dropoff          *Coord
	VehicleClass     string // optional filter, empty means any
	MaxRadiusKm      float64
	CurrentRadiusKm  float64
	Status           LiveOrderStatus
	NotifiedDrivers  []int64
	RejectedDrivers  []int64
	AcceptedDriverID int64 // 0 until accepted
	Priority         int
	ExpiresAt        time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (o *LiveOrder) WasNotified(driverID int64) bool {
	for _, id := range o.NotifiedDrivers {
		if id == driverID {
			return true
		}
	}
	return false
}

func (o *LiveOrder) HasRejected(driverID int64) bool {
	for _, id := range o.RejectedDrivers {
		if id == driverID {
			return true
		}
	}
	return false
}

// Notification is one dispatch offer to one candidate driver. Accepted and
// rejected are mutually exclusive terminal flags; an open notification past
// ExpiresAt is swept to rejected.
type Notification struct {
	ID         int64
	DriverID   int64
	Type       string
	Title      string
	Message    string
	OrderID    int64
	Kind       ServiceKind
	Priority   string
	IsRead     bool
	IsAccepted bool
	IsRejected bool
	AcceptedAt *time.Time
	RejectedAt *time.Time
	ExpiresAt  time.Time
	Channel    string
	Metadata   map[string]any
	CreatedAt  time.Time
}

// Open reports whether the notification is still awaiting a response.
func (n *Notification) Open() bool { return !n.IsAccepted && !n.IsRejected }

// Driver is the profile snapshot the engine ranks against.
type Driver struct {
	ID           int64
	Name         string
	Phone        string
	VehicleClass string
	Rating       float64
	Available    bool
	Verified     bool
	Active       bool
	Availability Availability
	Loc          *Coord
	LocUpdatedAt time.Time
}

// Dispatchable reports whether the driver may receive offers at all.
func (d *Driver) Dispatchable() bool {
	return d.Available && d.Verified && d.Active && d.Availability == AvailabilityOnline
}

// Candidate is a driver joined with its distance to a pickup point. Derived
// during ranking, never persisted.
type Candidate struct {
	Driver
	DistanceKm float64
}

// DriverConnection mirrors a live websocket session for diagnostics. The
// in-process registry entry is authoritative for delivery; this row only
// records that the session existed.
type DriverConnection struct {
	DriverID      int64
	ConnID        string
	Active        bool
	LastHeartbeat time.Time
	UserAgent     string
	RemoteAddr    string
	ConnectedAt   time.Time
}

// Order is the minimal view of the business record the engine writes back
// to on acceptance. The CRUD layer owns everything else about it.
type Order struct {
	ID         int64
	Kind       ServiceKind
	CustomerID int64
	DriverID   int64
	Status     string
	Pickup     Coord
	Dropoff    *Coord
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// OrderRequestPush is the payload delivered to a driver on a new offer.
type OrderRequestPush struct {
	Type           string         `json:"type"`
	NotificationID int64          `json:"notificationId"`
	OrderID        int64          `json:"orderId"`
	ServiceType    ServiceKind    `json:"serviceType"`
	Title          string         `json:"title"`
	Message        string         `json:"message"`
	Distance       float64        `json:"distance"`
	EstimatedFare  float64        `json:"estimatedFare"`
	EstimatedMin   int            `json:"estimatedDuration"`
	ExpiresAt      string         `json:"expiresAt"`
	Metadata       map[string]any `json:"metadata"`
	Priority       string         `json:"priority"`
	Timestamp      int64          `json:"timestamp"`
}

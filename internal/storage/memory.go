package storage

import (
	"sort"
	"sync"
	"time"

	"github.com/example/order-dispatch/internal/models"
)

// In-memory implementations, one per store. They mirror the behavior of
// the postgres versions and back the dev default and the test suites.

type MemoryLiveOrders struct {
	mu     sync.RWMutex
	nextID int64
	orders map[int64]*models.LiveOrder
}

func NewMemoryLiveOrders() *MemoryLiveOrders {
	return &MemoryLiveOrders{orders: make(map[int64]*models.LiveOrder)}
}

func (m *MemoryLiveOrders) Create(o *models.LiveOrder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	o.ID = m.nextID
	now := time.Now()
	o.CreatedAt = now
	o.UpdatedAt = now
	cp := *o
	m.orders[o.ID] = &cp
	return nil
}

func (m *MemoryLiveOrders) Get(id int64) (*models.LiveOrder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *MemoryLiveOrders) GetByOrder(kind models.ServiceKind, orderID int64) (*models.LiveOrder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o := m.findByOrderLocked(kind, orderID)
	if o == nil {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *MemoryLiveOrders) findByOrderLocked(kind models.ServiceKind, orderID int64) *models.LiveOrder {
	for _, o := range m.orders {
		if o.Kind == kind && o.OrderID == orderID {
			return o
		}
	}
	return nil
}

func (m *MemoryLiveOrders) UpdateRadius(id int64, radiusKm float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return ErrNotFound
	}
	if radiusKm > o.MaxRadiusKm {
		radiusKm = o.MaxRadiusKm
	}
	if radiusKm > o.CurrentRadiusKm {
		o.CurrentRadiusKm = radiusKm
		o.UpdatedAt = time.Now()
	}
	return nil
}

func (m *MemoryLiveOrders) AppendNotified(id int64, driverIDs []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.NotifiedDrivers = append(o.NotifiedDrivers, driverIDs...)
	o.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryLiveOrders) AppendRejected(id int64, driverID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.RejectedDrivers = append(o.RejectedDrivers, driverID)
	o.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryLiveOrders) Assign(kind models.ServiceKind, orderID, driverID int64) (*models.LiveOrder, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o := m.findByOrderLocked(kind, orderID)
	if o == nil {
		return nil, false, ErrNotFound
	}
	if o.Status != models.StatusSearching {
		cp := *o
		return &cp, false, nil
	}
	o.Status = models.StatusAccepted
	o.AcceptedDriverID = driverID
	o.UpdatedAt = time.Now()
	cp := *o
	return &cp, true, nil
}

func (m *MemoryLiveOrders) MarkExpired(id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return ErrNotFound
	}
	if o.Status == models.StatusSearching {
		o.Status = models.StatusExpired
		o.UpdatedAt = time.Now()
	}
	return nil
}

func (m *MemoryLiveOrders) ListStaleSearching(olderThan time.Time) ([]*models.LiveOrder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.LiveOrder
	for _, o := range m.orders {
		if o.Status == models.StatusSearching && o.CreatedAt.Before(olderThan) {
			cp := *o
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type MemoryNotifications struct {
	mu     sync.RWMutex
	nextID int64
	notes  map[int64]*models.Notification
}

func NewMemoryNotifications() *MemoryNotifications {
	return &MemoryNotifications{notes: make(map[int64]*models.Notification)}
}

func (m *MemoryNotifications) Create(n *models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	n.ID = m.nextID
	n.CreatedAt = time.Now()
	cp := *n
	m.notes[n.ID] = &cp
	return nil
}

func (m *MemoryNotifications) Get(id int64) (*models.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.notes[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *n
	return &cp, nil
}

func (m *MemoryNotifications) MarkAccepted(id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notes[id]
	if !ok {
		return ErrNotFound
	}
	if n.Open() {
		n.IsAccepted = true
		n.AcceptedAt = &at
	}
	return nil
}

func (m *MemoryNotifications) MarkRejected(id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notes[id]
	if !ok {
		return ErrNotFound
	}
	if n.Open() {
		n.IsRejected = true
		n.RejectedAt = &at
	}
	return nil
}

func (m *MemoryNotifications) ListOpenByOrder(kind models.ServiceKind, orderID int64) ([]*models.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Notification
	for _, n := range m.notes {
		if n.Kind == kind && n.OrderID == orderID && n.Open() {
			cp := *n
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryNotifications) ListForDriver(driverID int64, limit int) ([]*models.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Notification
	for _, n := range m.notes {
		if n.DriverID == driverID {
			cp := *n
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryNotifications) ExpireOverdue(now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, n := range m.notes {
		if n.Open() && now.After(n.ExpiresAt) {
			n.IsRejected = true
			at := now
			n.RejectedAt = &at
			count++
		}
	}
	return count, nil
}

type MemoryConnections struct {
	mu    sync.RWMutex
	conns map[string]*models.DriverConnection
}

func NewMemoryConnections() *MemoryConnections {
	return &MemoryConnections{conns: make(map[string]*models.DriverConnection)}
}

func (m *MemoryConnections) Upsert(c *models.DriverConnection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.conns[c.ConnID] = &cp
	return nil
}

func (m *MemoryConnections) Touch(connID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[connID]
	if !ok {
		return ErrNotFound
	}
	c.LastHeartbeat = at
	return nil
}

func (m *MemoryConnections) MarkClosed(connID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[connID]
	if !ok {
		return ErrNotFound
	}
	c.Active = false
	return nil
}

type MemoryDrivers struct {
	mu      sync.RWMutex
	drivers map[int64]*models.Driver
}

func NewMemoryDrivers() *MemoryDrivers {
	return &MemoryDrivers{drivers: make(map[int64]*models.Driver)}
}

// Put seeds or replaces a profile; the CRUD layer owns driver onboarding.
func (m *MemoryDrivers) Put(d *models.Driver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *d
	m.drivers[d.ID] = &cp
}

func (m *MemoryDrivers) Get(id int64) (*models.Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.drivers[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *MemoryDrivers) SetLocation(id int64, loc models.Coord, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[id]
	if !ok {
		return ErrNotFound
	}
	d.Loc = &loc
	d.LocUpdatedAt = at
	return nil
}

func (m *MemoryDrivers) SetAvailability(id int64, a models.Availability) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[id]
	if !ok {
		return ErrNotFound
	}
	d.Availability = a
	return nil
}

type MemoryOrders struct {
	mu     sync.RWMutex
	nextID int64
	orders map[orderKey]*models.Order
}

type orderKey struct {
	kind models.ServiceKind
	id   int64
}

func NewMemoryOrders() *MemoryOrders {
	return &MemoryOrders{orders: make(map[orderKey]*models.Order)}
}

func (m *MemoryOrders) Create(o *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o.ID == 0 {
		m.nextID++
		o.ID = m.nextID
	}
	now := time.Now()
	o.CreatedAt = now
	o.UpdatedAt = now
	cp := *o
	m.orders[orderKey{o.Kind, o.ID}] = &cp
	return nil
}

func (m *MemoryOrders) Get(kind models.ServiceKind, id int64) (*models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[orderKey{kind, id}]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *MemoryOrders) AssignDriver(kind models.ServiceKind, orderID, driverID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderKey{kind, orderID}]
	if !ok {
		return ErrNotFound
	}
	o.DriverID = driverID
	o.Status = confirmedStatus(kind)
	o.UpdatedAt = time.Now()
	return nil
}

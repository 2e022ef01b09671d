package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

var ErrNotFound = errors.New("storage: not found")

// RideStore defines persistence operations for confirmed rides.
type RideStore interface {
	SaveRide(r *models.Ride) error
	GetRide(id string) (*models.Ride, error)
	UpdateStatus(id, status string) error
}

// Directory resolves driver and customer entities at acceptance time.
type Directory interface {
	Driver(ctx context.Context, id string) (models.Driver, error)
	Customer(ctx context.Context, id string) (models.Customer, error)
}

// MemoryStore backs RideStore and Directory for local runs and tests.
type MemoryStore struct {
	mu        sync.RWMutex
	rides     map[string]*models.Ride
	drivers   map[string]models.Driver
	customers map[string]models.Customer
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rides:     make(map[string]*models.Ride),
		drivers:   make(map[string]models.Driver),
		customers: make(map[string]models.Customer),
	}
}

func (m *MemoryStore) SaveRide(r *models.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.rides[r.ID] = &cp
	return nil
}

func (m *MemoryStore) GetRide(id string) (*models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rides[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) UpdateStatus(id, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[id]
	if !ok {
		return ErrNotFound
	}
	r.Status = status
	r.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) PutDriver(d models.Driver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drivers[d.ID] = d
}

func (m *MemoryStore) PutCustomer(c models.Customer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.customers[c.ID] = c
}

func (m *MemoryStore) Driver(ctx context.Context, id string) (models.Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.drivers[id]
	if !ok {
		return models.Driver{}, ErrNotFound
	}
	return d, nil
}

func (m *MemoryStore) Customer(ctx context.Context, id string) (models.Customer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.customers[id]
	if !ok {
		return models.Customer{}, ErrNotFound
	}
	return c, nil
}

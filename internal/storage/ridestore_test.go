package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/example/ride-dispatch/internal/models"
)

func TestMemoryStoreRideRoundTrip(t *testing.T) {
	m := NewMemoryStore()
	r := &models.Ride{ID: "r1", CustomerID: "c1", DriverID: "d1", Status: models.StatusConfirmed}
	if err := m.SaveRide(r); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := m.GetRide("r1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.DriverID != "d1" {
		t.Fatalf("expected d1, got %s", got.DriverID)
	}

	if err := m.UpdateStatus("r1", models.StatusCancelled); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ = m.GetRide("r1")
	if got.Status != models.StatusCancelled {
		t.Fatalf("expected CANCELLED, got %s", got.Status)
	}
}

func TestMemoryStoreNotFound(t *testing.T) {
	m := NewMemoryStore()
	if _, err := m.GetRide("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := m.UpdateStatus("nope", models.StatusOngoing); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := m.Driver(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreDirectory(t *testing.T) {
	m := NewMemoryStore()
	m.PutDriver(models.Driver{ID: "d1", Rating: 4.8})
	m.PutCustomer(models.Customer{ID: "c1", Name: "Ada"})

	d, err := m.Driver(context.Background(), "d1")
	if err != nil || d.Rating != 4.8 {
		t.Fatalf("driver lookup failed: %v %v", d, err)
	}
	c, err := m.Customer(context.Background(), "c1")
	if err != nil || c.Name != "Ada" {
		t.Fatalf("customer lookup failed: %v %v", c, err)
	}
}

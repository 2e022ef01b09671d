package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// VehicleClass partitions the driver fleet; a request is only offered to
// drivers registered for the matching class.
type VehicleClass string

const (
	ClassEconomy VehicleClass = "ECONOMY"
	ClassComfort VehicleClass = "COMFORT"
	ClassPremium VehicleClass = "PREMIUM"
)

// RideRequest is the immutable input to dispatch. The engine copies it into
// a pending ride and never mutates it.
type RideRequest struct {
	CustomerID   string       `json:"customer_id"`
	Pickup       Coord        `json:"pickup"`
	Dropoff      Coord        `json:"dropoff"`
	VehicleClass VehicleClass `json:"vehicle_class"`
	Distance     float64      `json:"distance_meters"`
	Fare         int64        `json:"fare_estimate"`
}

type Driver struct {
	ID           string       `json:"id"`
	Loc          Coord        `json:"loc"`
	Rating       float64      `json:"rating"` // 0..5
	Online       bool         `json:"online"`
	VehicleClass VehicleClass `json:"vehicle_class"`
	Updated      time.Time    `json:"updated"`
}

type Customer struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// OfferNotification is the payload pushed to exactly one driver at a time
// while a ride request is being dispatched.
type OfferNotification struct {
	RequestID    string       `json:"ride_request_id"`
	CustomerID   string       `json:"customer_id"`
	Pickup       Coord        `json:"pickup"`
	Dropoff      Coord        `json:"dropoff"`
	Distance     float64      `json:"distance_meters"`
	Fare         int64        `json:"fare_estimate"`
	VehicleClass VehicleClass `json:"vehicle_class"`
	ETASeconds   float64      `json:"eta_seconds"`
	Timestamp    int64        `json:"timestamp"`
}

// DriverResponse is a driver's answer to an outstanding offer.
type DriverResponse struct {
	RequestID string `json:"ride_request_id"`
	DriverID  string `json:"driver_id"`
	Accepted  bool   `json:"accepted"`
}

const (
	StatusConfirmed = "CONFIRMED"
	StatusOngoing   = "ONGOING"
	StatusCompleted = "COMPLETED"
	StatusCancelled = "CANCELLED"
)

// Ride is the durable record created exactly once per successful dispatch.
type Ride struct {
	ID            string
	RequestID     string
	CustomerID    string
	DriverID      string
	Pickup        Coord
	Dropoff       Coord
	Distance      float64
	Fare          int64
	Status        string
	VehicleClass  VehicleClass
	PaymentHoldID string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// DispatchEvent is published to the event stream on every dispatch
// lifecycle transition.
type DispatchEvent struct {
	Type       string `json:"type"`
	RequestID  string `json:"ride_request_id"`
	CustomerID string `json:"customer_id,omitempty"`
	DriverID   string `json:"driver_id,omitempty"`
	RideID     string `json:"ride_id,omitempty"`
	Timestamp  int64  `json:"timestamp"`
}

const (
	EventRideRequested     = "ride_requested"
	EventRideConfirmed     = "ride_confirmed"
	EventNoDriverAvailable = "no_driver_available"
	EventRideCancelled     = "ride_cancelled"
)

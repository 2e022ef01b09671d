package notify

import (
	"log/slog"
	"sync"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/gorilla/websocket"
)

// WSSession wraps a single client connection. gorilla/websocket allows one
// concurrent writer, hence the mutex.
type WSSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *WSSession) Send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(v)
}

// WSGateway pushes offers and status updates to connected driver and
// customer apps. Delivery is fire-and-forget: a missing session or a write
// error is logged and dropped, never surfaced to the dispatch engine.
type WSGateway struct {
	mu        sync.RWMutex
	drivers   map[string]*WSSession
	customers map[string]*WSSession
	logger    *slog.Logger

	// Fallback receives payloads for recipients without a live session.
	Fallback *HTTPPushGateway
}

func NewWSGateway(logger *slog.Logger) *WSGateway {
	return &WSGateway{
		drivers:   make(map[string]*WSSession),
		customers: make(map[string]*WSSession),
		logger:    logger,
	}
}

func (g *WSGateway) AddDriver(id string, conn *websocket.Conn) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.drivers[id] = &WSSession{conn: conn}
}

func (g *WSGateway) AddCustomer(id string, conn *websocket.Conn) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.customers[id] = &WSSession{conn: conn}
}

func (g *WSGateway) RemoveDriver(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.drivers, id)
}

func (g *WSGateway) RemoveCustomer(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.customers, id)
}

func (g *WSGateway) PushOffer(driverID string, offer models.OfferNotification) {
	g.sendDriver(driverID, offer)
}

func (g *WSGateway) PushDriverStatus(driverID string, payload map[string]any) {
	g.sendDriver(driverID, payload)
}

func (g *WSGateway) PushWithdrawal(driverID, requestID string) {
	g.sendDriver(driverID, map[string]any{
		"type":            "RIDE_REQUEST_CANCELLED",
		"ride_request_id": requestID,
	})
}

func (g *WSGateway) PushStatus(customerID string, payload map[string]any) {
	g.mu.RLock()
	s, ok := g.customers[customerID]
	g.mu.RUnlock()
	if !ok {
		if g.Fallback != nil {
			g.Fallback.Push("customer", customerID, payload)
		}
		return
	}
	if err := s.Send(payload); err != nil {
		g.logger.Warn("ws push to customer failed", "customer_id", customerID, "error", err)
	}
}

func (g *WSGateway) sendDriver(driverID string, v any) {
	g.mu.RLock()
	s, ok := g.drivers[driverID]
	g.mu.RUnlock()
	if !ok {
		if g.Fallback != nil {
			g.Fallback.Push("driver", driverID, v)
		}
		return
	}
	if err := s.Send(v); err != nil {
		g.logger.Warn("ws push to driver failed", "driver_id", driverID, "error", err)
	}
}

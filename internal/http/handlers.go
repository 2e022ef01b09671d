package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/ingest"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/notify"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/storage"
)

// Server is the HTTP/WebSocket front for the dispatch engine. The dispatch
// protocol itself is fully asynchronous; every handler here returns without
// waiting on a driver's answer.
type Server struct {
	Orch     *dispatch.Orchestrator
	Geo      geo.Provider
	Rides    storage.RideStore
	Kafka    *ingest.KafkaProducer
	Gateway  *notify.WSGateway
	Payments dispatch.PaymentGateway

	logger *slog.Logger
	mux    *mux.Router
}

func NewServer(logger *slog.Logger, orch *dispatch.Orchestrator, g geo.Provider, rides storage.RideStore, kafka *ingest.KafkaProducer, gw *notify.WSGateway, pay dispatch.PaymentGateway) *Server {
	s := &Server{
		Orch:     orch,
		Geo:      g,
		Rides:    rides,
		Kafka:    kafka,
		Gateway:  gw,
		Payments: pay,
		logger:   logger,
		mux:      mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/v1/rides/request", s.handleRideRequest).Methods("POST")
	s.mux.HandleFunc("/api/v1/rides/response", s.handleDriverResponse).Methods("POST")
	s.mux.HandleFunc("/api/v1/rides/request/{request_id}/cancel", s.handleCancelPending).Methods("POST")
	s.mux.HandleFunc("/api/v1/rides/{ride_id}/status", s.handleRideStatus).Methods("POST")
	s.mux.HandleFunc("/internal/driver/locations", s.handleDriverLocation).Methods("POST")
	s.mux.HandleFunc("/ws/driver/{driver_id}", s.handleDriverWS)
	s.mux.HandleFunc("/ws/customer/{customer_id}", s.handleCustomerWS)
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleRideRequest(w http.ResponseWriter, r *http.Request) {
	var req models.RideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.CustomerID == "" {
		http.Error(w, "customer_id required", http.StatusBadRequest)
		return
	}
	if req.VehicleClass == "" {
		req.VehicleClass = models.ClassEconomy
	}
	res := s.Orch.CreateRide(r.Context(), req)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(res)
}

func (s *Server) handleDriverResponse(w http.ResponseWriter, r *http.Request) {
	var resp models.DriverResponse
	if err := json.NewDecoder(r.Body).Decode(&resp); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if resp.RequestID == "" || resp.DriverID == "" {
		http.Error(w, "ride_request_id and driver_id required", http.StatusBadRequest)
		return
	}
	s.Orch.HandleDriverResponse(r.Context(), resp.RequestID, resp.DriverID, resp.Accepted)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCancelPending(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["request_id"]
	s.Orch.CancelPendingRide(id)
	w.WriteHeader(http.StatusNoContent)
}

var validStatuses = map[string]bool{
	models.StatusOngoing:   true,
	models.StatusCompleted: true,
	models.StatusCancelled: true,
}

// handleRideStatus updates a confirmed ride. Completion captures the fare
// hold, cancellation releases it; both sides of the ride hear about the
// transition.
func (s *Server) handleRideStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["ride_id"]
	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !validStatuses[body.Status] {
		http.Error(w, "invalid status", http.StatusBadRequest)
		return
	}

	ride, err := s.Rides.GetRide(id)
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "ride not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "storage error", http.StatusInternalServerError)
		return
	}
	if err := s.Rides.UpdateStatus(id, body.Status); err != nil {
		http.Error(w, "storage error", http.StatusInternalServerError)
		return
	}

	if ride.PaymentHoldID != "" && s.Payments != nil {
		switch body.Status {
		case models.StatusCompleted:
			if err := s.Payments.Capture(r.Context(), ride.PaymentHoldID); err != nil {
				s.logger.Warn("fare hold capture failed", "ride_id", id, "error", err)
			}
		case models.StatusCancelled:
			if err := s.Payments.Release(r.Context(), ride.PaymentHoldID); err != nil {
				s.logger.Warn("fare hold release failed", "ride_id", id, "error", err)
			}
		}
	}
	if s.Gateway != nil {
		update := map[string]any{
			"type":    "RIDE_STATUS_UPDATE",
			"ride_id": id,
			"status":  body.Status,
		}
		s.Gateway.PushStatus(ride.CustomerID, update)
		if ride.DriverID != "" {
			s.Gateway.PushDriverStatus(ride.DriverID, update)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDriverLocation(w http.ResponseWriter, r *http.Request) {
	var d models.Driver
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	d.Online = true
	// publish to kafka if configured
	if s.Kafka != nil {
		if err := s.Kafka.PublishLocation(d); err != nil {
			s.logger.Warn("location publish failed", "driver_id", d.ID, "error", err)
		}
	}
	// update geo store directly so dispatch sees the driver without waiting
	// for the consumer
	if s.Geo != nil {
		s.Geo.Upsert(d)
	}
	observability.DriversOnline.Inc()
	w.WriteHeader(http.StatusNoContent)
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleDriverWS(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["driver_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "upgrade failed", http.StatusBadRequest)
		return
	}
	s.Gateway.AddDriver(id, conn)
}

func (s *Server) handleCustomerWS(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["customer_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "upgrade failed", http.StatusBadRequest)
		return
	}
	s.Gateway.AddCustomer(id, conn)
}

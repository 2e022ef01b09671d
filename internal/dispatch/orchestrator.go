package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/eta"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
)

// StatusSearching is returned by CreateRide; dispatch is fully asynchronous
// and never blocks on a driver's answer.
const StatusSearching = "SEARCHING"

// CandidateProvider answers the nearest-drivers query. Repeat calls with the
// same arguments may return a different set; the orchestrator excludes
// previously-rejected drivers itself.
type CandidateProvider interface {
	Nearby(ctx context.Context, lat, lon float64, class models.VehicleClass, limit int) []models.Driver
}

// NotificationGateway pushes to driver and customer apps. Fire-and-forget:
// implementations never report delivery failures back to dispatch.
type NotificationGateway interface {
	PushOffer(driverID string, offer models.OfferNotification)
	PushStatus(customerID string, payload map[string]any)
	PushDriverStatus(driverID string, payload map[string]any)
	PushWithdrawal(driverID, requestID string)
}

// RideStore persists confirmed rides, exactly once per successful dispatch.
type RideStore interface {
	SaveRide(r *models.Ride) error
}

// Directory resolves driver and customer entities at acceptance time.
type Directory interface {
	Driver(ctx context.Context, id string) (models.Driver, error)
	Customer(ctx context.Context, id string) (models.Customer, error)
}

// EventSink receives dispatch lifecycle events, best-effort.
type EventSink interface {
	PublishDispatchEvent(evt models.DispatchEvent) error
}

// PaymentGateway places a fare hold at booking, captures it on completion
// and releases it on cancellation.
type PaymentGateway interface {
	Hold(ctx context.Context, amount int64, currency, customerID string) (string, error)
	Capture(ctx context.Context, holdID string) error
	Release(ctx context.Context, holdID string) error
}

// ETAEstimator enriches offers with a pickup ETA.
type ETAEstimator interface {
	EstimateSeconds(from, to models.Coord) (float64, error)
}

type Config struct {
	FanOut        int           // candidates fetched per provider query
	RetryInterval time.Duration // silent-timeout tick period
	RetryMaxTicks int           // ticks before giving up on a request
	SpeedMps      float64       // fallback speed for naive ETA
	Currency      string        // payment hold currency
}

func (c Config) withDefaults() Config {
	if c.FanOut <= 0 {
		c.FanOut = 10
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = 10 * time.Second
	}
	if c.RetryMaxTicks <= 0 {
		c.RetryMaxTicks = 120
	}
	if c.SpeedMps <= 0 {
		c.SpeedMps = 10
	}
	if c.Currency == "" {
		c.Currency = "usd"
	}
	return c
}

// Deps are the orchestrator's external collaborators. Events, Payments and
// ETA are optional.
type Deps struct {
	Provider  CandidateProvider
	Gateway   NotificationGateway
	Rides     RideStore
	Directory Directory
	Events    EventSink
	Payments  PaymentGateway
	ETA       ETAEstimator
	Logger    *slog.Logger
}

// Orchestrator owns the dispatch state machine: it creates pending rides,
// advances the offer cursor on rejection, finalizes on acceptance and
// re-queries candidates when the offer list is exhausted.
type Orchestrator struct {
	cfg   Config
	deps  Deps
	store *Store

	tasksMu sync.Mutex
	tasks   map[string]*retryTask
}

func New(cfg Config, deps Deps) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Orchestrator{
		cfg:   cfg.withDefaults(),
		deps:  deps,
		store: NewStore(),
		tasks: make(map[string]*retryTask),
	}
}

type CreateResult struct {
	RequestID      string `json:"ride_request_id"`
	Status         string `json:"status"`
	Message        string `json:"message"`
	CandidateCount int    `json:"nearest_drivers_count"`
}

// CreateRide registers a pending ride, offers it to the nearest candidate
// and arms the retry timer. The timer is armed even with zero candidates so
// a later-arriving driver still triggers progress.
func (o *Orchestrator) CreateRide(ctx context.Context, req models.RideRequest) CreateResult {
	id := newID()
	cands := o.deps.Provider.Nearby(ctx, req.Pickup.Lat, req.Pickup.Lon, req.VehicleClass, o.cfg.FanOut)

	pr := newPendingRide(id, req, cands)
	o.store.Put(pr)
	observability.DispatchRequestsTotal.Inc()
	observability.PendingRides.Set(float64(o.store.Len()))

	o.deps.Logger.Info("ride request created",
		"request_id", id, "customer_id", req.CustomerID, "candidates", len(cands))

	if len(cands) > 0 {
		pr.mu.Lock()
		d, ok := pr.currentLocked()
		pr.mu.Unlock()
		if ok {
			o.pushOffer(pr, d)
		}
	}
	o.armRetry(pr)
	o.publish(models.DispatchEvent{Type: models.EventRideRequested, RequestID: id, CustomerID: req.CustomerID})

	msg := "Finding driver..."
	if len(cands) == 0 {
		msg = "No drivers currently available, searching..."
	}
	return CreateResult{RequestID: id, Status: StatusSearching, Message: msg, CandidateCount: len(cands)}
}

// HandleDriverResponse routes a driver's answer into the acceptance or
// rejection path. A response for a resolved request never resurrects a
// pending ride; a stale acceptance gets a withdrawal push so the driver's
// app can clear the offer.
func (o *Orchestrator) HandleDriverResponse(ctx context.Context, requestID, driverID string, accepted bool) {
	pr, ok := o.store.Get(requestID)
	if !ok {
		if accepted {
			o.deps.Logger.Warn("driver accepted a resolved ride request",
				"request_id", requestID, "driver_id", driverID)
			o.deps.Gateway.PushWithdrawal(driverID, requestID)
		}
		return
	}
	if accepted {
		o.acceptRide(ctx, pr, driverID)
		return
	}
	switch o.rejectCurrent(ctx, pr) {
	case rejectExhausted:
		o.finishNoDriver(pr)
	case rejectStale:
		o.cancelRetry(pr.RequestID)
	}
}

func (o *Orchestrator) acceptRide(ctx context.Context, pr *PendingRide, driverID string) {
	// The CAS is the single point guaranteeing at most one confirmed ride
	// per request. It must happen before any fallible work.
	if !pr.accepted.CompareAndSwap(false, true) {
		o.deps.Logger.Info("late acceptance dropped",
			"request_id", pr.RequestID, "driver_id", driverID)
		o.deps.Gateway.PushWithdrawal(driverID, pr.RequestID)
		return
	}
	o.cancelRetry(pr.RequestID)

	ride, driver, err := o.confirmBooking(ctx, pr, driverID)
	if err != nil {
		// Revert and fall through to the rejection path so dispatch can
		// continue with a different candidate. Re-arm the timer: the request
		// is live again and silent timeouts must keep advancing it.
		o.deps.Logger.Warn("booking failed, returning request to dispatch",
			"request_id", pr.RequestID, "driver_id", driverID, "error", err)
		pr.accepted.Store(false)
		// A cancel that arrived mid-booking lost the CAS and deferred the
		// outcome here: the request is gone, so withdraw from the accepting
		// driver instead of re-dispatching.
		if _, live := o.store.Get(pr.RequestID); !live {
			o.deps.Gateway.PushWithdrawal(driverID, pr.RequestID)
			return
		}
		o.armRetry(pr)
		switch o.rejectCurrent(ctx, pr) {
		case rejectExhausted:
			o.finishNoDriver(pr)
		case rejectStale:
			o.cancelRetry(pr.RequestID)
			o.deps.Gateway.PushWithdrawal(driverID, pr.RequestID)
		}
		return
	}

	o.deps.Gateway.PushStatus(pr.Request.CustomerID, map[string]any{
		"type":       "RIDE_ACCEPTED",
		"ride_id":    ride.ID,
		"driver_id":  driver.ID,
		"driver_lat": driver.Loc.Lat,
		"driver_lon": driver.Loc.Lon,
	})
	o.deps.Gateway.PushDriverStatus(driver.ID, map[string]any{
		"type":        "RIDE_CREATED",
		"ride_id":     ride.ID,
		"customer_id": pr.Request.CustomerID,
	})

	o.store.Remove(pr.RequestID)
	observability.BookingsTotal.Inc()
	observability.PendingRides.Set(float64(o.store.Len()))
	o.publish(models.DispatchEvent{
		Type: models.EventRideConfirmed, RequestID: pr.RequestID,
		CustomerID: pr.Request.CustomerID, DriverID: driver.ID, RideID: ride.ID,
	})
	o.deps.Logger.Info("ride confirmed",
		"request_id", pr.RequestID, "ride_id", ride.ID, "driver_id", driver.ID)
}

func (o *Orchestrator) confirmBooking(ctx context.Context, pr *PendingRide, driverID string) (*models.Ride, models.Driver, error) {
	driver, err := o.deps.Directory.Driver(ctx, driverID)
	if err != nil {
		return nil, models.Driver{}, fmt.Errorf("resolve driver %s: %w", driverID, err)
	}
	customer, err := o.deps.Directory.Customer(ctx, pr.Request.CustomerID)
	if err != nil {
		return nil, models.Driver{}, fmt.Errorf("resolve customer %s: %w", pr.Request.CustomerID, err)
	}

	now := time.Now()
	ride := &models.Ride{
		ID:           newID(),
		RequestID:    pr.RequestID,
		CustomerID:   customer.ID,
		DriverID:     driver.ID,
		Pickup:       pr.Request.Pickup,
		Dropoff:      pr.Request.Dropoff,
		Distance:     pr.Request.Distance,
		Fare:         pr.Request.Fare,
		Status:       models.StatusConfirmed,
		VehicleClass: pr.Request.VehicleClass,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	// Fare hold is best-effort; a declined hold does not block the booking.
	if o.deps.Payments != nil && pr.Request.Fare > 0 {
		if holdID, err := o.deps.Payments.Hold(ctx, pr.Request.Fare, o.cfg.Currency, customer.ID); err != nil {
			o.deps.Logger.Warn("payment hold failed", "request_id", pr.RequestID, "error", err)
		} else {
			ride.PaymentHoldID = holdID
		}
	}

	if err := o.deps.Rides.SaveRide(ride); err != nil {
		if ride.PaymentHoldID != "" && o.deps.Payments != nil {
			_ = o.deps.Payments.Release(ctx, ride.PaymentHoldID)
		}
		return nil, models.Driver{}, fmt.Errorf("persist ride: %w", err)
	}
	return ride, driver, nil
}

type rejectOutcome int

const (
	// a candidate now holds the offer
	rejectAdvanced rejectOutcome = iota
	// no candidates reachable right now; keep the request alive
	rejectWaiting
	// the provider still knows drivers but every one of them already
	// declined this request
	rejectExhausted
	// the pending ride was removed concurrently; nothing was mutated
	rejectStale
)

// rejectCurrent records the current offer holder as rejected, advances the
// cursor and, when the list runs out, re-fetches candidates minus every
// rejected id. Used for both explicit rejections and silent timeouts.
func (o *Orchestrator) rejectCurrent(ctx context.Context, pr *PendingRide) rejectOutcome {
	pr.mu.Lock()
	if pr.accepted.Load() {
		pr.mu.Unlock()
		return rejectAdvanced
	}
	// A cancel or booking may have removed the entry while this call was
	// waiting on the lock. An orphaned entry must not be advanced: the next
	// candidate would receive an offer nobody can ever withdraw.
	if _, live := o.store.Get(pr.RequestID); !live {
		pr.mu.Unlock()
		return rejectStale
	}

	if d, ok := pr.currentLocked(); ok {
		pr.rejected[d.ID] = struct{}{}
		observability.RejectionsTotal.Inc()
		o.deps.Logger.Info("driver rejected or timed out",
			"request_id", pr.RequestID, "driver_id", d.ID, "rejected_total", len(pr.rejected))
	}
	pr.offerIndex++

	var next models.Driver
	outcome := rejectWaiting
	if d, ok := pr.currentLocked(); ok {
		next = d
		outcome = rejectAdvanced
	} else {
		fresh := o.deps.Provider.Nearby(ctx, pr.Request.Pickup.Lat, pr.Request.Pickup.Lon, pr.Request.VehicleClass, o.cfg.FanOut)
		kept := make([]models.Driver, 0, len(fresh))
		for _, d := range fresh {
			if _, seen := pr.rejected[d.ID]; !seen {
				kept = append(kept, d)
			}
		}
		switch {
		case len(kept) > 0:
			pr.candidates = kept
			pr.offerIndex = 0
			next = kept[0]
			outcome = rejectAdvanced
		case len(fresh) > 0:
			outcome = rejectExhausted
		}
	}
	pr.mu.Unlock()

	if outcome == rejectAdvanced {
		o.pushOffer(pr, next)
	}
	return outcome
}

// CancelPendingRide withdraws an in-flight request on behalf of the
// customer. Safe to call twice and safe concurrently with an acceptance:
// the accepted CAS decides the winner, the loser no-ops.
func (o *Orchestrator) CancelPendingRide(requestID string) {
	pr, ok := o.store.Remove(requestID)
	o.cancelRetry(requestID)
	if !ok {
		o.deps.Logger.Info("cancel for unknown or resolved ride request", "request_id", requestID)
		return
	}
	observability.PendingRides.Set(float64(o.store.Len()))

	if !pr.accepted.CompareAndSwap(false, true) {
		// an acceptance got there first; it owns the outcome
		return
	}

	pr.mu.Lock()
	d, held := pr.currentLocked()
	pr.mu.Unlock()
	if held {
		o.deps.Gateway.PushWithdrawal(d.ID, requestID)
	}
	observability.CancellationsTotal.Inc()
	o.publish(models.DispatchEvent{
		Type: models.EventRideCancelled, RequestID: requestID, CustomerID: pr.Request.CustomerID,
	})
	o.deps.Logger.Info("pending ride cancelled", "request_id", requestID)
}

// finishNoDriver is the sole path terminating a request without a booking.
// Removal from the store is the guard that makes the customer notification
// fire exactly once.
func (o *Orchestrator) finishNoDriver(pr *PendingRide) {
	if _, ok := o.store.Remove(pr.RequestID); !ok {
		return
	}
	o.cancelRetry(pr.RequestID)
	observability.ExhaustedTotal.Inc()
	observability.PendingRides.Set(float64(o.store.Len()))

	o.deps.Gateway.PushStatus(pr.Request.CustomerID, map[string]any{
		"type":            "NO_DRIVER_AVAILABLE",
		"ride_request_id": pr.RequestID,
		"message":         "No available drivers found. Please try again later.",
	})
	o.publish(models.DispatchEvent{
		Type: models.EventNoDriverAvailable, RequestID: pr.RequestID, CustomerID: pr.Request.CustomerID,
	})
	o.deps.Logger.Warn("no driver available", "request_id", pr.RequestID)
}

func (o *Orchestrator) pushOffer(pr *PendingRide, d models.Driver) {
	o.deps.Gateway.PushOffer(d.ID, models.OfferNotification{
		RequestID:    pr.RequestID,
		CustomerID:   pr.Request.CustomerID,
		Pickup:       pr.Request.Pickup,
		Dropoff:      pr.Request.Dropoff,
		Distance:     pr.Request.Distance,
		Fare:         pr.Request.Fare,
		VehicleClass: pr.Request.VehicleClass,
		ETASeconds:   o.estimateETA(d.Loc, pr.Request.Pickup),
		Timestamp:    time.Now().UnixMilli(),
	})
	observability.OffersTotal.Inc()
	o.deps.Logger.Info("offer pushed", "request_id", pr.RequestID, "driver_id", d.ID)
}

func (o *Orchestrator) estimateETA(from, to models.Coord) float64 {
	if o.deps.ETA != nil {
		if v, err := o.deps.ETA.EstimateSeconds(from, to); err == nil {
			return v
		}
	}
	return eta.EstimateSeconds(from, to, o.cfg.SpeedMps)
}

func (o *Orchestrator) publish(evt models.DispatchEvent) {
	if o.deps.Events == nil {
		return
	}
	evt.Timestamp = time.Now().UnixMilli()
	if err := o.deps.Events.PublishDispatchEvent(evt); err != nil {
		o.deps.Logger.Warn("dispatch event publish failed", "type", evt.Type, "request_id", evt.RequestID, "error", err)
	}
}

// Close cancels every retry timer. Pending rides are abandoned, not
// notified; this is process shutdown, not a dispatch outcome.
func (o *Orchestrator) Close() {
	o.tasksMu.Lock()
	for id, t := range o.tasks {
		delete(o.tasks, id)
		t.cancel()
	}
	o.tasksMu.Unlock()
}

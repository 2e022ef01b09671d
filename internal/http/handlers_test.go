package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/notify"
	"github.com/example/ride-dispatch/internal/storage"
)

type fakePayments struct {
	mu       sync.Mutex
	captured []string
	released []string
}

func (f *fakePayments) Hold(ctx context.Context, amount int64, currency, customerID string) (string, error) {
	return "hold-" + customerID, nil
}

func (f *fakePayments) Capture(ctx context.Context, holdID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.captured = append(f.captured, holdID)
	return nil
}

func (f *fakePayments) Release(ctx context.Context, holdID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, holdID)
	return nil
}

func newTestServer() (*Server, *storage.MemoryStore, *geo.Index, *fakePayments) {
	logger := logging.NewLogger("error")
	g := geo.NewIndex()
	store := storage.NewMemoryStore()
	gw := notify.NewWSGateway(logger)
	pay := &fakePayments{}
	orch := dispatch.New(dispatch.Config{RetryInterval: time.Hour}, dispatch.Deps{
		Provider:  g,
		Gateway:   gw,
		Rides:     store,
		Directory: store,
		Logger:    logger,
	})
	return NewServer(logger, orch, g, store, nil, gw, pay), store, g, pay
}

func TestRideRequestReturnsSearching(t *testing.T) {
	srv, _, g, _ := newTestServer()
	g.Upsert(models.Driver{ID: "d1", Online: true, VehicleClass: models.ClassEconomy})

	body, _ := json.Marshal(models.RideRequest{
		CustomerID:   "c1",
		Pickup:       models.Coord{Lat: 1, Lon: 1},
		Dropoff:      models.Coord{Lat: 2, Lon: 2},
		VehicleClass: models.ClassEconomy,
	})
	req := httptest.NewRequest("POST", "/api/v1/rides/request", bytes.NewReader(body))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	var res dispatch.CreateResult
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	if res.Status != dispatch.StatusSearching {
		t.Fatalf("expected SEARCHING, got %s", res.Status)
	}
	if res.CandidateCount != 1 {
		t.Fatalf("expected 1 candidate, got %d", res.CandidateCount)
	}
}

func TestRideRequestRequiresCustomer(t *testing.T) {
	srv, _, _, _ := newTestServer()
	req := httptest.NewRequest("POST", "/api/v1/rides/request", bytes.NewReader([]byte(`{}`)))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestDriverResponseFlow(t *testing.T) {
	srv, store, g, _ := newTestServer()
	g.Upsert(models.Driver{ID: "d1", Online: true, VehicleClass: models.ClassEconomy})
	store.PutDriver(models.Driver{ID: "d1"})
	store.PutCustomer(models.Customer{ID: "c1"})

	body, _ := json.Marshal(models.RideRequest{CustomerID: "c1", VehicleClass: models.ClassEconomy, Fare: 900})
	req := httptest.NewRequest("POST", "/api/v1/rides/request", bytes.NewReader(body))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	var res dispatch.CreateResult
	_ = json.Unmarshal(w.Body.Bytes(), &res)

	respBody, _ := json.Marshal(models.DriverResponse{RequestID: res.RequestID, DriverID: "d1", Accepted: true})
	req = httptest.NewRequest("POST", "/api/v1/rides/response", bytes.NewReader(respBody))
	w = httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
}

func TestCancelPendingAlwaysNoContent(t *testing.T) {
	srv, _, _, _ := newTestServer()
	req := httptest.NewRequest("POST", "/api/v1/rides/request/unknown/cancel", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
}

func TestRideStatusUpdate(t *testing.T) {
	srv, store, _, _ := newTestServer()
	_ = store.SaveRide(&models.Ride{ID: "r1", CustomerID: "c1", Status: models.StatusConfirmed})

	body := bytes.NewReader([]byte(`{"status":"CANCELLED"}`))
	req := httptest.NewRequest("POST", "/api/v1/rides/r1/status", body)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", w.Code, w.Body.String())
	}

	got, _ := store.GetRide("r1")
	if got.Status != models.StatusCancelled {
		t.Fatalf("expected CANCELLED, got %s", got.Status)
	}
}

func TestRideStatusRejectsUnknownStatus(t *testing.T) {
	srv, _, _, _ := newTestServer()
	req := httptest.NewRequest("POST", "/api/v1/rides/r1/status", bytes.NewReader([]byte(`{"status":"TELEPORTED"}`)))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestRideStatusCompletedCapturesHold(t *testing.T) {
	srv, store, _, pay := newTestServer()
	_ = store.SaveRide(&models.Ride{ID: "r1", CustomerID: "c1", DriverID: "d1", Status: models.StatusOngoing, PaymentHoldID: "h1"})

	req := httptest.NewRequest("POST", "/api/v1/rides/r1/status", bytes.NewReader([]byte(`{"status":"COMPLETED"}`)))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", w.Code, w.Body.String())
	}
	if len(pay.captured) != 1 || pay.captured[0] != "h1" {
		t.Fatalf("expected hold h1 captured, got %v", pay.captured)
	}
	if len(pay.released) != 0 {
		t.Fatalf("completion must not release the hold, got %v", pay.released)
	}
}

func TestRideStatusCancelledReleasesHoldAndNotifiesBothSides(t *testing.T) {
	srv, store, _, pay := newTestServer()
	_ = store.SaveRide(&models.Ride{ID: "r1", CustomerID: "c1", DriverID: "d1", Status: models.StatusConfirmed, PaymentHoldID: "h1"})

	// no live sessions: pushes land on the HTTP fallback relay
	var mu sync.Mutex
	var recipients []string
	relay := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Recipient string `json:"recipient"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		recipients = append(recipients, body.Recipient)
		mu.Unlock()
	}))
	defer relay.Close()
	srv.Gateway.Fallback = notify.NewHTTPPushGateway(relay.URL, "")

	req := httptest.NewRequest("POST", "/api/v1/rides/r1/status", bytes.NewReader([]byte(`{"status":"CANCELLED"}`)))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", w.Code, w.Body.String())
	}
	if len(pay.released) != 1 || pay.released[0] != "h1" {
		t.Fatalf("expected hold h1 released, got %v", pay.released)
	}

	mu.Lock()
	got := append([]string(nil), recipients...)
	mu.Unlock()
	seen := map[string]bool{}
	for _, r := range got {
		seen[r] = true
	}
	if !seen["c1"] || !seen["d1"] {
		t.Fatalf("expected both customer and driver notified, got %v", got)
	}
}

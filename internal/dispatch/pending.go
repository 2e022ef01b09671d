package dispatch

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"sync/atomic"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

// PendingRide is the in-memory record of an in-flight, unconfirmed ride
// request. The accepted flag is the race arbiter and is only ever touched
// through compare-and-swap or after the swap succeeded; every other mutable
// field is guarded by mu and mutated by one response handler or timer tick
// at a time.
type PendingRide struct {
	RequestID string
	Request   models.RideRequest
	CreatedAt time.Time

	accepted atomic.Bool

	mu         sync.Mutex
	candidates []models.Driver
	offerIndex int
	rejected   map[string]struct{}
}

func newPendingRide(id string, req models.RideRequest, candidates []models.Driver) *PendingRide {
	return &PendingRide{
		RequestID:  id,
		Request:    req,
		CreatedAt:  time.Now(),
		candidates: candidates,
		rejected:   make(map[string]struct{}),
	}
}

// currentLocked returns the driver holding the offer. Callers hold p.mu.
func (p *PendingRide) currentLocked() (models.Driver, bool) {
	if p.offerIndex < 0 || p.offerIndex >= len(p.candidates) {
		return models.Driver{}, false
	}
	return p.candidates[p.offerIndex], true
}

// Store keys pending rides by request id. Insert and remove are atomic per
// key; only removal is terminal, no completed state is retained.
type Store struct {
	mu    sync.RWMutex
	rides map[string]*PendingRide
}

func NewStore() *Store {
	return &Store{rides: make(map[string]*PendingRide)}
}

func (s *Store) Get(requestID string) (*PendingRide, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pr, ok := s.rides[requestID]
	return pr, ok
}

func (s *Store) Put(pr *PendingRide) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rides[pr.RequestID] = pr
}

func (s *Store) Remove(requestID string) (*PendingRide, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pr, ok := s.rides[requestID]
	if ok {
		delete(s.rides, requestID)
	}
	return pr, ok
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rides)
}

func newID() string { b := make([]byte, 8); _, _ = rand.Read(b); return hex.EncodeToString(b) }

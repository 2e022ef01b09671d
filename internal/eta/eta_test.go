package eta

import (
	"errors"
	"testing"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

type countingClient struct {
	calls int
	err   error
}

func (c *countingClient) EstimateSeconds(from, to models.Coord) (float64, error) {
	c.calls++
	if c.err != nil {
		return 0, c.err
	}
	return 42, nil
}

func TestCachedClientReusesEstimate(t *testing.T) {
	inner := &countingClient{}
	c := NewCachedClient(inner, time.Minute)
	a, b := models.Coord{Lat: 1, Lon: 1}, models.Coord{Lat: 2, Lon: 2}

	for i := 0; i < 3; i++ {
		v, err := c.EstimateSeconds(a, b)
		if err != nil || v != 42 {
			t.Fatalf("estimate: %v %v", v, err)
		}
	}
	if inner.calls != 1 {
		t.Fatalf("expected 1 upstream call, got %d", inner.calls)
	}
}

func TestCachedClientDoesNotCacheErrors(t *testing.T) {
	inner := &countingClient{err: errors.New("osrm down")}
	c := NewCachedClient(inner, time.Minute)
	a, b := models.Coord{Lat: 1, Lon: 1}, models.Coord{Lat: 2, Lon: 2}

	if _, err := c.EstimateSeconds(a, b); err == nil {
		t.Fatal("expected error")
	}
	if _, err := c.EstimateSeconds(a, b); err == nil {
		t.Fatal("expected error again, not a cached zero")
	}
	if inner.calls != 2 {
		t.Fatalf("expected 2 upstream calls, got %d", inner.calls)
	}
}

func TestNaiveEstimateUsesFallbackSpeed(t *testing.T) {
	v := EstimateSeconds(models.Coord{}, models.Coord{Lat: 0.01}, 0)
	if v <= 0 {
		t.Fatalf("expected positive eta, got %f", v)
	}
}

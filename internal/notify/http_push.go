package notify

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"
)

// HTTPPushGateway posts JSON to a mobile-push relay (FCM-style HTTP
// endpoint) for recipients without a live websocket session.
type HTTPPushGateway struct {
	Endpoint string
	Key      string
	Client   *http.Client
}

func NewHTTPPushGateway(endpoint, key string) *HTTPPushGateway {
	return &HTTPPushGateway{Endpoint: endpoint, Key: key, Client: &http.Client{Timeout: 3 * time.Second}}
}

func (g *HTTPPushGateway) Push(audience, recipientID string, payload any) {
	body := map[string]any{
		"audience":  audience,
		"recipient": recipientID,
		"data":      payload,
	}
	b, _ := json.Marshal(body)
	req, _ := http.NewRequest("POST", g.Endpoint, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	if g.Key != "" {
		req.Header.Set("Authorization", "Bearer "+g.Key)
	}
	resp, err := g.Client.Do(req)
	if err != nil {
		return
	}
	resp.Body.Close()
}

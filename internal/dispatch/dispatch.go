package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/example/rider-dispatch/internal/models"
)

// Notifier delivers an assignment notice to a rider. Implementations
// are best-effort: the engine logs failures and moves on, so a notifier
// must never block an assignment on delivery problems.
type Notifier interface {
	NotifyAssignment(ctx context.Context, rider models.Rider, orderID string, pickup models.Location) error
}

// AssignmentNotice is the payload sent to rider devices.
type AssignmentNotice struct {
	OrderID string          `json:"order_id"`
	Pickup  models.Location `json:"pickup"`
}

// PushNotifier tries the rider's live WebSocket session first and falls
// back to posting the notice to an external push endpoint.
type PushNotifier struct {
	Endpoint string
	Client   *http.Client
	WS       *WSRegistry
}

func NewPushNotifier(endpoint string, ws *WSRegistry) *PushNotifier {
	return &PushNotifier{Endpoint: endpoint, Client: &http.Client{Timeout: 3 * time.Second}, WS: ws}
}

func (p *PushNotifier) NotifyAssignment(ctx context.Context, rider models.Rider, orderID string, pickup models.Location) error {
	notice := AssignmentNotice{OrderID: orderID, Pickup: pickup}
	if p.WS != nil {
		if err := p.WS.Send(rider.ID, notice); err == nil {
			return nil
		}
	}
	if p.Endpoint == "" {
		return ErrNoSession
	}
	body, _ := json.Marshal(map[string]any{"rider_id": rider.ID, "notice": notice})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.Endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return &PushError{Status: resp.StatusCode}
	}
	return nil
}

type PushError struct{ Status int }

func (e *PushError) Error() string { return "push endpoint rejected notice" }

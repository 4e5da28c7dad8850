package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/example/rider-dispatch/internal/models"
)

// FCMNotifier posts assignment notices to an FCM HTTPv1 endpoint using a
// server key or oauth token. Used when rider devices register for push
// instead of holding a WebSocket open.
type FCMNotifier struct {
	Endpoint string
	Key      string
	Client   *http.Client
}

func NewFCMNotifier(endpoint, key string) *FCMNotifier {
	return &FCMNotifier{Endpoint: endpoint, Key: key, Client: &http.Client{Timeout: 3 * time.Second}}
}

func (f *FCMNotifier) NotifyAssignment(ctx context.Context, rider models.Rider, orderID string, pickup models.Location) error {
	body := map[string]interface{}{
		"message": map[string]interface{}{
			"token": rider.ID,
			"data": map[string]interface{}{
				"order_id":   orderID,
				"pickup_lat": pickup.Lat,
				"pickup_lon": pickup.Lon,
			},
		},
	}
	b, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.Endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if f.Key != "" {
		req.Header.Set("Authorization", "Bearer "+f.Key)
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return &PushError{Status: resp.StatusCode}
	}
	return nil
}

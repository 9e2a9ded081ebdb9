package dispatch

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/Jeremytpk/quicktrash-sub002/internal/models"
)

// Notifier delivers an offer to a worker's device. Delivery is fire and
// forget: a worker we can't reach just lets their countdown run out, the
// session never blocks on it.
type Notifier interface {
	Notify(workerID string, offer models.Offer)
}

// PushNotifier tries the worker's live websocket first and falls back to
// posting the payload to a push-delivery endpoint (FCM proxy or similar).
type PushNotifier struct {
	WS       *WSRegistry
	Endpoint string
	Key      string
	Client   *http.Client
	Logger   *slog.Logger
}

func NewPushNotifier(ws *WSRegistry, endpoint, key string, logger *slog.Logger) *PushNotifier {
	return &PushNotifier{
		WS:       ws,
		Endpoint: endpoint,
		Key:      key,
		Client:   &http.Client{Timeout: 3 * time.Second},
		Logger:   logger,
	}
}

func (p *PushNotifier) Notify(workerID string, offer models.Offer) {
	if p.WS != nil {
		if err := p.WS.Offer(workerID, offer); err == nil {
			return
		}
	}
	if p.Endpoint == "" {
		return
	}
	body := map[string]any{
		"message": map[string]any{
			"token": workerID,
			"data":  map[string]any{"job_id": offer.JobID, "offer": offer},
		},
	}
	b, _ := json.Marshal(body)
	req, err := http.NewRequest(http.MethodPost, p.Endpoint, bytes.NewReader(b))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if p.Key != "" {
		req.Header.Set("Authorization", "Bearer "+p.Key)
	}
	if resp, err := p.Client.Do(req); err != nil {
		p.Logger.Debug("push delivery failed", "worker_id", workerID, "error", err)
	} else {
		resp.Body.Close()
	}
}

package notify

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/example/order-dispatch/internal/models"
)

// Sender is the out-of-band notification collaborator (email/SMS gateway).
// Delivery is fire-and-forget and must never block the dispatch loop.
type Sender interface {
	NotifyDriver(driverID int64, n *models.Notification)
}

// HTTPSender posts notification summaries to an external gateway endpoint.
type HTTPSender struct {
	Endpoint string
	Client   *http.Client
	Logger   *slog.Logger
}

func NewHTTPSender(endpoint string, logger *slog.Logger) *HTTPSender {
	return &HTTPSender{Endpoint: endpoint, Client: &http.Client{Timeout: 3 * time.Second}, Logger: logger}
}

func (s *HTTPSender) NotifyDriver(driverID int64, n *models.Notification) {
	if s.Endpoint == "" {
		return
	}
	go func() {
		body := map[string]any{
			"driver_id": driverID,
			"title":     n.Title,
			"message":   n.Message,
			"order_id":  n.OrderID,
			"kind":      n.Kind,
			"channel":   n.Channel,
		}
		b, _ := json.Marshal(body)
		resp, err := s.Client.Post(s.Endpoint, "application/json", bytes.NewReader(b))
		if err != nil {
			s.Logger.Warn("push gateway post failed", "error", err, "driver_id", driverID)
			return
		}
		_ = resp.Body.Close()
	}()
}

// NopSender is used when no gateway is configured.
type NopSender struct{}

func (NopSender) NotifyDriver(int64, *models.Notification) {}

package ws

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

// Health is the /health response body.
type Health struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	ServerID  string `json:"serverId,omitempty"`
	Stats     any    `json:"stats,omitempty"`
}

// HealthFunc reports instance health. A non-nil error turns the response into 503.
type HealthFunc func() (stats any, err error)

// NewRouter mounts the websocket endpoint and the health endpoint.
func NewRouter(hub *Hub, serverID string, health HealthFunc) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/ws", hub)
	r.HandleFunc("/health", healthHandler(serverID, health)).Methods(http.MethodGet)
	return r
}

func healthHandler(serverID string, health HealthFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		body := Health{
			Status:    "OK",
			Message:   "WebSocket server is running",
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
			ServerID:  serverID,
		}
		code := http.StatusOK
		if health != nil {
			stats, err := health()
			body.Stats = stats
			if err != nil {
				body.Status = "DEGRADED"
				body.Message = err.Error()
				code = http.StatusServiceUnavailable
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(body)
	}
}

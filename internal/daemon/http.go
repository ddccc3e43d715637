package daemon

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yairfalse/vahti/hub"
	"github.com/yairfalse/vahti/monitor"
	"github.com/yairfalse/vahti/telemetry"
	"github.com/yairfalse/vahti/types"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// healthStatus is the /health response body.
type healthStatus struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Subscribers   int    `json:"subscribers"`
}

// Handler builds the daemon's HTTP surface.
func (d *Daemon) Handler() http.Handler {
	mux := http.NewServeMux()

	if telemetry.PrometheusRegistry != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(telemetry.PrometheusRegistry, promhttp.HandlerOpts{}))
	} else {
		mux.Handle("/metrics", promhttp.Handler())
	}

	mux.HandleFunc("/health", d.handleHealth)
	mux.HandleFunc("/-/healthy", d.handleHealth)
	mux.HandleFunc("/-/ready", d.handleHealth)

	mux.HandleFunc("GET /api/v1/state", d.handleState)
	mux.HandleFunc("GET /api/v1/resources", d.handleResources)
	mux.HandleFunc("GET /api/v1/resources/{id}/checks", d.handleChecks)
	mux.HandleFunc("POST /api/v1/resources/{id}/checks/{kind}", d.handleTrigger)
	mux.HandleFunc("POST /api/v1/regions/refresh", d.handleRefresh)
	mux.HandleFunc("/ws", d.handleWS)

	return mux
}

func (d *Daemon) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthStatus{
		Status:        "healthy",
		UptimeSeconds: int64(d.Uptime().Seconds()),
		Subscribers:   d.service.SubscriberCount(),
	})
}

func (d *Daemon) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, d.service.GetAggregateState())
}

func (d *Daemon) handleResources(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := types.ResourceFilter{
		Region: q.Get("region"),
		Type:   q.Get("type"),
		Status: q.Get("status"),
	}
	page := monitor.Page{
		Offset: intQuery(q.Get("offset"), 0),
		Limit:  intQuery(q.Get("limit"), 0),
	}
	writeJSON(w, http.StatusOK, d.service.GetInventory(filter, page))
}

func (d *Daemon) handleChecks(w http.ResponseWriter, r *http.Request) {
	checks, err := d.service.GetResourceChecks(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, checks)
}

func (d *Daemon) handleTrigger(w http.ResponseWriter, r *http.Request) {
	kind := types.CheckKind(r.PathValue("kind"))
	result, err := d.service.TriggerManualCheck(r.Context(), r.PathValue("id"), kind)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (d *Daemon) handleRefresh(w http.ResponseWriter, r *http.Request) {
	snap, err := d.service.RefreshRegions(r.Context())
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleWS upgrades the connection and registers it as a live viewer.
// The hub replays the full state immediately and the reader loop only
// watches for close.
func (d *Daemon) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		d.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := hub.NewClient(conn)
	d.service.Subscribe(client)

	go func() {
		defer d.service.Unsubscribe(client)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func intQuery(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

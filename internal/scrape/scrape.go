// Package scrape implements the Scrape Endpoint (spec §4.I): an HTTP
// handler exposing stored metric samples in Prometheus text exposition
// format, plus /health and /info companion endpoints, optional
// basic-auth/IP-allowlist gating, and a slow-request log.
package scrape

import (
	"encoding/json"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// Family is one metric family to expose: a name, help text, type, and the
// set of labeled samples currently known for it.
type Family struct {
	Name    string
	Help    string
	Type    prometheus.ValueType // prometheus.GaugeValue or prometheus.CounterValue
	Samples []FamilySample
}

// FamilySample is one labeled sample within a Family.
type FamilySample struct {
	Service   string
	Value     float64
	Timestamp time.Time
}

// Source supplies the current set of metric families to expose.
type Source func() ([]Family, error)

// StorageHealth reports whether the backing store is degraded.
type StorageHealth func() bool

// SlowRequest is one entry of the slow-request log.
type SlowRequest struct {
	Path     string
	Duration time.Duration
	At       time.Time
}

// Config configures gating and thresholds for the Handler.
type Config struct {
	Path             string // default "/metrics"
	BasicAuthUser    string // empty disables basic auth
	BasicAuthPass    string
	AllowedIPs       []string // empty disables IP allowlisting
	SlowRequestLimit time.Duration // default 2s
	Version          string
	Port             int
	StartedAt        time.Time
}

// Handler serves the scrape, health, and info endpoints.
type Handler struct {
	cfg     Config
	source  Source
	health  StorageHealth
	allowed map[string]bool

	mu           sync.Mutex
	slowRequests []SlowRequest

	now func() time.Time
}

// New builds a Handler. cfg.Path defaults to "/metrics" and
// cfg.SlowRequestLimit to 2s when unset.
func New(cfg Config, source Source, health StorageHealth) *Handler {
	if cfg.Path == "" {
		cfg.Path = "/metrics"
	}
	if cfg.SlowRequestLimit == 0 {
		cfg.SlowRequestLimit = 2 * time.Second
	}
	allowed := make(map[string]bool, len(cfg.AllowedIPs))
	for _, ip := range cfg.AllowedIPs {
		allowed[ip] = true
	}
	return &Handler{cfg: cfg, source: source, health: health, allowed: allowed, now: time.Now}
}

// Routes registers the handler's three endpoints on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc(h.cfg.Path, h.serveMetrics)
	mux.HandleFunc("/health", h.serveHealth)
	mux.HandleFunc("/info", h.serveInfo)
}

func (h *Handler) gate(w http.ResponseWriter, r *http.Request) bool {
	if len(h.allowed) > 0 {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		if !h.allowed[host] {
			http.Error(w, "forbidden", http.StatusForbidden)
			return false
		}
	}
	if h.cfg.BasicAuthUser != "" {
		user, pass, ok := r.BasicAuth()
		if !ok || user != h.cfg.BasicAuthUser || pass != h.cfg.BasicAuthPass {
			w.Header().Set("WWW-Authenticate", `Basic realm="metrics"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return false
		}
	}
	return true
}

func (h *Handler) serveMetrics(w http.ResponseWriter, r *http.Request) {
	start := h.now()
	defer h.recordSlow(r.URL.Path, start)

	if !h.gate(w, r) {
		return
	}

	if h.health != nil && h.health() {
		http.Error(w, "storage degraded", http.StatusServiceUnavailable)
		return
	}

	families, err := h.source()
	if err != nil {
		http.Error(w, "collection failed", http.StatusServiceUnavailable)
		return
	}

	dtoFamilies := toDTOFamilies(families)
	w.Header().Set("Content-Type", string(expfmt.FmtText))
	encoder := expfmt.NewEncoder(w, expfmt.FmtText)
	for _, mf := range dtoFamilies {
		if err := encoder.Encode(mf); err != nil {
			return
		}
	}
}

func toDTOFamilies(families []Family) []*dto.MetricFamily {
	out := make([]*dto.MetricFamily, 0, len(families))
	for _, f := range families {
		mf := &dto.MetricFamily{
			Name: strPtr(f.Name),
			Help: strPtr(f.Help),
			Type: dtoType(f.Type),
		}
		samples := append([]FamilySample{}, f.Samples...)
		sort.Slice(samples, func(i, j int) bool { return samples[i].Service < samples[j].Service })

		for _, s := range samples {
			metric := &dto.Metric{
				Label:       []*dto.LabelPair{{Name: strPtr("service"), Value: strPtr(s.Service)}},
				TimestampMs: int64Ptr(s.Timestamp.UnixMilli()),
			}
			switch f.Type {
			case prometheus.CounterValue:
				metric.Counter = &dto.Counter{Value: float64Ptr(s.Value)}
			default:
				metric.Gauge = &dto.Gauge{Value: float64Ptr(s.Value)}
			}
			mf.Metric = append(mf.Metric, metric)
		}
		out = append(out, mf)
	}
	return out
}

func dtoType(t prometheus.ValueType) *dto.MetricType {
	switch t {
	case prometheus.CounterValue:
		return dto.MetricType_COUNTER.Enum()
	default:
		return dto.MetricType_GAUGE.Enum()
	}
}

func strPtr(s string) *string   { return &s }
func float64Ptr(f float64) *float64 { return &f }
func int64Ptr(i int64) *int64   { return &i }

func (h *Handler) serveHealth(w http.ResponseWriter, r *http.Request) {
	start := h.now()
	defer h.recordSlow(r.URL.Path, start)

	if !h.gate(w, r) {
		return
	}
	if h.health != nil && h.health() {
		http.Error(w, "degraded", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("healthy"))
}

type infoResponse struct {
	Version string `json:"version"`
	Port    int    `json:"port"`
	UptimeS float64 `json:"uptime_seconds"`
}

func (h *Handler) serveInfo(w http.ResponseWriter, r *http.Request) {
	start := h.now()
	defer h.recordSlow(r.URL.Path, start)

	if !h.gate(w, r) {
		return
	}

	resp := infoResponse{Version: h.cfg.Version, Port: h.cfg.Port, UptimeS: h.now().Sub(h.cfg.StartedAt).Seconds()}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (h *Handler) recordSlow(path string, start time.Time) {
	duration := h.now().Sub(start)
	if duration < h.cfg.SlowRequestLimit {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.slowRequests = append(h.slowRequests, SlowRequest{Path: path, Duration: duration, At: start})
	if len(h.slowRequests) > 10 {
		h.slowRequests = h.slowRequests[len(h.slowRequests)-10:]
	}
}

// SlowRequests returns a copy of the last (up to 10) slow requests.
func (h *Handler) SlowRequests() []SlowRequest {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]SlowRequest, len(h.slowRequests))
	copy(out, h.slowRequests)
	return out
}

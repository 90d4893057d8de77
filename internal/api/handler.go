package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gyaneshwarpardhi/clinigraph/internal/engine"
	"github.com/gyaneshwarpardhi/clinigraph/internal/graphstore"
	"github.com/gyaneshwarpardhi/clinigraph/internal/stats"
)

const (
	serviceName        = "clinigraph-ingest"
	maxBodyBytes       = 4 << 20
	defaultSampleLimit = 20
	maxSampleLimit     = 1000
)

// Handler holds all HTTP handler dependencies.
type Handler struct {
	disp  *engine.Dispatcher
	agg   *stats.Aggregator
	store graphstore.Store
	mux   *http.ServeMux
	now   func() time.Time
}

// New creates an HTTP handler and registers all routes.
func New(disp *engine.Dispatcher, agg *stats.Aggregator, store graphstore.Store) http.Handler {
	h := &Handler{disp: disp, agg: agg, store: store, mux: http.NewServeMux(), now: time.Now}

	h.mux.HandleFunc("POST /webhook", h.webhook)
	h.mux.HandleFunc("POST /process", h.process)
	h.mux.HandleFunc("GET /health", h.health)
	h.mux.HandleFunc("GET /stats", h.statistics)
	h.mux.HandleFunc("GET /metrics/real-time", h.realTime)
	h.mux.HandleFunc("GET /metrics/boundary-analysis", h.boundaryAnalysis)
	h.mux.HandleFunc("GET /graph-sample", h.graphSample)
	h.mux.HandleFunc("GET /healthz", h.healthz)
	h.mux.HandleFunc("GET /readyz", h.readyz)
	h.mux.Handle("GET /metrics", promhttp.Handler())

	return loggingMiddleware(h.mux)
}

// pushEnvelope is the body a push subscription delivers.
type pushEnvelope struct {
	Message *struct {
		Data        string            `json:"data"`
		MessageID   string            `json:"messageId"`
		Attributes  map[string]string `json:"attributes"`
		PublishTime string            `json:"publishTime"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

type processResponse struct {
	Status               string  `json:"status"`
	EntityID             string  `json:"entity_id"`
	Type                 string  `json:"type"`
	RelationshipsCreated int     `json:"relationships_created"`
	ProcessingTimeMs     float64 `json:"processing_time_ms"`
}

// POST /webhook: push delivery. Non-2xx makes the sender redeliver.
func (h *Handler) webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil || len(body) == 0 {
		writeError(w, http.StatusBadRequest, "no message received")
		return
	}
	var env pushEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	if env.Message == nil || env.Message.Data == "" {
		writeError(w, http.StatusBadRequest, "no message received")
		return
	}

	res, err := h.disp.Dispatch(r.Context(), env.Message.Data)
	if err != nil {
		writeIngestError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, processResponse{
		Status:               "success",
		EntityID:             res.EntityID,
		Type:                 res.Type,
		RelationshipsCreated: res.RelationshipsCreated,
		ProcessingTimeMs:     round(res.ProcessingTimeMs, 2),
	})
}

// POST /process: direct dispatch of one JSON record.
func (h *Handler) process(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil || len(body) == 0 {
		writeError(w, http.StatusBadRequest, "no data provided")
		return
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	if len(fields) == 0 {
		writeError(w, http.StatusBadRequest, "no data provided")
		return
	}

	res, err := h.disp.Dispatch(r.Context(), json.RawMessage(body))
	if err != nil {
		writeIngestError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, processResponse{
		Status:               "success",
		EntityID:             res.EntityID,
		Type:                 res.Type,
		RelationshipsCreated: res.RelationshipsCreated,
		ProcessingTimeMs:     round(res.ProcessingTimeMs, 2),
	})
}

type performance struct {
	UptimeSeconds         float64 `json:"uptime_seconds"`
	MessagesProcessed     int64   `json:"messages_processed"`
	MessagesFailed        int64   `json:"messages_failed"`
	RelationshipsCreated  int64   `json:"relationships_created"`
	AvgProcessingTimeMs   float64 `json:"avg_processing_time_ms"`
	ThroughputMsgPerSec   float64 `json:"throughput_msg_per_sec"`
	SuccessRate           float64 `json:"success_rate"`
	ThroughputLevel       string  `json:"throughput_level,omitempty"`
	ScalingRecommendation string  `json:"scaling_recommendation,omitempty"`
}

func (h *Handler) perfSnapshot(assess bool) performance {
	snap := h.disp.Recorder().Snapshot()
	now := h.now()
	avgMs := float64(snap.AvgProcessingTime().Microseconds()) / 1000
	tput := snap.Throughput(now)
	p := performance{
		UptimeSeconds:        round(snap.Uptime(now).Seconds(), 2),
		MessagesProcessed:    snap.MessagesProcessed,
		MessagesFailed:       snap.MessagesFailed,
		RelationshipsCreated: snap.RelationshipsCreated,
		AvgProcessingTimeMs:  round(avgMs, 2),
		ThroughputMsgPerSec:  round(tput, 2),
		SuccessRate:          round(snap.SuccessRate(), 2),
	}
	if assess {
		p.ThroughputLevel = ThroughputLevel(tput)
		p.ScalingRecommendation = ScalingRecommendation(tput, avgMs)
	}
	return p
}

// GET /health: store reachability plus ingestion performance.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "healthy",
		"service":     serviceName,
		"performance": h.perfSnapshot(true),
	})
}

// GET /stats: graph counts and ingestion counters.
func (h *Handler) statistics(w http.ResponseWriter, r *http.Request) {
	s, err := h.agg.Statistics(r.Context())
	if err != nil {
		writeIngestError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"database_statistics":    s,
		"performance_statistics": h.perfSnapshot(false),
	})
}

// GET /metrics/real-time: graded snapshot for dashboards.
func (h *Handler) realTime(w http.ResponseWriter, r *http.Request) {
	s, err := h.agg.Statistics(r.Context())
	if err != nil {
		writeIngestError(w, err)
		return
	}
	snap := h.disp.Recorder().Snapshot()
	now := h.now()
	tput := snap.Throughput(now)
	avgMs := float64(snap.AvgProcessingTime().Microseconds()) / 1000

	writeJSON(w, http.StatusOK, map[string]any{
		"timestamp": now.UTC().Format(time.RFC3339Nano),
		"throughput": map[string]any{
			"current_msg_per_sec": round(tput, 2),
			"assessment":          ThroughputLevel(tput),
		},
		"processing": map[string]any{
			"avg_time_ms": round(avgMs, 2),
			"assessment":  LatencyLevel(avgMs),
		},
		"volume": map[string]any{
			"messages_processed":    snap.MessagesProcessed,
			"messages_failed":       snap.MessagesFailed,
			"relationships_created": snap.RelationshipsCreated,
		},
		"graph": map[string]any{
			"total_nodes":          s.TotalNodes,
			"total_relationships":  s.TotalRelationships,
			"relationship_density": round(s.Density(), 3),
		},
		"scaling": map[string]any{
			"recommendation":  ScalingRecommendation(tput, avgMs),
			"boundary_status": BoundaryStatus(tput),
		},
		"queue_utilization": round(h.disp.QueueUtilization(), 3),
	})
}

// optimizationOptions are the levers this service exposes, cheapest first.
var optimizationOptions = []string{
	"Raise ingest.dispatch_workers",
	"Raise nats.fetch_batch for pull consumers",
	"Run more ingest instances on the same durable consumer",
	"Tune neo4j.max_connection_pool_size",
}

// GET /metrics/boundary-analysis: scaling limits, batch ETAs and bottlenecks.
func (h *Handler) boundaryAnalysis(w http.ResponseWriter, r *http.Request) {
	snap := h.disp.Recorder().Snapshot()
	tput := snap.Throughput(h.now())
	avgMs := float64(snap.AvgProcessingTime().Microseconds()) / 1000
	found := Bottlenecks(tput, avgMs)

	writeJSON(w, http.StatusOK, map[string]any{
		"current_performance": map[string]any{
			"throughput_msg_per_sec": round(tput, 2),
			"avg_processing_time_ms": round(avgMs, 2),
			"messages_processed":     snap.MessagesProcessed,
		},
		"scaling_boundaries": map[string]any{
			"current_architecture_limit":     BatchArchitectureLimit,
			"optimization_required_above":    BatchOptimizationAbove,
			"stream_tier_recommended_above":  BatchStreamTierAbove,
			"current_throughput_sustainable": Sustainable(tput),
		},
		"performance_projections": map[string]any{
			"10k_messages_eta":  ETASeconds(10_000, tput),
			"50k_messages_eta":  ETASeconds(50_000, tput),
			"100k_messages_eta": ETASeconds(100_000, tput),
		},
		"bottleneck_analysis": map[string]any{
			"identified_bottlenecks": found,
			"primary_bottleneck":     PrimaryBottleneck(found),
		},
		"architecture_recommendations": map[string]any{
			"current_suitability":       Suitability(tput),
			"scale_to_stream_tier_when": fmt.Sprintf("Processing >%d messages/batch OR throughput <%d msg/sec", BatchStreamTierAbove, minimumCapacityMsgPerSec),
			"optimization_options":      optimizationOptions,
		},
	})
}

// GET /graph-sample?limit=N: Subject-centred edges for visualisation.
func (h *Handler) graphSample(w http.ResponseWriter, r *http.Request) {
	limit := defaultSampleLimit
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxSampleLimit)
	}
	rows, err := h.agg.Sample(r.Context(), limit)
	if err != nil {
		writeIngestError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sample_relationships": rows,
		"count":                len(rows),
	})
}

// GET /healthz: always 200 while the process is up.
func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GET /readyz: 503 if the dispatch queue is >80% full.
func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	util := h.disp.QueueUtilization()
	if util > 0.8 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":            "overloaded",
			"queue_utilization": util,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":            "ready",
		"queue_utilization": util,
	})
}

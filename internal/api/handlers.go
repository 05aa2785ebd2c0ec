package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"merklekv/internal/metrics"
	"merklekv/internal/outbox"
	"merklekv/internal/storage"
)

// AdminHandler exposes read-only operator endpoints: health, a metrics
// snapshot, and a debug KV lookup that bypasses the Command Processor
// (and therefore idempotency/versioning) for operators inspecting raw
// storage state. It holds no mutating routes — every write goes through
// the pub/sub Command Processor per spec §4.8.
type AdminHandler struct {
	store   storage.Backend
	outbox  *outbox.Queue
	metrics *metrics.Counters
	nodeID  string
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(store storage.Backend, ob *outbox.Queue, m *metrics.Counters, nodeID string) *AdminHandler {
	return &AdminHandler{store: store, outbox: ob, metrics: m, nodeID: nodeID}
}

// Register mounts the admin routes on r.
func (h *AdminHandler) Register(r *gin.Engine) {
	r.GET("/health", h.Health)
	r.GET("/metrics", h.Metrics)
	r.GET("/debug/kv/:key", h.DebugGet)
}

// Health handles GET /health.
func (h *AdminHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"node":        h.nodeID,
		"status":      "ok",
		"outbox_size": h.outbox.Size(),
	})
}

// Metrics handles GET /metrics, returning a JSON snapshot of every counter
// (spec §2 component 10). A production deployment would scrape this, or
// adapt Counters.Snapshot into a Prometheus exposition format.
func (h *AdminHandler) Metrics(c *gin.Context) {
	c.JSON(http.StatusOK, h.metrics.Snapshot())
}

// DebugGet handles GET /debug/kv/:key, returning the raw stored entry
// including tombstones — useful for diagnosing replication anomalies
// without going through the Command Processor's GET semantics.
func (h *AdminHandler) DebugGet(c *gin.Context) {
	key := c.Param("key")
	e, ok := h.store.Get(key)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "key not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"key":          e.Key,
		"value":        e.Value,
		"timestamp_ms": e.TimestampMs,
		"node_id":      e.NodeID,
		"seq":          e.Seq,
		"tombstone":    e.IsTombstone,
	})
}

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/batchgate/batchgate/internal/infrastructure/monitoring"
	"github.com/batchgate/batchgate/internal/infrastructure/scheduler"
)

// DebugHandler exposes live gateway internals for operators: aggregate
// counters and the recent metrics history the monitor keeps in memory.
type DebugHandler struct {
	monitor *monitoring.Monitor
	sched   *scheduler.Scheduler
}

// NewDebugHandler creates the debug handler.
func NewDebugHandler(monitor *monitoring.Monitor, sched *scheduler.Scheduler) *DebugHandler {
	return &DebugHandler{
		monitor: monitor,
		sched:   sched,
	}
}

// Stats handles GET /debug/stats
func (h *DebugHandler) Stats(c *gin.Context) {
	stats := h.monitor.GetStats()
	stats["queue_depth_interactive_live"] = h.sched.QueueDepth(scheduler.ClassInteractive)
	stats["queue_depth_batch_live"] = h.sched.QueueDepth(scheduler.ClassBatch)
	c.JSON(http.StatusOK, stats)
}

// History handles GET /debug/history
func (h *DebugHandler) History(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"snapshots": h.monitor.GetHistory()})
}

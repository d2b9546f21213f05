package monitoring

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Metrics 指标收集器
type Metrics struct {
	// 聊天请求计数
	ChatRequestsTotal   uint64
	ChatRequestsSuccess uint64
	ChatRequestsFailed  uint64
	StreamRequestsTotal uint64

	// 调度槽位计数
	SlotsQueuedInteractive    uint64
	SlotsQueuedBatch          uint64
	SlotsCompletedInteractive uint64
	SlotsCompletedBatch       uint64

	// 队列深度 (gauge)
	QueueDepthInteractive int64
	QueueDepthBatch       int64

	// 微批大小统计
	MicroBatchSum   uint64
	MicroBatchCount uint64

	// 引擎调用
	EngineCallsTotal   uint64
	EngineErrorsTotal  uint64
	EngineLatencySum   uint64
	EngineLatencyCount uint64

	// 批处理任务
	BatchesCreated   uint64
	BatchesCompleted uint64
	BatchesFailed    uint64
	BatchesCancelled uint64

	// 文件
	FilesUploaded uint64

	// Token 用量 (来自引擎 usage 字段)
	PromptTokensTotal     uint64
	CompletionTokensTotal uint64

	// 启动时间
	StartTime time.Time
}

// Monitor 性能监控器
type Monitor struct {
	metrics *Metrics
	logger  *zap.Logger
	mu      sync.RWMutex

	// 历史数据 (用于图表)
	history      []MetricsSnapshot
	historyLimit int
}

// MetricsSnapshot 指标快照
type MetricsSnapshot struct {
	Timestamp             time.Time
	RequestsPerSecond     float64
	AvgEngineLatencyMs    float64
	QueueDepthInteractive int64
	QueueDepthBatch       int64
	MemoryMB              float64
	Goroutines            int
}

// NewMonitor 创建监控器
func NewMonitor(logger *zap.Logger) *Monitor {
	return &Monitor{
		metrics: &Metrics{
			StartTime: time.Now(),
		},
		logger:       logger,
		history:      make([]MetricsSnapshot, 0, 100),
		historyLimit: 100,
	}
}

// 计数方法
func (m *Monitor) IncChatRequest()   { atomic.AddUint64(&m.metrics.ChatRequestsTotal, 1) }
func (m *Monitor) IncChatSuccess()   { atomic.AddUint64(&m.metrics.ChatRequestsSuccess, 1) }
func (m *Monitor) IncChatFailed()    { atomic.AddUint64(&m.metrics.ChatRequestsFailed, 1) }
func (m *Monitor) IncStreamRequest() { atomic.AddUint64(&m.metrics.StreamRequestsTotal, 1) }
func (m *Monitor) IncEngineCall()    { atomic.AddUint64(&m.metrics.EngineCallsTotal, 1) }
func (m *Monitor) IncEngineError()   { atomic.AddUint64(&m.metrics.EngineErrorsTotal, 1) }
func (m *Monitor) IncBatchCreated()  { atomic.AddUint64(&m.metrics.BatchesCreated, 1) }
func (m *Monitor) IncBatchCompleted() {
	atomic.AddUint64(&m.metrics.BatchesCompleted, 1)
}
func (m *Monitor) IncBatchFailed()    { atomic.AddUint64(&m.metrics.BatchesFailed, 1) }
func (m *Monitor) IncBatchCancelled() { atomic.AddUint64(&m.metrics.BatchesCancelled, 1) }
func (m *Monitor) IncFileUploaded()   { atomic.AddUint64(&m.metrics.FilesUploaded, 1) }

// IncSlotQueued 记录一次入队
func (m *Monitor) IncSlotQueued(class string) {
	if class == "interactive" {
		atomic.AddUint64(&m.metrics.SlotsQueuedInteractive, 1)
		return
	}
	atomic.AddUint64(&m.metrics.SlotsQueuedBatch, 1)
}

// IncSlotCompleted 记录一次槽位完成
func (m *Monitor) IncSlotCompleted(class string) {
	if class == "interactive" {
		atomic.AddUint64(&m.metrics.SlotsCompletedInteractive, 1)
		return
	}
	atomic.AddUint64(&m.metrics.SlotsCompletedBatch, 1)
}

// SetQueueDepth 更新队列深度
func (m *Monitor) SetQueueDepth(class string, depth int) {
	if class == "interactive" {
		atomic.StoreInt64(&m.metrics.QueueDepthInteractive, int64(depth))
		return
	}
	atomic.StoreInt64(&m.metrics.QueueDepthBatch, int64(depth))
}

// ObserveMicroBatch 记录一次微批派发的大小
func (m *Monitor) ObserveMicroBatch(size int) {
	atomic.AddUint64(&m.metrics.MicroBatchSum, uint64(size))
	atomic.AddUint64(&m.metrics.MicroBatchCount, 1)
}

// RecordEngineLatency 记录引擎调用延迟
func (m *Monitor) RecordEngineLatency(d time.Duration) {
	atomic.AddUint64(&m.metrics.EngineLatencySum, uint64(d.Nanoseconds()))
	atomic.AddUint64(&m.metrics.EngineLatencyCount, 1)
}

// AddUsage 累加引擎返回的 token 用量
func (m *Monitor) AddUsage(promptTokens, completionTokens int64) {
	if promptTokens > 0 {
		atomic.AddUint64(&m.metrics.PromptTokensTotal, uint64(promptTokens))
	}
	if completionTokens > 0 {
		atomic.AddUint64(&m.metrics.CompletionTokensTotal, uint64(completionTokens))
	}
}

// GetStats 获取当前统计
func (m *Monitor) GetStats() map[string]interface{} {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	uptime := time.Since(m.metrics.StartTime)
	reqTotal := atomic.LoadUint64(&m.metrics.ChatRequestsTotal)

	avgLatency := float64(0)
	if count := atomic.LoadUint64(&m.metrics.EngineLatencyCount); count > 0 {
		avgLatency = float64(atomic.LoadUint64(&m.metrics.EngineLatencySum)) / float64(count) / 1e6 // ms
	}
	avgBatch := float64(0)
	if count := atomic.LoadUint64(&m.metrics.MicroBatchCount); count > 0 {
		avgBatch = float64(atomic.LoadUint64(&m.metrics.MicroBatchSum)) / float64(count)
	}

	return map[string]interface{}{
		"uptime_seconds":          uptime.Seconds(),
		"chat_requests_total":     reqTotal,
		"chat_requests_success":   atomic.LoadUint64(&m.metrics.ChatRequestsSuccess),
		"chat_requests_failed":    atomic.LoadUint64(&m.metrics.ChatRequestsFailed),
		"stream_requests_total":   atomic.LoadUint64(&m.metrics.StreamRequestsTotal),
		"slots_queued_interactive": atomic.LoadUint64(&m.metrics.SlotsQueuedInteractive),
		"slots_queued_batch":      atomic.LoadUint64(&m.metrics.SlotsQueuedBatch),
		"queue_depth_interactive": atomic.LoadInt64(&m.metrics.QueueDepthInteractive),
		"queue_depth_batch":       atomic.LoadInt64(&m.metrics.QueueDepthBatch),
		"engine_calls_total":      atomic.LoadUint64(&m.metrics.EngineCallsTotal),
		"engine_errors_total":     atomic.LoadUint64(&m.metrics.EngineErrorsTotal),
		"batches_created":         atomic.LoadUint64(&m.metrics.BatchesCreated),
		"batches_completed":       atomic.LoadUint64(&m.metrics.BatchesCompleted),
		"batches_failed":          atomic.LoadUint64(&m.metrics.BatchesFailed),
		"batches_cancelled":       atomic.LoadUint64(&m.metrics.BatchesCancelled),
		"files_uploaded":          atomic.LoadUint64(&m.metrics.FilesUploaded),
		"prompt_tokens_total":     atomic.LoadUint64(&m.metrics.PromptTokensTotal),
		"completion_tokens_total": atomic.LoadUint64(&m.metrics.CompletionTokensTotal),
		"avg_engine_latency_ms":   avgLatency,
		"avg_micro_batch_size":    avgBatch,
		"memory_mb":               float64(memStats.Alloc) / 1024 / 1024,
		"goroutines":              runtime.NumGoroutine(),
		"rps":                     float64(reqTotal) / uptime.Seconds(),
	}
}

// Snapshot 创建快照并保存
func (m *Monitor) Snapshot() MetricsSnapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	uptime := time.Since(m.metrics.StartTime).Seconds()
	reqTotal := atomic.LoadUint64(&m.metrics.ChatRequestsTotal)

	avgLatency := float64(0)
	if count := atomic.LoadUint64(&m.metrics.EngineLatencyCount); count > 0 {
		avgLatency = float64(atomic.LoadUint64(&m.metrics.EngineLatencySum)) / float64(count) / 1e6
	}

	snapshot := MetricsSnapshot{
		Timestamp:             time.Now(),
		RequestsPerSecond:     float64(reqTotal) / uptime,
		AvgEngineLatencyMs:    avgLatency,
		QueueDepthInteractive: atomic.LoadInt64(&m.metrics.QueueDepthInteractive),
		QueueDepthBatch:       atomic.LoadInt64(&m.metrics.QueueDepthBatch),
		MemoryMB:              float64(memStats.Alloc) / 1024 / 1024,
		Goroutines:            runtime.NumGoroutine(),
	}

	m.mu.Lock()
	m.history = append(m.history, snapshot)
	if len(m.history) > m.historyLimit {
		m.history = m.history[1:]
	}
	m.mu.Unlock()

	return snapshot
}

// GetHistory 获取历史快照
func (m *Monitor) GetHistory() []MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]MetricsSnapshot, len(m.history))
	copy(result, m.history)
	return result
}

// StartCollector 启动定期收集
func (m *Monitor) StartCollector(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Snapshot()
		}
	}
}

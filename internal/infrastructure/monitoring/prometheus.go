package monitoring

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"
)

// PrometheusHandler 输出 Prometheus 文本格式的指标
func (m *Monitor) PrometheusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)

		uptime := time.Since(m.metrics.StartTime).Seconds()

		metrics := []struct {
			name  string
			help  string
			mtype string
			value interface{}
		}{
			{"batchgate_uptime_seconds", "Gateway uptime in seconds", "gauge", uptime},
			{"batchgate_chat_requests_total", "Total chat completion requests", "counter", atomic.LoadUint64(&m.metrics.ChatRequestsTotal)},
			{"batchgate_chat_requests_success", "Successful chat completion requests", "counter", atomic.LoadUint64(&m.metrics.ChatRequestsSuccess)},
			{"batchgate_chat_requests_failed", "Failed chat completion requests", "counter", atomic.LoadUint64(&m.metrics.ChatRequestsFailed)},
			{"batchgate_stream_requests_total", "Total streaming chat requests", "counter", atomic.LoadUint64(&m.metrics.StreamRequestsTotal)},
			{"batchgate_slots_queued_interactive_total", "Slots enqueued on the interactive class", "counter", atomic.LoadUint64(&m.metrics.SlotsQueuedInteractive)},
			{"batchgate_slots_queued_batch_total", "Slots enqueued on the batch class", "counter", atomic.LoadUint64(&m.metrics.SlotsQueuedBatch)},
			{"batchgate_slots_completed_interactive_total", "Slots completed on the interactive class", "counter", atomic.LoadUint64(&m.metrics.SlotsCompletedInteractive)},
			{"batchgate_slots_completed_batch_total", "Slots completed on the batch class", "counter", atomic.LoadUint64(&m.metrics.SlotsCompletedBatch)},
			{"batchgate_queue_depth_interactive", "Current interactive queue depth", "gauge", atomic.LoadInt64(&m.metrics.QueueDepthInteractive)},
			{"batchgate_queue_depth_batch", "Current batch queue depth", "gauge", atomic.LoadInt64(&m.metrics.QueueDepthBatch)},
			{"batchgate_engine_calls_total", "Total upstream engine calls", "counter", atomic.LoadUint64(&m.metrics.EngineCallsTotal)},
			{"batchgate_engine_errors_total", "Upstream engine transport errors", "counter", atomic.LoadUint64(&m.metrics.EngineErrorsTotal)},
			{"batchgate_batches_created_total", "Batch jobs created", "counter", atomic.LoadUint64(&m.metrics.BatchesCreated)},
			{"batchgate_batches_completed_total", "Batch jobs completed", "counter", atomic.LoadUint64(&m.metrics.BatchesCompleted)},
			{"batchgate_batches_failed_total", "Batch jobs failed", "counter", atomic.LoadUint64(&m.metrics.BatchesFailed)},
			{"batchgate_batches_cancelled_total", "Batch jobs cancelled", "counter", atomic.LoadUint64(&m.metrics.BatchesCancelled)},
			{"batchgate_files_uploaded_total", "Files uploaded", "counter", atomic.LoadUint64(&m.metrics.FilesUploaded)},
			{"batchgate_prompt_tokens_total", "Prompt tokens reported by the engine", "counter", atomic.LoadUint64(&m.metrics.PromptTokensTotal)},
			{"batchgate_completion_tokens_total", "Completion tokens reported by the engine", "counter", atomic.LoadUint64(&m.metrics.CompletionTokensTotal)},
			{"batchgate_memory_bytes", "Current memory allocation in bytes", "gauge", memStats.Alloc},
			{"batchgate_goroutines", "Current number of goroutines", "gauge", runtime.NumGoroutine()},
		}

		for _, metric := range metrics {
			fmt.Fprintf(w, "# HELP %s %s\n", metric.name, metric.help)
			fmt.Fprintf(w, "# TYPE %s %s\n", metric.name, metric.mtype)
			switch v := metric.value.(type) {
			case uint64:
				fmt.Fprintf(w, "%s %d\n", metric.name, v)
			case int64:
				fmt.Fprintf(w, "%s %d\n", metric.name, v)
			case int:
				fmt.Fprintf(w, "%s %d\n", metric.name, v)
			case float64:
				fmt.Fprintf(w, "%s %f\n", metric.name, v)
			}
		}

		// 引擎延迟摘要
		latencyCount := atomic.LoadUint64(&m.metrics.EngineLatencyCount)
		if latencyCount > 0 {
			latencySum := atomic.LoadUint64(&m.metrics.EngineLatencySum)
			fmt.Fprintf(w, "# HELP batchgate_engine_latency_seconds Upstream engine call latency\n")
			fmt.Fprintf(w, "# TYPE batchgate_engine_latency_seconds summary\n")
			fmt.Fprintf(w, "batchgate_engine_latency_seconds_sum %f\n", float64(latencySum)/1e9)
			fmt.Fprintf(w, "batchgate_engine_latency_seconds_count %d\n", latencyCount)
		}

		// 微批大小摘要
		batchCount := atomic.LoadUint64(&m.metrics.MicroBatchCount)
		if batchCount > 0 {
			batchSum := atomic.LoadUint64(&m.metrics.MicroBatchSum)
			fmt.Fprintf(w, "# HELP batchgate_micro_batch_size Dispatched micro-batch sizes\n")
			fmt.Fprintf(w, "# TYPE batchgate_micro_batch_size summary\n")
			fmt.Fprintf(w, "batchgate_micro_batch_size_sum %d\n", batchSum)
			fmt.Fprintf(w, "batchgate_micro_batch_size_count %d\n", batchCount)
		}
	}
}

package monitoring

import (
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

func testLogger() *zap.Logger {
	logger, _ := zap.NewDevelopment()
	return logger
}

// === Counters ===

func TestMonitorCounters(t *testing.T) {
	m := NewMonitor(testLogger())

	m.IncChatRequest()
	m.IncChatRequest()
	m.IncChatSuccess()
	m.IncChatFailed()
	m.IncStreamRequest()
	m.IncEngineCall()
	m.IncEngineError()
	m.IncBatchCreated()
	m.IncBatchCompleted()
	m.IncBatchFailed()
	m.IncBatchCancelled()
	m.IncFileUploaded()

	stats := m.GetStats()
	if got := stats["chat_requests_total"].(uint64); got != 2 {
		t.Errorf("chat_requests_total = %d, want 2", got)
	}
	if got := stats["chat_requests_success"].(uint64); got != 1 {
		t.Errorf("chat_requests_success = %d, want 1", got)
	}
	if got := stats["engine_errors_total"].(uint64); got != 1 {
		t.Errorf("engine_errors_total = %d, want 1", got)
	}
	if got := stats["batches_created"].(uint64); got != 1 {
		t.Errorf("batches_created = %d, want 1", got)
	}
}

func TestMonitorPerClassCounters(t *testing.T) {
	m := NewMonitor(testLogger())

	m.IncSlotQueued("interactive")
	m.IncSlotQueued("interactive")
	m.IncSlotQueued("batch")
	m.IncSlotCompleted("batch")
	m.SetQueueDepth("interactive", 7)
	m.SetQueueDepth("batch", 42)

	stats := m.GetStats()
	if got := stats["slots_queued_interactive"].(uint64); got != 2 {
		t.Errorf("slots_queued_interactive = %d, want 2", got)
	}
	if got := stats["slots_queued_batch"].(uint64); got != 1 {
		t.Errorf("slots_queued_batch = %d, want 1", got)
	}
	if got := stats["queue_depth_interactive"].(int64); got != 7 {
		t.Errorf("queue_depth_interactive = %d, want 7", got)
	}
	if got := stats["queue_depth_batch"].(int64); got != 42 {
		t.Errorf("queue_depth_batch = %d, want 42", got)
	}
}

func TestMonitorAverages(t *testing.T) {
	m := NewMonitor(testLogger())

	m.RecordEngineLatency(100 * time.Millisecond)
	m.RecordEngineLatency(300 * time.Millisecond)
	m.ObserveMicroBatch(1)
	m.ObserveMicroBatch(3)

	stats := m.GetStats()
	if got := stats["avg_engine_latency_ms"].(float64); got != 200 {
		t.Errorf("avg_engine_latency_ms = %f, want 200", got)
	}
	if got := stats["avg_micro_batch_size"].(float64); got != 2 {
		t.Errorf("avg_micro_batch_size = %f, want 2", got)
	}
}

func TestMonitorUsageAccumulation(t *testing.T) {
	m := NewMonitor(testLogger())

	m.AddUsage(10, 20)
	m.AddUsage(5, 0)
	m.AddUsage(-1, -1) // negatives ignored

	stats := m.GetStats()
	if got := stats["prompt_tokens_total"].(uint64); got != 15 {
		t.Errorf("prompt_tokens_total = %d, want 15", got)
	}
	if got := stats["completion_tokens_total"].(uint64); got != 20 {
		t.Errorf("completion_tokens_total = %d, want 20", got)
	}
}

func TestMonitorConcurrentIncrements(t *testing.T) {
	m := NewMonitor(testLogger())

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.IncChatRequest()
			m.IncSlotQueued("batch")
		}()
	}
	wg.Wait()

	stats := m.GetStats()
	if got := stats["chat_requests_total"].(uint64); got != 100 {
		t.Errorf("chat_requests_total = %d, want 100", got)
	}
	if got := stats["slots_queued_batch"].(uint64); got != 100 {
		t.Errorf("slots_queued_batch = %d, want 100", got)
	}
}

// === History ===

func TestMonitorSnapshotHistory(t *testing.T) {
	m := NewMonitor(testLogger())
	m.historyLimit = 3

	for i := 0; i < 5; i++ {
		m.Snapshot()
	}

	history := m.GetHistory()
	if len(history) != 3 {
		t.Fatalf("history length = %d, want 3", len(history))
	}
}

// === Prometheus output ===

func TestPrometheusHandler(t *testing.T) {
	m := NewMonitor(testLogger())
	m.IncChatRequest()
	m.IncSlotQueued("interactive")
	m.RecordEngineLatency(50 * time.Millisecond)
	m.ObserveMicroBatch(4)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.PrometheusHandler()(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()

	for _, want := range []string{
		"batchgate_chat_requests_total 1",
		"batchgate_slots_queued_interactive_total 1",
		"batchgate_engine_latency_seconds_count 1",
		"batchgate_micro_batch_size_sum 4",
		"# TYPE batchgate_uptime_seconds gauge",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}

	if !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/plain") {
		t.Errorf("Content-Type = %q, want text/plain", rec.Header().Get("Content-Type"))
	}
}

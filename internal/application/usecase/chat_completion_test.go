package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/batchgate/batchgate/internal/domain/entity"
	"github.com/batchgate/batchgate/internal/infrastructure/engine"
	"github.com/batchgate/batchgate/internal/infrastructure/monitoring"
	"github.com/batchgate/batchgate/internal/infrastructure/scheduler"
	apperrors "github.com/batchgate/batchgate/pkg/errors"
)

func testLogger() *zap.Logger {
	logger, _ := zap.NewDevelopment()
	return logger
}

// runeCodec treats every rune as one token.
type runeCodec struct{}

func (runeCodec) Encode(text string) []int {
	tokens := make([]int, 0, len(text))
	for _, r := range text {
		tokens = append(tokens, int(r))
	}
	return tokens
}

func (runeCodec) Decode(tokens []int) string {
	var sb strings.Builder
	for _, tok := range tokens {
		sb.WriteRune(rune(tok))
	}
	return sb.String()
}

// scriptedPoster answers every Post with a fixed script and records the
// payloads it saw.
type scriptedPoster struct {
	mu       sync.Mutex
	payloads [][]byte
	delay    time.Duration
	status   int
	body     []byte
	err      error
	gate     chan struct{} // when set, Post blocks until closed
}

func (p *scriptedPoster) Post(ctx context.Context, endpoint string, payload []byte) (int, []byte, error) {
	p.mu.Lock()
	cp := make([]byte, len(payload))
	copy(cp, payload)
	p.payloads = append(p.payloads, cp)
	p.mu.Unlock()

	if p.gate != nil {
		<-p.gate
	}
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	if p.err != nil {
		return 0, nil, p.err
	}
	status := p.status
	if status == 0 {
		status = 200
	}
	return status, p.body, nil
}

func (p *scriptedPoster) seen() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]byte, len(p.payloads))
	copy(out, p.payloads)
	return out
}

func newTestSched(t *testing.T, poster scheduler.Poster) (*scheduler.Scheduler, *monitoring.Monitor) {
	t.Helper()
	monitor := monitoring.NewMonitor(testLogger())
	cfg := scheduler.Config{
		QueueCapacity: 64,
		Interactive:   scheduler.ClassConfig{Workers: 2, MaxBatch: 1, WaitTime: 10 * time.Millisecond},
		Batch:         scheduler.ClassConfig{Workers: 1, MaxBatch: 8, WaitTime: 20 * time.Millisecond},
	}
	s, err := scheduler.New(cfg, poster, monitor, testLogger())
	if err != nil {
		t.Fatalf("scheduler.New: %v", err)
	}
	s.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	})
	return s, monitor
}

func chatRequest(t *testing.T, raw string) *entity.ChatRequest {
	t.Helper()
	var req entity.ChatRequest
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		t.Fatalf("decode request: %v", err)
	}
	return &req
}

// === Non-streaming ===

func TestChatExecuteRelaysEngineResult(t *testing.T) {
	poster := &scriptedPoster{status: 200, body: []byte(`{"choices":[{"index":0}]}`)}
	sched, monitor := newTestSched(t, poster)
	uc := NewChatCompletionUseCase(sched, nil, runeCodec{}, monitor, testLogger(), time.Second)

	req := chatRequest(t, `{"model":"m","messages":[{"role":"user","content":"hi"}],"priority":7}`)
	result, err := uc.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.StatusCode != 200 {
		t.Errorf("status = %d, want 200", result.StatusCode)
	}
	if string(result.Body) != `{"choices":[{"index":0}]}` {
		t.Errorf("body = %q", result.Body)
	}

	// The engine payload carries defaults and the passthrough field.
	seen := poster.seen()
	if len(seen) != 1 {
		t.Fatalf("engine calls = %d, want 1", len(seen))
	}
	var payload map[string]any
	if err := json.Unmarshal(seen[0], &payload); err != nil {
		t.Fatalf("payload not JSON: %v", err)
	}
	if payload["temperature"] != 0.5 {
		t.Errorf("temperature = %v, want 0.5", payload["temperature"])
	}
	if payload["max_tokens"] != float64(256) {
		t.Errorf("max_tokens = %v, want 256", payload["max_tokens"])
	}
	if payload["priority"] != float64(7) {
		t.Errorf("priority = %v, want passthrough 7", payload["priority"])
	}
	if payload["stream"] != false {
		t.Errorf("stream = %v, want false", payload["stream"])
	}
}

func TestChatExecuteValidation(t *testing.T) {
	sched, monitor := newTestSched(t, &scriptedPoster{})
	uc := NewChatCompletionUseCase(sched, nil, runeCodec{}, monitor, testLogger(), time.Second)

	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"missing model", `{"messages":[{"role":"user","content":"x"}]}`, "model is required"},
		{"no messages", `{"model":"m","messages":[]}`, "messages must not be empty"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := uc.Execute(context.Background(), chatRequest(t, tt.raw))
			if !apperrors.IsInvalidInput(err) {
				t.Fatalf("err = %v, want invalid input", err)
			}
			var appErr *apperrors.AppError
			if !errors.As(err, &appErr) || appErr.Message != tt.want {
				t.Errorf("message = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestChatExecuteTruncatesInput(t *testing.T) {
	poster := &scriptedPoster{}
	sched, monitor := newTestSched(t, poster)
	uc := NewChatCompletionUseCase(sched, nil, runeCodec{}, monitor, testLogger(), time.Second)

	long := strings.Repeat("a", 5000)
	raw := fmt.Sprintf(`{"model":"m","messages":[{"role":"user","content":"%s"}]}`, long)
	if _, err := uc.Execute(context.Background(), chatRequest(t, raw)); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	var payload struct {
		Messages []entity.Message `json:"messages"`
	}
	if err := json.Unmarshal(poster.seen()[0], &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if got := len(payload.Messages[0].Content); got != 4096 {
		t.Errorf("content length = %d, want 4096", got)
	}
}

func TestChatExecuteWaitCeiling(t *testing.T) {
	poster := &scriptedPoster{delay: 300 * time.Millisecond}
	sched, monitor := newTestSched(t, poster)
	uc := NewChatCompletionUseCase(sched, nil, runeCodec{}, monitor, testLogger(), 50*time.Millisecond)

	req := chatRequest(t, `{"model":"m","messages":[{"role":"user","content":"hi"}]}`)
	_, err := uc.Execute(context.Background(), req)
	if !apperrors.IsUpstreamTimeout(err) {
		t.Fatalf("err = %v, want upstream timeout", err)
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) && appErr.Message != engine.MsgTimeout {
		t.Errorf("message = %q, want %q", appErr.Message, engine.MsgTimeout)
	}
}

// === Streaming ===

func TestChatExecuteStreamProxiesEngine(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req entity.ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("upstream decode: %v", err)
		}
		if !req.Stream {
			t.Error("stream flag not serialized")
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprint(w, "data: {\"delta\":\"a\"}\n\n")
		flusher.Flush()
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}))
	defer upstream.Close()

	eng := engine.New(upstream.URL, time.Second, testLogger())
	sched, monitor := newTestSched(t, &scriptedPoster{})
	uc := NewChatCompletionUseCase(sched, eng, runeCodec{}, monitor, testLogger(), time.Second)

	req := chatRequest(t, `{"model":"m","messages":[{"role":"user","content":"hi"}],"stream":true}`)
	resp, err := uc.ExecuteStream(context.Background(), req)
	if err != nil {
		t.Fatalf("ExecuteStream: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	data := make([]byte, 4096)
	n, _ := resp.Body.Read(data)
	if !strings.Contains(string(data[:n]), `data: {"delta":"a"}`) {
		t.Errorf("first chunk = %q", data[:n])
	}
}

func TestChatExecuteStreamValidation(t *testing.T) {
	sched, monitor := newTestSched(t, &scriptedPoster{})
	uc := NewChatCompletionUseCase(sched, nil, runeCodec{}, monitor, testLogger(), time.Second)

	req := chatRequest(t, `{"messages":[{"role":"user","content":"x"}],"stream":true}`)
	if _, err := uc.ExecuteStream(context.Background(), req); !apperrors.IsInvalidInput(err) {
		t.Errorf("err = %v, want invalid input", err)
	}
}

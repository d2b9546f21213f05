package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/batchgate/batchgate/internal/infrastructure/monitoring"
	apperrors "github.com/batchgate/batchgate/pkg/errors"
	"github.com/batchgate/batchgate/pkg/safego"
)

// Class selects which dispatch queue a slot joins.
type Class string

const (
	ClassInteractive Class = "interactive"
	ClassBatch       Class = "batch"
)

// ClassConfig holds the dispatch parameters of one class.
type ClassConfig struct {
	Workers  int
	MaxBatch int
	WaitTime time.Duration
}

// Config holds the full scheduler configuration.
type Config struct {
	QueueCapacity int
	Interactive   ClassConfig
	Batch         ClassConfig
}

// Poster sends one opaque payload to the inference engine. Satisfied by
// engine.Client.
type Poster interface {
	Post(ctx context.Context, endpoint string, payload []byte) (int, []byte, error)
}

// Scheduler funnels all engine traffic through two independent classes.
// Each class has its own bounded queue and its own collector workers; a
// collector blocks for the first slot, fills a micro-batch within the
// class wait window, then fans the batch out over a shared goroutine pool
// and waits for every slot in it to finish before collecting again.
type Scheduler struct {
	engine  Poster
	monitor *monitoring.Monitor
	logger  *zap.Logger

	classes map[Class]*classState
	pool    *ants.PoolWithFunc

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// classState 单个调度类的队列与参数
type classState struct {
	name  Class
	cfg   ClassConfig
	queue chan *Slot
}

// dispatchTask is the unit of work handed to the shared pool.
type dispatchTask struct {
	slot  *Slot
	class Class
	wg    *sync.WaitGroup
}

// New creates a scheduler. Start must be called before submitting.
func New(cfg Config, eng Poster, monitor *monitoring.Monitor, logger *zap.Logger) (*Scheduler, error) {
	cfg.Interactive = normalizeClass(cfg.Interactive)
	cfg.Batch = normalizeClass(cfg.Batch)
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 4096
	}

	s := &Scheduler{
		engine:  eng,
		monitor: monitor,
		logger:  logger,
		stopCh:  make(chan struct{}),
	}

	s.classes = map[Class]*classState{
		ClassInteractive: {
			name:  ClassInteractive,
			cfg:   cfg.Interactive,
			queue: make(chan *Slot, cfg.QueueCapacity),
		},
		ClassBatch: {
			name:  ClassBatch,
			cfg:   cfg.Batch,
			queue: make(chan *Slot, cfg.QueueCapacity),
		},
	}

	// 池容量 = 各类最坏情况并发之和，保证满批派发时不排队
	poolSize := cfg.Interactive.Workers*cfg.Interactive.MaxBatch + cfg.Batch.Workers*cfg.Batch.MaxBatch
	pool, err := ants.NewPoolWithFunc(poolSize, s.runTask)
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatch pool: %w", err)
	}
	s.pool = pool

	return s, nil
}

func normalizeClass(cfg ClassConfig) ClassConfig {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = 1
	}
	return cfg
}

// Start launches the collector workers for both classes.
func (s *Scheduler) Start() {
	for _, cs := range s.classes {
		for i := 0; i < cs.cfg.Workers; i++ {
			s.wg.Add(1)
			safego.Go(s.logger, fmt.Sprintf("scheduler-%s-%d", cs.name, i), func() {
				defer s.wg.Done()
				s.workerLoop(cs)
			})
		}
	}
	s.logger.Info("scheduler started",
		zap.Int("interactive_workers", s.classes[ClassInteractive].cfg.Workers),
		zap.Int("batch_workers", s.classes[ClassBatch].cfg.Workers),
		zap.Int("pool_size", s.pool.Cap()))
}

// Submit enqueues a slot on the given class. When the class queue is full
// it blocks until space frees up, ctx is cancelled, or the scheduler is
// stopping. It never drops a slot silently.
func (s *Scheduler) Submit(ctx context.Context, class Class, slot *Slot) error {
	cs, ok := s.classes[class]
	if !ok {
		return apperrors.NewInvalidInputError(fmt.Sprintf("unknown scheduler class: %s", class))
	}

	select {
	case <-s.stopCh:
		return apperrors.NewServiceUnavailableError("scheduler is shutting down")
	default:
	}

	select {
	case cs.queue <- slot:
		s.monitor.IncSlotQueued(string(class))
		s.monitor.SetQueueDepth(string(class), len(cs.queue))
		return nil
	case <-ctx.Done():
		return apperrors.NewInternalErrorWithCause("request abandoned while queued", ctx.Err())
	case <-s.stopCh:
		return apperrors.NewServiceUnavailableError("scheduler is shutting down")
	}
}

// Stop rejects new submissions, drains already-queued slots, then releases
// the dispatch pool. Returns ctx.Err() if draining outlives ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.pool.Release()
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		s.logger.Warn("scheduler stop timed out", zap.Error(ctx.Err()))
		return ctx.Err()
	}
}

// QueueDepth reports the number of slots currently queued on a class.
func (s *Scheduler) QueueDepth(class Class) int {
	if cs, ok := s.classes[class]; ok {
		return len(cs.queue)
	}
	return 0
}

// workerLoop is one collector. It blocks for the first slot of a
// micro-batch, fills the rest within the wait window, dispatches, then
// waits for the whole batch before collecting again.
func (s *Scheduler) workerLoop(cs *classState) {
	for {
		select {
		case <-s.stopCh:
			s.drainClass(cs)
			return
		case first := <-cs.queue:
			batch := s.collect(cs, first)
			s.dispatch(cs, batch)
		}
	}
}

// collect fills a micro-batch starting from first. The window timer starts
// when the first slot arrives; a partial batch is released as soon as the
// window closes.
func (s *Scheduler) collect(cs *classState, first *Slot) []*Slot {
	batch := []*Slot{first}
	if cs.cfg.MaxBatch <= 1 {
		return batch
	}

	timer := time.NewTimer(cs.cfg.WaitTime)
	defer timer.Stop()

	for len(batch) < cs.cfg.MaxBatch {
		select {
		case slot := <-cs.queue:
			batch = append(batch, slot)
		case <-timer.C:
			return batch
		case <-s.stopCh:
			return batch
		}
	}
	return batch
}

// drainClass flushes the remaining queued slots after stop. Each drained
// micro-batch is still dispatched so no accepted slot is lost.
func (s *Scheduler) drainClass(cs *classState) {
	for {
		batch := s.drainBatch(cs)
		if len(batch) == 0 {
			return
		}
		s.dispatch(cs, batch)
	}
}

func (s *Scheduler) drainBatch(cs *classState) []*Slot {
	var batch []*Slot
	for len(batch) < cs.cfg.MaxBatch {
		select {
		case slot := <-cs.queue:
			batch = append(batch, slot)
		default:
			return batch
		}
	}
	return batch
}

// dispatch fans a micro-batch out over the shared pool and blocks until
// every slot in it has completed. A panic here must not kill the worker,
// so any affected slots are completed with a synthesized 500.
func (s *Scheduler) dispatch(cs *classState, batch []*Slot) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("dispatch panic",
				zap.String("class", string(cs.name)),
				zap.Any("panic", r),
				zap.Stack("stack"))
			for _, slot := range batch {
				slot.Complete(http.StatusInternalServerError,
					errorBody(fmt.Sprintf("internal dispatch failure: %v", r)))
			}
		}
	}()

	s.monitor.ObserveMicroBatch(len(batch))
	s.monitor.SetQueueDepth(string(cs.name), len(cs.queue))

	var wg sync.WaitGroup
	for _, slot := range batch {
		wg.Add(1)
		task := &dispatchTask{slot: slot, class: cs.name, wg: &wg}
		if err := s.pool.Invoke(task); err != nil {
			wg.Done()
			s.logger.Error("pool invoke failed",
				zap.String("class", string(cs.name)),
				zap.Error(err))
			slot.Complete(http.StatusInternalServerError,
				errorBody(fmt.Sprintf("dispatch rejected: %v", err)))
			s.monitor.IncSlotCompleted(string(cs.name))
		}
	}
	wg.Wait()
}

// runTask is the shared pool function.
func (s *Scheduler) runTask(arg interface{}) {
	task, ok := arg.(*dispatchTask)
	if !ok {
		return
	}
	defer task.wg.Done()
	s.execute(task)
}

// execute sends one slot to the engine and completes it with whatever came
// back. Transport failures and panics are turned into HTTP-shaped results
// so the slot always completes.
func (s *Scheduler) execute(task *dispatchTask) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("slot execution panic",
				zap.Any("panic", r),
				zap.Stack("stack"))
			task.slot.Complete(http.StatusInternalServerError,
				errorBody(fmt.Sprintf("internal error: %v", r)))
		}
	}()

	start := time.Now()
	s.monitor.IncEngineCall()

	// 引擎客户端自带单次调用超时，这里不再叠加截止时间
	status, body, err := s.engine.Post(context.Background(), task.slot.Endpoint, task.slot.Payload)
	s.monitor.RecordEngineLatency(time.Since(start))

	if err != nil {
		s.monitor.IncEngineError()
		s.completeError(task.slot, err)
	} else {
		task.slot.Complete(status, body)
	}
	s.monitor.IncSlotCompleted(string(task.class))
}

// completeError maps a transport error onto the HTTP shape callers relay:
// the classified status code plus an {"error": message} body.
func (s *Scheduler) completeError(slot *Slot, err error) {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		slot.Complete(appErr.HTTPStatus(), errorBody(appErr.Message))
		return
	}
	slot.Complete(http.StatusInternalServerError, errorBody(err.Error()))
}

func errorBody(msg string) []byte {
	body, _ := json.Marshal(map[string]string{"error": msg})
	return body
}

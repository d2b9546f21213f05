package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/batchgate/batchgate/internal/domain/entity"
	"github.com/batchgate/batchgate/internal/domain/service"
	"github.com/batchgate/batchgate/internal/infrastructure/engine"
	"github.com/batchgate/batchgate/internal/infrastructure/monitoring"
	"github.com/batchgate/batchgate/internal/infrastructure/scheduler"
	apperrors "github.com/batchgate/batchgate/pkg/errors"
)

const chatEndpoint = "/v1/chat/completions"

// ChatCompletionUseCase shapes an incoming chat request for the engine and
// routes it through the interactive dispatch class. Streaming requests
// bypass the queue and hold a direct engine connection instead.
type ChatCompletionUseCase struct {
	sched     *scheduler.Scheduler
	engine    *engine.Client
	codec     service.Codec
	monitor   *monitoring.Monitor
	logger    *zap.Logger
	waitLimit time.Duration
}

// NewChatCompletionUseCase creates the chat completion use-case. waitLimit
// bounds the total queue-plus-dispatch time of a non-streaming request.
func NewChatCompletionUseCase(
	sched *scheduler.Scheduler,
	eng *engine.Client,
	codec service.Codec,
	monitor *monitoring.Monitor,
	logger *zap.Logger,
	waitLimit time.Duration,
) *ChatCompletionUseCase {
	return &ChatCompletionUseCase{
		sched:     sched,
		engine:    eng,
		codec:     codec,
		monitor:   monitor,
		logger:    logger,
		waitLimit: waitLimit,
	}
}

// Execute runs a non-streaming completion: validate, default, truncate,
// queue on the interactive class, and relay whatever the engine answered.
// The returned result carries the upstream status code verbatim, including
// engine-side errors; an error return means the gateway itself could not
// produce a result.
func (uc *ChatCompletionUseCase) Execute(ctx context.Context, req *entity.ChatRequest) (scheduler.Result, error) {
	uc.monitor.IncChatRequest()

	payload, err := uc.prepare(req)
	if err != nil {
		uc.monitor.IncChatFailed()
		return scheduler.Result{}, err
	}

	// The wait ceiling covers queueing and dispatch together.
	waitCtx, cancel := context.WithTimeout(ctx, uc.waitLimit)
	defer cancel()

	slot := scheduler.NewSlot(chatEndpoint, payload)
	if err := uc.sched.Submit(waitCtx, scheduler.ClassInteractive, slot); err != nil {
		uc.monitor.IncChatFailed()
		if errors.Is(err, context.DeadlineExceeded) {
			return scheduler.Result{}, apperrors.NewUpstreamTimeoutError(engine.MsgTimeout, err)
		}
		return scheduler.Result{}, err
	}

	result, err := slot.Wait(waitCtx)
	if err != nil {
		uc.monitor.IncChatFailed()
		if errors.Is(err, context.DeadlineExceeded) {
			uc.logger.Warn("chat request timed out in queue",
				zap.Duration("wait_limit", uc.waitLimit))
			return scheduler.Result{}, apperrors.NewUpstreamTimeoutError(engine.MsgTimeout, err)
		}
		return scheduler.Result{}, apperrors.NewInternalErrorWithCause("request abandoned", err)
	}

	uc.monitor.IncChatSuccess()
	return result, nil
}

// ExecuteStream opens a pass-through streaming call. The caller owns the
// returned response and must close its body; non-200 upstream statuses are
// returned as-is for the transport layer to shape.
func (uc *ChatCompletionUseCase) ExecuteStream(ctx context.Context, req *entity.ChatRequest) (*http.Response, error) {
	uc.monitor.IncChatRequest()
	uc.monitor.IncStreamRequest()

	payload, err := uc.prepare(req)
	if err != nil {
		uc.monitor.IncChatFailed()
		return nil, err
	}

	resp, err := uc.engine.Stream(ctx, chatEndpoint, payload)
	if err != nil {
		uc.monitor.IncChatFailed()
		return nil, err
	}
	return resp, nil
}

// prepare validates the request, applies sampling defaults, truncates the
// input to the token budget and serializes the payload.
func (uc *ChatCompletionUseCase) prepare(req *entity.ChatRequest) ([]byte, error) {
	if err := req.Validate(); err != nil {
		return nil, apperrors.NewInvalidInputError(err.Error())
	}
	req.ApplyDefaults()
	req.Messages = service.TruncateMessages(uc.codec, req.Messages, service.MaxInputLength)

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, apperrors.NewInternalErrorWithCause("failed to encode request", err)
	}
	return payload, nil
}
